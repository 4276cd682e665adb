// Package config holds all savesentry configuration and the layout of
// the durable storage directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// AppDirName is the hidden directory created under the config root.
const AppDirName = ".savesentry"

// ConfigFileName is the optional tuning file inside the app directory.
const ConfigFileName = "config.yaml"

// Config holds all savesentry configuration.
type Config struct {
	Watch     WatchConfig     `yaml:"watch"`
	Flush     FlushConfig     `yaml:"flush"`
	Retention RetentionConfig `yaml:"retention"`
	Server    ServerConfig    `yaml:"server"`
}

type WatchConfig struct {
	Extensions    []string `yaml:"extensions"`
	RetryAttempts int      `yaml:"retry_attempts"`
	RetryDelayMS  int      `yaml:"retry_delay_ms"`
}

type FlushConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

type RetentionConfig struct {
	IntervalMinutes int   `yaml:"interval_minutes"`
	SizeCapBytes    int64 `yaml:"size_cap_bytes"`
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

// Default returns a Config with the stock daemon behavior.
func Default() Config {
	return Config{
		Watch: WatchConfig{
			Extensions:    []string{".sav", ".sid"},
			RetryAttempts: 10,
			RetryDelayMS:  500,
		},
		Flush: FlushConfig{
			IntervalSeconds: 5,
		},
		Retention: RetentionConfig{
			IntervalMinutes: 5,
			SizeCapBytes:    10 << 30, // 10 GiB
		},
		Server: ServerConfig{
			Enabled: false,
			Bind:    "127.0.0.1",
			Port:    39777,
		},
	}
}

// Load returns the defaults overlaid with the optional config file
// under the app directory. A missing file is not an error.
func Load(configRoot string) (Config, error) {
	cfg := Default()

	path := filepath.Join(AppDir(configRoot), ConfigFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// AppDir returns the durable storage directory under the config root.
func AppDir(configRoot string) string {
	return filepath.Join(configRoot, AppDirName)
}

// VersionsDir returns the blob directory.
func VersionsDir(configRoot string) string {
	return filepath.Join(AppDir(configRoot), "versions")
}

// JournalPath returns the action journal database path.
func JournalPath(configRoot string) string {
	return filepath.Join(AppDir(configRoot), "journal.db")
}

// RetryDelay returns the watch retry delay as a duration.
func (c WatchConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// FlushInterval returns the flush cadence as a duration.
func (c FlushConfig) FlushInterval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Interval returns the retention cadence as a duration.
func (c RetentionConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// ListenAddr returns the bind:port address string.
func (c ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}
