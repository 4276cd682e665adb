package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "savesentry",
	Short: "Background guard for game save files",
	Long:  "Savesentry watches a save directory, keeps a deduplicated version history of every save file, and prunes old backups with a tiered retention policy.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}
