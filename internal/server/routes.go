package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names, digests := s.ledger.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"tracked": names,
		"digests": digests,
	})
}

type fileSummary struct {
	Name       string `json:"name"`
	BaseDigest string `json:"base_digest"`
	Versions   int    `json:"versions"`
	Surviving  int    `json:"surviving"`
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	names := s.ledger.Names()
	sort.Strings(names)

	files := make([]fileSummary, 0, len(names))
	for _, name := range names {
		h, ok := s.ledger.HistoryOf(name)
		if !ok {
			continue
		}
		surviving := 0
		for _, d := range h.Versions {
			if st, ok := s.ledger.StateOf(d); ok && !st.Deleted {
				surviving++
			}
		}
		files = append(files, fileSummary{
			Name:       h.Name,
			BaseDigest: h.BaseDigest,
			Versions:   len(h.Versions),
			Surviving:  surviving,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

type versionDetail struct {
	Digest     string    `json:"digest"`
	ObservedAt time.Time `json:"observed_at"`
	Deleted    bool      `json:"deleted"`
	Size       int64     `json:"size"`
}

func (s *Server) handleFileVersions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h, ok := s.ledger.HistoryOf(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown file"})
		return
	}

	versions := make([]versionDetail, 0, len(h.Versions))
	for _, d := range h.Versions {
		v := versionDetail{Digest: d, Size: s.blobs.SizeOf(d)}
		if st, ok := s.ledger.StateOf(d); ok {
			v.ObservedAt = st.ObservedAt
			v.Deleted = st.Deleted
		}
		versions = append(versions, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "versions": versions})
}

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"total_size": s.blobs.TotalSize(),
		"size_cap":   s.sizeCap,
		"dir":        s.blobs.Dir,
	})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "journal disabled"})
		return
	}

	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	actions, err := s.journal.Recent(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	counts, err := s.journal.CountByKind()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions, "counts": counts})
}
