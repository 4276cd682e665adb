package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"savesentry/internal/blob"
	"savesentry/internal/journal"
	"savesentry/internal/ledger"
)

func testServer(t *testing.T) (*Server, *ledger.Ledger, *blob.Store) {
	t.Helper()
	dir := t.TempDir()
	l := ledger.New(dir)
	if err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, err := blob.New(filepath.Join(dir, "versions"))
	if err != nil {
		t.Fatalf("blob.New: %v", err)
	}
	jdb, err := journal.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { jdb.Close() })
	return New(l, b, jdb, 10<<30, "test-version"), l, b
}

func get(t *testing.T, srv *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s body: %v", path, err)
	}
	return w, body
}

func TestHealthEndpoint(t *testing.T) {
	srv, l, _ := testServer(t)
	l.Update("world.sav", "d1")

	w, body := get(t, srv, "/api/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	if body["tracked"].(float64) != 1 {
		t.Errorf("tracked = %v, want 1", body["tracked"])
	}
}

func TestFilesEndpoint(t *testing.T) {
	srv, l, _ := testServer(t)
	l.Update("world.sav", "d1")
	l.Update("world.sav", "d2")

	w, body := get(t, srv, "/api/files")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	files := body["files"].([]any)
	if len(files) != 1 {
		t.Fatalf("files = %d, want 1", len(files))
	}
	f := files[0].(map[string]any)
	if f["name"] != "world.sav" || f["versions"].(float64) != 2 {
		t.Errorf("file summary = %v", f)
	}
	if f["surviving"].(float64) != 2 {
		t.Errorf("surviving = %v, want 2", f["surviving"])
	}
}

func TestFileVersionsEndpoint(t *testing.T) {
	srv, l, b := testServer(t)
	l.Update("world.sav", "d1")
	b.Write("d1", []byte("payload"))

	w, body := get(t, srv, "/api/files/world.sav/versions")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	versions := body["versions"].([]any)
	if len(versions) != 1 {
		t.Fatalf("versions = %d, want 1", len(versions))
	}
	v := versions[0].(map[string]any)
	if v["digest"] != "d1" || v["size"].(float64) != 7 {
		t.Errorf("version detail = %v", v)
	}

	w, _ = get(t, srv, "/api/files/unknown.sav/versions")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown file status = %d, want 404", w.Code)
	}
}

func TestStorageEndpoint(t *testing.T) {
	srv, _, b := testServer(t)
	b.Write("d1", []byte("12345678"))

	w, body := get(t, srv, "/api/storage")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["total_size"].(float64) != 8 {
		t.Errorf("total_size = %v, want 8", body["total_size"])
	}
}

func TestActivityEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.journal.Record(journal.KindVersioned, "world.sav", "d1", "")

	w, body := get(t, srv, "/api/activity")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(body["actions"].([]any)) != 1 {
		t.Errorf("actions = %v", body["actions"])
	}
}

func TestActivityWithoutJournal(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.journal = nil

	w, _ := get(t, srv, "/api/activity")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}
