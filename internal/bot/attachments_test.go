package bot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/zulandar/trestle/internal/gateway"
)

func TestDownloadAttachments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("file body"))
	}))
	defer srv.Close()

	projectDir := t.TempDir()
	paths := downloadAttachments(context.Background(), projectDir, []gateway.Attachment{
		{Name: "notes.txt", URL: srv.URL + "/notes.txt"},
		{Name: "gone.txt", URL: srv.URL + "/missing"},
	})

	if len(paths) != 1 {
		t.Fatalf("paths = %v, want one successful download", paths)
	}
	want := filepath.Join(projectDir, uploadsDir, "notes.txt")
	if paths[0] != want {
		t.Errorf("path = %q, want %q", paths[0], want)
	}
	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if string(data) != "file body" {
		t.Errorf("content = %q", data)
	}
}

func TestDownloadAttachments_Empty(t *testing.T) {
	if paths := downloadAttachments(context.Background(), t.TempDir(), nil); paths != nil {
		t.Errorf("paths = %v, want nil", paths)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"notes.txt":        "notes.txt",
		"../../etc/passwd": "passwd",
		"a..b.txt":         "a_b.txt",
		"":                 "upload",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
