package bot

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zulandar/trestle/internal/gateway"
)

// uploadsDir is where message attachments land inside the project tree,
// so the agent can read them with relative paths.
const uploadsDir = ".discord-uploads"

var attachmentClient = &http.Client{Timeout: 60 * time.Second}

// downloadAttachments fetches message attachments into the project's
// uploads directory and returns the local paths. Failures are logged
// and skipped; the query proceeds with whatever downloaded.
func downloadAttachments(ctx context.Context, projectPath string, attachments []gateway.Attachment) []string {
	if len(attachments) == 0 {
		return nil
	}

	dir := filepath.Join(projectPath, uploadsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("bot: create uploads dir: %v", err)
		return nil
	}

	var paths []string
	for _, att := range attachments {
		path, err := downloadOne(ctx, dir, att.Name, att.URL)
		if err != nil {
			log.Printf("bot: download %s: %v", att.Name, err)
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

func downloadOne(ctx context.Context, dir, name, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := attachmentClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	path := filepath.Join(dir, sanitizeFilename(name))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// sanitizeFilename strips path separators and traversal sequences from
// an attachment name supplied by the platform.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "upload"
	}
	return name
}
