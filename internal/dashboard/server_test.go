package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/trestle/internal/models"
	"github.com/zulandar/trestle/internal/project"
	"github.com/zulandar/trestle/internal/session"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRouter(t *testing.T) (*gin.Engine, *session.Store) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := gdb.AutoMigrate(&models.Session{}, &models.SavedSession{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, _ := session.NewStore(gdb)

	root := t.TempDir()
	dir := filepath.Join(root, "demo")
	os.MkdirAll(dir, 0o755)
	os.WriteFile(filepath.Join(dir, "discord.json"), []byte(`{"channelId":"100"}`), 0o644)
	registry, _ := project.NewRegistry(root)
	registry.Discover()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	registerRoutes(router, store, registry)
	return router, store
}

func get(t *testing.T, router *gin.Engine, path string) (int, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)

	var body map[string]interface{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return w.Code, body
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)
	code, body := get(t, router, "/healthz")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	router, store := newTestRouter(t)
	store.Set("100", "s1", "demo")

	code, body := get(t, router, "/api/sessions")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	sessions := body["sessions"].([]interface{})
	if len(sessions) != 1 {
		t.Fatalf("sessions = %v", sessions)
	}
	first := sessions[0].(map[string]interface{})
	if first["channelId"] != "100" || first["sessionId"] != "s1" {
		t.Errorf("session = %v", first)
	}
}

func TestSavedSessionsEndpoint(t *testing.T) {
	router, store := newTestRouter(t)
	store.Set("100", "s1", "demo")
	store.Save("100", "milestone")

	code, body := get(t, router, "/api/sessions/100/saved")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	saved := body["saved"].([]interface{})
	if len(saved) != 1 {
		t.Fatalf("saved = %v", saved)
	}
	if saved[0].(map[string]interface{})["label"] != "milestone" {
		t.Errorf("saved = %v", saved)
	}
}

func TestProjectsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	code, body := get(t, router, "/api/projects")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	projects := body["projects"].([]interface{})
	if len(projects) != 1 {
		t.Fatalf("projects = %v", projects)
	}
}
