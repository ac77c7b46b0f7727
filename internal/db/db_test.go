package db

import (
	"path/filepath"
	"testing"

	"github.com/zulandar/trestle/internal/models"
)

func TestConnect_MemoryAndMigrate(t *testing.T) {
	gdb, err := Connect(":memory:")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !gdb.Migrator().HasTable(&models.Session{}) {
		t.Error("sessions table should exist after Connect")
	}
	if !gdb.Migrator().HasTable(&models.SavedSession{}) {
		t.Error("saved_sessions table should exist after Connect")
	}
}

func TestConnect_CreatesDataDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "sessions.db")
	if _, err := Connect(path); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func TestConnect_EmptyPath(t *testing.T) {
	if _, err := Connect(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
