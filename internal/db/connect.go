// Package db opens the embedded sqlite database backing the session store.
package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zulandar/trestle/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens (creating if necessary) the sqlite database at path and
// migrates the session tables. The parent directory is created when
// missing.
func Connect(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("db: path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("db: create data dir: %w", err)
		}
	}

	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}

	if err := Migrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

// Migrate creates or updates the session tables.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&models.Session{}, &models.SavedSession{}); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}
