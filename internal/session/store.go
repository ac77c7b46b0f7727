// Package session persists the channel → Claude session mapping that
// gives each Discord channel a continuous conversation across queries.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/trestle/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store provides durable access to active and saved sessions. All
// methods are safe for concurrent use; gorm serializes access to the
// underlying sqlite handle.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store. The sessions tables must already be
// migrated (see db.Connect).
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("session: store: db is required")
	}
	return &Store{db: db}, nil
}

// Get returns the active session ID for a channel, or "" if none.
func (s *Store) Get(channelID string) string {
	var rec models.Session
	if err := s.db.First(&rec, "channel_id = ?", channelID).Error; err != nil {
		return ""
	}
	return rec.SessionID
}

// Set upserts the active session for a channel. The backend may rotate
// session IDs across resumes, so the stored ID is always overwritten.
func (s *Store) Set(channelID, sessionID, projectName string) error {
	rec := models.Session{
		ChannelID:   channelID,
		SessionID:   sessionID,
		ProjectName: projectName,
		UpdatedAt:   time.Now(),
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"session_id", "project_name", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("session: set %s: %w", channelID, err)
	}
	return nil
}

// Clear deletes the active session for a channel. Clearing a channel
// with no session is a no-op.
func (s *Store) Clear(channelID string) error {
	err := s.db.Delete(&models.Session{}, "channel_id = ?", channelID).Error
	if err != nil {
		return fmt.Errorf("session: clear %s: %w", channelID, err)
	}
	return nil
}

// Save copies the channel's active session into the saved set under the
// given label (upsert). Returns false if the channel has no active
// session.
func (s *Store) Save(channelID, label string) (bool, error) {
	var active models.Session
	err := s.db.First(&active, "channel_id = ?", channelID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("session: save %s: %w", channelID, err)
	}

	rec := models.SavedSession{
		ChannelID:   channelID,
		Label:       label,
		SessionID:   active.SessionID,
		ProjectName: active.ProjectName,
		SavedAt:     time.Now(),
	}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_id"}, {Name: "label"}},
		DoUpdates: clause.AssignmentColumns([]string{"session_id", "project_name", "saved_at"}),
	}).Create(&rec).Error
	if err != nil {
		return false, fmt.Errorf("session: save %s as %q: %w", channelID, label, err)
	}
	return true, nil
}

// ListSaved returns the channel's saved sessions, most recent first.
func (s *Store) ListSaved(channelID string) ([]models.SavedSession, error) {
	var recs []models.SavedSession
	err := s.db.Where("channel_id = ?", channelID).
		Order("saved_at DESC").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("session: list saved %s: %w", channelID, err)
	}
	return recs, nil
}

// Restore moves a saved session back to active and deletes the saved
// record. It is a one-shot move, not a copy. Returns false if no saved
// session matches the label.
func (s *Store) Restore(channelID, label string) (bool, error) {
	var saved models.SavedSession
	err := s.db.First(&saved, "channel_id = ? AND label = ?", channelID, label).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("session: restore %s %q: %w", channelID, label, err)
	}

	if err := s.Set(channelID, saved.SessionID, saved.ProjectName); err != nil {
		return false, err
	}
	err = s.db.Delete(&models.SavedSession{}, "channel_id = ? AND label = ?", channelID, label).Error
	if err != nil {
		return false, fmt.Errorf("session: restore %s %q: delete saved: %w", channelID, label, err)
	}
	return true, nil
}

// GetAll returns every active session record, for diagnostics and the
// dashboard.
func (s *Store) GetAll() ([]models.Session, error) {
	var recs []models.Session
	if err := s.db.Order("updated_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("session: get all: %w", err)
	}
	return recs, nil
}
