package models

import "time"

// Session maps a Discord channel to its active Claude session. There is
// at most one active session per channel; every completed query
// overwrites the row (last-writer-wins).
type Session struct {
	ChannelID   string    `gorm:"primaryKey;size:128"`
	SessionID   string    `gorm:"size:128;not null"`
	ProjectName string    `gorm:"size:128;not null"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// SavedSession is a labeled point-in-time copy of an active session,
// created by "/new save_as:<label>" and consumed by "/resume <label>".
// Restore moves the record back to the active table and deletes it.
type SavedSession struct {
	ChannelID   string    `gorm:"primaryKey;size:128"`
	Label       string    `gorm:"primaryKey;size:128"`
	SessionID   string    `gorm:"size:128;not null"`
	ProjectName string    `gorm:"size:128;not null"`
	SavedAt     time.Time `gorm:"index"`
}
