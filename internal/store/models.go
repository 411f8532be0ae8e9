package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Room is a chat room whose transcript exports are tracked.
// The id is immutable once created; renames only touch Name.
type Room struct {
	ID               int64
	Name             string
	FilePath         string
	ParticipantCount int
	LastSyncAt       time.Time // zero when never synced
	CreatedAt        time.Time
}

// Message is a single transcript line attributed to a sender.
// Duplicate detection uses the composite key
// (room, sender, date, time, content), not a content hash: identical text at
// different times stays distinct, and messages without a time field collapse
// onto their content.
type Message struct {
	ID          int64
	RoomID      int64
	Sender      string
	Content     string
	MessageDate time.Time // date only; normalized to midnight UTC
	MessageTime string    // "15:04", empty when the export format omits times
	RawLine     string
	CreatedAt   time.Time
}

// Summary kinds.
const (
	KindDaily  = "daily"
	KindMulti  = "multi"
	KindWeekly = "weekly"
)

// Summary is a generated digest for one (room, date, kind).
// At most one current row exists per key; regeneration goes through
// ReplaceSummary which deletes before inserting.
type Summary struct {
	ID          int64
	RoomID      int64
	SummaryDate time.Time
	Kind        string
	Content     string
	Provider    string
	TokenCount  int
	CreatedAt   time.Time
}

// Sync log statuses.
const (
	SyncSuccess = "success"
	SyncFailed  = "failed"
	SyncPartial = "partial"
)

// SyncLog is one append-only audit entry for an ingest or recovery pass.
type SyncLog struct {
	ID              int64
	RoomID          int64
	TaskID          string
	Status          string
	MessageCount    int
	NewMessageCount int
	ErrorText       string
	SyncedAt        time.Time
}

// URL is a link collected from generated summaries. (room, url) is unique;
// descriptions from multiple sightings are merged, never overwritten.
type URL struct {
	ID           int64
	RoomID       int64
	URL          string
	Descriptions []string
	SourceDate   time.Time // zero when unknown
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RoomStats aggregates per-room counters for status displays.
type RoomStats struct {
	RoomName      string
	TotalMessages int
	UniqueSenders int
	FirstDate     time.Time
	LastDate      time.Time
	LastSyncAt    time.Time
	SummaryCount  int
	URLCount      int
}
