package models

import (
	"time"

	"github.com/google/uuid"
)

// AttendanceRow is one connection's participation in a session.
type AttendanceRow struct {
	ID              uuid.UUID `json:"id"`
	SessionID       uuid.UUID `json:"session_id"`
	ConnectionID    string    `json:"connection_id"`
	Role            string    `json:"role"`
	JoinedAt        time.Time `json:"joined_at"`
	LeftAt          time.Time `json:"left_at"`
	DurationSeconds int64     `json:"duration_seconds"`
}

// MoodArchiveRow is one archived (module, mood) count from a dismissed tally.
type MoodArchiveRow struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	ModuleID   uuid.UUID `json:"module_id"`
	Mood       string    `json:"mood"`
	Count      int       `json:"count"`
	ArchivedAt time.Time `json:"archived_at"`
}

// SessionStats is aggregate per-session history.
type SessionStats struct {
	SessionID        uuid.UUID `json:"session_id"`
	PeakParticipants int       `json:"peak_participants"`
	UpdatedAt        time.Time `json:"updated_at"`
}
