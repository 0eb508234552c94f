package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/presenta-live/backend/internal/models"
)

// Repository persists session history: attendance, archived mood tallies and
// peak participant counts. The live core keeps none of this — moods are a
// sliding window there, durable analytics live here.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a history repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecordAttendance inserts one attendance row when a connection leaves.
func (r *Repository) RecordAttendance(ctx context.Context, sessionID uuid.UUID, connectionID, role string, joinedAt, leftAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_attendance (id, session_id, connection_id, role, joined_at, left_at, duration_seconds)
		 VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, GREATEST(0, EXTRACT(EPOCH FROM ($5::timestamptz - $4::timestamptz))::BIGINT))`,
		sessionID, connectionID, role, joinedAt, leftAt)
	return err
}

// ArchiveTally inserts one row per (module, mood) count from a dismissed tally.
func (r *Repository) ArchiveTally(ctx context.Context, sessionID, moduleID uuid.UUID, counts map[string]int) error {
	for mood, count := range counts {
		if count <= 0 {
			continue
		}
		_, err := r.pool.Exec(ctx,
			`INSERT INTO mood_archive (id, session_id, module_id, mood, count)
			 VALUES (gen_random_uuid(), $1, $2, $3, $4)`,
			sessionID, moduleID, mood, count)
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdatePeakParticipants raises the recorded peak for a session if count
// exceeds it.
func (r *Repository) UpdatePeakParticipants(ctx context.Context, sessionID uuid.UUID, count int) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_stats (session_id, peak_participants, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (session_id) DO UPDATE
		 SET peak_participants = GREATEST(session_stats.peak_participants, EXCLUDED.peak_participants), updated_at = NOW()`,
		sessionID, count)
	return err
}

// ListAttendance returns all attendance rows for a session.
func (r *Repository) ListAttendance(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, connection_id, role, joined_at, left_at, duration_seconds
		 FROM session_attendance WHERE session_id = $1 ORDER BY joined_at`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.AttendanceRow
	for rows.Next() {
		var a models.AttendanceRow
		if err := rows.Scan(&a.ID, &a.SessionID, &a.ConnectionID, &a.Role, &a.JoinedAt, &a.LeftAt, &a.DurationSeconds); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListArchivedTallies returns archived mood counts for a session.
func (r *Repository) ListArchivedTallies(ctx context.Context, sessionID uuid.UUID) ([]models.MoodArchiveRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, module_id, mood, count, archived_at
		 FROM mood_archive WHERE session_id = $1 ORDER BY archived_at`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.MoodArchiveRow
	for rows.Next() {
		var m models.MoodArchiveRow
		if err := rows.Scan(&m.ID, &m.SessionID, &m.ModuleID, &m.Mood, &m.Count, &m.ArchivedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetStats returns aggregate stats for a session, or zero values when absent.
func (r *Repository) GetStats(ctx context.Context, sessionID uuid.UUID) (models.SessionStats, error) {
	s := models.SessionStats{SessionID: sessionID}
	err := r.pool.QueryRow(ctx,
		`SELECT peak_participants, updated_at FROM session_stats WHERE session_id = $1`,
		sessionID).Scan(&s.PeakParticipants, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SessionStats{SessionID: sessionID}, nil
	}
	if err != nil {
		return models.SessionStats{}, err
	}
	return s, nil
}
