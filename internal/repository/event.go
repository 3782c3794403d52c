// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"screentime-backend/internal/model"
)

// UsageEventRepository reads the append-only usage event table. Writes
// belong to the ingestion subsystem; Create exists for that collaborator
// and for tests.
type UsageEventRepository struct {
	pool *pgxpool.Pool
}

// NewUsageEventRepository creates a new UsageEventRepository instance.
func NewUsageEventRepository(pool *pgxpool.Pool) *UsageEventRepository {
	return &UsageEventRepository{pool: pool}
}

// Create appends a usage event.
func (r *UsageEventRepository) Create(ctx context.Context, e *model.UsageEvent) (*model.UsageEvent, error) {
	const query = `
		INSERT INTO usage_events (user_id, package_name, start_time, end_time, duration_ms, event_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, user_id, package_name, start_time, end_time, duration_ms, event_timestamp
	`

	var out model.UsageEvent
	err := r.pool.QueryRow(ctx, query,
		e.UserID, e.PackageName, e.StartTime, e.EndTime, e.DurationMs, e.EventTimestamp,
	).Scan(
		&out.ID, &out.UserID, &out.PackageName, &out.StartTime, &out.EndTime, &out.DurationMs, &out.EventTimestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage event: %w", err)
	}

	return &out, nil
}

// ListAfter returns all events with an ID greater than afterID, ordered
// by ID ascending. The accumulate sync path consumes these and advances
// its high-water mark to the last ID returned.
func (r *UsageEventRepository) ListAfter(ctx context.Context, afterID int64) ([]*model.UsageEvent, error) {
	const query = `
		SELECT id, user_id, package_name, start_time, end_time, duration_ms, event_timestamp
		FROM usage_events
		WHERE id > $1
		ORDER BY id ASC
	`

	rows, err := r.pool.Query(ctx, query, afterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListForDate returns all events whose event timestamp falls on the
// given calendar day in the day's location.
func (r *UsageEventRepository) ListForDate(ctx context.Context, date time.Time) ([]*model.UsageEvent, error) {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	const query = `
		SELECT id, user_id, package_name, start_time, end_time, duration_ms, event_timestamp
		FROM usage_events
		WHERE event_timestamp >= $1 AND event_timestamp < $2
		ORDER BY id ASC
	`

	rows, err := r.pool.Query(ctx, query, startOfDay, endOfDay)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for date: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListForChallenge returns events past the challenge's high-water mark
// that fall inside its window and belong to a joined participant,
// ordered by ID ascending. Membership is evaluated at read time, so a
// participant who joins after a sweep has advanced the mark does not get
// their earlier in-window events counted retroactively; only events the
// mark has not yet passed contribute to their challenge total.
func (r *UsageEventRepository) ListForChallenge(ctx context.Context, ch *model.Challenge) ([]*model.UsageEvent, error) {
	const query = `
		SELECT e.id, e.user_id, e.package_name, e.start_time, e.end_time, e.duration_ms, e.event_timestamp
		FROM usage_events e
		JOIN challenge_participants p ON p.challenge_id = $1 AND p.user_id = e.user_id
		WHERE e.id > $2
		  AND e.event_timestamp >= $3
		  AND e.event_timestamp < $4
		ORDER BY e.id ASC
	`

	rows, err := r.pool.Query(ctx, query, ch.ID, ch.LastEventID, ch.StartTime, ch.EndTime)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for challenge: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]*model.UsageEvent, error) {
	var events []*model.UsageEvent
	for rows.Next() {
		var e model.UsageEvent
		err := rows.Scan(
			&e.ID, &e.UserID, &e.PackageName, &e.StartTime, &e.EndTime, &e.DurationMs, &e.EventTimestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// SyncStateRepository persists the global aggregation high-water mark.
type SyncStateRepository struct {
	pool *pgxpool.Pool
}

// NewSyncStateRepository creates a new SyncStateRepository instance.
func NewSyncStateRepository(pool *pgxpool.Pool) *SyncStateRepository {
	return &SyncStateRepository{pool: pool}
}

// LastEventID returns the ID of the last event folded into the
// leaderboard stats, or 0 when no sync has run yet.
func (r *SyncStateRepository) LastEventID(ctx context.Context) (int64, error) {
	const query = `SELECT COALESCE(MAX(last_event_id), 0) FROM sync_state WHERE id = 1`

	var id int64
	if err := r.pool.QueryRow(ctx, query).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to get sync state: %w", err)
	}
	return id, nil
}

// SetLastEventID advances the high-water mark. The mark never moves
// backwards.
func (r *SyncStateRepository) SetLastEventID(ctx context.Context, eventID int64) error {
	const query = `
		INSERT INTO sync_state (id, last_event_id, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id)
		DO UPDATE SET last_event_id = GREATEST(sync_state.last_event_id, $1), updated_at = NOW()
	`

	if _, err := r.pool.Exec(ctx, query, eventID); err != nil {
		return fmt.Errorf("failed to set sync state: %w", err)
	}
	return nil
}
