package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"screentime-backend/internal/model"
)

// Common errors for challenge operations.
var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrAlreadyJoined     = errors.New("user already joined challenge")
)

// ParticipantTotal is one participant's summed challenge screen time.
type ParticipantTotal struct {
	UserID  int64
	TotalMs int64
}

// ChallengeRepository handles challenge, participant and participant
// stat persistence.
type ChallengeRepository struct {
	pool *pgxpool.Pool
}

// NewChallengeRepository creates a new ChallengeRepository instance.
func NewChallengeRepository(pool *pgxpool.Pool) *ChallengeRepository {
	return &ChallengeRepository{pool: pool}
}

// Create creates a new challenge. Admin tooling owns this in production;
// the pipeline's tests use it to set up fixtures.
func (r *ChallengeRepository) Create(ctx context.Context, title string, challengeType model.ChallengeType, start, end time.Time) (*model.Challenge, error) {
	const query = `
		INSERT INTO challenges (title, challenge_type, start_time, end_time, is_active, last_event_id)
		VALUES ($1, $2, $3, $4, TRUE, 0)
		RETURNING id, title, challenge_type, start_time, end_time, is_active, settled_at, last_event_id
	`

	var ch model.Challenge
	err := r.pool.QueryRow(ctx, query, title, challengeType, start, end).Scan(
		&ch.ID, &ch.Title, &ch.Type, &ch.StartTime, &ch.EndTime, &ch.IsActive, &ch.SettledAt, &ch.LastEventID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}

	return &ch, nil
}

// GetByID retrieves a challenge.
// Returns ErrChallengeNotFound if it does not exist.
func (r *ChallengeRepository) GetByID(ctx context.Context, challengeID int64) (*model.Challenge, error) {
	const query = `
		SELECT id, title, challenge_type, start_time, end_time, is_active, settled_at, last_event_id
		FROM challenges
		WHERE id = $1
	`

	var ch model.Challenge
	err := r.pool.QueryRow(ctx, query, challengeID).Scan(
		&ch.ID, &ch.Title, &ch.Type, &ch.StartTime, &ch.EndTime, &ch.IsActive, &ch.SettledAt, &ch.LastEventID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}

	return &ch, nil
}

// ListActive returns active, unsettled challenges whose window has
// started, ordered by ID.
func (r *ChallengeRepository) ListActive(ctx context.Context, now time.Time) ([]*model.Challenge, error) {
	const query = `
		SELECT id, title, challenge_type, start_time, end_time, is_active, settled_at, last_event_id
		FROM challenges
		WHERE is_active = TRUE AND settled_at IS NULL AND start_time <= $1
		ORDER BY id ASC
	`

	return r.list(ctx, query, now)
}

// ListEndedUnsettled returns active challenges whose end time has passed
// and which have not been settled yet.
func (r *ChallengeRepository) ListEndedUnsettled(ctx context.Context, now time.Time) ([]*model.Challenge, error) {
	const query = `
		SELECT id, title, challenge_type, start_time, end_time, is_active, settled_at, last_event_id
		FROM challenges
		WHERE is_active = TRUE AND settled_at IS NULL AND end_time <= $1
		ORDER BY end_time ASC
	`

	return r.list(ctx, query, now)
}

func (r *ChallengeRepository) list(ctx context.Context, query string, args ...any) ([]*model.Challenge, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges: %w", err)
	}
	defer rows.Close()

	var challenges []*model.Challenge
	for rows.Next() {
		var ch model.Challenge
		err := rows.Scan(
			&ch.ID, &ch.Title, &ch.Type, &ch.StartTime, &ch.EndTime, &ch.IsActive, &ch.SettledAt, &ch.LastEventID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan challenge: %w", err)
		}
		challenges = append(challenges, &ch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating challenges: %w", err)
	}

	return challenges, nil
}

// MarkSettled records the settlement timestamp. The update only fires if
// the challenge is still unsettled; the returned bool reports whether
// this call won that race.
func (r *ChallengeRepository) MarkSettled(ctx context.Context, challengeID int64, settledAt time.Time) (bool, error) {
	const query = `
		UPDATE challenges
		SET settled_at = $2
		WHERE id = $1 AND settled_at IS NULL
	`

	tag, err := r.pool.Exec(ctx, query, challengeID, settledAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark challenge settled: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetLastEventID advances a challenge's aggregation high-water mark.
// The mark never moves backwards.
func (r *ChallengeRepository) SetLastEventID(ctx context.Context, challengeID int64, eventID int64) error {
	const query = `
		UPDATE challenges
		SET last_event_id = GREATEST(last_event_id, $2)
		WHERE id = $1
	`

	if _, err := r.pool.Exec(ctx, query, challengeID, eventID); err != nil {
		return fmt.Errorf("failed to set challenge high-water mark: %w", err)
	}
	return nil
}

// Join adds a participant to a challenge. A user joins at most once;
// joining again returns ErrAlreadyJoined.
func (r *ChallengeRepository) Join(ctx context.Context, challengeID, userID int64, joinedAt time.Time) (*model.ChallengeParticipant, error) {
	const query = `
		INSERT INTO challenge_participants (challenge_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (challenge_id, user_id) DO NOTHING
		RETURNING challenge_id, user_id, joined_at
	`

	var p model.ChallengeParticipant
	err := r.pool.QueryRow(ctx, query, challengeID, userID, joinedAt).Scan(
		&p.ChallengeID, &p.UserID, &p.JoinedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlreadyJoined
		}
		return nil, fmt.Errorf("failed to join challenge: %w", err)
	}

	return &p, nil
}

// Participants returns all joined participants for a challenge in join
// order (joined_at ascending, user ID ascending on exact ties). This
// ordering is the ranking tie-break.
func (r *ChallengeRepository) Participants(ctx context.Context, challengeID int64) ([]model.ChallengeParticipant, error) {
	const query = `
		SELECT challenge_id, user_id, joined_at
		FROM challenge_participants
		WHERE challenge_id = $1
		ORDER BY joined_at ASC, user_id ASC
	`

	rows, err := r.pool.Query(ctx, query, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []model.ChallengeParticipant
	for rows.Next() {
		var p model.ChallengeParticipant
		if err := rows.Scan(&p.ChallengeID, &p.UserID, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participants: %w", err)
	}

	return participants, nil
}

// InsertParticipantStat appends one event's contribution to a challenge.
// This path is append-only; rankings sum all matching rows live.
func (r *ChallengeRepository) InsertParticipantStat(ctx context.Context, s *model.ChallengeParticipantStat) error {
	const query = `
		INSERT INTO challenge_participant_stats (challenge_id, user_id, package_name, start_sync_time, end_sync_time, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		s.ChallengeID, s.UserID, s.PackageName, s.StartSyncTime, s.EndSyncTime, s.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert participant stat: %w", err)
	}
	return nil
}

// SumStatsByUser aggregates total duration per participant in a single
// query. Participants without stat rows are absent; the ranking engine
// merges them back in with total 0.
func (r *ChallengeRepository) SumStatsByUser(ctx context.Context, challengeID int64) ([]ParticipantTotal, error) {
	const query = `
		SELECT user_id, COALESCE(SUM(duration_ms), 0) AS total_ms
		FROM challenge_participant_stats
		WHERE challenge_id = $1
		GROUP BY user_id
	`

	rows, err := r.pool.Query(ctx, query, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum participant stats: %w", err)
	}
	defer rows.Close()

	var totals []ParticipantTotal
	for rows.Next() {
		var t ParticipantTotal
		if err := rows.Scan(&t.UserID, &t.TotalMs); err != nil {
			return nil, fmt.Errorf("failed to scan participant total: %w", err)
		}
		totals = append(totals, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participant totals: %w", err)
	}

	return totals, nil
}
