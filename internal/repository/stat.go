package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"screentime-backend/internal/model"
)

// ErrStatNotFound is returned when a user has no stat row for a period key.
var ErrStatNotFound = errors.New("period stat not found")

// PeriodStatRepository handles aggregated screen-time persistence.
// Daily rows are written by the aggregation engine; weekly and monthly
// rows are always recomputed from the daily rows they cover.
type PeriodStatRepository struct {
	pool *pgxpool.Pool
}

// NewPeriodStatRepository creates a new PeriodStatRepository instance.
func NewPeriodStatRepository(pool *pgxpool.Pool) *PeriodStatRepository {
	return &PeriodStatRepository{pool: pool}
}

// ReplaceDaily sets a user's daily total to an exact value, creating the
// row if absent. Both sync paths write through this so that re-running
// either never double-counts.
func (r *PeriodStatRepository) ReplaceDaily(ctx context.Context, userID int64, dayKey string, totalMs int64) error {
	const query = `
		INSERT INTO period_stats (user_id, period, period_key, total_screen_time_ms, updated_at)
		VALUES ($1, 'daily', $2, $3, NOW())
		ON CONFLICT (user_id, period, period_key)
		DO UPDATE SET total_screen_time_ms = $3, updated_at = NOW()
	`

	if _, err := r.pool.Exec(ctx, query, userID, dayKey, totalMs); err != nil {
		return fmt.Errorf("failed to replace daily stat: %w", err)
	}
	return nil
}

// RecomputeRollup rewrites a user's weekly or monthly row as the sum of
// the given daily keys. Summation, never incrementing, keeps derived
// rows equal to their constituent dailies.
func (r *PeriodStatRepository) RecomputeRollup(ctx context.Context, userID int64, period model.Period, periodKey string, dayKeys []string) error {
	const query = `
		INSERT INTO period_stats (user_id, period, period_key, total_screen_time_ms, updated_at)
		SELECT $1, $2, $3, COALESCE(SUM(total_screen_time_ms), 0), NOW()
		FROM period_stats
		WHERE user_id = $1 AND period = 'daily' AND period_key = ANY($4)
		ON CONFLICT (user_id, period, period_key)
		DO UPDATE SET total_screen_time_ms = EXCLUDED.total_screen_time_ms, updated_at = NOW()
	`

	if _, err := r.pool.Exec(ctx, query, userID, period, periodKey, dayKeys); err != nil {
		return fmt.Errorf("failed to recompute %s rollup: %w", period, err)
	}
	return nil
}

// Get retrieves a single period stat row.
// Returns ErrStatNotFound if the row does not exist.
func (r *PeriodStatRepository) Get(ctx context.Context, userID int64, period model.Period, periodKey string) (*model.PeriodStat, error) {
	const query = `
		SELECT user_id, period, period_key, total_screen_time_ms, updated_at
		FROM period_stats
		WHERE user_id = $1 AND period = $2 AND period_key = $3
	`

	var stat model.PeriodStat
	err := r.pool.QueryRow(ctx, query, userID, period, periodKey).Scan(
		&stat.UserID, &stat.Period, &stat.PeriodKey, &stat.TotalMs, &stat.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStatNotFound
		}
		return nil, fmt.Errorf("failed to get period stat: %w", err)
	}

	return &stat, nil
}

// Leaderboard returns the top users for a period key, most screen time
// first, user ID ascending on equal totals.
func (r *PeriodStatRepository) Leaderboard(ctx context.Context, period model.Period, periodKey string, limit int) ([]model.RankedEntry, error) {
	const query = `
		SELECT s.user_id, COALESCE(u.username, ''), s.total_screen_time_ms
		FROM period_stats s
		LEFT JOIN users u ON u.user_id = s.user_id
		WHERE s.period = $1 AND s.period_key = $2
		ORDER BY s.total_screen_time_ms DESC, s.user_id ASC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, period, periodKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []model.RankedEntry
	for rows.Next() {
		var e model.RankedEntry
		if err := rows.Scan(&e.UserID, &e.Username, &e.TotalMs); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leaderboard: %w", err)
	}

	return entries, nil
}

// UserRank returns a user's 1-based rank and total for a period key.
// Rank order matches Leaderboard. Returns ErrStatNotFound when the user
// has no stat row for the key.
func (r *PeriodStatRepository) UserRank(ctx context.Context, userID int64, period model.Period, periodKey string) (int, int64, error) {
	const query = `
		SELECT s.total_screen_time_ms,
		       (SELECT COUNT(*)
		        FROM period_stats o
		        WHERE o.period = s.period AND o.period_key = s.period_key
		          AND (o.total_screen_time_ms > s.total_screen_time_ms
		               OR (o.total_screen_time_ms = s.total_screen_time_ms AND o.user_id < s.user_id))) + 1
		FROM period_stats s
		WHERE s.user_id = $1 AND s.period = $2 AND s.period_key = $3
	`

	var total int64
	var rank int
	err := r.pool.QueryRow(ctx, query, userID, period, periodKey).Scan(&total, &rank)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, ErrStatNotFound
		}
		return 0, 0, fmt.Errorf("failed to get user rank: %w", err)
	}

	return rank, total, nil
}
