package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"screentime-backend/internal/model"
)

// RewardRepository is the coin ledger: reward grants plus the coin
// transaction rows that record each balance movement.
type RewardRepository struct {
	pool *pgxpool.Pool
}

// NewRewardRepository creates a new RewardRepository instance.
func NewRewardRepository(pool *pgxpool.Pool) *RewardRepository {
	return &RewardRepository{pool: pool}
}

// CreateGrant inserts a reward for a (challenge, rank) pair. The rewards
// table carries a unique index on that pair, so a concurrent sweep that
// already granted the rank makes this a no-op; the returned bool reports
// whether this call created the row.
func (r *RewardRepository) CreateGrant(ctx context.Context, userID, challengeID int64, rank int, amount int64, source string) (bool, error) {
	const query = `
		INSERT INTO rewards (user_id, challenge_id, rank, amount, source, claimed, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, NOW())
		ON CONFLICT (challenge_id, rank) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query, userID, challengeID, rank, amount, source)
	if err != nil {
		return false, fmt.Errorf("failed to create reward: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// HasReward checks whether a reward already exists for the given user,
// challenge and rank.
func (r *RewardRepository) HasReward(ctx context.Context, userID, challengeID int64, rank int) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM rewards
			WHERE user_id = $1 AND challenge_id = $2 AND rank = $3
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID, challengeID, rank).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check reward: %w", err)
	}
	return exists, nil
}

// CountForChallenge returns how many rewards a challenge has issued.
func (r *RewardRepository) CountForChallenge(ctx context.Context, challengeID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM rewards WHERE challenge_id = $1`

	var count int
	if err := r.pool.QueryRow(ctx, query, challengeID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rewards: %w", err)
	}
	return count, nil
}

// ListByUser returns a user's rewards, newest first.
func (r *RewardRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*model.Reward, error) {
	const query = `
		SELECT id, user_id, challenge_id, rank, amount, source, claimed, created_at
		FROM rewards
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}
	defer rows.Close()

	var rewards []*model.Reward
	for rows.Next() {
		var rw model.Reward
		err := rows.Scan(
			&rw.ID, &rw.UserID, &rw.ChallengeID, &rw.Rank, &rw.Amount, &rw.Source, &rw.Claimed, &rw.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reward: %w", err)
		}
		rewards = append(rewards, &rw)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rewards: %w", err)
	}

	return rewards, nil
}

// CreateCoinTransaction records a coin balance movement in the ledger.
func (r *RewardRepository) CreateCoinTransaction(ctx context.Context, userID int64, amount int64, txType string, description *string) (*model.CoinTransaction, error) {
	const query = `
		INSERT INTO coin_transactions (user_id, amount, type, description, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, user_id, amount, type, description, created_at
	`

	var tx model.CoinTransaction
	err := r.pool.QueryRow(ctx, query, userID, amount, txType, description).Scan(
		&tx.ID, &tx.UserID, &tx.Amount, &tx.Type, &tx.Description, &tx.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create coin transaction: %w", err)
	}

	return &tx, nil
}
