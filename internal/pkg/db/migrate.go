package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Migrate applies the database schema. Statements are idempotent so the
// pipeline can run them on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: users
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			user_id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			coins BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return err
	}

	// Migration 2: raw usage events (append-only, owned by ingestion)
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS usage_events (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			package_name VARCHAR(255) NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT,
			event_timestamp TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_usage_events_timestamp ON usage_events(event_timestamp);
		CREATE INDEX IF NOT EXISTS idx_usage_events_user_time ON usage_events(user_id, event_timestamp);
	`)
	if err != nil {
		return err
	}

	// Migration 3: period stats and the aggregation high-water mark
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS period_stats (
			user_id BIGINT NOT NULL,
			period VARCHAR(10) NOT NULL,
			period_key VARCHAR(10) NOT NULL,
			total_screen_time_ms BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, period, period_key)
		);
		CREATE INDEX IF NOT EXISTS idx_period_stats_key ON period_stats(period, period_key, total_screen_time_ms DESC);
		CREATE TABLE IF NOT EXISTS sync_state (
			id INT PRIMARY KEY,
			last_event_id BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return err
	}

	// Migration 4: challenges, participants, participant stats
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS challenges (
			id BIGSERIAL PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			challenge_type VARCHAR(20) NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			settled_at TIMESTAMPTZ,
			last_event_id BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_challenges_ended ON challenges(end_time) WHERE settled_at IS NULL;
		CREATE TABLE IF NOT EXISTS challenge_participants (
			challenge_id BIGINT NOT NULL REFERENCES challenges(id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (challenge_id, user_id)
		);
		CREATE TABLE IF NOT EXISTS challenge_participant_stats (
			id BIGSERIAL PRIMARY KEY,
			challenge_id BIGINT NOT NULL REFERENCES challenges(id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL,
			package_name VARCHAR(255) NOT NULL,
			start_sync_time TIMESTAMPTZ NOT NULL,
			end_sync_time TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_participant_stats_challenge ON challenge_participant_stats(challenge_id, user_id);
	`)
	if err != nil {
		return err
	}

	// Migration 5: rewards and the coin ledger. The unique index on
	// (challenge_id, rank) is the at-most-once settlement guarantee at
	// the storage layer.
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rewards (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			challenge_id BIGINT NOT NULL REFERENCES challenges(id) ON DELETE CASCADE,
			rank INT NOT NULL,
			amount BIGINT NOT NULL,
			source VARCHAR(50) NOT NULL,
			claimed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (challenge_id, rank)
		);
		CREATE INDEX IF NOT EXISTS idx_rewards_user ON rewards(user_id, created_at DESC);
		CREATE TABLE IF NOT EXISTS coin_transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			type VARCHAR(50) NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_coin_transactions_user ON coin_transactions(user_id, created_at DESC);
	`)
	if err != nil {
		return err
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
