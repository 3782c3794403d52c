// Package main is the entry point for the screen-time challenge backend.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"screentime-backend/internal/config"
	"screentime-backend/internal/notify"
	"screentime-backend/internal/pkg/db"
	"screentime-backend/internal/pkg/lock"
	"screentime-backend/internal/repository"
	"screentime-backend/internal/scheduler"
	"screentime-backend/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	pool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()

	// Run database migrations
	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(pool)
	eventRepo := repository.NewUsageEventRepository(pool)
	statRepo := repository.NewPeriodStatRepository(pool)
	syncState := repository.NewSyncStateRepository(pool)
	challengeRepo := repository.NewChallengeRepository(pool)
	rewardRepo := repository.NewRewardRepository(pool)

	// Initialize notification dispatcher
	dispatcher := notify.NewDispatcher(
		notify.LogSender{},
		cfg.Notifications.QueueSize,
		cfg.Notifications.Workers,
	)
	dispatcher.Start(ctx)

	// Initialize services
	ranking := service.NewRankingService(challengeRepo, userRepo)
	pipe := &service.Pipeline{
		Aggregation: service.NewAggregationService(eventRepo, statRepo, syncState, challengeRepo),
		Leaderboard: service.NewLeaderboardService(statRepo, cfg.Leaderboard.DefaultLimit, cfg.Leaderboard.Location()),
		Ranking:     ranking,
		Settlement: service.NewSettlementService(
			challengeRepo,
			rewardRepo,
			userRepo,
			ranking,
			lock.NewChallengeLock(),
			dispatcher,
			cfg.Rewards,
		),
		Challenges: service.NewChallengeService(challengeRepo, userRepo),
	}

	// Start the three pipeline loops
	sched := scheduler.New(
		scheduler.Job{
			Name:     "usage_sync",
			Interval: cfg.Scheduler.UsageSyncInterval,
			Run: func(ctx context.Context) error {
				_, err := pipe.Aggregation.SyncUsage(ctx, nil)
				return err
			},
		},
		scheduler.Job{
			Name:     "challenge_sync",
			Interval: cfg.Scheduler.ChallengeSyncInterval,
			Run: func(ctx context.Context) error {
				_, err := pipe.Aggregation.SyncChallengeStats(ctx)
				return err
			},
		},
		scheduler.Job{
			Name:     "settlement",
			Interval: cfg.Scheduler.SettlementInterval,
			Run: func(ctx context.Context) error {
				_, err := pipe.Settlement.SettleEnded(ctx)
				return err
			},
		},
	)
	sched.Start(ctx)

	log.Info().Msg("Pipeline started")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	// Graceful shutdown: stop the loops, then drain notifications.
	cancel()
	sched.Wait()
	dispatcher.Close()
	log.Info().Msg("Pipeline stopped gracefully")
}
