// Integration tests for the aggregation/ranking/settlement pipeline.
// Tests use testcontainers-go to spin up a PostgreSQL container.
package service

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"screentime-backend/internal/config"
	"screentime-backend/internal/model"
	"screentime-backend/internal/notify"
	"screentime-backend/internal/pkg/db"
	"screentime-backend/internal/pkg/lock"
	"screentime-backend/internal/repository"
)

func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// pipelineEnv bundles the services and repositories under test.
type pipelineEnv struct {
	pool        *pgxpool.Pool
	userRepo    *repository.UserRepository
	eventRepo   *repository.UsageEventRepository
	statRepo    *repository.PeriodStatRepository
	chRepo      *repository.ChallengeRepository
	rewardRepo  *repository.RewardRepository
	aggregation *AggregationService
	ranking     *RankingService
	settlement  *SettlementService
	challenges  *ChallengeService
}

func setupPipeline(t *testing.T) (*pipelineEnv, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx, pool))

	env := &pipelineEnv{
		pool:       pool,
		userRepo:   repository.NewUserRepository(pool),
		eventRepo:  repository.NewUsageEventRepository(pool),
		statRepo:   repository.NewPeriodStatRepository(pool),
		chRepo:     repository.NewChallengeRepository(pool),
		rewardRepo: repository.NewRewardRepository(pool),
	}
	syncState := repository.NewSyncStateRepository(pool)
	env.aggregation = NewAggregationService(env.eventRepo, env.statRepo, syncState, env.chRepo)
	env.ranking = NewRankingService(env.chRepo, env.userRepo)
	env.settlement = NewSettlementService(
		env.chRepo,
		env.rewardRepo,
		env.userRepo,
		env.ranking,
		lock.NewChallengeLock(),
		notify.NewDispatcher(notify.LogSender{}, 64, 1),
		config.RewardsConfig{Schedule: []int64{500, 300, 200}, TopN: 3},
	)
	env.challenges = NewChallengeService(env.chRepo, env.userRepo)

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return env, cleanup
}

func (env *pipelineEnv) addEvent(t *testing.T, userID int64, ts time.Time, durationMs int64) {
	t.Helper()
	_, err := env.eventRepo.Create(context.Background(), &model.UsageEvent{
		UserID:         userID,
		PackageName:    "com.example.app",
		StartTime:      ts,
		EndTime:        ts.Add(time.Duration(durationMs) * time.Millisecond),
		DurationMs:     &durationMs,
		EventTimestamp: ts,
	})
	require.NoError(t, err)
}

func TestSyncUsage_Idempotent(t *testing.T) {
	env, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	day := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	env.addEvent(t, 1, day, 3000)
	env.addEvent(t, 1, day.Add(time.Hour), 4000)
	env.addEvent(t, 1, day.Add(2*time.Hour), 2000)

	res, err := env.aggregation.SyncUsage(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.EventsProcessed)

	stat, err := env.statRepo.Get(ctx, 1, model.PeriodDaily, "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, int64(9000), stat.TotalMs)

	// Re-running over the same unmodified event set must not double-count.
	res, err = env.aggregation.SyncUsage(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.EventsProcessed)

	stat, err = env.statRepo.Get(ctx, 1, model.PeriodDaily, "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, int64(9000), stat.TotalMs)
}

func TestSyncUsage_WindowedReplace(t *testing.T) {
	env, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	day := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	env.addEvent(t, 1, day, 3000)
	env.addEvent(t, 1, day.Add(time.Hour), 6000)

	window := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		res, err := env.aggregation.SyncUsage(ctx, &window)
		require.NoError(t, err)
		assert.Equal(t, 2, res.EventsProcessed)

		stat, err := env.statRepo.Get(ctx, 1, model.PeriodDaily, "2024-01-15")
		require.NoError(t, err)
		assert.Equal(t, int64(9000), stat.TotalMs, "run %d must leave the total at 9000", i+1)
	}
}

func TestSyncUsage_WindowedThenIncremental(t *testing.T) {
	env, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	day := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	env.addEvent(t, 1, day, 3000)
	env.addEvent(t, 1, day.Add(time.Hour), 4000)
	env.addEvent(t, 1, day.Add(2*time.Hour), 2000)

	// A windowed sync folds the day in without moving the mark.
	window := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	_, err := env.aggregation.SyncUsage(ctx, &window)
	require.NoError(t, err)

	stat, err := env.statRepo.Get(ctx, 1, model.PeriodDaily, "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, int64(9000), stat.TotalMs)

	// The scheduled incremental sync then sees the same events as new.
	// It must recompute the day, not add the durations a second time.
	res, err := env.aggregation.SyncUsage(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.EventsProcessed)

	stat, err = env.statRepo.Get(ctx, 1, model.PeriodDaily, "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, int64(9000), stat.TotalMs)

	weekly, err := env.statRepo.Get(ctx, 1, model.PeriodWeekly, "2024-W03")
	require.NoError(t, err)
	assert.Equal(t, int64(9000), weekly.TotalMs)
}

func TestSyncUsage_ResumesAfterPartialApply(t *testing.T) {
	env, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	day := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	env.addEvent(t, 1, day, 3000)
	env.addEvent(t, 1, day.Add(time.Hour), 6000)

	// Simulate a run that wrote the daily row and then died before
	// advancing the mark: the row exists, the mark still points at 0.
	require.NoError(t, env.statRepo.ReplaceDaily(ctx, 1, "2024-01-15", 9000))

	// The retry sees the events again; the total must stay 9000.
	res, err := env.aggregation.SyncUsage(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.EventsProcessed)

	stat, err := env.statRepo.Get(ctx, 1, model.PeriodDaily, "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, int64(9000), stat.TotalMs)
}

func TestSyncUsage_RollupConsistency(t *testing.T) {
	env, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	// Three days inside ISO week 2024-W03 and month 2024-01.
	env.addEvent(t, 1, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), 1000)
	env.addEvent(t, 1, time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC), 2000)
	env.addEvent(t, 1, time.Date(2024, 1, 17, 9, 0, 0, 0, time.UTC), 3000)
	// A null-duration event contributes zero.
	_, err := env.eventRepo.Create(ctx, &model.UsageEvent{
		UserID:         1,
		PackageName:    "com.example.app",
		StartTime:      time.Date(2024, 1, 17, 10, 0, 0, 0, time.UTC),
		EndTime:        time.Date(2024, 1, 17, 10, 0, 0, 0, time.UTC),
		EventTimestamp: time.Date(2024, 1, 17, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	_, err = env.aggregation.SyncUsage(ctx, nil)
	require.NoError(t, err)

	var sum int64
	for _, key := range []string{"2024-01-15", "2024-01-16", "2024-01-17"} {
		stat, err := env.statRepo.Get(ctx, 1, model.PeriodDaily, key)
		require.NoError(t, err)
		sum += stat.TotalMs
	}

	weekly, err := env.statRepo.Get(ctx, 1, model.PeriodWeekly, "2024-W03")
	require.NoError(t, err)
	assert.Equal(t, sum, weekly.TotalMs)

	monthly, err := env.statRepo.Get(ctx, 1, model.PeriodMonthly, "2024-01")
	require.NoError(t, err)
	assert.Equal(t, sum, monthly.TotalMs)
}

func TestChallengeRankings_Completeness(t *testing.T) {
	env, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	ch, err := env.chRepo.Create(ctx, "Detox Week", model.ChallengeLessScreenTime,
		now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)

	for i, id := range []int64{1, 2, 3} { // A, B, C
		_, err := env.userRepo.Create(ctx, id, "user")
		require.NoError(t, err)
		_, err = env.chRepo.Join(ctx, ch.ID, id, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	// Only B and C produce events inside the window.
	env.addEvent(t, 2, now, 5000)
	env.addEvent(t, 3, now, 2000)

	res, err := env.aggregation.SyncChallengeStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.EventsProcessed)
	assert.Equal(t, 2, res.StatsUpdated)

	// Re-syncing must not duplicate the append-only stat rows.
	res, err = env.aggregation.SyncChallengeStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.EventsProcessed)

	entries, err := env.ranking.ChallengeRankings(ctx, ch.ID, ch.Type, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Less screen time wins: A (0ms), C (2000ms), B (5000ms).
	assert.Equal(t, int64(1), entries[0].UserID)
	assert.Equal(t, int64(0), entries[0].TotalMs)
	assert.Equal(t, int64(3), entries[1].UserID)
	assert.Equal(t, int64(2000), entries[1].TotalMs)
	assert.Equal(t, int64(2), entries[2].UserID)
	assert.Equal(t, int64(5000), entries[2].TotalMs)

	rank, err := env.ranking.UserRank(ctx, 2, ch.ID, ch.Type)
	require.NoError(t, err)
	assert.Equal(t, 3, rank)

	_, err = env.ranking.UserRank(ctx, 99, ch.ID, ch.Type)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestAwardChallengeRewards_AtMostOnce(t *testing.T) {
	env, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	ch, err := env.chRepo.Create(ctx, "Detox Week", model.ChallengeLessScreenTime,
		now.Add(-2*time.Hour), now.Add(-time.Minute))
	require.NoError(t, err)

	for i, id := range []int64{1, 2} {
		_, err := env.userRepo.Create(ctx, id, "user")
		require.NoError(t, err)
		_, err = env.chRepo.Join(ctx, ch.ID, id, now.Add(time.Duration(i)*time.Second-2*time.Hour))
		require.NoError(t, err)
	}

	res, err := env.settlement.AwardChallengeRewards(ctx, ch.ID, 3)
	require.NoError(t, err)
	// Only two participants, so only two ranks pay out.
	assert.Equal(t, 2, res.RewardsAwarded)

	// Settling again awards nothing further.
	res, err = env.settlement.AwardChallengeRewards(ctx, ch.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RewardsAwarded)

	count, err := env.rewardRepo.CountForChallenge(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Rank 1 (user 1 joined first on the 0ms tie) got the top amount.
	winner, err := env.userRepo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(500), winner.Coins)

	// The sweep picks up nothing else.
	sweep, err := env.settlement.SettleEnded(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sweep.RewardsAwarded)
}

func TestChallengeJoin_Guards(t *testing.T) {
	env, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	open, err := env.chRepo.Create(ctx, "Open", model.ChallengeLessScreenTime,
		now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	ended, err := env.chRepo.Create(ctx, "Ended", model.ChallengeLessScreenTime,
		now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)

	_, err = env.userRepo.Create(ctx, 1, "user")
	require.NoError(t, err)

	_, err = env.challenges.Join(ctx, open.ID, 1)
	require.NoError(t, err)

	_, err = env.challenges.Join(ctx, open.ID, 1)
	assert.ErrorIs(t, err, repository.ErrAlreadyJoined)

	_, err = env.challenges.Join(ctx, ended.ID, 1)
	assert.ErrorIs(t, err, ErrChallengeClosed)

	// Unknown users cannot join.
	_, err = env.challenges.Join(ctx, open.ID, 99)
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestAwardChallengeRewards_NotEnded(t *testing.T) {
	env, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	ch, err := env.chRepo.Create(ctx, "Ongoing", model.ChallengeMoreScreenTime,
		now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)

	_, err = env.settlement.AwardChallengeRewards(ctx, ch.ID, 3)
	assert.ErrorIs(t, err, ErrChallengeNotEnded)
}
