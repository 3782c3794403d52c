package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"screentime-backend/internal/model"
	"screentime-backend/internal/repository"
)

// AggregationService folds raw usage events into per-user period stats
// and per-challenge participant stats. Both paths are idempotent across
// repeated runs: the leaderboard path tracks a high-water mark over
// event IDs, the challenge path a per-challenge mark.
type AggregationService struct {
	eventRepo     *repository.UsageEventRepository
	statRepo      *repository.PeriodStatRepository
	syncState     *repository.SyncStateRepository
	challengeRepo *repository.ChallengeRepository
}

// NewAggregationService creates a new AggregationService instance.
func NewAggregationService(
	eventRepo *repository.UsageEventRepository,
	statRepo *repository.PeriodStatRepository,
	syncState *repository.SyncStateRepository,
	challengeRepo *repository.ChallengeRepository,
) *AggregationService {
	return &AggregationService{
		eventRepo:     eventRepo,
		statRepo:      statRepo,
		syncState:     syncState,
		challengeRepo: challengeRepo,
	}
}

// SyncUsage aggregates usage events into daily stats and recomputes the
// weekly and monthly rollups for every daily key touched.
//
// With a nil windowDate it uses the global high-water mark to find the
// days with new events, recomputes those days from their raw events and
// advances the mark. With a windowDate it recomputes just that day.
// Both paths write totals with a replace, so either may run any number
// of times, in any interleaving, without double counting an event.
func (s *AggregationService) SyncUsage(ctx context.Context, windowDate *time.Time) (*model.SyncResult, error) {
	if windowDate != nil {
		return s.syncWindow(ctx, *windowDate)
	}
	return s.syncIncremental(ctx)
}

func (s *AggregationService) syncIncremental(ctx context.Context) (*model.SyncResult, error) {
	mark, err := s.syncState.LastEventID(ctx)
	if err != nil {
		return nil, err
	}

	events, err := s.eventRepo.ListAfter(ctx, mark)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return &model.SyncResult{Message: "no new events"}, nil
	}

	// The new events only tell us which days changed. Each touched day
	// is then recomputed from its raw events and written with a replace,
	// never an add: a run that died after writing some rows, or a
	// windowed sync that already folded these events in, leaves rows the
	// next run simply overwrites with the same totals.
	days := make(map[string]struct{})
	maxID := mark
	for _, e := range events {
		days[model.DailyKey(e.EventTimestamp.UTC())] = struct{}{}
		if e.ID > maxID {
			maxID = e.ID
		}
	}

	updated := 0
	touched := make(map[dailyTouch]struct{})
	for dayKey := range days {
		day, err := model.ParseDailyKey(dayKey)
		if err != nil {
			return nil, err
		}
		_, dayTouched, err := s.recomputeDay(ctx, day)
		if err != nil {
			return nil, err
		}
		updated += len(dayTouched)
		for k := range dayTouched {
			touched[k] = struct{}{}
		}
	}

	if err := s.recomputeRollups(ctx, touched); err != nil {
		return nil, err
	}

	if err := s.syncState.SetLastEventID(ctx, maxID); err != nil {
		return nil, err
	}

	log.Info().
		Int("events", len(events)).
		Int("stats_updated", updated).
		Int64("high_water_mark", maxID).
		Msg("Usage sync completed")

	return &model.SyncResult{
		EventsProcessed: len(events),
		StatsUpdated:    updated,
		Message:         fmt.Sprintf("synced %d events", len(events)),
	}, nil
}

func (s *AggregationService) syncWindow(ctx context.Context, date time.Time) (*model.SyncResult, error) {
	seen, touched, err := s.recomputeDay(ctx, date)
	if err != nil {
		return nil, err
	}

	if err := s.recomputeRollups(ctx, touched); err != nil {
		return nil, err
	}

	dayKey := model.DailyKey(date)
	log.Info().
		Str("date", dayKey).
		Int("events", seen).
		Int("stats_updated", len(touched)).
		Msg("Windowed usage sync completed")

	return &model.SyncResult{
		EventsProcessed: seen,
		StatsUpdated:    len(touched),
		Message:         fmt.Sprintf("synced %d events for %s", seen, dayKey),
	}, nil
}

// recomputeDay rewrites every user's daily row for one date from that
// date's raw events. Returns the number of events read and the stat
// rows written.
func (s *AggregationService) recomputeDay(ctx context.Context, date time.Time) (int, map[dailyTouch]struct{}, error) {
	events, err := s.eventRepo.ListForDate(ctx, date)
	if err != nil {
		return 0, nil, err
	}

	dayKey := model.DailyKey(date)
	totals := make(map[int64]int64)
	for _, e := range events {
		totals[e.UserID] += e.Duration()
	}

	touched := make(map[dailyTouch]struct{}, len(totals))
	for userID, total := range totals {
		if err := s.statRepo.ReplaceDaily(ctx, userID, dayKey, total); err != nil {
			return 0, nil, err
		}
		touched[dailyTouch{userID: userID, dayKey: dayKey}] = struct{}{}
	}

	return len(events), touched, nil
}

// dailyTouch identifies one (user, day) stat row written during a sync.
type dailyTouch struct {
	userID int64
	dayKey string
}

// recomputeRollups rewrites the weekly and monthly rows covering each
// touched daily key by summing their constituent dailies.
func (s *AggregationService) recomputeRollups(ctx context.Context, touched map[dailyTouch]struct{}) error {
	type rollup struct {
		userID int64
		period model.Period
		key    string
	}
	seen := make(map[rollup]struct{})

	for t := range touched {
		day, err := model.ParseDailyKey(t.dayKey)
		if err != nil {
			return err
		}

		for _, r := range []rollup{
			{userID: t.userID, period: model.PeriodWeekly, key: model.WeeklyKey(day)},
			{userID: t.userID, period: model.PeriodMonthly, key: model.MonthlyKey(day)},
		} {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}

			var dayKeys []string
			if r.period == model.PeriodWeekly {
				dayKeys, err = model.WeekDays(r.key)
			} else {
				dayKeys, err = model.MonthDays(r.key)
			}
			if err != nil {
				return err
			}

			if err := s.statRepo.RecomputeRollup(ctx, r.userID, r.period, r.key, dayKeys); err != nil {
				return err
			}
		}
	}

	return nil
}

// SyncChallengeStats appends participant stat rows for every active
// challenge. For each challenge it consumes events past the challenge's
// high-water mark that fall inside its window and belong to a joined
// participant, then advances the mark. A failure on one challenge is
// logged and does not abort the others.
func (s *AggregationService) SyncChallengeStats(ctx context.Context) (*model.SyncResult, error) {
	now := time.Now()
	challenges, err := s.challengeRepo.ListActive(ctx, now)
	if err != nil {
		return nil, err
	}

	totalEvents := 0
	totalStats := 0
	for _, ch := range challenges {
		processed, inserted, err := s.syncChallenge(ctx, ch)
		// Count whatever a challenge consumed before failing; the mark
		// already covers it and the next sweep resumes past it.
		totalEvents += processed
		totalStats += inserted
		if err != nil {
			log.Error().
				Err(err).
				Int64("challenge_id", ch.ID).
				Msg("Challenge stats sync failed")
			continue
		}
	}

	return &model.SyncResult{
		EventsProcessed: totalEvents,
		StatsUpdated:    totalStats,
		Message:         fmt.Sprintf("synced %d challenges", len(challenges)),
	}, nil
}

func (s *AggregationService) syncChallenge(ctx context.Context, ch *model.Challenge) (int, int, error) {
	events, err := s.eventRepo.ListForChallenge(ctx, ch)
	if err != nil {
		return 0, 0, err
	}
	if len(events) == 0 {
		return 0, 0, nil
	}

	inserted := 0
	maxID := ch.LastEventID
	for _, e := range events {
		stat := &model.ChallengeParticipantStat{
			ChallengeID:   ch.ID,
			UserID:        e.UserID,
			PackageName:   e.PackageName,
			StartSyncTime: e.StartTime,
			EndSyncTime:   e.EndTime,
			DurationMs:    e.Duration(),
		}
		if err := s.challengeRepo.InsertParticipantStat(ctx, stat); err != nil {
			// Stop before advancing the mark past an uninserted event;
			// the next sweep retries from here.
			if markErr := s.challengeRepo.SetLastEventID(ctx, ch.ID, maxID); markErr != nil {
				log.Error().Err(markErr).Int64("challenge_id", ch.ID).Msg("Failed to persist challenge high-water mark")
			}
			return inserted, inserted, err
		}
		inserted++
		if e.ID > maxID {
			maxID = e.ID
		}
	}

	if err := s.challengeRepo.SetLastEventID(ctx, ch.ID, maxID); err != nil {
		return len(events), inserted, err
	}

	log.Info().
		Int64("challenge_id", ch.ID).
		Int("events", len(events)).
		Msg("Challenge stats sync completed")

	return len(events), inserted, nil
}
