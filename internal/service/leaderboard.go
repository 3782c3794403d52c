package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"screentime-backend/internal/model"
	"screentime-backend/internal/repository"
)

// ErrInvalidPeriodKey is returned for malformed leaderboard keys.
var ErrInvalidPeriodKey = errors.New("invalid period key")

// LeaderboardService serves daily, weekly and monthly leaderboards.
type LeaderboardService struct {
	statRepo *repository.PeriodStatRepository
	limit    int
	timezone *time.Location
}

// NewLeaderboardService creates a new LeaderboardService instance.
func NewLeaderboardService(statRepo *repository.PeriodStatRepository, defaultLimit int, timezone *time.Location) *LeaderboardService {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	if timezone == nil {
		timezone = time.UTC
	}
	return &LeaderboardService{
		statRepo: statRepo,
		limit:    defaultLimit,
		timezone: timezone,
	}
}

// Daily returns the leaderboard for a calendar date. When currentUserID
// is non-nil and the user has a stat row, the caller's own rank and
// total are attached.
func (s *LeaderboardService) Daily(ctx context.Context, date time.Time, currentUserID *int64) (*model.LeaderboardPage, error) {
	key := model.DailyKey(date.In(s.timezone))
	return s.page(ctx, model.PeriodDaily, key, currentUserID)
}

// Weekly returns the leaderboard for an ISO week key such as "2024-W03".
func (s *LeaderboardService) Weekly(ctx context.Context, weekKey string, currentUserID *int64) (*model.LeaderboardPage, error) {
	if _, err := model.WeekDays(weekKey); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPeriodKey, weekKey)
	}
	return s.page(ctx, model.PeriodWeekly, weekKey, currentUserID)
}

// Monthly returns the leaderboard for a month key such as "2024-01".
func (s *LeaderboardService) Monthly(ctx context.Context, monthKey string, currentUserID *int64) (*model.LeaderboardPage, error) {
	if _, err := model.MonthDays(monthKey); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPeriodKey, monthKey)
	}
	return s.page(ctx, model.PeriodMonthly, monthKey, currentUserID)
}

func (s *LeaderboardService) page(ctx context.Context, period model.Period, key string, currentUserID *int64) (*model.LeaderboardPage, error) {
	entries, err := s.statRepo.Leaderboard(ctx, period, key, s.limit)
	if err != nil {
		return nil, err
	}

	page := &model.LeaderboardPage{
		Period:    period,
		PeriodKey: key,
		Entries:   entries,
	}

	if currentUserID != nil {
		rank, total, err := s.statRepo.UserRank(ctx, *currentUserID, period, key)
		if err != nil {
			if !errors.Is(err, repository.ErrStatNotFound) {
				return nil, err
			}
			// No stats for the caller this period; leave the rank unset.
		} else {
			page.CallerRank = &rank
			page.CallerTotal = &total
		}
	}

	return page, nil
}
