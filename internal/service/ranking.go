// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"screentime-backend/internal/model"
	"screentime-backend/internal/repository"
)

// ErrNotParticipant is returned when a rank is requested for a user who
// never joined the challenge.
var ErrNotParticipant = errors.New("user is not a challenge participant")

// RankingService computes challenge rankings. Ranking is a pure read:
// it never mutates stats and is safe to call concurrently with
// aggregation.
type RankingService struct {
	challengeRepo *repository.ChallengeRepository
	userRepo      *repository.UserRepository
}

// NewRankingService creates a new RankingService instance.
func NewRankingService(
	challengeRepo *repository.ChallengeRepository,
	userRepo *repository.UserRepository,
) *RankingService {
	return &RankingService{
		challengeRepo: challengeRepo,
		userRepo:      userRepo,
	}
}

// RankParticipants orders challenge participants by total screen time.
// The joined participant set defines the universe: a participant without
// a total is ranked with total 0. LESS_SCREENTIME sorts ascending,
// MORE_SCREENTIME descending. Equal totals order by join time ascending,
// then user ID ascending, so repeated calls on unchanged data always
// yield the same order.
func RankParticipants(
	participants []model.ChallengeParticipant,
	totals map[int64]int64,
	challengeType model.ChallengeType,
) []model.RankedEntry {
	entries := make([]model.RankedEntry, 0, len(participants))
	joinOrder := make(map[int64]int, len(participants))
	for i, p := range participants {
		joinOrder[p.UserID] = i
		entries = append(entries, model.RankedEntry{
			UserID:  p.UserID,
			TotalMs: totals[p.UserID],
		})
	}

	less := challengeType == model.ChallengeLessScreenTime
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.TotalMs != b.TotalMs {
			if less {
				return a.TotalMs < b.TotalMs
			}
			return a.TotalMs > b.TotalMs
		}
		return joinOrder[a.UserID] < joinOrder[b.UserID]
	})

	return entries
}

// ChallengeRankings returns the ordered ranking for a challenge. A limit
// of 0 or less returns the full ranking. A challenge with no
// participants yields an empty ranking, not an error.
func (s *RankingService) ChallengeRankings(ctx context.Context, challengeID int64, challengeType model.ChallengeType, limit int) ([]model.RankedEntry, error) {
	participants, err := s.challengeRepo.Participants(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}
	if len(participants) == 0 {
		return nil, nil
	}

	sums, err := s.challengeRepo.SumStatsByUser(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participant totals: %w", err)
	}

	totals := make(map[int64]int64, len(sums))
	for _, t := range sums {
		totals[t.UserID] = t.TotalMs
	}

	entries := RankParticipants(participants, totals, challengeType)
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}

	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.UserID
	}
	names, err := s.userRepo.UsernamesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve usernames: %w", err)
	}
	for i := range entries {
		entries[i].Username = names[entries[i].UserID]
	}

	return entries, nil
}

// UserRank returns a participant's 1-based rank in a challenge. It runs
// the same full ranking as ChallengeRankings; at the documented scale a
// single aggregate query plus an in-memory sort is acceptable.
// Returns ErrNotParticipant if the user never joined.
func (s *RankingService) UserRank(ctx context.Context, userID, challengeID int64, challengeType model.ChallengeType) (int, error) {
	entries, err := s.ChallengeRankings(ctx, challengeID, challengeType, 0)
	if err != nil {
		return 0, err
	}

	for i, e := range entries {
		if e.UserID == userID {
			return i + 1, nil
		}
	}
	return 0, ErrNotParticipant
}
