package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"screentime-backend/internal/config"
	"screentime-backend/internal/model"
	"screentime-backend/internal/notify"
	"screentime-backend/internal/pkg/lock"
	"screentime-backend/internal/repository"
)

// Settlement errors.
var (
	// ErrChallengeNotEnded is returned when settlement is requested for
	// a challenge whose window is still open.
	ErrChallengeNotEnded = errors.New("challenge has not ended")
)

// rewardSource marks grants issued by challenge settlement.
const rewardSource = "challenge"

// SettlementService detects ended challenges, computes final rankings
// and issues coin rewards at most once per (challenge, rank). The
// invariant is enforced three ways: a per-challenge lock in this
// process, a unique index on (challenge_id, rank), and the settled
// marker on the challenge itself.
type SettlementService struct {
	challengeRepo *repository.ChallengeRepository
	rewardRepo    *repository.RewardRepository
	userRepo      *repository.UserRepository
	ranking       *RankingService
	locks         *lock.ChallengeLock
	dispatcher    *notify.Dispatcher
	rewards       config.RewardsConfig
}

// NewSettlementService creates a new SettlementService instance.
func NewSettlementService(
	challengeRepo *repository.ChallengeRepository,
	rewardRepo *repository.RewardRepository,
	userRepo *repository.UserRepository,
	ranking *RankingService,
	locks *lock.ChallengeLock,
	dispatcher *notify.Dispatcher,
	rewards config.RewardsConfig,
) *SettlementService {
	return &SettlementService{
		challengeRepo: challengeRepo,
		rewardRepo:    rewardRepo,
		userRepo:      userRepo,
		ranking:       ranking,
		locks:         locks,
		dispatcher:    dispatcher,
		rewards:       rewards,
	}
}

// EligibleRanks returns how many ranks a settlement pays out: the lowest
// of topN, the reward schedule length, the participant count and, when a
// percent cap is configured, ceil(participants * percentCap / 100).
func EligibleRanks(topN, participants, scheduleLen, percentCap int) int {
	n := topN
	if scheduleLen < n {
		n = scheduleLen
	}
	if participants < n {
		n = participants
	}
	if percentCap > 0 {
		capped := (participants*percentCap + 99) / 100
		if capped < n {
			n = capped
		}
	}
	if n < 0 {
		return 0
	}
	return n
}

// AmountForRank returns the coin amount for a 1-based rank, or 0 when
// the schedule does not cover it.
func AmountForRank(schedule []int64, rank int) int64 {
	if rank < 1 || rank > len(schedule) {
		return 0
	}
	return schedule[rank-1]
}

// AwardChallengeRewards settles a single ended challenge: computes the
// final ranking, grants coins to the eligible ranks and marks the
// challenge settled. Safe to invoke repeatedly; a rank that already has
// a reward is skipped as a no-op.
func (s *SettlementService) AwardChallengeRewards(ctx context.Context, challengeID int64, topN int) (*model.SettlementResult, error) {
	ch, err := s.challengeRepo.GetByID(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if time.Now().Before(ch.EndTime) {
		return nil, ErrChallengeNotEnded
	}
	if ch.Settled() {
		return &model.SettlementResult{Message: "already settled"}, nil
	}

	var result *model.SettlementResult
	err = s.locks.WithLock(challengeID, func() error {
		var lockedErr error
		result, lockedErr = s.settleLocked(ctx, ch, topN)
		return lockedErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SettlementService) settleLocked(ctx context.Context, ch *model.Challenge, topN int) (*model.SettlementResult, error) {
	entries, err := s.ranking.ChallengeRankings(ctx, ch.ID, ch.Type, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to compute final ranking: %w", err)
	}

	eligible := EligibleRanks(topN, len(entries), len(s.rewards.Schedule), s.rewards.PercentCap)
	awarded := 0
	for rank := 1; rank <= eligible; rank++ {
		entry := entries[rank-1]

		exists, err := s.rewardRepo.HasReward(ctx, entry.UserID, ch.ID, rank)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}

		amount := AmountForRank(s.rewards.Schedule, rank)
		created, err := s.rewardRepo.CreateGrant(ctx, entry.UserID, ch.ID, rank, amount, rewardSource)
		if err != nil {
			return nil, err
		}
		if !created {
			// Another sweep inserted this rank between the check and
			// the insert; treat it as already done.
			log.Warn().
				Int64("challenge_id", ch.ID).
				Int("rank", rank).
				Msg("Reward already granted by concurrent sweep")
			continue
		}

		if err := s.creditReward(ctx, ch, entry.UserID, rank, amount); err != nil {
			return nil, err
		}
		awarded++
	}

	if awarded > 0 && len(entries) > 0 {
		s.dispatcher.Enqueue(model.WinnerBroadcastNotification{
			ChallengeID: ch.ID,
			WinnerID:    entries[0].UserID,
			Title:       ch.Title,
		})
	}

	settled, err := s.challengeRepo.MarkSettled(ctx, ch.ID, time.Now())
	if err != nil {
		return nil, err
	}
	if !settled {
		log.Warn().
			Int64("challenge_id", ch.ID).
			Msg("Challenge was settled concurrently")
	}

	log.Info().
		Int64("challenge_id", ch.ID).
		Int("rewards_awarded", awarded).
		Int("participants", len(entries)).
		Msg("Challenge settled")

	return &model.SettlementResult{
		RewardsAwarded: awarded,
		Message:        fmt.Sprintf("awarded %d rewards", awarded),
	}, nil
}

func (s *SettlementService) creditReward(ctx context.Context, ch *model.Challenge, userID int64, rank int, amount int64) error {
	if _, err := s.userRepo.Credit(ctx, userID, amount); err != nil {
		return fmt.Errorf("failed to credit reward: %w", err)
	}

	desc := fmt.Sprintf("rank %d in challenge %q", rank, ch.Title)
	if _, err := s.rewardRepo.CreateCoinTransaction(ctx, userID, amount, model.TxTypeChallengeReward, &desc); err != nil {
		// Balance already moved; the missing ledger row is logged
		// rather than failing the settlement.
		log.Error().
			Err(err).
			Int64("user_id", userID).
			Int64("challenge_id", ch.ID).
			Msg("Failed to record coin transaction")
	}

	s.dispatcher.Enqueue(model.ChallengeRewardNotification{
		UserID:      userID,
		ChallengeID: ch.ID,
		Rank:        rank,
		Amount:      amount,
	})
	s.dispatcher.Enqueue(model.CoinChangeNotification{
		UserID: userID,
		Delta:  amount,
		Reason: model.TxTypeChallengeReward,
	})

	return nil
}

// SettleEnded sweeps all recently ended, unsettled challenges. Each
// challenge settles independently: a failure on one is logged and the
// sweep continues with the rest. A sweep with nothing to do is a normal
// no-op.
func (s *SettlementService) SettleEnded(ctx context.Context) (*model.SettlementResult, error) {
	challenges, err := s.challengeRepo.ListEndedUnsettled(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	if len(challenges) == 0 {
		log.Debug().Msg("No ended challenges to settle")
		return &model.SettlementResult{Message: "no ended challenges"}, nil
	}

	awarded := 0
	for _, ch := range challenges {
		res, err := s.AwardChallengeRewards(ctx, ch.ID, s.rewards.TopN)
		if err != nil {
			log.Error().
				Err(err).
				Int64("challenge_id", ch.ID).
				Msg("Challenge settlement failed")
			continue
		}
		awarded += res.RewardsAwarded
	}

	return &model.SettlementResult{
		RewardsAwarded: awarded,
		Message:        fmt.Sprintf("settled %d challenges", len(challenges)),
	}, nil
}
