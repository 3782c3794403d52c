package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"screentime-backend/internal/model"
	"screentime-backend/internal/repository"
)

// ErrChallengeClosed is returned when a user tries to join a challenge
// whose window has already ended.
var ErrChallengeClosed = errors.New("challenge has ended")

// ChallengeService handles participant membership. Join is permanent:
// there is no leave operation for a challenge's lifetime.
type ChallengeService struct {
	challengeRepo *repository.ChallengeRepository
	userRepo      *repository.UserRepository
}

// NewChallengeService creates a new ChallengeService instance.
func NewChallengeService(
	challengeRepo *repository.ChallengeRepository,
	userRepo *repository.UserRepository,
) *ChallengeService {
	return &ChallengeService{
		challengeRepo: challengeRepo,
		userRepo:      userRepo,
	}
}

// Join adds a user to a challenge. A user joins at most once; a repeat
// join returns repository.ErrAlreadyJoined.
func (s *ChallengeService) Join(ctx context.Context, challengeID, userID int64) (*model.ChallengeParticipant, error) {
	ch, err := s.challengeRepo.GetByID(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if !ch.IsActive || time.Now().After(ch.EndTime) {
		return nil, ErrChallengeClosed
	}

	exists, err := s.userRepo.Exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, repository.ErrUserNotFound
	}

	p, err := s.challengeRepo.Join(ctx, challengeID, userID, time.Now())
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyJoined) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to join challenge: %w", err)
	}

	return p, nil
}

// Get retrieves a challenge by ID.
func (s *ChallengeService) Get(ctx context.Context, challengeID int64) (*model.Challenge, error) {
	return s.challengeRepo.GetByID(ctx, challengeID)
}
