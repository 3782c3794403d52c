// Property-based tests for the ranking core.
package service

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"screentime-backend/internal/model"
)

// drawParticipants generates a challenge's participant set with distinct
// user IDs in join order, plus totals for a random subset of them.
func drawParticipants(t *rapid.T) ([]model.ChallengeParticipant, map[int64]int64) {
	numUsers := rapid.IntRange(0, 40).Draw(t, "numUsers")
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	seen := make(map[int64]struct{})
	var participants []model.ChallengeParticipant
	for len(participants) < numUsers {
		id := rapid.Int64Range(1, 1_000_000).Draw(t, "userID")
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		participants = append(participants, model.ChallengeParticipant{
			ChallengeID: 1,
			UserID:      id,
			JoinedAt:    base.Add(time.Duration(len(participants)) * time.Second),
		})
	}

	totals := make(map[int64]int64)
	for _, p := range participants {
		if rapid.Bool().Draw(t, "hasStats") {
			totals[p.UserID] = rapid.Int64Range(0, 86_400_000).Draw(t, "total")
		}
	}

	return participants, totals
}

func drawChallengeType(t *rapid.T) model.ChallengeType {
	if rapid.Bool().Draw(t, "less") {
		return model.ChallengeLessScreenTime
	}
	return model.ChallengeMoreScreenTime
}

// TestRankingCompletenessProperty verifies that every joined participant
// appears exactly once, with total 0 when they have no stat rows.
func TestRankingCompletenessProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		participants, totals := drawParticipants(t)
		ct := drawChallengeType(t)

		entries := RankParticipants(participants, totals, ct)

		if len(entries) != len(participants) {
			t.Fatalf("expected %d entries, got %d", len(participants), len(entries))
		}

		seen := make(map[int64]int64, len(entries))
		for _, e := range entries {
			if _, dup := seen[e.UserID]; dup {
				t.Fatalf("user %d appears twice", e.UserID)
			}
			seen[e.UserID] = e.TotalMs
		}
		for _, p := range participants {
			total, ok := seen[p.UserID]
			if !ok {
				t.Fatalf("participant %d missing from ranking", p.UserID)
			}
			if total != totals[p.UserID] {
				t.Fatalf("participant %d total = %d, want %d", p.UserID, total, totals[p.UserID])
			}
		}
	})
}

// TestRankingOrderProperty verifies the sort direction and that equal
// totals fall back to join order.
func TestRankingOrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		participants, totals := drawParticipants(t)
		ct := drawChallengeType(t)

		joinOrder := make(map[int64]int, len(participants))
		for i, p := range participants {
			joinOrder[p.UserID] = i
		}

		entries := RankParticipants(participants, totals, ct)

		for i := 1; i < len(entries); i++ {
			prev, cur := entries[i-1], entries[i]
			if prev.TotalMs == cur.TotalMs {
				if joinOrder[prev.UserID] > joinOrder[cur.UserID] {
					t.Fatalf("tie at %dms not broken by join order: %d before %d",
						cur.TotalMs, prev.UserID, cur.UserID)
				}
				continue
			}
			if ct == model.ChallengeLessScreenTime && prev.TotalMs > cur.TotalMs {
				t.Fatalf("ascending order violated: %d before %d", prev.TotalMs, cur.TotalMs)
			}
			if ct == model.ChallengeMoreScreenTime && prev.TotalMs < cur.TotalMs {
				t.Fatalf("descending order violated: %d before %d", prev.TotalMs, cur.TotalMs)
			}
		}
	})
}

// TestRankingDeterminismProperty verifies that ranking the same data
// twice yields the same order.
func TestRankingDeterminismProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		participants, totals := drawParticipants(t)
		ct := drawChallengeType(t)

		first := RankParticipants(participants, totals, ct)
		second := RankParticipants(participants, totals, ct)

		if len(first) != len(second) {
			t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
		}
		for i := range first {
			if first[i].UserID != second[i].UserID {
				t.Fatalf("order differs at %d: %d vs %d", i, first[i].UserID, second[i].UserID)
			}
		}
	})
}

// TestRankBoundsProperty verifies that every participant's 1-based rank
// stays within [1, participant count].
func TestRankBoundsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		participants, totals := drawParticipants(t)
		ct := drawChallengeType(t)

		entries := RankParticipants(participants, totals, ct)

		for i := range entries {
			rank := i + 1
			if rank < 1 || rank > len(participants) {
				t.Fatalf("rank %d outside [1, %d]", rank, len(participants))
			}
		}
	})
}
