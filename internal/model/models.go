// Package model defines the data models for the screen-time challenge backend.
package model

import "time"

// User represents an app user account with a coin balance.
type User struct {
	ID        int64     `db:"user_id"`
	Username  string    `db:"username"`
	Coins     int64     `db:"coins"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// UsageEvent is a single raw per-application usage report.
// Rows are append-only and owned by the ingestion subsystem; the
// pipeline only ever reads them.
type UsageEvent struct {
	ID             int64     `db:"id"`
	UserID         int64     `db:"user_id"`
	PackageName    string    `db:"package_name"`
	StartTime      time.Time `db:"start_time"`
	EndTime        time.Time `db:"end_time"`
	DurationMs     *int64    `db:"duration_ms"`
	EventTimestamp time.Time `db:"event_timestamp"`
}

// Duration returns the event's duration, treating a missing value as zero.
func (e *UsageEvent) Duration() int64 {
	if e.DurationMs == nil {
		return 0
	}
	return *e.DurationMs
}

// Period identifies an aggregation granularity for period stats.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// PeriodStat holds one user's total screen time for one period key.
// Daily rows are the source of truth; weekly and monthly rows are
// derived by summing the daily rows they cover.
type PeriodStat struct {
	UserID    int64     `db:"user_id"`
	Period    Period    `db:"period"`
	PeriodKey string    `db:"period_key"`
	TotalMs   int64     `db:"total_screen_time_ms"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ChallengeType selects the ranking direction for a challenge.
type ChallengeType string

const (
	// ChallengeLessScreenTime ranks the lowest total first.
	ChallengeLessScreenTime ChallengeType = "LESS_SCREENTIME"
	// ChallengeMoreScreenTime ranks the highest total first.
	ChallengeMoreScreenTime ChallengeType = "MORE_SCREENTIME"
)

// Challenge is a time-boxed competition. Admin tooling owns creation and
// edits; the pipeline only reads it and sets the settled marker.
// LastEventID is the challenge's aggregation high-water mark.
type Challenge struct {
	ID          int64         `db:"id"`
	Title       string        `db:"title"`
	Type        ChallengeType `db:"challenge_type"`
	StartTime   time.Time     `db:"start_time"`
	EndTime     time.Time     `db:"end_time"`
	IsActive    bool          `db:"is_active"`
	SettledAt   *time.Time    `db:"settled_at"`
	LastEventID int64         `db:"last_event_id"`
}

// Settled reports whether rewards for this challenge have been issued.
func (c *Challenge) Settled() bool {
	return c.SettledAt != nil
}

// ChallengeParticipant records a user's join. A user joins at most once
// per challenge and cannot leave.
type ChallengeParticipant struct {
	ChallengeID int64     `db:"challenge_id"`
	UserID      int64     `db:"user_id"`
	JoinedAt    time.Time `db:"joined_at"`
}

// ChallengeParticipantStat is an append-only fact row capturing one
// usage event's contribution to a challenge.
type ChallengeParticipantStat struct {
	ID            int64     `db:"id"`
	ChallengeID   int64     `db:"challenge_id"`
	UserID        int64     `db:"user_id"`
	PackageName   string    `db:"package_name"`
	StartSyncTime time.Time `db:"start_sync_time"`
	EndSyncTime   time.Time `db:"end_sync_time"`
	DurationMs    int64     `db:"duration_ms"`
}

// Reward is a coin grant issued by settlement. At most one row exists
// per (challenge, rank); the claimed flag belongs to another subsystem.
type Reward struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	ChallengeID int64     `db:"challenge_id"`
	Rank        int       `db:"rank"`
	Amount      int64     `db:"amount"`
	Source      string    `db:"source"`
	Claimed     bool      `db:"claimed"`
	CreatedAt   time.Time `db:"created_at"`
}

// CoinTransaction records a single coin balance movement.
type CoinTransaction struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	Amount      int64     `db:"amount"`
	Type        string    `db:"type"`
	Description *string   `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// Coin transaction types.
const (
	TxTypeChallengeReward = "challenge_reward" // Settlement reward grant
	TxTypeAdminAdjust     = "admin_adjust"     // Manual balance adjustment
)

// RankedEntry is one row of a challenge ranking or leaderboard.
type RankedEntry struct {
	UserID   int64  `db:"user_id"`
	Username string `db:"username"`
	TotalMs  int64  `db:"total_ms"`
}

// LeaderboardPage is a ranked leaderboard slice plus the caller's own
// rank when a caller was supplied and is present in the stats.
type LeaderboardPage struct {
	Period      Period
	PeriodKey   string
	Entries     []RankedEntry
	CallerRank  *int
	CallerTotal *int64
}

// SyncResult summarizes one aggregation run.
type SyncResult struct {
	EventsProcessed int
	StatsUpdated    int
	Message         string
}

// SettlementResult summarizes one settlement run for a challenge.
type SettlementResult struct {
	RewardsAwarded int
	Message        string
}
