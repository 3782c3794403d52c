package model

// Notification is the closed set of user-facing messages the pipeline
// emits. Each kind is its own struct; dispatchers switch exhaustively on
// the concrete type instead of inspecting payload maps.
type Notification interface {
	notification()
	// Recipient returns the target user, or 0 for broadcasts.
	Recipient() int64
}

// ChallengeRewardNotification tells a user they placed and earned coins.
type ChallengeRewardNotification struct {
	UserID      int64
	ChallengeID int64
	Rank        int
	Amount      int64
}

func (ChallengeRewardNotification) notification() {}

// Recipient returns the rewarded user.
func (n ChallengeRewardNotification) Recipient() int64 { return n.UserID }

// WinnerBroadcastNotification announces a challenge's winner to all
// participants.
type WinnerBroadcastNotification struct {
	ChallengeID int64
	WinnerID    int64
	Title       string
}

func (WinnerBroadcastNotification) notification() {}

// Recipient returns 0; broadcasts have no single target.
func (WinnerBroadcastNotification) Recipient() int64 { return 0 }

// CoinChangeNotification tells a user their balance moved.
type CoinChangeNotification struct {
	UserID int64
	Delta  int64
	Reason string
}

func (CoinChangeNotification) notification() {}

// Recipient returns the affected user.
func (n CoinChangeNotification) Recipient() int64 { return n.UserID }
