package service

// Pipeline bundles the operations the pipeline exposes. The HTTP/API
// shell consumes these; nothing in this module depends on that shell.
type Pipeline struct {
	Aggregation *AggregationService
	Leaderboard *LeaderboardService
	Ranking     *RankingService
	Settlement  *SettlementService
	Challenges  *ChallengeService
}
