// Package ranking implements story feed ranking for the marketplace:
// a UCB1-style bandit scorer with calibration support, a baseline recency
// scorer, deterministic canary routing between the two, and a per-creator
// exposure floor applied after scoring.
//
// Basic Usage:
//
//	// Load calibration (typically at startup)
//	params, err := ranking.LoadCalibration("configs/ranking.calibration.json")
//	if err != nil {
//		log.Warn("using default params", "error", err)
//	}
//
//	// Route the user, score the pool, enforce the exposure floor
//	alg := ranking.SelectAlgorithm(userID, cfg.RankerEnabled, cfg.CanaryFraction)
//	items := ranking.ScoreBandit(stats, params, time.Now())
//	items = ranking.BalanceExposure(items, cfg.MinExposureFraction)
//
// Scoring Functions:
//
// ScoreBaseline and ScoreBandit are pure and deterministic: identical
// input always produces an identical ordering, with floating-point score
// ties broken by content ID. Neither performs I/O or acquires locks.
//
// Calibration:
//
// The calibration system allows deploy-time tuning of scoring parameters
// via JSON configuration files loaded at startup. This enables tuning the
// exploration/exploitation trade-off without code changes (but requires a
// restart to pick up new configuration).
package ranking
