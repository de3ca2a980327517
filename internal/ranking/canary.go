package ranking

import (
	"crypto/sha256"
	"encoding/binary"
)

// Algorithm identifies which scoring path served a request.
type Algorithm string

// Known algorithm variants.
const (
	// AlgorithmBaseline is the legacy recency sort.
	AlgorithmBaseline Algorithm = "baseline"

	// AlgorithmExperimental is the UCB1 bandit scorer.
	AlgorithmExperimental Algorithm = "experimental"
)

// canaryBuckets is the resolution of canary traffic splitting. A fraction
// of 0.05 routes buckets 0-499 to the experimental algorithm.
const canaryBuckets = 10000

// SelectAlgorithm deterministically assigns a user to a scoring algorithm.
// The assignment is derived from a content hash of the user identifier, so
// a given user lands in the same bucket on every request and across
// process restarts. Reconfiguration of enabled/fraction takes effect on
// the next call; nothing is cached here.
func SelectAlgorithm(userID string, enabled bool, fraction float64) Algorithm {
	if !enabled || fraction <= 0 {
		return AlgorithmBaseline
	}
	if fraction > 1 {
		fraction = 1
	}

	bucket := CanaryBucket(userID)
	if bucket < int(fraction*canaryBuckets) {
		return AlgorithmExperimental
	}
	return AlgorithmBaseline
}

// CanaryBucket maps a user identifier to a stable bucket in [0, 10000).
func CanaryBucket(userID string) int {
	hash := sha256.Sum256([]byte(userID))
	return int(binary.BigEndian.Uint64(hash[:8]) % canaryBuckets)
}
