package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/safe-research/safe-prep/internal/crypto"
)

// Result represents a finished derivation: the mined account together with
// the synthetic signature values that recover it.
type Result struct {
	Account  common.Address
	Salt     *uint256.Int
	V        byte
	R        common.Hash
	S        common.Hash
	Attempts int64
	Duration time.Duration
}

// WorkerConfig contains configuration for individual search workers.
type WorkerConfig struct {
	Digest   common.Hash // authorization digest, constant per run
	InitHash common.Hash // setup commitment the salt is mixed with
	Verbose  bool

	// Pre-parsed for byte-level matching on the hot path. Empty patterns
	// match everything.
	Prefix crypto.Pattern
	Suffix crypto.Pattern
}

// WorkerResult represents a result from a single worker probe. Recovered
// is false for null candidates, which carry no account at all.
type WorkerResult struct {
	Account   common.Address
	Salt      uint256.Int
	R         common.Hash
	Attempts  int64
	Recovered bool
	IsMatch   bool
}
