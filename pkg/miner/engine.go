package miner

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/safe-research/safe-prep/internal/crypto"
	"github.com/safe-research/safe-prep/pkg/authorization"
	"github.com/safe-research/safe-prep/pkg/types"
)

// DefaultMaxIterations bounds a single Mine sweep. Roughly half of all r
// values recover to some account, so the chance of exhausting even a small
// bound is vanishing; the bound keeps corrupted inputs from spinning
// forever.
const DefaultMaxIterations = 4096

// Errors
var (
	ErrExhausted = errors.New("no recoverable account within the iteration bound")
)

// RecoverFunc is the signature recovery primitive the engine probes with.
// It returns the recovered address, or an error for signature values that
// recover to nothing.
type RecoverFunc func(digest common.Hash, v byte, r, s common.Hash) (common.Address, error)

// Engine derives rootless accounts for a single authorization digest. The
// signature values are fixed before any account is known and r is a hash
// output, so no party can have chosen a private key that produces them;
// control over a derived account comes only from the delegated
// implementation, never from a key.
type Engine struct {
	digest  common.Hash
	maxIter uint64
	recover RecoverFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxIterations overrides the Mine iteration bound.
func WithMaxIterations(n uint64) Option {
	return func(e *Engine) {
		e.maxIter = n
	}
}

// WithRecover replaces the recovery primitive, mainly for tests that need
// deterministic recovery outcomes.
func WithRecover(fn RecoverFunc) Option {
	return func(e *Engine) {
		e.recover = fn
	}
}

// NewEngine creates an engine for one authorization digest.
func NewEngine(digest common.Hash, opts ...Option) *Engine {
	e := &Engine{
		digest:  digest,
		maxIter: DefaultMaxIterations,
		recover: authorization.Recover,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Digest returns the authorization digest the engine derives against.
func (e *Engine) Digest() common.Hash {
	return e.digest
}

// Candidate runs a single probe: r = keccak256(initHash || salt), then
// recovery over (digest, V, r, S). The derived r comes back with the
// address so callers can assemble the full signed authorization. A null
// candidate surfaces as the recovery error.
func (e *Engine) Candidate(initHash common.Hash, salt *uint256.Int) (common.Address, common.Hash, error) {
	r := crypto.DeriveR(initHash, salt)
	addr, err := e.recover(e.digest, authorization.V, r, authorization.S)
	if err != nil {
		return common.Address{}, r, err
	}
	return addr, r, nil
}

// Mine sweeps salts upward from startingSalt and returns the first salt
// whose candidate recovers. The result is a pure function of
// (digest, initHash, startingSalt): re-running the sweep reproduces the
// same account and salt. A nil startingSalt means zero.
//
// Termination is probabilistic, not guaranteed: each salt recovers with
// probability about one half, so a sweep almost always succeeds within a
// handful of salts, and Mine returns ErrExhausted in the astronomically
// unlikely case that the whole bound fails.
func (e *Engine) Mine(initHash common.Hash, startingSalt *uint256.Int) (*types.Result, error) {
	start := time.Now()

	salt := uint256.NewInt(0)
	if startingSalt != nil {
		salt = startingSalt.Clone()
	}

	hasher := crypto.NewKeccak()
	var input [crypto.RInputLen]byte
	copy(input[:crypto.RInputInitHashLen], initHash[:])

	var r common.Hash
	for i := uint64(0); i < e.maxIter; i++ {
		saltBytes := salt.Bytes32()
		copy(input[crypto.RInputInitHashLen:], saltBytes[:])
		crypto.DeriveRInto(hasher, input[:], r[:])

		addr, err := e.recover(e.digest, authorization.V, r, authorization.S)
		if err == nil {
			return &types.Result{
				Account:  addr,
				Salt:     salt,
				V:        authorization.V,
				R:        r,
				S:        authorization.S,
				Attempts: int64(i) + 1,
				Duration: time.Since(start),
			}, nil
		}
		salt.AddUint64(salt, 1)
	}

	return nil, fmt.Errorf("%w: %d salts tried", ErrExhausted, e.maxIter)
}
