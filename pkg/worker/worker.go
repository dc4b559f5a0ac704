package worker

import (
	"hash"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/safe-research/safe-prep/internal/crypto"
	"github.com/safe-research/safe-prep/pkg/authorization"
	"github.com/safe-research/safe-prep/pkg/types"
)

// Worker sweeps a strided slice of the salt space, deriving and matching
// one candidate account per salt.
type Worker struct {
	config   *types.WorkerConfig
	attempts *int64
	salt     uint256.Int
	stride   uint64

	// Pre-allocated buffers for the derivation hot path
	hasher hash.Hash
	input  [crypto.RInputLen]byte
	r      common.Hash
}

// NewWorker creates a worker sweeping salts start, start+stride,
// start+2*stride, and so on. Disjoint strides keep parallel workers from
// probing the same salt twice.
func NewWorker(config *types.WorkerConfig, attempts *int64, start *uint256.Int, stride uint64) *Worker {
	w := &Worker{
		config:   config,
		attempts: attempts,
		stride:   stride,
		hasher:   crypto.NewKeccak(),
	}
	if start != nil {
		w.salt.Set(start)
	}
	copy(w.input[:crypto.RInputInitHashLen], config.InitHash[:])
	return w
}

// Probe derives the candidate for the worker's current salt, advances to
// the next salt in the stride, and reports whether the candidate matched.
func (w *Worker) Probe() *types.WorkerResult {
	saltBytes := w.salt.Bytes32()
	copy(w.input[crypto.RInputInitHashLen:], saltBytes[:])
	crypto.DeriveRInto(w.hasher, w.input[:], w.r[:])
	atomic.AddInt64(w.attempts, 1)

	result := &types.WorkerResult{
		Salt:     w.salt,
		R:        w.r,
		Attempts: atomic.LoadInt64(w.attempts),
	}
	w.salt.AddUint64(&w.salt, w.stride)

	account, err := authorization.Recover(w.config.Digest, authorization.V, result.R, authorization.S)
	if err != nil {
		// Null candidate: this salt derives no account.
		return result
	}
	result.Account = account
	result.Recovered = true
	result.IsMatch = w.matches(account)
	return result
}

// ProcessBatch probes batchSize salts and returns the first match, or nil
// when the whole batch missed.
func (w *Worker) ProcessBatch(batchSize int) *types.WorkerResult {
	for i := 0; i < batchSize; i++ {
		if result := w.Probe(); result.IsMatch {
			return result
		}
	}
	return nil
}

// matches performs byte-level pattern matching on a recovered account.
func (w *Worker) matches(account common.Address) bool {
	prefix, suffix := w.config.Prefix, w.config.Suffix
	if prefix.Empty() && suffix.Empty() {
		// No pattern constraints: any recovered account wins.
		return true
	}
	if !prefix.Empty() && !prefix.MatchPrefix(account[:]) {
		return false
	}
	if !suffix.Empty() && !suffix.MatchSuffix(account[:]) {
		return false
	}
	return true
}
