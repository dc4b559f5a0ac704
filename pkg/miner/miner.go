package miner

import (
	"bytes"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/safe-research/safe-prep/internal/config"
	"github.com/safe-research/safe-prep/internal/logger"
	"github.com/safe-research/safe-prep/pkg/authorization"
	"github.com/safe-research/safe-prep/pkg/setup"
	"github.com/safe-research/safe-prep/pkg/types"
	"github.com/safe-research/safe-prep/pkg/worker"
)

// Miner coordinates a parallel vanity search over the salt space
type Miner struct {
	config       *config.Config
	logger       *logger.Logger
	attempts     int64
	bestResult   *types.Result
	mu           sync.RWMutex
	done         chan bool
	wg           sync.WaitGroup
	once         sync.Once
	workerConfig *types.WorkerConfig
	startSalt    *uint256.Int
	setupCall    []byte
}

// NewMiner creates a new miner instance
func NewMiner(cfg *config.Config, log *logger.Logger) *Miner {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	// Pre-compute the digest and commitment, constant across the search
	delegate, err := cfg.DelegateAddress()
	if err != nil {
		panic("delegate not available: " + err.Error())
	}
	implementation, err := cfg.ImplementationAddress()
	if err != nil {
		panic("implementation not available: " + err.Error())
	}
	params, err := cfg.SetupParameters()
	if err != nil {
		panic("setup parameters not available: " + err.Error())
	}
	initHash, setupCall, err := setup.Commitment(implementation, params)
	if err != nil {
		panic("setup call not available: " + err.Error())
	}
	prefix, err := cfg.PrefixPattern()
	if err != nil {
		panic("invalid prefix: " + err.Error())
	}
	suffix, err := cfg.SuffixPattern()
	if err != nil {
		panic("invalid suffix: " + err.Error())
	}
	startSalt, err := cfg.StartSalt()
	if err != nil {
		panic("invalid starting salt: " + err.Error())
	}

	workerConfig := &types.WorkerConfig{
		Digest:   authorization.Digest(delegate),
		InitHash: initHash,
		Prefix:   prefix,
		Suffix:   suffix,
		Verbose:  cfg.Verbose,
	}

	return &Miner{
		config:       cfg,
		logger:       log,
		done:         make(chan bool),
		workerConfig: workerConfig,
		startSalt:    startSalt,
		setupCall:    setupCall,
	}
}

// Mine starts the mining process
func (m *Miner) Mine() *types.Result {
	start := time.Now()

	// Start workers
	for i := 0; i < m.config.Workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}

	// Start periodic logging if verbose mode is enabled
	var logTicker *time.Ticker
	var logDone chan bool
	if m.config.Verbose {
		interval := time.Duration(m.config.LogInterval) * time.Second
		logTicker = time.NewTicker(interval)
		logDone = make(chan bool)
		go m.periodicLogger(logTicker, logDone, start)

		// Log initial start message
		m.logger.Printf("Search started with %d workers, logging every %d seconds...",
			m.config.Workers, m.config.LogInterval)
	}

	// Wait for completion
	m.wg.Wait()

	// Stop periodic logging
	if logTicker != nil {
		logTicker.Stop()
		close(logDone)
	}

	if m.bestResult != nil {
		m.bestResult.Duration = time.Since(start)
	}

	return m.bestResult
}

// worker runs the search logic for a single worker
func (m *Miner) worker(workerID int) {
	defer m.wg.Done()

	batchSize := 1000 // Process in batches for better performance
	workerStart := new(uint256.Int).AddUint64(m.startSalt, uint64(workerID))
	w := worker.NewWorker(m.workerConfig, &m.attempts, workerStart, uint64(m.config.Workers))

	for {
		select {
		case <-m.done:
			return
		default:
			// Process a batch of attempts
			for i := 0; i < batchSize; i++ {
				// Check if we should stop before each attempt
				select {
				case <-m.done:
					return
				default:
				}

				result := w.Probe()
				if !result.Recovered {
					// Null candidate, no account to consider
					continue
				}

				// For zero prefix, track the best (lowest) account found across all probes
				if m.config.IsZeroPrefix() {
					m.mu.Lock()
					if m.bestResult == nil || isLower(result.Account, m.bestResult.Account) {
						m.bestResult = resultFrom(result)
					}
					m.mu.Unlock()
				}

				// Check if this matches our criteria
				if result.IsMatch {
					m.mu.Lock()
					if m.bestResult == nil || isLower(result.Account, m.bestResult.Account) {
						m.bestResult = resultFrom(result)
						m.once.Do(func() { close(m.done) })
					}
					m.mu.Unlock()
					return
				}
			}
		}
	}
}

// resultFrom completes a worker probe into a full derivation result
func resultFrom(wr *types.WorkerResult) *types.Result {
	salt := wr.Salt
	return &types.Result{
		Account:  wr.Account,
		Salt:     &salt,
		V:        authorization.V,
		R:        wr.R,
		S:        authorization.S,
		Attempts: wr.Attempts,
	}
}

// isLower reports whether the new account sorts below the current best
func isLower(newAccount, oldAccount common.Address) bool {
	return bytes.Compare(newAccount[:], oldAccount[:]) < 0
}

// Stop stops the mining process
func (m *Miner) Stop() {
	m.once.Do(func() { close(m.done) })
}

// GetBestResult returns the current best result
func (m *Miner) GetBestResult() *types.Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bestResult
}

// Digest returns the authorization digest the search derives against
func (m *Miner) Digest() common.Hash {
	return m.workerConfig.Digest
}

// InitHash returns the setup commitment the search mixes salts with
func (m *Miner) InitHash() common.Hash {
	return m.workerConfig.InitHash
}

// SetupCall returns the raw setup calldata behind the commitment
func (m *Miner) SetupCall() []byte {
	return m.setupCall
}

// periodicLogger logs search progress at regular intervals
func (m *Miner) periodicLogger(ticker *time.Ticker, done chan bool, start time.Time) {
	for {
		select {
		case <-ticker.C:
			attempts := atomic.LoadInt64(&m.attempts)
			elapsed := time.Since(start)

			// Calculate rate safely
			rate := 0.0
			if elapsed.Seconds() > 0 {
				rate = float64(attempts) / elapsed.Seconds()
			}

			m.mu.RLock()
			bestResult := m.bestResult
			m.mu.RUnlock()

			if bestResult != nil {
				m.logger.Printf("Progress: %d attempts, %.2f derivations/sec, Best so far: %s (salt: %s)",
					attempts, rate, bestResult.Account.Hex(), bestResult.Salt.Hex())
			} else {
				m.logger.Printf("Progress: %d attempts, %.2f derivations/sec, No match yet",
					attempts, rate)
			}
		case <-done:
			return
		}
	}
}
