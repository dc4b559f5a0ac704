package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	gethlog "github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"

	"github.com/safe-research/safe-prep/internal/config"
	logpkg "github.com/safe-research/safe-prep/internal/logger"
	"github.com/safe-research/safe-prep/pkg/account"
	"github.com/safe-research/safe-prep/pkg/authorization"
	"github.com/safe-research/safe-prep/pkg/ledger"
	minerpkg "github.com/safe-research/safe-prep/pkg/miner"
	"github.com/safe-research/safe-prep/pkg/setup"
	"github.com/safe-research/safe-prep/pkg/types"
)

var (
	cfg    = config.NewConfig()
	logger *logpkg.Logger
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "prep-miner",
		Short: "Rootless account miner for EIP-7702 delegations",
		Long: `A command line utility for deriving rootless accounts: addresses whose
delegation authorization is fixed before the address is known, so no
private key for them can exist. The tool searches for signatures whose r
value commits to the account's setup parameters, and can simulate the
resulting claim locally.`,
		Run: runMiner,
	}

	rootCmd.Flags().IntVarP(&cfg.Workers, "workers", "w", runtime.NumCPU(), "Number of worker goroutines for vanity search")
	rootCmd.Flags().StringVarP(&cfg.Delegate, "delegate", "d", "", "Canonical lifecycle contract the accounts delegate to (required)")
	rootCmd.Flags().StringVarP(&cfg.Implementation, "implementation", "m", "", "Wallet implementation bound at claim time (required)")
	rootCmd.Flags().StringArrayVarP(&cfg.Owners, "owner", "o", nil, "Account owner address (repeatable, required)")
	rootCmd.Flags().Uint64VarP(&cfg.Threshold, "threshold", "t", 1, "Number of owner confirmations required")
	rootCmd.Flags().StringVar(&cfg.Initializer, "initializer", "", "Module setup contract invoked during account setup")
	rootCmd.Flags().StringVar(&cfg.InitializerData, "initializer-data", "", "Payload for the initializer call (hex)")
	rootCmd.Flags().StringVar(&cfg.InitializerDataFile, "initializer-data-file", "", "File containing the initializer payload (hex)")
	rootCmd.Flags().StringVar(&cfg.FallbackHandler, "fallback-handler", "", "Fallback handler installed during account setup")
	rootCmd.Flags().StringVarP(&cfg.StartingSalt, "salt", "n", "", "Starting salt for the sweep (decimal or 0x-hex)")
	rootCmd.Flags().Uint64Var(&cfg.Iterations, "iterations", minerpkg.DefaultMaxIterations, "Salt budget for the plain (non-vanity) sweep")
	rootCmd.Flags().StringVarP(&cfg.Prefix, "prefix", "p", "", "Address prefix to match")
	rootCmd.Flags().StringVarP(&cfg.Suffix, "suffix", "s", "", "Address suffix to match")
	rootCmd.Flags().BoolVar(&cfg.Verify, "verify", false, "Simulate the claim for the mined account")
	rootCmd.Flags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Verbose output")
	rootCmd.Flags().StringVarP(&cfg.LogFile, "log-file", "l", "", "Log file for progress tracking (default: stdout)")
	rootCmd.Flags().IntVarP(&cfg.LogInterval, "log-interval", "i", 5, "Logging interval in seconds (default: 5)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runMiner(cmd *cobra.Command, args []string) {
	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	// Setup logging
	setupLogging()

	// Validated above, so these cannot fail
	delegate, _ := cfg.DelegateAddress()
	implementation, _ := cfg.ImplementationAddress()
	params, _ := cfg.SetupParameters()

	logger.Printf("Starting rootless account search...")
	logger.Printf("Target: %s", cfg.GetTargetDescription())
	logger.Printf("Delegate: %s", delegate.Hex())
	logger.Printf("Implementation: %s", implementation.Hex())
	logger.Printf("Owners: %d, threshold: %d", len(params.Owners), cfg.Threshold)
	if cfg.Initializer != "" {
		logger.Printf("Initializer: %s (%d payload bytes)", cfg.Initializer, len(params.InitializerData))
	}
	if cfg.FallbackHandler != "" {
		logger.Printf("Fallback handler: %s", cfg.FallbackHandler)
	}
	logger.Debugf("Authorization digest: %s", authorization.Digest(delegate).Hex())

	var result *types.Result
	if cfg.HasPattern() {
		result = mineVanity()
		if result == nil {
			return
		}
	} else {
		result = minePlain(delegate, implementation, params)
	}

	printResult(result, delegate)

	if cfg.Verify {
		if err := verifyClaim(result, delegate, implementation, params); err != nil {
			logger.Printf("Verification failed: %v", err)
			os.Exit(1)
		}
	}
}

// minePlain runs the deterministic single-threaded sweep: first
// recoverable salt at or above the starting salt wins.
func minePlain(delegate, implementation common.Address, params *setup.Parameters) *types.Result {
	initHash, _, err := setup.Commitment(implementation, params)
	if err != nil {
		logger.Printf("Error: %v", err)
		os.Exit(1)
	}
	logger.Debugf("Setup commitment: %s", initHash.Hex())

	start, _ := cfg.StartSalt()
	engine := minerpkg.NewEngine(authorization.Digest(delegate), minerpkg.WithMaxIterations(cfg.Iterations))
	result, err := engine.Mine(initHash, start)
	if err != nil {
		logger.Printf("Error: %v", err)
		os.Exit(1)
	}
	logger.Printf("🎉 Found account!")
	return result
}

// mineVanity runs the parallel pattern search until a match or Ctrl+C.
func mineVanity() *types.Result {
	miner := minerpkg.NewMiner(cfg, logger)
	logger.Debugf("Setup commitment: %s", miner.InitHash().Hex())

	// Set up signal handling for Ctrl+C
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start mining in a goroutine
	resultChan := make(chan *types.Result, 1)
	go func() {
		resultChan <- miner.Mine()
	}()

	// Wait for either completion or signal
	select {
	case result := <-resultChan:
		if result == nil {
			logger.Println("No match found.")
			return nil
		}
		logger.Printf("🎉 Found match!")
		return result
	case <-sigChan:
		logger.Println("\nReceived interrupt signal (Ctrl+C). Stopping workers...")
		miner.Stop()
		<-resultChan

		// If prefix is zeros, output the current best result
		if cfg.IsZeroPrefix() {
			if best := miner.GetBestResult(); best != nil {
				logger.Printf("Current best result (lowest address found):")
				return best
			}
			logger.Println("No addresses found matching the zero prefix.")
			return nil
		}
		logger.Println("Mining stopped by user.")
		return nil
	}
}

func printResult(result *types.Result, delegate common.Address) {
	logger.Printf("Account: %s", result.Account.Hex())
	logger.Printf("Salt: %s", result.Salt.Hex())
	logger.Printf("Attempts: %d", result.Attempts)
	logger.Printf("Duration: %v", result.Duration)

	// Calculate rate safely
	rate := 0.0
	if result.Duration.Seconds() > 0 {
		rate = float64(result.Attempts) / result.Duration.Seconds()
	}
	logger.Printf("Rate: %.2f derivations/sec", rate)

	logger.Printf("Signed authorization (chain id 0, nonce 0):")
	logger.Printf("  address: %s", delegate.Hex())
	logger.Printf("  yParity: %d", result.V-27)
	logger.Printf("  r: %s", result.R.Hex())
	logger.Printf("  s: %s", result.S.Hex())
}

// verifyClaim replays the mined account's claim on a local ledger and
// reads the configured owners and threshold back out of it.
func verifyClaim(result *types.Result, delegate, implementation common.Address, params *setup.Parameters) error {
	claimData, err := account.EncodeClaim(implementation, params, result.Salt)
	if err != nil {
		return err
	}
	logger.Debugf("Claim calldata: 0x%x", claimData)

	world := ledger.New()
	world.Register(delegate, account.NewProxy(delegate))
	world.Register(implementation, account.NewWallet())
	world.Delegate(result.Account, delegate)

	claimer := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if _, err := world.Call(claimer, result.Account, nil, claimData); err != nil {
		return fmt.Errorf("claim failed: %w", err)
	}

	out, err := world.StaticCall(claimer, result.Account, account.GetOwnersSelector[:])
	if err != nil {
		return fmt.Errorf("getOwners failed: %w", err)
	}
	owners, err := account.DecodeOwners(out)
	if err != nil {
		return err
	}
	out, err = world.StaticCall(claimer, result.Account, account.GetThresholdSelector[:])
	if err != nil {
		return fmt.Errorf("getThreshold failed: %w", err)
	}
	threshold, err := account.DecodeThreshold(out)
	if err != nil {
		return err
	}

	logger.Printf("Verification: claim simulated successfully")
	for _, ev := range world.Events() {
		logger.Printf("  event: %s", ev)
	}
	for _, owner := range owners {
		logger.Printf("  owner: %s", owner.Hex())
	}
	logger.Printf("  threshold: %d", threshold)
	return nil
}

func setupLogging() {
	if cfg.LogFile != "" {
		// Log to file
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		logger = logpkg.NewWriter(file)
		logger.SetFlags(log.LstdFlags | log.Lmicroseconds)
	} else {
		// Log to stdout
		logger = logpkg.New()
		logger.SetFlags(log.LstdFlags)
	}
	logger.SetVerbose(cfg.Verbose)

	// Surface debug logs from the account packages when verbose
	if cfg.Verbose {
		gethlog.SetDefault(gethlog.NewLogger(gethlog.NewTerminalHandlerWithLevel(os.Stderr, gethlog.LevelDebug, false)))
	}
}
