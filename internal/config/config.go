package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/safe-research/safe-prep/internal/crypto"
	"github.com/safe-research/safe-prep/pkg/setup"
)

// Errors
var (
	ErrNoDelegate       = errors.New("must specify --delegate")
	ErrNoImplementation = errors.New("must specify --implementation")
	ErrNoOwners         = errors.New("must specify at least one --owner")
	ErrBadIterations    = errors.New("--iterations must be at least 1")
)

// Config holds the application configuration
type Config struct {
	Workers             int
	Delegate            string
	Implementation      string
	Owners              []string
	Threshold           uint64
	Initializer         string
	InitializerData     string
	InitializerDataFile string
	FallbackHandler     string
	StartingSalt        string
	Iterations          uint64
	Prefix              string
	Suffix              string
	Verify              bool
	Verbose             bool
	LogFile             string
	LogInterval         int // Logging interval in seconds
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		Workers:     runtime.NumCPU(),
		LogInterval: 5, // Default 5 seconds
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Delegate == "" {
		return ErrNoDelegate
	}
	if _, err := c.DelegateAddress(); err != nil {
		return err
	}
	if c.Implementation == "" {
		return ErrNoImplementation
	}
	if _, err := c.ImplementationAddress(); err != nil {
		return err
	}
	if len(c.Owners) == 0 {
		return ErrNoOwners
	}
	params, err := c.SetupParameters()
	if err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if _, err := c.StartSalt(); err != nil {
		return err
	}
	if _, err := c.PrefixPattern(); err != nil {
		return err
	}
	if _, err := c.SuffixPattern(); err != nil {
		return err
	}
	if c.Iterations == 0 {
		return ErrBadIterations
	}
	return nil
}

// DelegateAddress returns the parsed delegate address, the canonical
// lifecycle contract accounts will point their code at
func (c *Config) DelegateAddress() (common.Address, error) {
	addr, err := crypto.ParseAddress(c.Delegate)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid --delegate: %w", err)
	}
	return addr, nil
}

// ImplementationAddress returns the parsed wallet implementation address
// committed to by the setup commitment
func (c *Config) ImplementationAddress() (common.Address, error) {
	addr, err := crypto.ParseAddress(c.Implementation)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid --implementation: %w", err)
	}
	return addr, nil
}

// SetupParameters builds the setup parameters from the raw flag values
func (c *Config) SetupParameters() (*setup.Parameters, error) {
	params := &setup.Parameters{
		Threshold: c.Threshold,
		Owners:    make([]common.Address, 0, len(c.Owners)),
	}
	for _, raw := range c.Owners {
		owner, err := crypto.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid --owner %q: %w", raw, err)
		}
		params.Owners = append(params.Owners, owner)
	}
	if c.Initializer != "" {
		target, err := crypto.ParseAddress(c.Initializer)
		if err != nil {
			return nil, fmt.Errorf("invalid --initializer: %w", err)
		}
		params.Initializer = target
	}
	data, err := c.GetInitializerData()
	if err != nil {
		return nil, err
	}
	params.InitializerData = data
	if c.FallbackHandler != "" {
		handler, err := crypto.ParseAddress(c.FallbackHandler)
		if err != nil {
			return nil, fmt.Errorf("invalid --fallback-handler: %w", err)
		}
		params.FallbackHandler = handler
	}
	return params, nil
}

// GetInitializerData returns the initializer payload to include in the
// setup call
func (c *Config) GetInitializerData() ([]byte, error) {
	// Check if a payload file is specified
	if c.InitializerDataFile != "" {
		return readHexFromFile(c.InitializerDataFile)
	}

	// Check if the payload is provided directly
	if c.InitializerData != "" {
		// Remove 0x prefix if present
		data := c.InitializerData
		if len(data) > 2 && data[:2] == "0x" {
			data = data[2:]
		}

		bytes, err := hex.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("invalid --initializer-data: %w", err)
		}
		return bytes, nil
	}

	return nil, nil
}

// StartSalt returns the parsed starting salt, zero when unset
func (c *Config) StartSalt() (*uint256.Int, error) {
	if c.StartingSalt == "" {
		return uint256.NewInt(0), nil
	}
	salt, err := crypto.ParseSalt(c.StartingSalt)
	if err != nil {
		return nil, fmt.Errorf("invalid --salt: %w", err)
	}
	return salt, nil
}

// PrefixPattern returns the parsed vanity prefix, empty when unset
func (c *Config) PrefixPattern() (crypto.Pattern, error) {
	if c.Prefix == "" {
		return crypto.Pattern{}, nil
	}
	p, err := crypto.ParsePrefix(c.Prefix)
	if err != nil {
		return crypto.Pattern{}, fmt.Errorf("invalid --prefix: %w", err)
	}
	return p, nil
}

// SuffixPattern returns the parsed vanity suffix, empty when unset
func (c *Config) SuffixPattern() (crypto.Pattern, error) {
	if c.Suffix == "" {
		return crypto.Pattern{}, nil
	}
	p, err := crypto.ParseSuffix(c.Suffix)
	if err != nil {
		return crypto.Pattern{}, fmt.Errorf("invalid --suffix: %w", err)
	}
	return p, nil
}

// HasPattern returns true if a vanity prefix or suffix is configured
func (c *Config) HasPattern() bool {
	return c.Prefix != "" || c.Suffix != ""
}

// GetTargetDescription returns a human-readable description of the search
func (c *Config) GetTargetDescription() string {
	switch {
	case c.Prefix != "" && c.Suffix != "":
		return "prefix: " + c.Prefix + ", suffix: " + c.Suffix
	case c.Prefix != "":
		return "prefix: " + c.Prefix
	case c.Suffix != "":
		return "suffix: " + c.Suffix
	default:
		return "first recoverable account"
	}
}

// IsZeroPrefix returns true if the prefix is a series of 0's
func (c *Config) IsZeroPrefix() bool {
	p, err := c.PrefixPattern()
	if err != nil {
		return false
	}
	return p.IsZeroPrefix()
}

// readHexFromFile reads a hex payload from a file
func readHexFromFile(filename string) ([]byte, error) {
	// Read file content
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	// Convert to string and clean up
	data := string(content)
	data = strings.TrimSpace(data)

	// Remove 0x prefix if present
	if len(data) > 2 && data[:2] == "0x" {
		data = data[2:]
	}

	// Decode hex string to bytes
	bytes, err := hex.DecodeString(data)
	if err != nil {
		return nil, err
	}

	return bytes, nil
}
