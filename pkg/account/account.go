// Package account implements the rootless account lifecycle: the
// claim-gated proxy program, its auto-initializing variant, and the host
// interface both run against.
package account

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ImplementationSlot is the one reserved storage slot, holding the
// implementation pointer. Slot zero matches where the delegated
// implementation expects its own pointer, so the implementation can
// introspect and upgrade itself once it is running.
var ImplementationSlot = common.Hash{}

// Errors
var (
	ErrUnauthorized    = errors.New("claim parameters do not derive this account")
	ErrNotClaimed      = errors.New("account has no implementation set")
	ErrWriteProtection = errors.New("state mutation inside a read-only call")
)

// Env describes one execution frame: whose storage the frame acts on,
// whose code is running, who called, and under which constraints. The
// identity is always explicit; programs never infer it from anywhere else.
type Env struct {
	Self     common.Address // account whose storage and balance the frame acts on
	Code     common.Address // address the running code was resolved from
	Caller   common.Address
	Value    *uint256.Int // nil means zero
	ReadOnly bool
	Depth    int
}

// TransfersValue reports whether the frame carries a nonzero value.
func (e *Env) TransfersValue() bool {
	return e.Value != nil && !e.Value.IsZero()
}

// Host is the delegated-execution collaborator a program runs against.
// Storage access operates on the frame's execution identity. Nested calls
// relay the callee's exact success flag and raw output bytes; failures
// come back unwrapped.
type Host interface {
	// GetState reads a storage slot of the executing account.
	GetState(key common.Hash) common.Hash
	// SetState writes a storage slot of the executing account. It fails
	// with ErrWriteProtection inside read-only frames.
	SetState(key common.Hash, value common.Hash) error
	// Balance reads any account's balance.
	Balance(addr common.Address) *uint256.Int
	// Call runs the program behind to against to's own storage, moving
	// value from the executing account. A nil value means zero.
	Call(to common.Address, value *uint256.Int, input []byte) ([]byte, error)
	// DelegateCall runs the program behind code against the executing
	// account's storage, preserving caller and value.
	DelegateCall(code common.Address, input []byte) ([]byte, error)
	// StaticCall runs the program behind to in a read-only frame.
	StaticCall(to common.Address, input []byte) ([]byte, error)
	// Emit records a notification. It fails with ErrWriteProtection
	// inside read-only frames.
	Emit(event Event) error
}

// Program is native account code runnable by a host.
type Program interface {
	Run(host Host, env *Env, input []byte) ([]byte, error)
}

// AddressToHash left-pads an address into a storage word.
func AddressToHash(addr common.Address) common.Hash {
	var h common.Hash
	copy(h[common.HashLength-common.AddressLength:], addr[:])
	return h
}

// HashToAddress truncates a storage word to its low 20 bytes.
func HashToAddress(h common.Hash) common.Address {
	return common.BytesToAddress(h[common.HashLength-common.AddressLength:])
}
