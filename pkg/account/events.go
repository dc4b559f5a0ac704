package account

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Event is a typed notification emitted during execution and collected in
// order by the host.
type Event interface {
	event()
}

// ProxyCreation is emitted exactly once per account, when the account
// binds its implementation.
type ProxyCreation struct {
	Account        common.Address
	Implementation common.Address
}

func (ProxyCreation) event() {}

func (e ProxyCreation) String() string {
	return fmt.Sprintf("ProxyCreation(account=%s, implementation=%s)", e.Account.Hex(), e.Implementation.Hex())
}

// SetupPerformed is emitted by the wallet implementation when an account's
// initial configuration is written.
type SetupPerformed struct {
	Initiator       common.Address
	Owners          []common.Address
	Threshold       uint64
	Initializer     common.Address
	FallbackHandler common.Address
}

func (SetupPerformed) event() {}

func (e SetupPerformed) String() string {
	return fmt.Sprintf("SetupPerformed(initiator=%s, owners=%d, threshold=%d)", e.Initiator.Hex(), len(e.Owners), e.Threshold)
}

// ValueReceived is emitted by the wallet implementation when it receives a
// plain value transfer.
type ValueReceived struct {
	Sender common.Address
	Value  *uint256.Int
}

func (ValueReceived) event() {}

func (e ValueReceived) String() string {
	return fmt.Sprintf("ValueReceived(sender=%s, value=%s)", e.Sender.Hex(), e.Value.Dec())
}
