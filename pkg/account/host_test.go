package account

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// hostOp records one mutation or outward call a program made, in order.
type hostOp struct {
	kind  string // sstore, call, delegatecall, staticcall, emit
	addr  common.Address
	key   common.Hash
	value common.Hash
	input []byte
	event Event
}

// mockHost is a recording Host for single-program tests. It applies
// storage writes and logs every operation, but never executes nested
// programs; call results are controlled by the test.
type mockHost struct {
	storage map[common.Hash]common.Hash
	ops     []hostOp
	events  []Event

	readOnly     bool
	callErr      error
	delegateHook func(code common.Address, input []byte) ([]byte, error)
}

func newMockHost() *mockHost {
	return &mockHost{storage: make(map[common.Hash]common.Hash)}
}

func (m *mockHost) GetState(key common.Hash) common.Hash {
	return m.storage[key]
}

func (m *mockHost) SetState(key common.Hash, value common.Hash) error {
	if m.readOnly {
		return ErrWriteProtection
	}
	m.storage[key] = value
	m.ops = append(m.ops, hostOp{kind: "sstore", key: key, value: value})
	return nil
}

func (m *mockHost) Balance(addr common.Address) *uint256.Int {
	return new(uint256.Int)
}

func (m *mockHost) Call(to common.Address, value *uint256.Int, input []byte) ([]byte, error) {
	m.ops = append(m.ops, hostOp{kind: "call", addr: to, input: append([]byte(nil), input...)})
	return nil, m.callErr
}

func (m *mockHost) DelegateCall(code common.Address, input []byte) ([]byte, error) {
	m.ops = append(m.ops, hostOp{kind: "delegatecall", addr: code, input: append([]byte(nil), input...)})
	if m.delegateHook != nil {
		return m.delegateHook(code, input)
	}
	return nil, nil
}

func (m *mockHost) StaticCall(to common.Address, input []byte) ([]byte, error) {
	m.ops = append(m.ops, hostOp{kind: "staticcall", addr: to, input: append([]byte(nil), input...)})
	return nil, nil
}

func (m *mockHost) Emit(event Event) error {
	if m.readOnly {
		return ErrWriteProtection
	}
	m.events = append(m.events, event)
	m.ops = append(m.ops, hostOp{kind: "emit", event: event})
	return nil
}

// callEnv builds the env of a direct, value-free call frame.
func callEnv(self, caller common.Address) *Env {
	return &Env{Self: self, Code: self, Caller: caller, Depth: 1}
}
