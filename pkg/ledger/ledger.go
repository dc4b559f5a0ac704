// Package ledger is an in-memory execution host for lifecycle programs.
// It models accounts with balances and storage, delegation pointers from
// externally-owned addresses to program code, and nested calls with
// journaled revert. It exists to run account programs end to end without
// a chain: a test or the miner's verify mode registers programs, points
// delegations at them, and drives calls.
package ledger

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/safe-research/safe-prep/pkg/account"
)

// maxCallDepth bounds frame nesting; the call that would exceed it fails.
const maxCallDepth = 1024

// Errors returned by call execution.
var (
	ErrDepth               = errors.New("max call depth exceeded")
	ErrInsufficientBalance = errors.New("insufficient balance for transfer")
)

type stateObject struct {
	balance *uint256.Int
	storage map[common.Hash]common.Hash
}

// Ledger holds world state. Root-level calls are serialized; everything a
// program does runs under the root call's lock.
type Ledger struct {
	mu sync.Mutex

	objects     map[common.Address]*stateObject
	programs    map[common.Address]account.Program
	delegations map[common.Address]common.Address

	journal []journalEntry
	events  []account.Event
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		objects:     make(map[common.Address]*stateObject),
		programs:    make(map[common.Address]account.Program),
		delegations: make(map[common.Address]common.Address),
	}
}

// Register installs a program at an address, the moral equivalent of
// deploying its contract there.
func (l *Ledger) Register(addr common.Address, program account.Program) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.programs[addr] = program
}

// Delegate points an externally-owned address at program code, the way a
// set-code transaction would. Calls to addr then execute the delegate's
// program against addr's own storage.
func (l *Ledger) Delegate(addr, delegate common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delegations[addr] = delegate
}

// SetBalance sets an account balance, for fixtures.
func (l *Ledger) SetBalance(addr common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.object(addr).balance = amount.Clone()
}

// BalanceOf reads an account balance.
func (l *Ledger) BalanceOf(addr common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.object(addr).balance.Clone()
}

// StorageAt reads one storage slot.
func (l *Ledger) StorageAt(addr common.Address, key common.Hash) common.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.object(addr).storage[key]
}

// Events returns every event emitted by committed calls, in order.
func (l *Ledger) Events() []account.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]account.Event, len(l.events))
	copy(out, l.events)
	return out
}

// Call runs one root-level call. State changes commit on success and
// revert as a unit on failure.
func (l *Ledger) Call(caller, to common.Address, value *uint256.Int, input []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out, err := l.call(caller, to, value, input, false, 1)
	if err == nil {
		l.journal = l.journal[:0]
	}
	return out, err
}

// StaticCall runs one root-level read-only call.
func (l *Ledger) StaticCall(caller, to common.Address, input []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out, err := l.call(caller, to, nil, input, true, 1)
	if err == nil {
		l.journal = l.journal[:0]
	}
	return out, err
}

func (l *Ledger) object(addr common.Address) *stateObject {
	obj, ok := l.objects[addr]
	if !ok {
		obj = &stateObject{
			balance: new(uint256.Int),
			storage: make(map[common.Hash]common.Hash),
		}
		l.objects[addr] = obj
	}
	return obj
}

// resolveProgram finds the code a call to addr executes: a program
// installed at addr itself, or one hop through addr's delegation pointer.
func (l *Ledger) resolveProgram(addr common.Address) (account.Program, common.Address) {
	if p, ok := l.programs[addr]; ok {
		return p, addr
	}
	if delegate, ok := l.delegations[addr]; ok {
		if p, ok := l.programs[delegate]; ok {
			return p, delegate
		}
	}
	return nil, common.Address{}
}

func (l *Ledger) call(caller, to common.Address, value *uint256.Int, input []byte, readOnly bool, depth int) ([]byte, error) {
	if depth > maxCallDepth {
		return nil, ErrDepth
	}
	snapshot := len(l.journal)
	if value != nil && !value.IsZero() {
		if err := l.transfer(caller, to, value); err != nil {
			return nil, err
		}
	}
	program, code := l.resolveProgram(to)
	if program == nil {
		// Codeless target: the transfer is the whole call.
		return nil, nil
	}
	env := &account.Env{
		Self:     to,
		Code:     code,
		Caller:   caller,
		Value:    value,
		ReadOnly: readOnly,
		Depth:    depth,
	}
	out, err := program.Run(&frame{ledger: l, env: env}, env, input)
	if err != nil {
		l.revertTo(snapshot)
		return nil, err
	}
	return out, nil
}

// delegateCall runs code in the parent frame's context: same self, same
// caller, same value, same storage.
func (l *Ledger) delegateCall(parent *account.Env, code common.Address, input []byte) ([]byte, error) {
	depth := parent.Depth + 1
	if depth > maxCallDepth {
		return nil, ErrDepth
	}
	program, resolved := l.resolveProgram(code)
	if program == nil {
		return nil, nil
	}
	snapshot := len(l.journal)
	env := &account.Env{
		Self:     parent.Self,
		Code:     resolved,
		Caller:   parent.Caller,
		Value:    parent.Value,
		ReadOnly: parent.ReadOnly,
		Depth:    depth,
	}
	out, err := program.Run(&frame{ledger: l, env: env}, env, input)
	if err != nil {
		l.revertTo(snapshot)
		return nil, err
	}
	return out, nil
}

func (l *Ledger) transfer(from, to common.Address, amount *uint256.Int) error {
	fromObj := l.object(from)
	if fromObj.balance.Lt(amount) {
		return ErrInsufficientBalance
	}
	toObj := l.object(to)
	l.journal = append(l.journal,
		balanceChange{addr: from, prev: fromObj.balance},
		balanceChange{addr: to, prev: toObj.balance},
	)
	fromObj.balance = new(uint256.Int).Sub(fromObj.balance, amount)
	toObj.balance = new(uint256.Int).Add(toObj.balance, amount)
	return nil
}

// frame is the Host handed to one program invocation. It scopes storage
// access to the frame's own account and threads read-only mode and depth
// into nested calls.
type frame struct {
	ledger *Ledger
	env    *account.Env
}

func (f *frame) GetState(key common.Hash) common.Hash {
	return f.ledger.object(f.env.Self).storage[key]
}

func (f *frame) SetState(key, value common.Hash) error {
	if f.env.ReadOnly {
		return account.ErrWriteProtection
	}
	obj := f.ledger.object(f.env.Self)
	prev, existed := obj.storage[key]
	f.ledger.journal = append(f.ledger.journal, storageChange{
		addr:    f.env.Self,
		key:     key,
		prev:    prev,
		existed: existed,
	})
	obj.storage[key] = value
	return nil
}

func (f *frame) Balance(addr common.Address) *uint256.Int {
	return f.ledger.object(addr).balance.Clone()
}

func (f *frame) Call(to common.Address, value *uint256.Int, input []byte) ([]byte, error) {
	if f.env.ReadOnly && value != nil && !value.IsZero() {
		return nil, account.ErrWriteProtection
	}
	return f.ledger.call(f.env.Self, to, value, input, f.env.ReadOnly, f.env.Depth+1)
}

func (f *frame) DelegateCall(code common.Address, input []byte) ([]byte, error) {
	return f.ledger.delegateCall(f.env, code, input)
}

func (f *frame) StaticCall(to common.Address, input []byte) ([]byte, error) {
	return f.ledger.call(f.env.Self, to, nil, input, true, f.env.Depth+1)
}

func (f *frame) Emit(event account.Event) error {
	if f.env.ReadOnly {
		return account.ErrWriteProtection
	}
	f.ledger.events = append(f.ledger.events, event)
	f.ledger.journal = append(f.ledger.journal, eventChange{})
	return nil
}
