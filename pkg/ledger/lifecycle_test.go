package ledger

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/safe-research/safe-prep/pkg/account"
	"github.com/safe-research/safe-prep/pkg/authorization"
	"github.com/safe-research/safe-prep/pkg/miner"
	"github.com/safe-research/safe-prep/pkg/setup"
)

var (
	canonicalAddr = common.HexToAddress("0x7702770277027702770277027702770277027702")
	walletAddr    = common.HexToAddress("0x5afE5afE5afE5afE5afE5afE5afE5afE5afE5afE")
	ownerAddr     = common.HexToAddress("0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa")
	claimerAddr   = common.HexToAddress("0xC1a1C1a1c1A1C1A1c1a1C1A1C1a1c1A1C1A1c1A1")
)

func newLifecycleWorld() *Ledger {
	l := New()
	l.Register(canonicalAddr, account.NewProxy(canonicalAddr))
	l.Register(walletAddr, account.NewWallet())
	return l
}

func TestClaimLifecycle(t *testing.T) {
	l := newLifecycleWorld()
	l.SetBalance(claimerAddr, uint256.NewInt(100))
	params := &setup.Parameters{Owners: []common.Address{ownerAddr}, Threshold: 1}

	// Mining is a pure read, served by the canonical deployment even
	// through a static call.
	mineData, err := account.EncodeMine(walletAddr, params, uint256.NewInt(42))
	if err != nil {
		t.Fatalf("EncodeMine() error = %v", err)
	}
	out, err := l.StaticCall(claimerAddr, canonicalAddr, mineData)
	if err != nil {
		t.Fatalf("mine StaticCall() error = %v", err)
	}
	mined, err := account.DecodeMineOutput(out)
	if err != nil {
		t.Fatalf("DecodeMineOutput() error = %v", err)
	}
	if mined.Salt.LtUint64(42) {
		t.Errorf("mined salt = %v, want at least the starting salt 42", mined.Salt)
	}

	initHash, _, err := setup.Commitment(walletAddr, params)
	if err != nil {
		t.Fatalf("Commitment() error = %v", err)
	}
	want, err := miner.NewEngine(authorization.Digest(canonicalAddr)).Mine(initHash, uint256.NewInt(42))
	if err != nil {
		t.Fatalf("Mine() error = %v", err)
	}
	if mined.Account != want.Account || !mined.Salt.Eq(want.Salt) {
		t.Fatalf("mined (%v, %v), want (%v, %v)", mined.Account, mined.Salt, want.Account, want.Salt)
	}

	accountAddr := mined.Account
	l.Delegate(accountAddr, canonicalAddr)

	// On the derived account the mine selector does nothing while the
	// account is unclaimed.
	out, err = l.Call(claimerAddr, accountAddr, nil, mineData)
	if err != nil || len(out) != 0 {
		t.Fatalf("mine on derived account = (%x, %v), want silence", out, err)
	}

	// Funds sent before the claim are held by the account.
	if _, err := l.Call(claimerAddr, accountAddr, uint256.NewInt(10), nil); err != nil {
		t.Fatalf("prefund Call() error = %v", err)
	}
	if got := l.BalanceOf(accountAddr); !got.Eq(uint256.NewInt(10)) {
		t.Errorf("prefund balance = %v, want 10", got)
	}
	if got := len(l.Events()); got != 0 {
		t.Fatalf("events before claim = %d, want none", got)
	}

	claimData, err := account.EncodeClaim(walletAddr, params, mined.Salt)
	if err != nil {
		t.Fatalf("EncodeClaim() error = %v", err)
	}
	if _, err := l.Call(claimerAddr, accountAddr, nil, claimData); err != nil {
		t.Fatalf("claim Call() error = %v", err)
	}

	if got := l.StorageAt(accountAddr, account.ImplementationSlot); got != account.AddressToHash(walletAddr) {
		t.Errorf("implementation pointer = %v, want %v", got, walletAddr)
	}
	if got := l.BalanceOf(accountAddr); !got.Eq(uint256.NewInt(10)) {
		t.Errorf("balance after claim = %v, want the prefund kept", got)
	}

	events := l.Events()
	if len(events) != 2 {
		t.Fatalf("events after claim = %d, want setup then creation", len(events))
	}
	setupEv, ok := events[0].(account.SetupPerformed)
	if !ok {
		t.Fatalf("first event = %T, want SetupPerformed", events[0])
	}
	if setupEv.Initiator != claimerAddr || len(setupEv.Owners) != 1 || setupEv.Owners[0] != ownerAddr || setupEv.Threshold != 1 {
		t.Errorf("setup event = %+v, want initiator %v and owners %v", setupEv, claimerAddr, params.Owners)
	}
	creationEv, ok := events[1].(account.ProxyCreation)
	if !ok {
		t.Fatalf("second event = %T, want ProxyCreation", events[1])
	}
	if creationEv.Account != accountAddr || creationEv.Implementation != walletAddr {
		t.Errorf("creation event = %+v, want {%v %v}", creationEv, accountAddr, walletAddr)
	}

	// Reads forward to the wallet now.
	out, err = l.StaticCall(claimerAddr, accountAddr, account.GetOwnersSelector[:])
	if err != nil {
		t.Fatalf("getOwners StaticCall() error = %v", err)
	}
	owners, err := account.DecodeOwners(out)
	if err != nil {
		t.Fatalf("DecodeOwners() error = %v", err)
	}
	if len(owners) != 1 || owners[0] != ownerAddr {
		t.Errorf("owners = %v, want %v", owners, params.Owners)
	}
	out, err = l.StaticCall(claimerAddr, accountAddr, account.GetThresholdSelector[:])
	if err != nil {
		t.Fatalf("getThreshold StaticCall() error = %v", err)
	}
	threshold, err := account.DecodeThreshold(out)
	if err != nil {
		t.Fatalf("DecodeThreshold() error = %v", err)
	}
	if threshold != 1 {
		t.Errorf("threshold = %d, want 1", threshold)
	}

	// A repeated claim forwards to the wallet, which has no handler for
	// it: a silent no-op, no state change, no events.
	out, err = l.Call(claimerAddr, accountAddr, nil, claimData)
	if err != nil || len(out) != 0 {
		t.Fatalf("repeated claim = (%x, %v), want silence", out, err)
	}
	if got := len(l.Events()); got != 2 {
		t.Errorf("events after repeated claim = %d, want still 2", got)
	}

	// A direct setup call hits the one-shot gate.
	setupCall, err := setup.EncodeCall(params)
	if err != nil {
		t.Fatalf("EncodeCall() error = %v", err)
	}
	if _, err := l.Call(claimerAddr, accountAddr, nil, setupCall); !errors.Is(err, account.ErrAlreadySetup) {
		t.Fatalf("repeated setup error = %v, want %v", err, account.ErrAlreadySetup)
	}

	// Post-claim value transfers go through the wallet's receive path.
	if _, err := l.Call(claimerAddr, accountAddr, uint256.NewInt(7), nil); err != nil {
		t.Fatalf("transfer Call() error = %v", err)
	}
	events = l.Events()
	received, ok := events[len(events)-1].(account.ValueReceived)
	if !ok || received.Sender != claimerAddr || !received.Value.Eq(uint256.NewInt(7)) {
		t.Errorf("last event = %+v, want value received from %v", events[len(events)-1], claimerAddr)
	}
	if got := l.BalanceOf(accountAddr); !got.Eq(uint256.NewInt(17)) {
		t.Errorf("final balance = %v, want 17", got)
	}
}

func TestClaimRevertsWhenSetupFails(t *testing.T) {
	l := newLifecycleWorld()

	// A zero threshold commits and mines like any other value; the
	// wallet rejects it during setup, after the pointer write.
	params := &setup.Parameters{Owners: []common.Address{ownerAddr}}
	initHash, _, err := setup.Commitment(walletAddr, params)
	if err != nil {
		t.Fatalf("Commitment() error = %v", err)
	}
	mined, err := miner.NewEngine(authorization.Digest(canonicalAddr)).Mine(initHash, nil)
	if err != nil {
		t.Fatalf("Mine() error = %v", err)
	}
	l.Delegate(mined.Account, canonicalAddr)

	claimData, err := account.EncodeClaim(walletAddr, params, mined.Salt)
	if err != nil {
		t.Fatalf("EncodeClaim() error = %v", err)
	}
	_, err = l.Call(claimerAddr, mined.Account, nil, claimData)
	if !errors.Is(err, setup.ErrBadThreshold) {
		t.Fatalf("claim error = %v, want %v", err, setup.ErrBadThreshold)
	}

	// The whole frame reverted, pointer write included.
	if got := l.StorageAt(mined.Account, account.ImplementationSlot); got != (common.Hash{}) {
		t.Errorf("implementation pointer = %v, want empty after revert", got)
	}
	if got := len(l.Events()); got != 0 {
		t.Errorf("events = %d, want none after revert", got)
	}
}

func TestAutoLifecycle(t *testing.T) {
	autoAddr := common.HexToAddress("0x8888888888888888888888888888888888888888")
	derived := common.HexToAddress("0x9999999999999999999999999999999999999999")

	l := New()
	l.Register(autoAddr, account.NewAutoProxy(autoAddr, walletAddr))
	l.Register(walletAddr, account.NewWallet())
	l.SetBalance(claimerAddr, uint256.NewInt(100))
	l.Delegate(derived, autoAddr)

	// Activation writes state, so a read-only first contact fails and
	// leaves the account untouched.
	_, err := l.StaticCall(claimerAddr, derived, account.GetOwnersSelector[:])
	if !errors.Is(err, account.ErrWriteProtection) {
		t.Fatalf("static first contact error = %v, want %v", err, account.ErrWriteProtection)
	}
	if got := l.StorageAt(derived, account.ImplementationSlot); got != (common.Hash{}) {
		t.Fatalf("implementation pointer = %v, want empty after failed activation", got)
	}

	// A plain value transfer activates the account.
	if _, err := l.Call(claimerAddr, derived, uint256.NewInt(5), nil); err != nil {
		t.Fatalf("first contact Call() error = %v", err)
	}
	if got := l.StorageAt(derived, account.ImplementationSlot); got != account.AddressToHash(walletAddr) {
		t.Errorf("implementation pointer = %v, want %v", got, walletAddr)
	}
	if got := l.BalanceOf(derived); !got.Eq(uint256.NewInt(5)) {
		t.Errorf("balance = %v, want 5", got)
	}

	events := l.Events()
	if len(events) != 3 {
		t.Fatalf("events = %d, want setup, creation, value", len(events))
	}
	setupEv, ok := events[0].(account.SetupPerformed)
	if !ok {
		t.Fatalf("first event = %T, want SetupPerformed", events[0])
	}
	if setupEv.Initiator != derived || len(setupEv.Owners) != 1 || setupEv.Owners[0] != derived || setupEv.Threshold != 1 {
		t.Errorf("setup event = %+v, want the account as its own 1-of-1 owner", setupEv)
	}
	creationEv, ok := events[1].(account.ProxyCreation)
	if !ok || creationEv.Account != derived || creationEv.Implementation != walletAddr {
		t.Errorf("second event = %+v, want creation of %v", events[1], derived)
	}
	received, ok := events[2].(account.ValueReceived)
	if !ok || received.Sender != claimerAddr || !received.Value.Eq(uint256.NewInt(5)) {
		t.Errorf("third event = %+v, want the transferred value", events[2])
	}

	// Static reads work once activated.
	out, err := l.StaticCall(claimerAddr, derived, account.GetOwnersSelector[:])
	if err != nil {
		t.Fatalf("getOwners StaticCall() error = %v", err)
	}
	owners, err := account.DecodeOwners(out)
	if err != nil {
		t.Fatalf("DecodeOwners() error = %v", err)
	}
	if len(owners) != 1 || owners[0] != derived {
		t.Errorf("owners = %v, want the account itself", owners)
	}

	// Later calls skip activation.
	out, err = l.Call(claimerAddr, derived, nil, account.GetThresholdSelector[:])
	if err != nil {
		t.Fatalf("getThreshold Call() error = %v", err)
	}
	threshold, err := account.DecodeThreshold(out)
	if err != nil {
		t.Fatalf("DecodeThreshold() error = %v", err)
	}
	if threshold != 1 {
		t.Errorf("threshold = %d, want 1", threshold)
	}
	if got := len(l.Events()); got != 3 {
		t.Errorf("events after activation = %d, want still 3", got)
	}
}
