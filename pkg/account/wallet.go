package account

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/safe-research/safe-prep/pkg/setup"
)

// Errors returned by the wallet implementation.
var (
	ErrAlreadySetup = errors.New("account already set up")
)

// Read methods served by the wallet.
const (
	GetOwnersMethod    = "getOwners()"
	GetThresholdMethod = "getThreshold()"
)

var (
	// GetOwnersSelector is the 4-byte method id of GetOwnersMethod.
	GetOwnersSelector = [4]byte(crypto.Keccak256([]byte(GetOwnersMethod))[:4])
	// GetThresholdSelector is the 4-byte method id of GetThresholdMethod.
	GetThresholdSelector = [4]byte(crypto.Keccak256([]byte(GetThresholdMethod))[:4])
)

// Wallet storage layout. Slot 0 is left alone: it belongs to the
// lifecycle program that delegates here. The owner list lives under a
// mapping position, the fallback handler under a hashed slot, so neither
// can collide with the low slots.
var (
	ownerSlot           = common.Hash{31: 2}
	ownerCountSlot      = common.Hash{31: 3}
	thresholdSlot       = common.Hash{31: 4}
	fallbackHandlerSlot = crypto.Keccak256Hash([]byte("fallback_manager.handler.address"))
)

var (
	ownersReturn    = abi.Arguments{{Name: "owners", Type: addressSliceType}}
	thresholdReturn = abi.Arguments{{Name: "threshold", Type: uint256Type}}
)

// Wallet is the account implementation singleton. It runs behind a
// lifecycle program via delegation, so all its state lives in the calling
// account's storage. A nonzero threshold marks a set-up account and makes
// setup one-shot.
type Wallet struct{}

// NewWallet creates the implementation program.
func NewWallet() *Wallet {
	return &Wallet{}
}

// Run dispatches one call frame.
func (w *Wallet) Run(host Host, env *Env, input []byte) ([]byte, error) {
	if len(input) == 0 {
		return w.receive(host, env)
	}
	if len(input) >= 4 {
		switch [4]byte(input[:4]) {
		case setup.Selector:
			return w.setup(host, env, input)
		case GetOwnersSelector:
			return w.getOwners(host)
		case GetThresholdSelector:
			return w.getThreshold(host)
		}
	}
	return w.fallback(host, env, input)
}

// setup configures owners, threshold, and the optional initializer and
// fallback handler. It runs once: a nonzero threshold rejects any repeat.
func (w *Wallet) setup(host Host, env *Env, input []byte) ([]byte, error) {
	if host.GetState(thresholdSlot) != (common.Hash{}) {
		return nil, ErrAlreadySetup
	}
	params, err := setup.DecodeCall(input)
	if err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	for i, owner := range params.Owners {
		if err := host.SetState(ownerSlotAt(uint64(i)), AddressToHash(owner)); err != nil {
			return nil, err
		}
	}
	if err := host.SetState(ownerCountSlot, hashFromUint64(uint64(len(params.Owners)))); err != nil {
		return nil, err
	}
	if err := host.SetState(thresholdSlot, hashFromUint64(params.Threshold)); err != nil {
		return nil, err
	}
	if params.Initializer != (common.Address{}) {
		if _, err := host.DelegateCall(params.Initializer, params.InitializerData); err != nil {
			return nil, err
		}
	}
	if params.FallbackHandler != (common.Address{}) {
		if err := host.SetState(fallbackHandlerSlot, AddressToHash(params.FallbackHandler)); err != nil {
			return nil, err
		}
	}
	if err := host.Emit(SetupPerformed{
		Initiator:       env.Caller,
		Owners:          params.Owners,
		Threshold:       params.Threshold,
		Initializer:     params.Initializer,
		FallbackHandler: params.FallbackHandler,
	}); err != nil {
		return nil, err
	}
	log.Debug("Account set up", "account", env.Self, "owners", len(params.Owners), "threshold", params.Threshold)
	return nil, nil
}

func (w *Wallet) getOwners(host Host) ([]byte, error) {
	countWord := host.GetState(ownerCountSlot)
	count := new(uint256.Int).SetBytes(countWord[:]).Uint64()
	owners := make([]common.Address, 0, count)
	for i := uint64(0); i < count; i++ {
		owners = append(owners, HashToAddress(host.GetState(ownerSlotAt(i))))
	}
	return ownersReturn.Pack(owners)
}

func (w *Wallet) getThreshold(host Host) ([]byte, error) {
	word := host.GetState(thresholdSlot)
	return thresholdReturn.Pack(new(uint256.Int).SetBytes(word[:]).ToBig())
}

// receive accepts plain value transfers.
func (w *Wallet) receive(host Host, env *Env) ([]byte, error) {
	if env.TransfersValue() {
		if err := host.Emit(ValueReceived{Sender: env.Caller, Value: env.Value}); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// fallback forwards unrecognized calls to the configured handler, the
// caller appended to the payload so the handler sees who called the
// account. Without a handler the call is a silent no-op.
func (w *Wallet) fallback(host Host, env *Env, input []byte) ([]byte, error) {
	handler := host.GetState(fallbackHandlerSlot)
	if handler == (common.Hash{}) {
		return nil, nil
	}
	forwarded := make([]byte, 0, len(input)+common.AddressLength)
	forwarded = append(forwarded, input...)
	forwarded = append(forwarded, env.Caller.Bytes()...)
	return host.Call(HashToAddress(handler), nil, forwarded)
}

// DecodeOwners parses the return value of a getOwners call.
func DecodeOwners(data []byte) ([]common.Address, error) {
	vals, err := ownersReturn.Unpack(data)
	if err != nil {
		return nil, err
	}
	return vals[0].([]common.Address), nil
}

// DecodeThreshold parses the return value of a getThreshold call.
func DecodeThreshold(data []byte) (uint64, error) {
	vals, err := thresholdReturn.Unpack(data)
	if err != nil {
		return 0, err
	}
	threshold := vals[0].(*big.Int)
	if !threshold.IsUint64() {
		return 0, errors.New("threshold out of range")
	}
	return threshold.Uint64(), nil
}

func ownerSlotAt(index uint64) common.Hash {
	position := new(uint256.Int).SetUint64(index).Bytes32()
	return crypto.Keccak256Hash(position[:], ownerSlot[:])
}

func hashFromUint64(v uint64) common.Hash {
	return common.Hash(uint256.NewInt(v).Bytes32())
}
