package setup

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Method is the canonical signature of the one-shot configuration call
// delivered to the implementation when an account is claimed.
const Method = "setup(address[],uint256,address,bytes,address,address,uint256,address)"

// Selector is the 4-byte method id of Method.
var Selector = [4]byte(crypto.Keccak256([]byte(Method))[:4])

var (
	addressType, _      = abi.NewType("address", "", nil)
	addressSliceType, _ = abi.NewType("address[]", "", nil)
	uint256Type, _      = abi.NewType("uint256", "", nil)
	bytesType, _        = abi.NewType("bytes", "", nil)

	setupArgs = abi.Arguments{
		{Name: "_owners", Type: addressSliceType},
		{Name: "_threshold", Type: uint256Type},
		{Name: "to", Type: addressType},
		{Name: "data", Type: bytesType},
		{Name: "fallbackHandler", Type: addressType},
		{Name: "paymentToken", Type: addressType},
		{Name: "payment", Type: uint256Type},
		{Name: "paymentReceiver", Type: addressType},
	}
)

// Errors
var (
	ErrNoOwners           = errors.New("at least one owner is required")
	ErrZeroOwner          = errors.New("owner must not be the zero address")
	ErrDuplicateOwner     = errors.New("duplicate owner")
	ErrBadThreshold       = errors.New("threshold must be between 1 and the number of owners")
	ErrDanglingInitData   = errors.New("initializer payload given without an initializer target")
	ErrNotSetupCall       = errors.New("calldata is not a setup call")
	ErrPaymentUnsupported = errors.New("payment fields must be zero")
)

// Parameters describe the initial configuration of an account: its owner
// set and signing threshold, an optional extra initializer call, and an
// optional fallback handler. Payment token, payment amount and payment
// receiver are pinned to zero in every call this package encodes.
type Parameters struct {
	Owners          []common.Address
	Threshold       uint64
	Initializer     common.Address
	InitializerData []byte
	FallbackHandler common.Address
}

// Validate checks the parameters before mining starts. The claim path
// deliberately never calls this: a tampered setup call must fail the
// commitment check, not a shape check.
func (p *Parameters) Validate() error {
	if len(p.Owners) == 0 {
		return ErrNoOwners
	}
	seen := make(map[common.Address]struct{}, len(p.Owners))
	for _, owner := range p.Owners {
		if owner == (common.Address{}) {
			return ErrZeroOwner
		}
		if _, dup := seen[owner]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateOwner, owner)
		}
		seen[owner] = struct{}{}
	}
	if p.Threshold == 0 || p.Threshold > uint64(len(p.Owners)) {
		return fmt.Errorf("%w: threshold %d with %d owners", ErrBadThreshold, p.Threshold, len(p.Owners))
	}
	if len(p.InitializerData) > 0 && p.Initializer == (common.Address{}) {
		return ErrDanglingInitData
	}
	return nil
}

// EncodeCall returns the full calldata for the setup call described by p:
// the 4-byte selector followed by the positionally ABI-encoded arguments.
func EncodeCall(p *Parameters) ([]byte, error) {
	args, err := setupArgs.Pack(
		p.Owners,
		new(big.Int).SetUint64(p.Threshold),
		p.Initializer,
		p.InitializerData,
		p.FallbackHandler,
		common.Address{},
		new(big.Int),
		common.Address{},
	)
	if err != nil {
		return nil, fmt.Errorf("encode setup call: %w", err)
	}
	out := make([]byte, 0, len(Selector)+len(args))
	out = append(out, Selector[:]...)
	return append(out, args...), nil
}

// DecodeCall parses setup calldata back into Parameters. It rejects
// calldata with a foreign selector and calldata carrying nonzero payment
// fields.
func DecodeCall(data []byte) (*Parameters, error) {
	if len(data) < len(Selector) || !bytes.Equal(data[:len(Selector)], Selector[:]) {
		return nil, ErrNotSetupCall
	}
	vals, err := setupArgs.Unpack(data[len(Selector):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSetupCall, err)
	}

	owners := vals[0].([]common.Address)
	threshold := vals[1].(*big.Int)
	if !threshold.IsUint64() {
		return nil, fmt.Errorf("%w: threshold out of range", ErrNotSetupCall)
	}
	paymentToken := vals[5].(common.Address)
	payment := vals[6].(*big.Int)
	paymentReceiver := vals[7].(common.Address)
	if paymentToken != (common.Address{}) || payment.Sign() != 0 || paymentReceiver != (common.Address{}) {
		return nil, ErrPaymentUnsupported
	}

	return &Parameters{
		Owners:          owners,
		Threshold:       threshold.Uint64(),
		Initializer:     vals[2].(common.Address),
		InitializerData: vals[3].([]byte),
		FallbackHandler: vals[4].(common.Address),
	}, nil
}

// Commitment derives the mining commitment for an implementation and its
// setup parameters, keccak256(implementation || keccak256(setupCall)), and
// returns the raw calldata alongside it since the claim must replay the
// exact same bytes.
func Commitment(implementation common.Address, p *Parameters) (common.Hash, []byte, error) {
	call, err := EncodeCall(p)
	if err != nil {
		return common.Hash{}, nil, err
	}
	return CommitmentFromCall(implementation, call), call, nil
}

// CommitmentFromCall derives the commitment from raw setup calldata, the
// form the claim path receives.
func CommitmentFromCall(implementation common.Address, call []byte) common.Hash {
	return crypto.Keccak256Hash(implementation.Bytes(), crypto.Keccak256(call))
}
