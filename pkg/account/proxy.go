package account

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/safe-research/safe-prep/pkg/authorization"
	"github.com/safe-research/safe-prep/pkg/miner"
	"github.com/safe-research/safe-prep/pkg/setup"
)

// Method signatures intercepted while an account is unclaimed.
const (
	ClaimMethod = "claim(address,address[],uint256,address,bytes,address,uint256)"
	MineMethod  = "mine(address,address[],uint256,address,bytes,address,uint256)"
)

var (
	// ClaimSelector is the 4-byte method id of ClaimMethod.
	ClaimSelector = [4]byte(crypto.Keccak256([]byte(ClaimMethod))[:4])
	// MineSelector is the 4-byte method id of MineMethod.
	MineSelector = [4]byte(crypto.Keccak256([]byte(MineMethod))[:4])
)

var (
	addressType, _      = abi.NewType("address", "", nil)
	addressSliceType, _ = abi.NewType("address[]", "", nil)
	uint256Type, _      = abi.NewType("uint256", "", nil)
	uint8Type, _        = abi.NewType("uint8", "", nil)
	bytesType, _        = abi.NewType("bytes", "", nil)
	bytes32Type, _      = abi.NewType("bytes32", "", nil)

	// claim and mine share one argument tuple; only the salt's meaning
	// differs (exact salt vs starting salt).
	requestArgs = abi.Arguments{
		{Name: "implementation", Type: addressType},
		{Name: "owners", Type: addressSliceType},
		{Name: "threshold", Type: uint256Type},
		{Name: "initializer", Type: addressType},
		{Name: "initializerData", Type: bytesType},
		{Name: "fallbackHandler", Type: addressType},
		{Name: "salt", Type: uint256Type},
	}

	mineReturns = abi.Arguments{
		{Name: "account", Type: addressType},
		{Name: "salt", Type: uint256Type},
		{Name: "v", Type: uint8Type},
		{Name: "r", Type: bytes32Type},
		{Name: "s", Type: bytes32Type},
	}
)

// request is the decoded body of a claim or mine call.
type request struct {
	Implementation common.Address
	Params         *setup.Parameters
	Salt           *uint256.Int
}

// MineOutput is the decoded return value of a mine call.
type MineOutput struct {
	Account common.Address
	Salt    *uint256.Int
	V       byte
	R       common.Hash
	S       common.Hash
}

// Proxy is the canonical lifecycle program. Deployed once at its canonical
// address, it serves mine calls there; delegated to by derived accounts,
// it gates their one-time claim and thereafter forwards everything to the
// claimed implementation.
type Proxy struct {
	canonical common.Address
	engine    *miner.Engine
}

// NewProxy creates the lifecycle program for its canonical address. The
// embedded engine derives against the canonical address's own
// authorization digest, the digest every derived account was mined for.
func NewProxy(canonical common.Address, opts ...miner.Option) *Proxy {
	return &Proxy{
		canonical: canonical,
		engine:    miner.NewEngine(authorization.Digest(canonical), opts...),
	}
}

// Address returns the canonical deployment address.
func (p *Proxy) Address() common.Address {
	return p.canonical
}

// Run dispatches one call frame.
func (p *Proxy) Run(host Host, env *Env, input []byte) ([]byte, error) {
	if pointer := host.GetState(ImplementationSlot); pointer != (common.Hash{}) {
		// Initialized: everything forwards verbatim, intercepted
		// selectors included.
		return host.DelegateCall(HashToAddress(pointer), input)
	}

	// Unclaimed.
	if len(input) == 0 {
		// Plain value transfers are accepted before claiming.
		return nil, nil
	}
	if len(input) >= 4 {
		switch [4]byte(input[:4]) {
		case ClaimSelector:
			return p.claim(host, env, input[4:])
		case MineSelector:
			return p.mine(host, env, input[4:])
		}
	}
	return nil, ErrNotClaimed
}

// claim verifies that the supplied parameters reproduce this account's own
// address, then binds the implementation and runs the setup call.
func (p *Proxy) claim(host Host, env *Env, args []byte) ([]byte, error) {
	req, err := decodeRequest(args)
	if err != nil {
		return nil, err
	}

	// Re-derive the candidate for the supplied tuple. Parameters are not
	// shape-checked here: any tampering, valid-looking or not, surfaces
	// as a failed derivation.
	call, err := setup.EncodeCall(req.Params)
	if err != nil {
		return nil, err
	}
	initHash := setup.CommitmentFromCall(req.Implementation, call)
	candidate, _, err := p.engine.Candidate(initHash, req.Salt)
	if err != nil || candidate != env.Self {
		log.Debug("Claim rejected", "account", env.Self, "candidate", candidate)
		return nil, ErrUnauthorized
	}

	// Bind the implementation before running setup, so re-entrant calls
	// made by the setup land on the implementation instead of back here.
	if err := host.SetState(ImplementationSlot, AddressToHash(req.Implementation)); err != nil {
		return nil, err
	}
	if _, err := host.DelegateCall(req.Implementation, call); err != nil {
		// Forwarded failure, relayed unwrapped; the host reverts the
		// frame, implementation pointer included.
		return nil, err
	}
	if err := host.Emit(ProxyCreation{Account: env.Self, Implementation: req.Implementation}); err != nil {
		return nil, err
	}
	log.Debug("Account claimed", "account", env.Self, "implementation", req.Implementation)
	return nil, nil
}

// mine executes the address search. Only the canonical deployment serves
// it; on a derived account the call is a silent no-op.
func (p *Proxy) mine(host Host, env *Env, args []byte) ([]byte, error) {
	if env.Self != p.canonical {
		return nil, nil
	}
	req, err := decodeRequest(args)
	if err != nil {
		return nil, err
	}
	// Mining is where parameters get shape-checked, before any search
	// effort is spent on them.
	if err := req.Params.Validate(); err != nil {
		return nil, err
	}
	initHash, _, err := setup.Commitment(req.Implementation, req.Params)
	if err != nil {
		return nil, err
	}
	result, err := p.engine.Mine(initHash, req.Salt)
	if err != nil {
		return nil, err
	}
	log.Debug("Mined account", "account", result.Account, "salt", result.Salt, "attempts", result.Attempts)
	return mineReturns.Pack(result.Account, result.Salt.ToBig(), result.V, [32]byte(result.R), [32]byte(result.S))
}

// EncodeClaim builds claim calldata for an account derived from
// (implementation, params, salt).
func EncodeClaim(implementation common.Address, params *setup.Parameters, salt *uint256.Int) ([]byte, error) {
	return encodeRequest(ClaimSelector, implementation, params, salt)
}

// EncodeMine builds mine calldata sweeping from startingSalt.
func EncodeMine(implementation common.Address, params *setup.Parameters, startingSalt *uint256.Int) ([]byte, error) {
	return encodeRequest(MineSelector, implementation, params, startingSalt)
}

// DecodeMineOutput parses the packed return value of a mine call.
func DecodeMineOutput(data []byte) (*MineOutput, error) {
	vals, err := mineReturns.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("decode mine output: %w", err)
	}
	salt, overflow := uint256.FromBig(vals[1].(*big.Int))
	if overflow {
		return nil, fmt.Errorf("decode mine output: salt overflows")
	}
	return &MineOutput{
		Account: vals[0].(common.Address),
		Salt:    salt,
		V:       vals[2].(uint8),
		R:       vals[3].([32]byte),
		S:       vals[4].([32]byte),
	}, nil
}

func encodeRequest(selector [4]byte, implementation common.Address, params *setup.Parameters, salt *uint256.Int) ([]byte, error) {
	if salt == nil {
		salt = uint256.NewInt(0)
	}
	args, err := requestArgs.Pack(
		implementation,
		params.Owners,
		new(big.Int).SetUint64(params.Threshold),
		params.Initializer,
		params.InitializerData,
		params.FallbackHandler,
		salt.ToBig(),
	)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := make([]byte, 0, len(selector)+len(args))
	out = append(out, selector[:]...)
	return append(out, args...), nil
}

func decodeRequest(args []byte) (*request, error) {
	vals, err := requestArgs.Unpack(args)
	if err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	threshold := vals[2].(*big.Int)
	if !threshold.IsUint64() {
		return nil, fmt.Errorf("decode request: threshold out of range")
	}
	salt, overflow := uint256.FromBig(vals[6].(*big.Int))
	if overflow {
		return nil, fmt.Errorf("decode request: salt overflows")
	}
	return &request{
		Implementation: vals[0].(common.Address),
		Params: &setup.Parameters{
			Owners:          vals[1].([]common.Address),
			Threshold:       threshold.Uint64(),
			Initializer:     vals[3].(common.Address),
			InitializerData: vals[4].([]byte),
			FallbackHandler: vals[5].(common.Address),
		},
		Salt: salt,
	}, nil
}
