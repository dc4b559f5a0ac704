package authorization

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

const (
	// Magic tag prepended to the RLP payload before hashing, outside the list.
	Magic byte = 0x05

	// V is the fixed recovery id used for every derivation. Candidates
	// whose curve point has the other y parity fail recovery and the
	// search moves to the next salt.
	V byte = 27

	// Sequence is pinned to zero: the authorization is only valid while
	// the account's protocol nonce is still zero.
	Sequence uint64 = 0
)

// ChainScope is pinned to zero so the same signed authorization is valid
// on every chain.
var ChainScope = uint256.NewInt(0)

// S is the fixed signature scalar shared by every derivation. It sits
// below half the secp256k1 group order, so strict low-s checks accept it.
var S = common.HexToHash("0x7702770277027702770277027702770277027702770277027702770277027702")

// Errors
var (
	ErrNullCandidate = errors.New("signature does not recover to any account")
)

// authMessage is the RLP body of the delegation authorization. Field order
// and types pin the wire layout: scope, delegate, sequence.
type authMessage struct {
	ChainScope *uint256.Int
	Delegate   []byte
	Sequence   uint64
}

// Message returns the exact byte string that is hashed to produce the
// authorization digest: the magic tag followed by
// rlp([chainScope, delegate, sequence]).
// The delegate is encoded in minimal big-endian form with leading zero
// bytes stripped, matching canonical RLP integer semantics for the
// address field.
func Message(delegate common.Address) []byte {
	payload, err := rlp.EncodeToBytes(&authMessage{
		ChainScope: ChainScope,
		Delegate:   minimalBytes(delegate),
		Sequence:   Sequence,
	})
	if err != nil {
		// The message shape is fixed, encoding cannot fail.
		panic(err)
	}
	out := make([]byte, 0, 1+len(payload))
	out = append(out, Magic)
	return append(out, payload...)
}

// Digest computes the 32-byte authorization digest for a delegate,
// keccak256(0x05 || rlp([0, delegate, 0])). Every account derived for the
// same delegate signs (synthetically) over this one digest.
func Digest(delegate common.Address) common.Hash {
	return crypto.Keccak256Hash(Message(delegate))
}

// Recover runs public key recovery over digest with the given signature
// values and returns the recovered address. It returns ErrNullCandidate
// when the values are out of range or no public key exists for them, which
// the mining loop treats as "try the next salt".
func Recover(digest common.Hash, v byte, r, s common.Hash) (common.Address, error) {
	if v != 27 && v != 28 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d out of range", ErrNullCandidate, v)
	}
	rv := new(big.Int).SetBytes(r[:])
	sv := new(big.Int).SetBytes(s[:])
	if !crypto.ValidateSignatureValues(v-27, rv, sv, true) {
		return common.Address{}, fmt.Errorf("%w: signature values out of range", ErrNullCandidate)
	}

	var sig [crypto.SignatureLength]byte
	copy(sig[:32], r[:])
	copy(sig[32:64], s[:])
	sig[64] = v - 27

	pub, err := crypto.Ecrecover(digest[:], sig[:])
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrNullCandidate, err)
	}

	var addr common.Address
	copy(addr[:], crypto.Keccak256(pub[1:])[12:])
	return addr, nil
}

// minimalBytes strips leading zero bytes from an address so it encodes in
// canonical shortest form.
func minimalBytes(a common.Address) []byte {
	b := a.Bytes()
	for len(b) > 0 && b[0] == 0 {
		b = b[1:]
	}
	return b
}
