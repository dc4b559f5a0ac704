package crypto

import (
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

const (
	// r-derivation input layout: initHash (32) + salt (32) = 64
	RInputInitHashLen = 32
	RInputSaltLen     = 32
	RInputLen         = RInputInitHashLen + RInputSaltLen

	AddressLen = 20
)

// NewKeccak returns a fresh keccak256 hasher for callers that reuse state
// across many derivations.
func NewKeccak() hash.Hash {
	return sha3.NewLegacyKeccak256()
}

// Keccak256 calculates the keccak256 hash of the concatenated inputs.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		_, _ = h.Write(d)
	}
	return h.Sum(nil)
}

// DeriveRInto hashes the r-derivation input and writes the 32-byte r value
// into rBuf. Reuses the provided hasher to avoid allocations. inputBuf must be
// RInputLen (64), rBuf must be at least 32 bytes.
// Layout: inputBuf = initHash(32) + salt(32, big-endian).
func DeriveRInto(hasher hash.Hash, inputBuf, rBuf []byte) {
	hasher.Reset()
	hasher.Write(inputBuf)
	hasher.Sum(rBuf[:0])
}

// DeriveR computes r = keccak256(initHash || salt) with the salt in 32-byte
// big-endian form. Convenience variant of DeriveRInto for cold paths.
func DeriveR(initHash common.Hash, salt *uint256.Int) common.Hash {
	saltBytes := salt.Bytes32()
	return common.BytesToHash(Keccak256(initHash[:], saltBytes[:]))
}

// ParseAddress decodes a 20-byte hex address string (with or without 0x).
func ParseAddress(s string) (common.Address, error) {
	h := strings.TrimSpace(s)
	if len(h) >= 2 && (h[0:2] == "0x" || h[0:2] == "0X") {
		h = h[2:]
	}
	if len(h) != AddressLen*2 {
		return common.Address{}, fmt.Errorf("invalid address length: got %d hex chars, want %d", len(h), AddressLen*2)
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid address hex: %w", err)
	}
	return common.BytesToAddress(b), nil
}

// ParseSalt decodes a salt given as decimal, or as hex when 0x-prefixed.
func ParseSalt(s string) (*uint256.Int, error) {
	v := strings.TrimSpace(s)
	if len(v) >= 2 && (v[0:2] == "0x" || v[0:2] == "0X") {
		return uint256.FromHex("0x" + strings.ToLower(v[2:]))
	}
	return uint256.FromDecimal(v)
}

// Pattern is a nibble-precise hex pattern pre-decoded for byte-level address
// matching. Used to compare raw 20-byte addresses in the hot path without
// string conversion.
type Pattern struct {
	Bytes  []byte // full bytes of the even-length portion
	Nibble byte   // odd trailing (prefix) or leading (suffix) nibble value
	Odd    bool   // whether Nibble participates
}

// ParsePrefix decodes a hex prefix pattern (with or without 0x, odd lengths
// allowed). For odd lengths the final hex char becomes the trailing nibble.
func ParsePrefix(s string) (Pattern, error) {
	return parsePattern(s, false)
}

// ParseSuffix decodes a hex suffix pattern. For odd lengths the first hex
// char becomes the leading nibble, so the byte portion stays end-aligned.
func ParseSuffix(s string) (Pattern, error) {
	return parsePattern(s, true)
}

func parsePattern(s string, oddFromFront bool) (Pattern, error) {
	h := strings.ToLower(strings.TrimSpace(s))
	if len(h) >= 2 && h[0:2] == "0x" {
		h = h[2:]
	}
	if len(h) > AddressLen*2 {
		return Pattern{}, fmt.Errorf("pattern longer than an address: %d hex chars", len(h))
	}
	var p Pattern
	if len(h)%2 != 0 {
		var c byte
		if oddFromFront {
			c, h = h[0], h[1:]
		} else {
			c, h = h[len(h)-1], h[:len(h)-1]
		}
		n, err := nibbleValue(c)
		if err != nil {
			return Pattern{}, err
		}
		p.Nibble = n
		p.Odd = true
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return Pattern{}, fmt.Errorf("invalid pattern hex: %w", err)
	}
	p.Bytes = b
	return p, nil
}

// Empty reports whether the pattern matches everything.
func (p Pattern) Empty() bool {
	return len(p.Bytes) == 0 && !p.Odd
}

// MatchPrefix reports whether addr starts with the pattern. For odd-length
// patterns the final nibble is compared against the high nibble of the next
// address byte.
func (p Pattern) MatchPrefix(addr []byte) bool {
	n := len(p.Bytes)
	if n > len(addr) {
		return false
	}
	for i := 0; i < n; i++ {
		if addr[i] != p.Bytes[i] {
			return false
		}
	}
	if p.Odd {
		if n >= len(addr) {
			return false
		}
		return addr[n]>>4 == p.Nibble
	}
	return true
}

// MatchSuffix reports whether addr ends with the pattern. For odd-length
// patterns the leading nibble is compared against the low nibble of the
// preceding address byte.
func (p Pattern) MatchSuffix(addr []byte) bool {
	n := len(p.Bytes)
	if n > len(addr) {
		return false
	}
	off := len(addr) - n
	for i := 0; i < n; i++ {
		if addr[off+i] != p.Bytes[i] {
			return false
		}
	}
	if p.Odd {
		if off == 0 {
			return false
		}
		return addr[off-1]&0x0f == p.Nibble
	}
	return true
}

// MatchExact reports whether addr equals the pattern. Only full-width
// patterns can match exactly.
func (p Pattern) MatchExact(addr []byte) bool {
	if p.Odd || len(p.Bytes) != len(addr) {
		return false
	}
	for i := range addr {
		if addr[i] != p.Bytes[i] {
			return false
		}
	}
	return true
}

// IsZeroPrefix reports whether the pattern is a run of zero nibbles, the
// hunt-for-lowest-address case.
func (p Pattern) IsZeroPrefix() bool {
	if p.Empty() {
		return false
	}
	for _, b := range p.Bytes {
		if b != 0 {
			return false
		}
	}
	if p.Odd && p.Nibble != 0 {
		return false
	}
	return true
}

func nibbleValue(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	default:
		return 0, fmt.Errorf("invalid pattern hex char %q", c)
	}
}
