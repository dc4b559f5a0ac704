package setup

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func testParameters() *Parameters {
	return &Parameters{
		Owners: []common.Address{
			common.HexToAddress("0x1111111111111111111111111111111111111111"),
			common.HexToAddress("0x2222222222222222222222222222222222222222"),
		},
		Threshold:       2,
		Initializer:     common.HexToAddress("0x3333333333333333333333333333333333333333"),
		InitializerData: []byte{0xde, 0xad, 0xbe, 0xef},
		FallbackHandler: common.HexToAddress("0x4444444444444444444444444444444444444444"),
	}
}

func TestSelector(t *testing.T) {
	// Pinned to the widely deployed selector for this signature.
	if want := [4]byte{0xb6, 0x3e, 0x80, 0x0d}; Selector != want {
		t.Errorf("Selector = %x, want %x", Selector, want)
	}
	if got := crypto.Keccak256([]byte(Method))[:4]; !bytes.Equal(got, Selector[:]) {
		t.Errorf("Selector does not match keccak of Method: %x", got)
	}
}

func TestEncodeCallLayout(t *testing.T) {
	p := testParameters()
	call, err := EncodeCall(p)
	if err != nil {
		t.Fatalf("EncodeCall failed: %v", err)
	}

	if !bytes.Equal(call[:4], Selector[:]) {
		t.Errorf("calldata selector = %x, want %x", call[:4], Selector)
	}
	args := call[4:]
	// Head: 8 words. Tails: owners (1+2 words) then data (1+1 words).
	if wantLen := (8 + 3 + 2) * 32; len(args) != wantLen {
		t.Fatalf("argument length = %d, want %d", len(args), wantLen)
	}
	if off := new(big.Int).SetBytes(args[0:32]); off.Int64() != 8*32 {
		t.Errorf("owners offset = %d, want %d", off, 8*32)
	}
	if thr := new(big.Int).SetBytes(args[32:64]); thr.Uint64() != p.Threshold {
		t.Errorf("threshold word = %d, want %d", thr, p.Threshold)
	}
	if off := new(big.Int).SetBytes(args[96:128]); off.Int64() != (8+3)*32 {
		t.Errorf("data offset = %d, want %d", off, (8+3)*32)
	}
	// Payment fields are always zero.
	for _, word := range [][]byte{args[160:192], args[192:224], args[224:256]} {
		if new(big.Int).SetBytes(word).Sign() != 0 {
			t.Errorf("payment word nonzero: %x", word)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		p    *Parameters
	}{
		{name: "full", p: testParameters()},
		{
			name: "minimal",
			p: &Parameters{
				Owners:    []common.Address{common.HexToAddress("0x1111111111111111111111111111111111111111")},
				Threshold: 1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, err := EncodeCall(tt.p)
			if err != nil {
				t.Fatalf("EncodeCall failed: %v", err)
			}
			got, err := DecodeCall(call)
			if err != nil {
				t.Fatalf("DecodeCall failed: %v", err)
			}
			if len(got.Owners) != len(tt.p.Owners) {
				t.Fatalf("owners = %v, want %v", got.Owners, tt.p.Owners)
			}
			for i := range got.Owners {
				if got.Owners[i] != tt.p.Owners[i] {
					t.Errorf("owner[%d] = %s, want %s", i, got.Owners[i], tt.p.Owners[i])
				}
			}
			if got.Threshold != tt.p.Threshold {
				t.Errorf("threshold = %d, want %d", got.Threshold, tt.p.Threshold)
			}
			if got.Initializer != tt.p.Initializer {
				t.Errorf("initializer = %s, want %s", got.Initializer, tt.p.Initializer)
			}
			if !bytes.Equal(got.InitializerData, tt.p.InitializerData) {
				t.Errorf("initializer data = %x, want %x", got.InitializerData, tt.p.InitializerData)
			}
			if got.FallbackHandler != tt.p.FallbackHandler {
				t.Errorf("fallback handler = %s, want %s", got.FallbackHandler, tt.p.FallbackHandler)
			}
		})
	}
}

func TestDecodeCallRejects(t *testing.T) {
	p := testParameters()
	good, err := EncodeCall(p)
	if err != nil {
		t.Fatalf("EncodeCall failed: %v", err)
	}

	t.Run("foreign selector", func(t *testing.T) {
		bad := append([]byte{0xde, 0xad, 0xbe, 0xef}, good[4:]...)
		if _, err := DecodeCall(bad); !errors.Is(err, ErrNotSetupCall) {
			t.Errorf("err = %v, want ErrNotSetupCall", err)
		}
	})
	t.Run("truncated", func(t *testing.T) {
		if _, err := DecodeCall(good[:len(good)-32]); !errors.Is(err, ErrNotSetupCall) {
			t.Errorf("err = %v, want ErrNotSetupCall", err)
		}
	})
	t.Run("nonzero payment", func(t *testing.T) {
		args, err := setupArgs.Pack(
			p.Owners, new(big.Int).SetUint64(p.Threshold), p.Initializer, p.InitializerData,
			p.FallbackHandler, common.Address{}, big.NewInt(1), common.Address{},
		)
		if err != nil {
			t.Fatalf("Pack failed: %v", err)
		}
		bad := append(Selector[:], args...)
		if _, err := DecodeCall(bad); !errors.Is(err, ErrPaymentUnsupported) {
			t.Errorf("err = %v, want ErrPaymentUnsupported", err)
		}
	})
	t.Run("oversized threshold", func(t *testing.T) {
		huge := new(big.Int).Lsh(big.NewInt(1), 70)
		args, err := setupArgs.Pack(
			p.Owners, huge, p.Initializer, p.InitializerData,
			p.FallbackHandler, common.Address{}, new(big.Int), common.Address{},
		)
		if err != nil {
			t.Fatalf("Pack failed: %v", err)
		}
		bad := append(Selector[:], args...)
		if _, err := DecodeCall(bad); !errors.Is(err, ErrNotSetupCall) {
			t.Errorf("err = %v, want ErrNotSetupCall", err)
		}
	})
}

func TestValidate(t *testing.T) {
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")

	tests := []struct {
		name    string
		p       Parameters
		wantErr error
	}{
		{name: "single owner", p: Parameters{Owners: []common.Address{owner}, Threshold: 1}},
		{name: "multisig", p: Parameters{Owners: []common.Address{owner, other}, Threshold: 2}},
		{name: "with initializer", p: Parameters{Owners: []common.Address{owner}, Threshold: 1, Initializer: other, InitializerData: []byte{0x01}}},
		{name: "no owners", p: Parameters{Threshold: 1}, wantErr: ErrNoOwners},
		{name: "zero owner", p: Parameters{Owners: []common.Address{{}}, Threshold: 1}, wantErr: ErrZeroOwner},
		{name: "duplicate owner", p: Parameters{Owners: []common.Address{owner, owner}, Threshold: 1}, wantErr: ErrDuplicateOwner},
		{name: "zero threshold", p: Parameters{Owners: []common.Address{owner}}, wantErr: ErrBadThreshold},
		{name: "threshold above owners", p: Parameters{Owners: []common.Address{owner}, Threshold: 2}, wantErr: ErrBadThreshold},
		{name: "dangling init data", p: Parameters{Owners: []common.Address{owner}, Threshold: 1, InitializerData: []byte{0x01}}, wantErr: ErrDanglingInitData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCommitmentBindsEveryField(t *testing.T) {
	impl := common.HexToAddress("0x5afE3855358E112B5647B952709E6165e1c8eEeE")
	base, call, err := Commitment(impl, testParameters())
	if err != nil {
		t.Fatalf("Commitment failed: %v", err)
	}

	if want := crypto.Keccak256Hash(impl.Bytes(), crypto.Keccak256(call)); base != want {
		t.Errorf("Commitment = %x, want %x", base, want)
	}
	if got := CommitmentFromCall(impl, call); got != base {
		t.Errorf("CommitmentFromCall = %x, want %x", got, base)
	}

	mutations := []struct {
		name   string
		impl   common.Address
		mutate func(*Parameters)
	}{
		{name: "implementation", impl: common.HexToAddress("0x6666666666666666666666666666666666666666"), mutate: func(*Parameters) {}},
		{name: "owner", impl: impl, mutate: func(p *Parameters) {
			p.Owners[0] = common.HexToAddress("0x9999999999999999999999999999999999999999")
		}},
		{name: "threshold", impl: impl, mutate: func(p *Parameters) { p.Threshold = 1 }},
		{name: "initializer", impl: impl, mutate: func(p *Parameters) {
			p.Initializer = common.HexToAddress("0x9999999999999999999999999999999999999999")
		}},
		{name: "initializer data", impl: impl, mutate: func(p *Parameters) { p.InitializerData = []byte{0xca, 0xfe} }},
		{name: "fallback handler", impl: impl, mutate: func(p *Parameters) { p.FallbackHandler = common.Address{} }},
	}

	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			p := testParameters()
			tt.mutate(p)
			got, _, err := Commitment(tt.impl, p)
			if err != nil {
				t.Fatalf("Commitment failed: %v", err)
			}
			if got == base {
				t.Error("mutated parameters produced an unchanged commitment")
			}
		})
	}
}
