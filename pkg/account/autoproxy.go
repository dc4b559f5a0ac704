package account

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/safe-research/safe-prep/pkg/setup"
)

// AutoProxy is the self-initializing lifecycle variant. Instead of gating
// on a claim, the first call of any kind sets it up as a 1-of-1 account
// owned by itself, then forwards. There is nothing to verify at claim
// time, so the variant carries its implementation as part of the program
// rather than proving it from calldata.
type AutoProxy struct {
	address        common.Address
	implementation common.Address
}

// NewAutoProxy creates the variant program for a canonical address and the
// implementation every activated account gets bound to.
func NewAutoProxy(address, implementation common.Address) *AutoProxy {
	return &AutoProxy{
		address:        address,
		implementation: implementation,
	}
}

// Address returns the canonical deployment address.
func (p *AutoProxy) Address() common.Address {
	return p.address
}

// Implementation returns the implementation bound on activation.
func (p *AutoProxy) Implementation() common.Address {
	return p.implementation
}

// Run activates the account on first contact, then forwards the call to
// the bound implementation. Activation happens for every first call, a
// plain value transfer included.
func (p *AutoProxy) Run(host Host, env *Env, input []byte) ([]byte, error) {
	if host.GetState(ImplementationSlot) == (common.Hash{}) {
		if err := p.activate(host, env); err != nil {
			return nil, err
		}
	}
	pointer := host.GetState(ImplementationSlot)
	return host.DelegateCall(HashToAddress(pointer), input)
}

// activate binds the implementation and runs the default setup: a 1-of-1
// account owned by itself. The pointer is written first so that the setup
// self-call already executes against the implementation.
func (p *AutoProxy) activate(host Host, env *Env) error {
	if err := host.SetState(ImplementationSlot, AddressToHash(p.implementation)); err != nil {
		return err
	}
	call, err := setup.EncodeCall(&setup.Parameters{
		Owners:    []common.Address{env.Self},
		Threshold: 1,
	})
	if err != nil {
		return err
	}
	if _, err := host.Call(env.Self, nil, call); err != nil {
		return err
	}
	if err := host.Emit(ProxyCreation{Account: env.Self, Implementation: p.implementation}); err != nil {
		return err
	}
	log.Debug("Account auto-initialized", "account", env.Self, "implementation", p.implementation)
	return nil
}
