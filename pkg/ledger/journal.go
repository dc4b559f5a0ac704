package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// journalEntry reverses one state mutation. Entries are appended as
// mutations happen and replayed backwards when a call frame fails.
type journalEntry interface {
	revert(l *Ledger)
}

type storageChange struct {
	addr    common.Address
	key     common.Hash
	prev    common.Hash
	existed bool
}

func (ch storageChange) revert(l *Ledger) {
	obj := l.object(ch.addr)
	if ch.existed {
		obj.storage[ch.key] = ch.prev
		return
	}
	delete(obj.storage, ch.key)
}

type balanceChange struct {
	addr common.Address
	prev *uint256.Int
}

func (ch balanceChange) revert(l *Ledger) {
	l.object(ch.addr).balance = ch.prev
}

type eventChange struct{}

func (ch eventChange) revert(l *Ledger) {
	l.events = l.events[:len(l.events)-1]
}

func (l *Ledger) revertTo(snapshot int) {
	for i := len(l.journal) - 1; i >= snapshot; i-- {
		l.journal[i].revert(l)
	}
	l.journal = l.journal[:snapshot]
}
