// Package journal buffers state writes on top of a StateAccess so that a failed
// management transaction can be discarded without touching the underlying state.
package journal

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/evbattery/batterybase/battery-base/storageutil"
)

type slot struct {
	addr common.Address
	key  common.Hash
}

type Journal struct {
	base   storageutil.StateAccess
	writes map[slot]common.Hash
	order  []slot
}

func New(base storageutil.StateAccess) *Journal {
	return &Journal{base: base, writes: make(map[slot]common.Hash)}
}

func (j *Journal) GetState(addr common.Address, key common.Hash) common.Hash {
	if v, ok := j.writes[slot{addr, key}]; ok {
		return v
	}
	return j.base.GetState(addr, key)
}

func (j *Journal) SetState(addr common.Address, key common.Hash, value common.Hash) common.Hash {
	prev := j.GetState(addr, key)
	s := slot{addr, key}
	if _, ok := j.writes[s]; !ok {
		j.order = append(j.order, s)
	}
	j.writes[s] = value
	return prev
}

// Dirty returns the number of slots written since the last Commit or Discard.
func (j *Journal) Dirty() int {
	return len(j.writes)
}

// Commit applies the buffered writes to the base state in first-write order.
func (j *Journal) Commit() {
	for _, s := range j.order {
		j.base.SetState(s.addr, s.key, j.writes[s])
	}
	j.Discard()
}

func (j *Journal) Discard() {
	clear(j.writes)
	j.order = j.order[:0]
}
