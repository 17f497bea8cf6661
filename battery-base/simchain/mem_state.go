package simchain

import "github.com/ethereum/go-ethereum/common"

type slotKey struct {
	addr common.Address
	key  common.Hash
}

type memState struct {
	slots map[common.Address]map[common.Hash]common.Hash

	// undo holds the value each slot had before the block being mined, nil between
	// blocks.
	undo map[slotKey]common.Hash
}

func newMemState() *memState {
	return &memState{slots: make(map[common.Address]map[common.Hash]common.Hash)}
}

func (s *memState) GetState(addr common.Address, key common.Hash) common.Hash {
	return s.slots[addr][key]
}

// SetState deletes slots set to zero so that the map only holds used slots.
func (s *memState) SetState(addr common.Address, key common.Hash, value common.Hash) common.Hash {
	account := s.slots[addr]
	if account == nil {
		account = make(map[common.Hash]common.Hash)
		s.slots[addr] = account
	}

	prev := account[key]
	if s.undo != nil {
		k := slotKey{addr, key}
		if _, ok := s.undo[k]; !ok {
			s.undo[k] = prev
		}
	}
	if value == (common.Hash{}) {
		delete(account, key)
	} else {
		account[key] = value
	}
	return prev
}

// UsedSlots counts the non-zero slots of an account.
func (s *memState) UsedSlots(addr common.Address) int {
	return len(s.slots[addr])
}

// historicState reads the state as it was before the blocks in later were mined.
type historicState struct {
	current *memState
	later   []block
}

func (h historicState) GetState(addr common.Address, key common.Hash) common.Hash {
	k := slotKey{addr, key}
	for _, b := range h.later {
		if v, ok := b.undo[k]; ok {
			return v
		}
	}
	return h.current.GetState(addr, key)
}

func (h historicState) SetState(common.Address, common.Hash, common.Hash) common.Hash {
	panic("historic state is read only")
}
