package ledger

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// keyedMutex hands out one mutex per address. An entry lives as long as someone
// holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[common.Address]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(addr common.Address) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[common.Address]*refMutex)
	}
	m, ok := k.locks[addr]
	if !ok {
		m = &refMutex{}
		k.locks[addr] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()

		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, addr)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
