package ledger

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexReleasesEntries(t *testing.T) {
	var k keyedMutex

	for i := range 100 {
		unlock := k.lock(common.BytesToAddress([]byte{byte(i)}))
		unlock()
	}
	require.Zero(t, k.size())
}

func TestKeyedMutexSerializesPerAddress(t *testing.T) {
	var (
		k       keyedMutex
		addr    = common.HexToAddress("0xb1")
		wg      sync.WaitGroup
		holders int
		maxSeen int
	)

	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.lock(addr)
			defer unlock()

			holders++
			maxSeen = max(maxSeen, holders)
			holders--
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxSeen)
	require.Zero(t, k.size())
}
