package registry_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/evbattery/batterybase/battery-base/actor"
	"github.com/evbattery/batterybase/battery-base/ledger"
	"github.com/evbattery/batterybase/battery-base/registry"
	"github.com/evbattery/batterybase/battery-base/simchain"
	"github.com/evbattery/batterybase/battery-base/storageutil/feepolicy"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	chain    *simchain.Chain
	ledger   *ledger.Ledger
	registry *registry.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	chain := simchain.New(big.NewInt(1337))
	l, err := ledger.New(context.Background(), chain, ledger.Config{
		ConfirmTimeout: 200 * time.Millisecond,
		PollInitial:    5 * time.Millisecond,
		PollMax:        20 * time.Millisecond,
		MaxAttempts:    1,
	})
	require.NoError(t, err)
	return &fixture{chain: chain, ledger: l, registry: registry.New(l)}
}

func (f *fixture) actor(t *testing.T) *actor.Actor {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	a := actor.New(key, actor.FeePolicy{})
	f.chain.Fund(a.Address, new(big.Int).Mul(big.NewInt(100), big.NewInt(params.Ether)))
	return a
}

func fees(n int64) *big.Int {
	return new(big.Int).Mul(feepolicy.DefaultBatteryFee, big.NewInt(n))
}

func TestIssueRegistersVendorAndBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.actor(t)

	ids, err := f.registry.Issue(ctx, v, 5, fees(5), "Acme Cells")
	require.NoError(t, err)
	require.Len(t, ids, 5)

	seen := map[common.Address]bool{}
	for _, id := range ids {
		require.Equal(t, crypto.PubkeyToAddress(id.Key.PublicKey), id.Address)
		require.Len(t, id.KeyHex(), 64)
		require.False(t, seen[id.Address], "identities must be unique")
		seen[id.Address] = true

		b, err := f.ledger.Battery(ctx, id.Address)
		require.NoError(t, err)
		require.Equal(t, v.Address, b.Vendor)
		require.Equal(t, v.Address, b.Owner)

		info, err := f.registry.VendorOf(ctx, id.Address)
		require.NoError(t, err)
		require.Equal(t, "Acme Cells", info.Name)
		require.Equal(t, v.Address, info.Address)
		require.Len(t, info.IDHex(), 10)
	}

	owned, err := f.ledger.BatteriesOf(ctx, v.Address)
	require.NoError(t, err)
	require.Len(t, owned, 5)

	rec, err := f.ledger.Vendor(ctx, v.Address)
	require.NoError(t, err)
	require.Equal(t, 0, rec.Deposit.Sign())
}

func TestIssueForRegisteredVendorUsesExistingDeposit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.actor(t)

	_, err := f.registry.RegisterVendor(ctx, v, "Acme", fees(3))
	require.NoError(t, err)

	ids, err := f.registry.Issue(ctx, v, 2, nil, "")
	require.NoError(t, err)
	require.Len(t, ids, 2)

	ids, err = f.registry.Issue(ctx, v, 2, fees(1), "")
	require.NoError(t, err)
	require.Len(t, ids, 2)

	rec, err := f.ledger.Vendor(ctx, v.Address)
	require.NoError(t, err)
	require.Equal(t, 0, rec.Deposit.Sign())
}

func TestIssueInsufficientDepositSubmitsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.actor(t)

	_, err := f.registry.Issue(ctx, v, 5, fees(4), "Acme")
	require.ErrorIs(t, err, registry.ErrInsufficientDeposit)

	nonce, err := f.chain.PendingNonceAt(ctx, v.Address)
	require.NoError(t, err)
	require.Equal(t, uint64(0), nonce)

	_, err = f.ledger.Vendor(ctx, v.Address)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestIssueUnregisteredWithoutName(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Issue(context.Background(), f.actor(t), 1, fees(1), "")
	require.ErrorIs(t, err, registry.ErrNotRegistered)
}

func TestIssueRejectsBadCount(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Issue(context.Background(), f.actor(t), 0, nil, "Acme")
	require.Error(t, err)
}

func TestIssueDuplicateNameRegistersNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.actor(t)
	second := f.actor(t)

	_, err := f.registry.RegisterVendor(ctx, first, "Acme", nil)
	require.NoError(t, err)

	_, err = f.registry.Issue(ctx, second, 2, fees(2), "Acme")
	require.ErrorIs(t, err, registry.ErrDuplicateVendorName)
	require.ErrorIs(t, err, ledger.ErrReverted)

	owned, err := f.ledger.BatteriesOf(ctx, second.Address)
	require.NoError(t, err)
	require.Empty(t, owned)
}

func TestRegisterVendorDuplicateName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.registry.RegisterVendor(ctx, f.actor(t), "Acme", nil)
	require.NoError(t, err)

	_, err = f.registry.RegisterVendor(ctx, f.actor(t), "Acme", nil)
	require.ErrorIs(t, err, registry.ErrDuplicateVendorName)
}

func TestDeposit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.actor(t)

	_, err := f.registry.RegisterVendor(ctx, v, "Acme", big.NewInt(5))
	require.NoError(t, err)

	balance, err := f.registry.Deposit(ctx, v, big.NewInt(7))
	require.NoError(t, err)
	require.Equal(t, int64(12), balance.Int64())

	_, err = f.registry.Deposit(ctx, f.actor(t), big.NewInt(1))
	require.ErrorIs(t, err, registry.ErrLedgerRejected)
}

func TestVendorOfUnknownBattery(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.VendorOf(context.Background(), common.HexToAddress("0xb1"))
	require.ErrorIs(t, err, registry.ErrUnknownVendor)
}
