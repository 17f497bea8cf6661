package ledger_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/evbattery/batterybase/battery-base/actor"
	"github.com/evbattery/batterybase/battery-base/ledger"
	"github.com/evbattery/batterybase/battery-base/mgmttx"
	"github.com/evbattery/batterybase/battery-base/simchain"
	"github.com/evbattery/batterybase/battery-base/storageutil/feepolicy"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var chainID = big.NewInt(1337)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.Ether))
}

func fastConfig() ledger.Config {
	cfg := ledger.DefaultConfig()
	cfg.ConfirmTimeout = 200 * time.Millisecond
	cfg.PollInitial = 5 * time.Millisecond
	cfg.PollMax = 20 * time.Millisecond
	cfg.MaxAttempts = 2
	return cfg
}

func newActor(t *testing.T, chain *simchain.Chain, funds *big.Int) *actor.Actor {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	a := actor.New(key, actor.FeePolicy{})
	if funds != nil {
		chain.Fund(a.Address, funds)
	}
	return a
}

func newLedger(t *testing.T, backend ledger.Backend) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New(context.Background(), backend, fastConfig())
	require.NoError(t, err)
	return l
}

func randomAddresses(t *testing.T, n int) []common.Address {
	t.Helper()
	out := make([]common.Address, n)
	for i := range out {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		out[i] = crypto.PubkeyToAddress(key.PublicKey)
	}
	return out
}

func TestRegisterVendorAndBatteries(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID)
	l := newLedger(t, chain)
	v := newActor(t, chain, ether(10))

	_, err := l.RegisterVendor(ctx, v, "Acme Cells", ether(1))
	require.NoError(t, err)

	batteries := randomAddresses(t, 5)
	c, err := l.RegisterBatteries(ctx, v, batteries)
	require.NoError(t, err)
	require.Len(t, c.Logs, 5)

	rec, err := l.Vendor(ctx, v.Address)
	require.NoError(t, err)
	require.Equal(t, "Acme Cells", rec.Name)

	expectedDeposit := new(big.Int).Sub(ether(1), new(big.Int).Mul(feepolicy.DefaultBatteryFee, big.NewInt(5)))
	require.Equal(t, 0, expectedDeposit.Cmp(rec.Deposit))

	byName, err := l.VendorByName(ctx, "Acme Cells")
	require.NoError(t, err)
	require.Equal(t, v.Address, byName.Address)

	owned, err := l.BatteriesOf(ctx, v.Address)
	require.NoError(t, err)
	require.ElementsMatch(t, batteries, owned)

	for _, b := range batteries {
		rec, err := l.Battery(ctx, b)
		require.NoError(t, err)
		require.Equal(t, v.Address, rec.Owner)
		require.Equal(t, c.BlockNumber, rec.IssuedAtBlock)
	}

	fee, err := l.BatteryFee(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, feepolicy.DefaultBatteryFee.Cmp(fee))
}

func TestUnknownRecords(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, simchain.New(chainID))

	_, err := l.Battery(ctx, common.HexToAddress("0xb1"))
	require.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = l.Vendor(ctx, common.HexToAddress("0x01"))
	require.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = l.VendorByName(ctx, "nobody")
	require.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = l.Deal(ctx, common.HexToHash("0x01"))
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestInsufficientFundsIsCheckedBeforeSubmission(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID)
	l := newLedger(t, chain)
	poor := newActor(t, chain, big.NewInt(1000))

	_, err := l.RegisterVendor(ctx, poor, "Poor", nil)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	nonce, err := chain.PendingNonceAt(ctx, poor.Address)
	require.NoError(t, err)
	require.Equal(t, uint64(0), nonce)
}

func TestRevertCarriesReason(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID)
	l := newLedger(t, chain)
	stranger := newActor(t, chain, ether(1))

	_, err := l.RegisterBatteries(ctx, stranger, randomAddresses(t, 1))
	require.ErrorIs(t, err, ledger.ErrReverted)

	var revertErr *ledger.RevertError
	require.True(t, errors.As(err, &revertErr))
	require.True(t, revertErr.Matches(mgmttx.ErrNotVendor))
	require.False(t, revertErr.Matches(mgmttx.ErrInsufficientDeposit))
}

func TestTransferOwnershipIsIdempotent(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID)
	l := newLedger(t, chain)
	v := newActor(t, chain, ether(10))
	car := common.HexToAddress("0xca")

	_, err := l.RegisterVendor(ctx, v, "Acme", ether(1))
	require.NoError(t, err)
	cell := randomAddresses(t, 1)[0]
	_, err = l.RegisterBatteries(ctx, v, []common.Address{cell})
	require.NoError(t, err)

	c, err := l.TransferOwnership(ctx, v, cell, car)
	require.NoError(t, err)
	require.False(t, c.AlreadyApplied)

	balance, err := chain.BalanceAt(ctx, v.Address, nil)
	require.NoError(t, err)

	c, err = l.TransferOwnership(ctx, v, cell, car)
	require.NoError(t, err)
	require.True(t, c.AlreadyApplied)

	after, err := chain.BalanceAt(ctx, v.Address, nil)
	require.NoError(t, err)
	require.Equal(t, 0, balance.Cmp(after), "replayed transfer must not charge fees")

	rec, err := l.Battery(ctx, cell)
	require.NoError(t, err)
	require.Equal(t, car, rec.Owner)

	history, err := l.OwnershipHistory(ctx, cell)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, common.Address{}, history[0].From)
	require.Equal(t, v.Address, history[0].To)
	require.Equal(t, v.Address, history[1].From)
	require.Equal(t, car, history[1].To)
}

func TestTransferOwnershipOfForeignBattery(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID)
	l := newLedger(t, chain)
	v := newActor(t, chain, ether(10))
	thief := newActor(t, chain, ether(1))

	_, err := l.RegisterVendor(ctx, v, "Acme", ether(1))
	require.NoError(t, err)
	cell := randomAddresses(t, 1)[0]
	_, err = l.RegisterBatteries(ctx, v, []common.Address{cell})
	require.NoError(t, err)

	_, err = l.TransferOwnership(ctx, thief, cell, thief.Address)
	require.ErrorIs(t, err, ledger.ErrOwnershipMismatch)

	_, err = l.TransferOwnership(ctx, v, common.HexToAddress("0xdead"), thief.Address)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestWaitTimesOut(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID, simchain.WithAutoMine(false))
	l := newLedger(t, chain)
	sc := newActor(t, chain, ether(1))

	_, err := l.RegisterServiceCenter(ctx, sc)
	require.ErrorIs(t, err, ledger.ErrTimeout)
	require.NotErrorIs(t, err, ledger.ErrReverted)

	// mined late, the state now shows the registration
	chain.Commit()
	ok, err := l.IsServiceCenter(ctx, sc.Address)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWaitHonoursCallerCancellation(t *testing.T) {
	chain := simchain.New(chainID, simchain.WithAutoMine(false))
	l := newLedger(t, chain)
	sc := newActor(t, chain, ether(1))

	p, err := l.SubmitDeposit(context.Background(), sc, big.NewInt(0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = l.Wait(ctx, p)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ledger.ErrTimeout)
}

// lostReceipts never reports a receipt, as a node that dropped its index would.
type lostReceipts struct {
	*simchain.Chain
}

func (lostReceipts) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func TestTimeoutResolvedByStateInspection(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID)
	l := newLedger(t, lostReceipts{chain})
	sc := newActor(t, chain, ether(1))

	c, err := l.RegisterServiceCenter(ctx, sc)
	require.NoError(t, err)
	require.True(t, c.Inferred)

	nonce, err := chain.PendingNonceAt(ctx, sc.Address)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce, "the transaction must not be resubmitted")
}

func TestWaitAllYieldsEveryHandle(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	chain := simchain.New(chainID)
	l := newLedger(t, chain)

	var pendings []*ledger.Pending
	for range 4 {
		a := newActor(t, chain, ether(1))
		p, err := l.SubmitDeposit(ctx, a, big.NewInt(0))
		require.NoError(t, err)
		pendings = append(pendings, p)
	}

	seen := map[common.Hash]bool{}
	for r := range l.WaitAll(ctx, pendings...) {
		// deposits from accounts that are not vendors revert
		require.ErrorIs(t, r.Err, ledger.ErrReverted)
		seen[r.Pending.TxHash] = true
	}
	require.Len(t, seen, 4)
}

func TestConfirmAllKeepsOrder(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID)
	l := newLedger(t, chain)
	v := newActor(t, chain, ether(10))

	first, err := l.SubmitRegisterVendor(ctx, v, "Acme", ether(1))
	require.NoError(t, err)
	second, err := l.SubmitRegisterBatteries(ctx, v, randomAddresses(t, 2))
	require.NoError(t, err)

	confirmations, err := l.ConfirmAll(ctx, first, second)
	require.NoError(t, err)
	require.Len(t, confirmations, 2)
	require.Equal(t, first.TxHash, confirmations[0].TxHash)
	require.Equal(t, second.TxHash, confirmations[1].TxHash)
	require.Equal(t, second.Nonce, first.Nonce+1)
}

func TestConfigure(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID)
	l := newLedger(t, chain)
	admin := newActor(t, chain, ether(1))
	other := newActor(t, chain, ether(1))

	_, err := l.Configure(ctx, admin, big.NewInt(123))
	require.NoError(t, err)

	fee, err := l.BatteryFee(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(123), fee.Int64())

	_, err = l.Configure(ctx, other, big.NewInt(1))
	var revertErr *ledger.RevertError
	require.ErrorAs(t, err, &revertErr)
	require.True(t, revertErr.Matches(mgmttx.ErrNotAdmin))
}

func TestRevertReasonSeesEarlierTransactionsOfTheBlock(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(chainID, simchain.WithAutoMine(false))
	l := newLedger(t, chain)
	vendor := newActor(t, chain, ether(1))

	registered, err := l.SubmitRegisterVendor(ctx, vendor, "Acme Cells", big.NewInt(0))
	require.NoError(t, err)
	batteries, err := l.SubmitRegisterBatteries(ctx, vendor, randomAddresses(t, 2))
	require.NoError(t, err)
	require.Equal(t, uint64(1), chain.Commit())

	_, err = l.Wait(ctx, registered)
	require.NoError(t, err)

	// the vendor is registered by the time the batteries are, only the deposit is short
	_, err = l.Wait(ctx, batteries)
	var revertErr *ledger.RevertError
	require.ErrorAs(t, err, &revertErr)
	require.True(t, revertErr.Matches(mgmttx.ErrInsufficientDeposit))
	require.False(t, revertErr.Matches(mgmttx.ErrNotVendor))
}
