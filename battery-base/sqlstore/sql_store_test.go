package sqlstore_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/evbattery/batterybase/battery-base/attestation"
	"github.com/evbattery/batterybase/battery-base/firmware"
	"github.com/evbattery/batterybase/battery-base/replacement"
	"github.com/evbattery/batterybase/battery-base/sqlstore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*sqlstore.SQLStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "batterybase.db")
	s, err := sqlstore.NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestReopenKeepsRecords(t *testing.T) {
	ctx := context.Background()
	s, path := newStore(t)

	addr := common.HexToAddress("0x01")
	require.NoError(t, s.SaveAccount(ctx, sqlstore.Account{Name: "car", Address: addr, KeystorePath: "/tmp/car.json"}))
	require.NoError(t, s.Close())

	reopened, err := sqlstore.NewStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	a, err := reopened.Account(ctx, "car")
	require.NoError(t, err)
	require.Equal(t, addr, a.Address)
	require.Equal(t, "/tmp/car.json", a.KeystorePath)
}

func TestOutdatedSchemaIsRecreated(t *testing.T) {
	ctx := context.Background()
	s, path := newStore(t)
	require.NoError(t, s.SaveAccount(ctx, sqlstore.Account{Name: "car", Address: common.HexToAddress("0x01")}))
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE schema_versions SET store = 999 WHERE id = 1;`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := sqlstore.NewStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.Account(ctx, "car")
	require.ErrorIs(t, err, sqlstore.ErrNotFound)
}

func TestAccountsAndLedgerRefs(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	_, err := s.Account(ctx, "nobody")
	require.ErrorIs(t, err, sqlstore.ErrNotFound)

	require.NoError(t, s.SaveAccount(ctx, sqlstore.Account{Name: "vendor", Address: common.HexToAddress("0x02")}))
	require.NoError(t, s.SaveAccount(ctx, sqlstore.Account{Name: "car", Address: common.HexToAddress("0x01")}))
	require.NoError(t, s.SaveAccount(ctx, sqlstore.Account{Name: "car", Address: common.HexToAddress("0x03")}))

	accounts, err := s.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	require.Equal(t, "car", accounts[0].Name)
	require.Equal(t, common.HexToAddress("0x03"), accounts[0].Address)

	_, err = s.LedgerRef(ctx, "1337")
	require.ErrorIs(t, err, sqlstore.ErrNotFound)

	ref := sqlstore.LedgerRef{Network: "1337", Processor: common.HexToAddress("0xba77e41e"), NodeURL: "http://127.0.0.1:8545"}
	require.NoError(t, s.SaveLedgerRef(ctx, ref))

	got, err := s.LedgerRef(ctx, "1337")
	require.NoError(t, err)
	require.Equal(t, ref, *got)
}

func TestDevices(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	d, err := firmware.Provision(ctx, s, key)
	require.NoError(t, err)
	_, err = d.Charge(ctx)
	require.NoError(t, err)
	_, err = d.Charge(ctx)
	require.NoError(t, err)

	src, err := s.Source(ctx, d.Address())
	require.NoError(t, err)
	a, err := src.Attest(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), a.ChargeCount)

	signer, err := a.Recover()
	require.NoError(t, err)
	require.Equal(t, d.Address(), signer)

	devices, err := s.Devices(ctx)
	require.NoError(t, err)
	require.Equal(t, []common.Address{d.Address()}, devices)

	_, err = s.Source(ctx, common.HexToAddress("0xb1"))
	require.ErrorIs(t, err, firmware.ErrDeviceNotFound)
}

func TestAttestationSnapshots(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	battery := common.HexToAddress("0xb1")

	a, err := s.LatestAttestation(ctx, battery)
	require.NoError(t, err)
	require.Nil(t, a)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signed, err := attestation.Sign(key, 10, 1_700_000_000)
	require.NoError(t, err)

	require.NoError(t, s.SaveAttestation(ctx, battery, signed))

	a, err = s.LatestAttestation(ctx, battery)
	require.NoError(t, err)
	require.Equal(t, signed, a)
}

func TestProcessedRequestsKeepFirstAnswer(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	id := uuid.New()

	_, found, err := s.ProcessedRequest(ctx, id, replacement.KindReplacement)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.SaveProcessedRequest(ctx, id, replacement.KindReplacement, []byte(`{"approved":true}`)))
	require.NoError(t, s.SaveProcessedRequest(ctx, id, replacement.KindReplacement, []byte(`{"approved":false}`)))

	response, found, err := s.ProcessedRequest(ctx, id, replacement.KindReplacement)
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, `{"approved":true}`, string(response))

	_, found, err = s.ProcessedRequest(ctx, id, replacement.KindNewBattery)
	require.NoError(t, err)
	require.False(t, found)
}

func TestDeals(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	d := &replacement.Deal{
		ID:         uuid.New(),
		State:      replacement.StateStarted,
		CarBattery: common.HexToAddress("0xb1"),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, s.SaveDeal(ctx, d))

	d.State = replacement.StateNewBatteryIssued
	d.Cost = decimal.RequireFromString("0.005")
	d.UpdatedAt = d.UpdatedAt.Add(time.Second)
	require.NoError(t, s.SaveDeal(ctx, d))

	other := &replacement.Deal{ID: uuid.New(), State: replacement.StateFakeBattery, UpdatedAt: d.UpdatedAt.Add(time.Second)}
	require.NoError(t, s.SaveDeal(ctx, other))

	got, err := s.Deal(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, replacement.StateNewBatteryIssued, got.State)
	require.True(t, got.Cost.Equal(decimal.RequireFromString("0.005")))

	deals, err := s.Deals(ctx)
	require.NoError(t, err)
	require.Len(t, deals, 2)
	require.Equal(t, other.ID, deals[0].ID)

	_, err = s.Deal(ctx, uuid.New())
	require.ErrorIs(t, err, sqlstore.ErrNotFound)
}
