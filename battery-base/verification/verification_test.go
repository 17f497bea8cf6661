package verification_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/evbattery/batterybase/battery-base/actor"
	"github.com/evbattery/batterybase/battery-base/attestation"
	"github.com/evbattery/batterybase/battery-base/ledger"
	"github.com/evbattery/batterybase/battery-base/metrics"
	"github.com/evbattery/batterybase/battery-base/registry"
	"github.com/evbattery/batterybase/battery-base/simchain"
	"github.com/evbattery/batterybase/battery-base/storageutil/feepolicy"
	"github.com/evbattery/batterybase/battery-base/verification"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type keySource struct {
	key         *ecdsa.PrivateKey
	chargeCount uint64
}

func (k *keySource) Attest(context.Context) (*attestation.Attestation, error) {
	return attestation.Sign(k.key, k.chargeCount, uint32(time.Now().Unix()))
}

type sources map[common.Address]verification.Source

func (s sources) Source(_ context.Context, addr common.Address) (verification.Source, error) {
	src, ok := s[addr]
	if !ok {
		return nil, errors.New("battery not present")
	}
	return src, nil
}

type brokenSource struct{}

func (brokenSource) Attest(context.Context) (*attestation.Attestation, error) {
	return nil, errors.New("no response from battery")
}

type memSnapshots map[common.Address]attestation.Attestation

func (m memSnapshots) LatestAttestation(_ context.Context, addr common.Address) (*attestation.Attestation, error) {
	a, ok := m[addr]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m memSnapshots) SaveAttestation(_ context.Context, addr common.Address, a *attestation.Attestation) error {
	m[addr] = *a
	return nil
}

type fixture struct {
	ledger   *ledger.Ledger
	registry *registry.Registry
	issued   []registry.Identity
}

func newFixture(t *testing.T, count int) *fixture {
	t.Helper()
	ctx := context.Background()

	chain := simchain.New(big.NewInt(1337))
	l, err := ledger.New(ctx, chain, ledger.Config{PollInitial: 5 * time.Millisecond})
	require.NoError(t, err)
	reg := registry.New(l)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	v := actor.New(key, actor.FeePolicy{})
	chain.Fund(v.Address, new(big.Int).Mul(big.NewInt(10), big.NewInt(params.Ether)))

	deposit := new(big.Int).Mul(feepolicy.DefaultBatteryFee, big.NewInt(int64(count)))
	issued, err := reg.Issue(ctx, v, count, deposit, "Acme Cells")
	require.NoError(t, err)

	return &fixture{ledger: l, registry: reg, issued: issued}
}

func TestIssuedBatteryIsVerified(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	svc := verification.New(f.ledger, f.registry)

	before := testutil.ToFloat64(metrics.Verifications.WithLabelValues("verified"))

	res, err := svc.VerifyFrom(ctx, &keySource{key: f.issued[0].Key})
	require.NoError(t, err)
	require.True(t, res.Verified)
	require.Equal(t, uint64(0), res.ChargeCount)
	require.Equal(t, "Acme Cells", res.VendorName)
	require.Equal(t, f.issued[0].Address, res.Battery)
	require.NotZero(t, res.IssuedAtBlock)
	require.NotEqual(t, [4]byte{}, res.VendorID)

	require.Equal(t, before+1, testutil.ToFloat64(metrics.Verifications.WithLabelValues("verified")))
}

func TestUnregisteredKeyIsNotVerified(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	svc := verification.New(f.ledger, f.registry)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	res, err := svc.VerifyFrom(ctx, &keySource{key: key, chargeCount: 3})
	require.NoError(t, err)
	require.False(t, res.Verified)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), res.Battery)
	require.Empty(t, res.VendorName)
}

func TestMalformedSignatureIsAnError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	svc := verification.New(f.ledger, f.registry)

	a, err := attestation.Sign(f.issued[0].Key, 1, 1000)
	require.NoError(t, err)
	a.V = 30

	_, err = svc.VerifyAttestation(ctx, a)
	require.ErrorIs(t, err, attestation.ErrInvalidSignature)
}

func TestTamperedAttestationIsNotVerified(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	svc := verification.New(f.ledger, f.registry)

	a, err := attestation.Sign(f.issued[0].Key, 7, 1000)
	require.NoError(t, err)
	a.ChargeCount = 8

	res, err := svc.VerifyAttestation(ctx, a)
	if err != nil {
		require.ErrorIs(t, err, attestation.ErrInvalidSignature)
		return
	}
	require.False(t, res.Verified)
	require.NotEqual(t, f.issued[0].Address, res.Battery)
}

func TestUnavailableSource(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	svc := verification.New(f.ledger, f.registry, verification.WithSources(sources{}))

	_, err := svc.VerifyFrom(ctx, brokenSource{})
	require.ErrorIs(t, err, verification.ErrBatteryUnavailable)

	_, err = svc.Verify(ctx, f.issued[0].Address)
	require.ErrorIs(t, err, verification.ErrBatteryUnavailable)
}

func TestVerifyRejectsForeignIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)

	// the unit presented as the first battery signs with the second one's key
	src := sources{
		f.issued[0].Address: &keySource{key: f.issued[1].Key},
		f.issued[1].Address: &keySource{key: f.issued[1].Key},
	}
	svc := verification.New(f.ledger, f.registry, verification.WithSources(src))

	res, err := svc.Verify(ctx, f.issued[0].Address)
	require.NoError(t, err)
	require.False(t, res.Verified)

	res, err = svc.Verify(ctx, f.issued[1].Address)
	require.NoError(t, err)
	require.True(t, res.Verified)
}

func TestRegressedCounter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	snapshots := memSnapshots{}
	svc := verification.New(f.ledger, f.registry, verification.WithSnapshots(snapshots))

	src := &keySource{key: f.issued[0].Key, chargeCount: 5}
	res, err := svc.VerifyFrom(ctx, src)
	require.NoError(t, err)
	require.True(t, res.Verified)
	require.Equal(t, uint64(5), snapshots[f.issued[0].Address].ChargeCount)

	src.chargeCount = 3
	res, err = svc.VerifyFrom(ctx, src)
	require.NoError(t, err)
	require.False(t, res.Verified)
	require.True(t, res.Regressed)
	require.Equal(t, uint64(5), snapshots[f.issued[0].Address].ChargeCount)

	src.chargeCount = 6
	res, err = svc.VerifyFrom(ctx, src)
	require.NoError(t, err)
	require.True(t, res.Verified)
}
