// Package verification decides whether an attestation was produced by a battery that
// was issued through the registry, and reports its lineage.
package verification

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/evbattery/batterybase/battery-base/attestation"
	"github.com/evbattery/batterybase/battery-base/ledger"
	"github.com/evbattery/batterybase/battery-base/metrics"
	"github.com/evbattery/batterybase/battery-base/registry"
	"github.com/evbattery/batterybase/battery-base/storageutil/battery"
)

// ErrBatteryUnavailable is returned when no attestation could be obtained from the
// battery. It is distinct from a negative verdict.
var ErrBatteryUnavailable = errors.New("battery attestation unavailable")

// Source produces attestations of one battery; *firmware.Device is one.
type Source interface {
	Attest(ctx context.Context) (*attestation.Attestation, error)
}

// Sources gives access to the battery with the given identity, e.g. the unit
// physically presented by the counterparty.
type Sources interface {
	Source(ctx context.Context, battery common.Address) (Source, error)
}

type Batteries interface {
	Battery(ctx context.Context, addr common.Address) (*battery.Battery, error)
}

type Vendors interface {
	VendorOf(ctx context.Context, battery common.Address) (*registry.VendorInfo, error)
}

// Snapshots keeps the latest attestation seen per battery. LatestAttestation returns
// nil without error when none was seen.
type Snapshots interface {
	LatestAttestation(ctx context.Context, battery common.Address) (*attestation.Attestation, error)
	SaveAttestation(ctx context.Context, battery common.Address, a *attestation.Attestation) error
}

// Result is the verdict on one attestation. Verified is true only if the signer is a
// registered battery, matches the expected identity when one was given, and its
// charge counter did not go back compared to the last attestation seen.
type Result struct {
	Verified      bool           `json:"verified"`
	ChargeCount   uint64         `json:"chargeCount"`
	Timestamp     uint32         `json:"timestamp"`
	VendorID      [4]byte        `json:"vendorId"`
	VendorName    string         `json:"vendorName"`
	Battery       common.Address `json:"battery"`
	Owner         common.Address `json:"owner"`
	IssuedAtBlock uint64         `json:"issuedAtBlock"`
	Regressed     bool           `json:"regressed,omitempty"`

	Attestation *attestation.Attestation `json:"attestation"`
}

type Service struct {
	batteries Batteries
	vendors   Vendors
	sources   Sources
	snapshots Snapshots
}

type Option func(*Service)

func WithSources(s Sources) Option {
	return func(svc *Service) {
		svc.sources = s
	}
}

func WithSnapshots(s Snapshots) Option {
	return func(svc *Service) {
		svc.snapshots = s
	}
}

func New(batteries Batteries, vendors Vendors, opts ...Option) *Service {
	s := &Service{batteries: batteries, vendors: vendors}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Verify obtains an attestation from the battery with identity ref and verifies it.
// A battery that answers with a signature of another identity is not verified.
func (s *Service) Verify(ctx context.Context, ref common.Address) (*Result, error) {
	if s.sources == nil {
		return nil, fmt.Errorf("%w: no battery source configured", ErrBatteryUnavailable)
	}

	src, err := s.sources.Source(ctx, ref)
	if err != nil {
		metrics.Verifications.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("%w: %s: %w", ErrBatteryUnavailable, ref.Hex(), err)
	}

	res, err := s.VerifyFrom(ctx, src)
	if err != nil {
		return nil, err
	}

	if res.Battery != ref {
		log.Warn("battery answered with a foreign identity", "expected", ref, "signer", res.Battery)
		if res.Verified {
			metrics.Verifications.WithLabelValues("mismatch").Inc()
		}
		res.Verified = false
	}
	return res, nil
}

// VerifyFrom pulls one attestation from src and verifies it.
func (s *Service) VerifyFrom(ctx context.Context, src Source) (*Result, error) {
	a, err := src.Attest(ctx)
	if err != nil {
		metrics.Verifications.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("%w: %w", ErrBatteryUnavailable, err)
	}
	return s.VerifyAttestation(ctx, a)
}

// VerifyAttestation recovers the signer of a and checks it against the ledger. An
// unregistered signer yields Verified=false without error; a malformed signature
// yields attestation.ErrInvalidSignature.
func (s *Service) VerifyAttestation(ctx context.Context, a *attestation.Attestation) (*Result, error) {
	signer, err := a.Recover()
	if err != nil {
		metrics.Verifications.WithLabelValues("invalid_signature").Inc()
		return nil, err
	}

	res := &Result{
		ChargeCount: a.ChargeCount,
		Timestamp:   a.Timestamp,
		Battery:     signer,
		Attestation: a,
	}

	b, err := s.batteries.Battery(ctx, signer)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		metrics.Verifications.WithLabelValues("unregistered").Inc()
		log.Info("attestation signed by unregistered key", "signer", signer)
		return res, nil
	case err != nil:
		return nil, fmt.Errorf("failed to look up battery %s: %w", signer.Hex(), err)
	}

	res.Owner = b.Owner
	res.IssuedAtBlock = b.IssuedAtBlock

	v, err := s.vendors.VendorOf(ctx, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vendor of %s: %w", signer.Hex(), err)
	}
	res.VendorID = v.ID
	res.VendorName = v.Name

	if s.snapshots != nil {
		regressed, err := s.checkCounter(ctx, signer, a)
		if err != nil {
			return nil, err
		}
		res.Regressed = regressed
	}

	if res.Regressed {
		metrics.Verifications.WithLabelValues("regressed").Inc()
		log.Warn("battery charge counter went back", "battery", signer, "chargeCount", a.ChargeCount)
		return res, nil
	}

	res.Verified = true
	metrics.Verifications.WithLabelValues("verified").Inc()
	return res, nil
}

func (s *Service) checkCounter(ctx context.Context, signer common.Address, a *attestation.Attestation) (bool, error) {
	last, err := s.snapshots.LatestAttestation(ctx, signer)
	if err != nil {
		return false, fmt.Errorf("failed to load last attestation of %s: %w", signer.Hex(), err)
	}
	if last != nil && a.ChargeCount < last.ChargeCount {
		return true, nil
	}

	err = s.snapshots.SaveAttestation(ctx, signer, a)
	if err != nil {
		return false, fmt.Errorf("failed to save attestation of %s: %w", signer.Hex(), err)
	}
	return false, nil
}
