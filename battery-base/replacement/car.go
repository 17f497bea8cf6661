package replacement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/evbattery/batterybase/battery-base/actor"
	"github.com/evbattery/batterybase/battery-base/attestation"
	"github.com/evbattery/batterybase/battery-base/ledger"
	"github.com/evbattery/batterybase/battery-base/metrics"
	"github.com/evbattery/batterybase/battery-base/storageutil/deal"
	"github.com/evbattery/batterybase/battery-base/verification"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Deal is the car's record of one replacement. It is saved at every transition.
type Deal struct {
	ID             uuid.UUID                `json:"id"`
	State          State                    `json:"state"`
	CarAddress     common.Address           `json:"carAddress"`
	ServiceCenter  common.Address           `json:"serviceCenter"`
	CarBattery     common.Address           `json:"carBattery"`
	SCBattery      common.Address           `json:"scBattery"`
	CarAttestation *attestation.Attestation `json:"carAttestation,omitempty"`
	SCAttestation  *attestation.Attestation `json:"scAttestation,omitempty"`
	Approved       bool                     `json:"approved"`
	Cost           decimal.Decimal          `json:"cost"`
	Error          string                   `json:"error,omitempty"`
	LedgerDeal     common.Hash              `json:"ledgerDeal"`
	UpdatedAt      time.Time                `json:"updatedAt"`
}

type DealStore interface {
	SaveDeal(ctx context.Context, d *Deal) error
}

// Car drives the replacement of its battery against a service center.
type Car struct {
	actor    *actor.Actor
	ledger   Ledger
	verifier Verifier
	own      verification.Sources
	deals    DealStore
	cfg      Config
}

// NewCar builds the workflow of the car a. own gives access to the car's own battery,
// deals keeps the deal snapshots and may be nil.
func NewCar(a *actor.Actor, l Ledger, v Verifier, own verification.Sources, deals DealStore, cfg Config) *Car {
	return &Car{
		actor:    a,
		ledger:   l,
		verifier: v,
		own:      own,
		deals:    deals,
		cfg:      cfg.withDefaults(),
	}
}

type run struct {
	car  *Car
	deal *Deal
}

func (r *run) save(ctx context.Context) {
	if r.car.deals == nil {
		return
	}
	r.deal.UpdatedAt = time.Now()
	if err := r.car.deals.SaveDeal(ctx, r.deal); err != nil {
		log.Warn("failed to save deal snapshot", "deal", r.deal.ID, "state", r.deal.State, "error", err)
	}
}

// advance moves the deal to the next state of the success path.
func (r *run) advance(ctx context.Context) {
	next, ok := r.deal.State.next()
	if !ok {
		panic(fmt.Sprintf("no state after %s", r.deal.State))
	}
	r.deal.State = next
	log.Info("replacement advanced", "deal", r.deal.ID, "state", next)
	r.save(ctx)
}

func (r *run) abort(ctx context.Context, state State, reason string, err error) error {
	step, _ := r.deal.State.next()
	if ctx.Err() != nil && state != StateAborted {
		state, reason = StateAborted, "workflow cancelled: "+reason
	}

	r.deal.State = state
	r.deal.Error = reason
	// the snapshot outlives a cancelled workflow
	r.save(context.WithoutCancel(ctx))

	metrics.WorkflowOutcomes.WithLabelValues(string(state)).Inc()
	log.Warn("replacement failed", "deal", r.deal.ID, "state", state, "step", step, "reason", reason, "error", err)

	return &AbortError{State: state, Step: step, Reason: reason, Err: err}
}

// Replace swaps carBattery for scBattery at the service center reached through sc.
// The steps are strictly ordered: the offered battery is verified before anything
// is requested, and the car's battery is ceded on the ledger before the new one is
// requested. The returned deal carries the work cost. On failure the deal is
// returned along with an *AbortError.
func (c *Car) Replace(ctx context.Context, sc ServiceCenterClient, carBattery, scBattery common.Address) (*Deal, error) {
	r := &run{
		car: c,
		deal: &Deal{
			ID:         uuid.New(),
			State:      StateStarted,
			CarAddress: c.actor.Address,
			CarBattery: carBattery,
			SCBattery:  scBattery,
		},
	}
	r.save(ctx)
	log.Info("replacement started", "deal", r.deal.ID, "carBattery", carBattery, "scBattery", scBattery)

	err := c.replace(ctx, r, sc)
	if err != nil {
		return r.deal, err
	}

	metrics.WorkflowOutcomes.WithLabelValues(string(r.deal.State)).Inc()
	return r.deal, nil
}

func (c *Car) replace(ctx context.Context, r *run, sc ServiceCenterClient) error {
	d := r.deal

	// Started -> BatteryVerified
	own, err := c.attestOwn(ctx, d.CarBattery)
	if err != nil {
		return r.abort(ctx, StateAborted, "car battery unavailable", err)
	}
	d.CarAttestation = own

	res, err := c.verifier.Verify(ctx, d.SCBattery)
	switch {
	case errors.Is(err, attestation.ErrInvalidSignature):
		return r.abort(ctx, StateFakeBattery, "service center battery signature is malformed", err)
	case errors.Is(err, verification.ErrBatteryUnavailable):
		return r.abort(ctx, StateAborted, "service center battery unavailable", err)
	case err != nil:
		return r.abort(ctx, StateAborted, "failed to verify service center battery", err)
	case !res.Verified:
		return r.abort(ctx, StateFakeBattery, "service center battery is not a registered battery", nil)
	}
	d.SCAttestation = res.Attestation
	r.advance(ctx)

	// BatteryVerified -> ReplacementRequested -> ReplacementApproved
	r.advance(ctx)
	approval, err := deliver(ctx, c.cfg, KindReplacement, func(ctx context.Context) (*ApprovalResult, error) {
		return sc.RequestReplacement(ctx, RequestReplacement{
			RequestID:  d.ID,
			CarBattery: d.CarBattery,
			SCBattery:  d.SCBattery,
			CarAddress: d.CarAddress,
		})
	})
	switch {
	case errors.Is(err, ErrUnreachable):
		return r.abort(ctx, StateNoResponse, "no answer to the replacement request", err)
	case err != nil:
		return r.abort(ctx, StateApprovalDenied, "service center failed to answer the replacement request", err)
	case !approval.Approved:
		return r.abort(ctx, StateApprovalDenied, approval.Error, nil)
	}
	d.Approved = true
	d.ServiceCenter = approval.ServiceCenter

	if res.Owner != d.ServiceCenter {
		return r.abort(ctx, StateAborted, "offered battery is not owned by the approving service center", nil)
	}
	r.advance(ctx)

	// ReplacementApproved -> OwnershipTransferred
	_, err = c.ledger.TransferOwnership(ctx, c.actor, d.CarBattery, d.ServiceCenter)
	if err != nil {
		return r.abort(ctx, StateTransferFailed, "failed to transfer car battery to the service center", err)
	}
	r.advance(ctx)

	// OwnershipTransferred -> NewBatteryIssued
	issued, err := deliver(ctx, c.cfg, KindNewBattery, func(ctx context.Context) (*NewBatteryResult, error) {
		return sc.RequestNewBattery(ctx, RequestNewBattery{
			RequestID:  d.ID,
			CarAddress: d.CarAddress,
			CarBattery: d.CarBattery,
			SCBattery:  d.SCBattery,
		})
	})
	switch {
	case errors.Is(err, ErrUnreachable):
		return r.abort(ctx, StateNoResponse, "no answer to the new battery request", err)
	case err != nil:
		return r.abort(ctx, StateIssueFailed, "service center failed to issue the new battery", err)
	case issued.Error != "":
		return r.abort(ctx, StateIssueFailed, issued.Error, nil)
	}

	b, err := c.ledger.Battery(ctx, d.SCBattery)
	switch {
	case err != nil:
		return r.abort(ctx, StateIssueFailed, "failed to confirm ownership of the new battery", err)
	case b.Owner != d.CarAddress:
		return r.abort(ctx, StateIssueFailed, "new battery is not owned by the car", nil)
	}
	d.Cost = issued.Cost
	r.advance(ctx)

	log.Info("replacement finished", "deal", d.ID, "cost", d.Cost)

	if !c.cfg.SkipDeal {
		c.recordDeal(ctx, r)
	}
	return nil
}

func (c *Car) attestOwn(ctx context.Context, addr common.Address) (*attestation.Attestation, error) {
	src, err := c.own.Source(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", verification.ErrBatteryUnavailable, err)
	}
	a, err := src.Attest(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", verification.ErrBatteryUnavailable, err)
	}
	return a, nil
}

// recordDeal records the finished swap on the ledger. A failure is logged and does
// not undo the swap.
func (c *Car) recordDeal(ctx context.Context, r *run) {
	d := r.deal

	packed, err := attestation.Pack(d.CarAttestation, d.SCAttestation)
	if err != nil {
		log.Warn("failed to pack deal attestations", "deal", d.ID, "error", err)
		return
	}

	price := Wei(d.Cost).BigInt()
	conf, err := c.ledger.InitiateDeal(ctx, c.actor, packed, d.ServiceCenter, price)
	if err != nil {
		log.Warn("failed to record deal on the ledger", "deal", d.ID, "error", err)
		return
	}

	if conf.Inferred {
		log.Warn("deal recorded but its key is unknown", "deal", d.ID, "tx", conf.TxHash)
		return
	}

	d.LedgerDeal = deal.DeriveKey(conf.TxHash, 0)
	r.save(ctx)
	log.Info("deal recorded on the ledger", "deal", d.ID, "key", d.LedgerDeal)
}

var _ Ledger = (*ledger.Ledger)(nil)
