package replacement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/evbattery/batterybase/battery-base/actor"
	"github.com/evbattery/batterybase/battery-base/attestation"
	"github.com/evbattery/batterybase/battery-base/ledger"
	"github.com/evbattery/batterybase/battery-base/metrics"
	"github.com/evbattery/batterybase/battery-base/storageutil/battery"
	"github.com/evbattery/batterybase/battery-base/verification"
	"github.com/google/uuid"
)

const (
	KindReplacement = "replacement"
	KindNewBattery  = "new_battery"
)

// Reasons given to the car with a negative answer.
const (
	ReasonFakeBattery     = "car's battery probably is fake"
	ReasonNotCarsBattery  = "car's battery is not owned by the car"
	ReasonNotOffered      = "offered battery is not owned by the service center"
	ReasonNotApproved     = "no approved replacement for this request"
	ReasonNotTransferred  = "car's battery was not transferred to the service center"
	ReasonRequestMismatch = "request does not match the approved replacement"
)

// Ledger is the part of *ledger.Ledger the workflow uses.
type Ledger interface {
	Battery(ctx context.Context, addr common.Address) (*battery.Battery, error)
	TransferOwnership(ctx context.Context, a *actor.Actor, battery, newOwner common.Address) (*ledger.Confirmation, error)
	InitiateDeal(ctx context.Context, a *actor.Actor, packed *attestation.Packed, serviceCenter common.Address, price *big.Int) (*ledger.Confirmation, error)
}

type Verifier interface {
	Verify(ctx context.Context, battery common.Address) (*verification.Result, error)
}

// RequestStore remembers the answers given per request id and kind. Lookup of an
// unknown request returns found=false.
type RequestStore interface {
	ProcessedRequest(ctx context.Context, id uuid.UUID, kind string) (response []byte, found bool, err error)
	SaveProcessedRequest(ctx context.Context, id uuid.UUID, kind string, response []byte) error
}

// approval is what the service center keeps about an answered RequestReplacement.
type approval struct {
	Request        RequestReplacement       `json:"request"`
	Result         ApprovalResult           `json:"result"`
	CarAttestation *attestation.Attestation `json:"carAttestation,omitempty"`
}

// ServiceCenter answers replacement requests. Requests are handled one at a time and
// answered from the store when they were seen before, so a redelivered request never
// transfers or charges twice.
type ServiceCenter struct {
	actor    *actor.Actor
	ledger   Ledger
	verifier Verifier
	store    RequestStore
	pricing  PricingPolicy
	custody  verification.Sources

	mu sync.Mutex
}

type ServiceCenterOption func(*ServiceCenter)

func WithPricing(p PricingPolicy) ServiceCenterOption {
	return func(sc *ServiceCenter) {
		sc.pricing = p
	}
}

// WithCustody gives access to the batteries kept by the service center, used to
// quote the replacement with the state of the battery handed out.
func WithCustody(s verification.Sources) ServiceCenterOption {
	return func(sc *ServiceCenter) {
		sc.custody = s
	}
}

func NewServiceCenter(a *actor.Actor, l Ledger, v Verifier, store RequestStore, opts ...ServiceCenterOption) *ServiceCenter {
	sc := &ServiceCenter{
		actor:    a,
		ledger:   l,
		verifier: v,
		store:    store,
		pricing:  FixedFee{Amount: DefaultFee},
	}
	for _, o := range opts {
		o(sc)
	}
	return sc
}

func (sc *ServiceCenter) Address() common.Address {
	return sc.actor.Address
}

func (sc *ServiceCenter) lookup(ctx context.Context, id uuid.UUID, kind string, v any) (bool, error) {
	data, found, err := sc.store.ProcessedRequest(ctx, id, kind)
	if err != nil {
		return false, fmt.Errorf("failed to look up request %s: %w", id, err)
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode stored answer of request %s: %w", id, err)
	}
	return true, nil
}

func (sc *ServiceCenter) remember(ctx context.Context, id uuid.UUID, kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode answer of request %s: %w", id, err)
	}
	err = sc.store.SaveProcessedRequest(ctx, id, kind, data)
	if err != nil {
		return fmt.Errorf("failed to store answer of request %s: %w", id, err)
	}
	return nil
}

// RequestReplacement verifies the car's battery and checks both batteries are owned
// by the parties offering them.
func (sc *ServiceCenter) RequestReplacement(ctx context.Context, req RequestReplacement) (*ApprovalResult, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	var seen approval
	found, err := sc.lookup(ctx, req.RequestID, KindReplacement, &seen)
	if err != nil {
		return nil, err
	}
	if found {
		metrics.ReplacementRequests.WithLabelValues(KindReplacement, "replayed").Inc()
		log.Info("replayed replacement request", "request", req.RequestID, "approved", seen.Result.Approved)
		return &seen.Result, nil
	}

	ap, err := sc.approve(ctx, req)
	if err != nil {
		metrics.ReplacementRequests.WithLabelValues(KindReplacement, "failed").Inc()
		return nil, err
	}

	if err := sc.remember(ctx, req.RequestID, KindReplacement, ap); err != nil {
		return nil, err
	}

	result := "approved"
	if !ap.Result.Approved {
		result = "denied"
	}
	metrics.ReplacementRequests.WithLabelValues(KindReplacement, result).Inc()
	log.Info("replacement request answered", "request", req.RequestID, "car", req.CarAddress, "approved", ap.Result.Approved, "reason", ap.Result.Error)

	return &ap.Result, nil
}

func (sc *ServiceCenter) approve(ctx context.Context, req RequestReplacement) (*approval, error) {
	ap := &approval{
		Request: req,
		Result: ApprovalResult{
			RequestID:     req.RequestID,
			ServiceCenter: sc.Address(),
		},
	}
	deny := func(reason string) (*approval, error) {
		ap.Result.Error = reason
		return ap, nil
	}

	res, err := sc.verifier.Verify(ctx, req.CarBattery)
	switch {
	case errors.Is(err, attestation.ErrInvalidSignature), errors.Is(err, verification.ErrBatteryUnavailable):
		log.Warn("car battery could not be verified", "battery", req.CarBattery, "error", err)
		return deny(ReasonFakeBattery)
	case err != nil:
		return nil, fmt.Errorf("failed to verify car battery: %w", err)
	case !res.Verified:
		return deny(ReasonFakeBattery)
	case res.Owner != req.CarAddress:
		return deny(ReasonNotCarsBattery)
	}
	ap.CarAttestation = res.Attestation

	offered, err := sc.ledger.Battery(ctx, req.SCBattery)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return deny(ReasonNotOffered)
	case err != nil:
		return nil, fmt.Errorf("failed to look up offered battery: %w", err)
	case offered.Owner != sc.Address():
		return deny(ReasonNotOffered)
	}

	ap.Result.Approved = true
	return ap, nil
}

// RequestNewBattery hands the offered battery to the car once the car's battery is
// owned by the service center, and returns the work cost. Failed attempts are not
// remembered: the transfer is idempotent, so a redelivery retries it safely. A ledger
// that does not confirm in time yields a *RetryLaterError instead of an answer.
func (sc *ServiceCenter) RequestNewBattery(ctx context.Context, req RequestNewBattery) (*NewBatteryResult, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	var seen NewBatteryResult
	found, err := sc.lookup(ctx, req.RequestID, KindNewBattery, &seen)
	if err != nil {
		return nil, err
	}
	if found {
		metrics.ReplacementRequests.WithLabelValues(KindNewBattery, "replayed").Inc()
		log.Info("replayed new battery request", "request", req.RequestID)
		return &seen, nil
	}

	res := &NewBatteryResult{RequestID: req.RequestID, Battery: req.SCBattery}
	fail := func(reason string) (*NewBatteryResult, error) {
		metrics.ReplacementRequests.WithLabelValues(KindNewBattery, "failed").Inc()
		log.Warn("new battery request refused", "request", req.RequestID, "reason", reason)
		res.Error = reason
		return res, nil
	}

	var ap approval
	found, err = sc.lookup(ctx, req.RequestID, KindReplacement, &ap)
	switch {
	case err != nil:
		return nil, err
	case !found || !ap.Result.Approved:
		return fail(ReasonNotApproved)
	case ap.Request.CarAddress != req.CarAddress || ap.Request.CarBattery != req.CarBattery || ap.Request.SCBattery != req.SCBattery:
		return fail(ReasonRequestMismatch)
	}

	old, err := sc.ledger.Battery(ctx, req.CarBattery)
	switch {
	case transient(err):
		return nil, sc.retryLater(req, fmt.Errorf("failed to look up car battery: %w", err))
	case err != nil:
		return nil, fmt.Errorf("failed to look up car battery: %w", err)
	case old.Owner != sc.Address():
		return fail(ReasonNotTransferred)
	}

	_, err = sc.ledger.TransferOwnership(ctx, sc.actor, req.SCBattery, req.CarAddress)
	switch {
	case transient(err):
		return nil, sc.retryLater(req, fmt.Errorf("failed to transfer battery: %w", err))
	case err != nil:
		return fail(fmt.Sprintf("failed to transfer battery: %v", err))
	}

	cost, err := sc.pricing.Price(sc.quote(ctx, &ap))
	if err != nil {
		return fail(fmt.Sprintf("failed to price replacement: %v", err))
	}
	res.Cost = cost

	if err := sc.remember(ctx, req.RequestID, KindNewBattery, res); err != nil {
		return nil, err
	}

	metrics.ReplacementRequests.WithLabelValues(KindNewBattery, "issued").Inc()
	log.Info("battery handed to car", "request", req.RequestID, "battery", req.SCBattery, "car", req.CarAddress, "cost", cost)

	return res, nil
}

// transient reports ledger failures that a redelivery of the same request can get past.
func transient(err error) bool {
	return errors.Is(err, ledger.ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func (sc *ServiceCenter) retryLater(req RequestNewBattery, err error) error {
	metrics.ReplacementRequests.WithLabelValues(KindNewBattery, "retry").Inc()
	log.Warn("new battery request not finished, awaiting redelivery", "request", req.RequestID, "error", err)
	return &RetryLaterError{Err: err}
}

func (sc *ServiceCenter) quote(ctx context.Context, ap *approval) Quote {
	q := Quote{CarBattery: ap.CarAttestation}
	if sc.custody == nil {
		return q
	}

	src, err := sc.custody.Source(ctx, ap.Request.SCBattery)
	if err == nil {
		q.SCBattery, err = src.Attest(ctx)
	}
	if err != nil {
		log.Warn("failed to read handed out battery", "battery", ap.Request.SCBattery, "error", err)
	}
	return q
}
