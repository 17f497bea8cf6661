package replacement

import (
	"errors"
	"math/big"

	"github.com/evbattery/batterybase/battery-base/attestation"
	"github.com/shopspring/decimal"
)

// DefaultFee is the work cost of a service center without a configured policy.
var DefaultFee = decimal.RequireFromString("0.005")

// Quote carries the attested states of both batteries of a replacement. SCBattery is
// nil when the service center could not read its own unit.
type Quote struct {
	CarBattery *attestation.Attestation
	SCBattery  *attestation.Attestation
}

// PricingPolicy computes the work cost of a replacement, in ether.
type PricingPolicy interface {
	Price(q Quote) (decimal.Decimal, error)
}

type FixedFee struct {
	Amount decimal.Decimal
}

func (f FixedFee) Price(Quote) (decimal.Decimal, error) {
	return f.Amount, nil
}

// WearFee charges Base plus PerCycle for every charge cycle the car's battery has
// above the battery it receives.
type WearFee struct {
	Base     decimal.Decimal
	PerCycle decimal.Decimal
}

func (w WearFee) Price(q Quote) (decimal.Decimal, error) {
	if q.CarBattery == nil || q.SCBattery == nil {
		return decimal.Zero, errors.New("wear fee needs the attestations of both batteries")
	}
	if q.CarBattery.ChargeCount <= q.SCBattery.ChargeCount {
		return w.Base, nil
	}
	cycles := decimal.NewFromBigInt(new(big.Int).SetUint64(q.CarBattery.ChargeCount-q.SCBattery.ChargeCount), 0)
	return w.Base.Add(w.PerCycle.Mul(cycles)), nil
}

// Wei converts an amount of ether to wei, dropping fractions of a wei.
func Wei(ether decimal.Decimal) decimal.Decimal {
	return ether.Shift(18).Truncate(0)
}
