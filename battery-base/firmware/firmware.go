// Package firmware models the battery side of the protocol: a device holding the
// battery key and a charge counter that only moves forward, and that signs its
// current state on request.
package firmware

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/evbattery/batterybase/battery-base/attestation"
)

var (
	ErrDeviceNotFound  = errors.New("battery device not found")
	ErrCounterOverflow = errors.New("charge counter overflow")
)

// State is the persisted part of a device.
type State struct {
	Address     common.Address
	Key         *ecdsa.PrivateKey
	ChargeCount uint64
}

// Store persists device state. It is implemented by sqlstore.
type Store interface {
	LoadDevice(ctx context.Context, addr common.Address) (*State, error)
	SaveDevice(ctx context.Context, st *State) error
}

type Option func(*Device)

// WithClock replaces the wall clock used for attestation timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Device) {
		d.now = now
	}
}

type Device struct {
	mu    sync.Mutex
	state State
	store Store
	now   func() time.Time
}

// Provision stores a new device for key with a zero charge counter.
func Provision(ctx context.Context, store Store, key *ecdsa.PrivateKey, opts ...Option) (*Device, error) {
	st := &State{
		Address: crypto.PubkeyToAddress(key.PublicKey),
		Key:     key,
	}
	if err := store.SaveDevice(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to provision device: %w", err)
	}
	return newDevice(*st, store, opts), nil
}

// Open loads a provisioned device.
func Open(ctx context.Context, store Store, addr common.Address, opts ...Option) (*Device, error) {
	st, err := store.LoadDevice(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %s: %w", addr.Hex(), err)
	}
	return newDevice(*st, store, opts), nil
}

func newDevice(st State, store Store, opts []Option) *Device {
	d := &Device{state: st, store: store, now: time.Now}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Device) Address() common.Address {
	return d.state.Address
}

func (d *Device) ChargeCount() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.ChargeCount
}

// Charge records one charge cycle and returns the new counter. The counter is
// persisted before it is used.
func (d *Device) Charge(ctx context.Context) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state.ChargeCount == math.MaxUint64 {
		return 0, ErrCounterOverflow
	}

	next := d.state
	next.ChargeCount++

	if err := d.store.SaveDevice(ctx, &next); err != nil {
		return 0, fmt.Errorf("failed to save charge counter: %w", err)
	}
	d.state = next

	log.Debug("battery charged", "battery", d.state.Address, "cycles", d.state.ChargeCount)
	return d.state.ChargeCount, nil
}

// Attest signs the current charge counter together with the device clock.
func (d *Device) Attest(ctx context.Context) (*attestation.Attestation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ts := d.now().Unix()
	if ts < 0 || ts > math.MaxUint32 {
		return nil, fmt.Errorf("failed to attest: clock %d outside the timestamp range", ts)
	}

	return attestation.Sign(d.state.Key, d.state.ChargeCount, uint32(ts))
}
