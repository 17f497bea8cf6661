package ledger

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evbattery/batterybase/battery-base/address"
)

type Config struct {
	// Processor receives management transactions.
	Processor common.Address
	// ConfirmTimeout bounds a single wait for a receipt.
	ConfirmTimeout time.Duration
	// PollInitial and PollMax bound the exponential backoff between receipt polls.
	PollInitial time.Duration
	PollMax     time.Duration
	// MaxAttempts is the number of waits made for a transaction before a timeout is
	// surfaced. Between waits the ledger state is inspected; nothing is resubmitted.
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{
		Processor:      address.BatteryManagementProcessorAddress,
		ConfirmTimeout: 120 * time.Second,
		PollInitial:    250 * time.Millisecond,
		PollMax:        5 * time.Second,
		MaxAttempts:    3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Processor == (common.Address{}) {
		c.Processor = d.Processor
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = d.ConfirmTimeout
	}
	if c.PollInitial <= 0 {
		c.PollInitial = d.PollInitial
	}
	if c.PollMax < c.PollInitial {
		c.PollMax = max(d.PollMax, c.PollInitial)
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	return c
}
