package replacement

import "time"

type Config struct {
	// RequestTimeout bounds one delivery attempt.
	RequestTimeout time.Duration
	// DeliveryTimeout bounds all attempts of one message. When it elapses without an
	// answer the workflow ends in NoResponse.
	DeliveryTimeout time.Duration
	RetryInitial    time.Duration
	RetryMax        time.Duration
	// SkipDeal leaves the finished replacement unrecorded on the ledger.
	SkipDeal bool
}

func DefaultConfig() Config {
	return Config{
		RequestTimeout:  30 * time.Second,
		DeliveryTimeout: 2 * time.Minute,
		RetryInitial:    500 * time.Millisecond,
		RetryMax:        10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = d.DeliveryTimeout
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = d.RetryInitial
	}
	if c.RetryMax < c.RetryInitial {
		c.RetryMax = max(d.RetryMax, c.RetryInitial)
	}
	return c
}
