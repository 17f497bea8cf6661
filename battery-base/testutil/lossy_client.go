package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/evbattery/batterybase/battery-base/replacement"
	"github.com/google/uuid"
)

var errConnectionReset = errors.New("connection reset")

// LossyClient delivers every request to the service center but loses the first
// answer of each kind, so the car has to redeliver.
type LossyClient struct {
	sc *replacement.ServiceCenter

	mu        sync.Mutex
	lost      map[string]bool
	delivered map[string][]uuid.UUID
}

func NewLossyClient(sc *replacement.ServiceCenter) *LossyClient {
	return &LossyClient{
		sc:        sc,
		lost:      map[string]bool{},
		delivered: map[string][]uuid.UUID{},
	}
}

// Delivered returns the request ids delivered for kind, in order.
func (c *LossyClient) Delivered(kind string) []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uuid.UUID(nil), c.delivered[kind]...)
}

func (c *LossyClient) loseAnswer(kind string, id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered[kind] = append(c.delivered[kind], id)
	if c.lost[kind] {
		return false
	}
	c.lost[kind] = true
	return true
}

func (c *LossyClient) RequestReplacement(ctx context.Context, req replacement.RequestReplacement) (*replacement.ApprovalResult, error) {
	res, err := c.sc.RequestReplacement(ctx, req)
	if c.loseAnswer(replacement.KindReplacement, req.RequestID) {
		return nil, errors.Join(replacement.ErrUnreachable, errConnectionReset)
	}
	return res, err
}

func (c *LossyClient) RequestNewBattery(ctx context.Context, req replacement.RequestNewBattery) (*replacement.NewBatteryResult, error) {
	res, err := c.sc.RequestNewBattery(ctx, req)
	if c.loseAnswer(replacement.KindNewBattery, req.RequestID) {
		return nil, errors.Join(replacement.ErrUnreachable, errConnectionReset)
	}
	return res, err
}
