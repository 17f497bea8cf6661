package replacement

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

// ServiceCenterClient is the car's view of a service center. A returned error
// wrapping ErrUnreachable means no answer was received; any other error is an
// answer.
type ServiceCenterClient interface {
	RequestReplacement(ctx context.Context, req RequestReplacement) (*ApprovalResult, error)
	RequestNewBattery(ctx context.Context, req RequestNewBattery) (*NewBatteryResult, error)
}

var (
	_ ServiceCenterClient = (*ServiceCenter)(nil)
	_ ServiceCenterClient = (*RPCClient)(nil)
)

// RPCClient talks to a service center served by NewRPCServer.
type RPCClient struct {
	c *rpc.Client
}

func NewRPCClient(c *rpc.Client) *RPCClient {
	return &RPCClient{c: c}
}

func DialServiceCenter(ctx context.Context, url string) (*RPCClient, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial service center: %w", err)
	}
	return NewRPCClient(c), nil
}

func (c *RPCClient) Close() {
	c.c.Close()
}

func (c *RPCClient) RequestReplacement(ctx context.Context, req RequestReplacement) (*ApprovalResult, error) {
	var res ApprovalResult
	err := c.c.CallContext(ctx, &res, "servicecenter_requestReplacement", req)
	if err != nil {
		return nil, classifyCallError(err)
	}
	return &res, nil
}

func (c *RPCClient) RequestNewBattery(ctx context.Context, req RequestNewBattery) (*NewBatteryResult, error) {
	var res NewBatteryResult
	err := c.c.CallContext(ctx, &res, "servicecenter_requestNewBattery", req)
	if err != nil {
		return nil, classifyCallError(err)
	}
	return &res, nil
}

// classifyCallError tells an error answered by the service center from a failed
// delivery.
func classifyCallError(err error) error {
	var rpcErr rpc.Error
	switch {
	case errors.As(err, &rpcErr) && rpcErr.ErrorCode() == errCodeRetryLater:
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	case errors.As(err, &rpcErr):
		return fmt.Errorf("service center answered with an error: %w", err)
	}
	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}

type serviceCenterAPI struct {
	sc *ServiceCenter
}

func (api *serviceCenterAPI) RequestReplacement(ctx context.Context, req RequestReplacement) (*ApprovalResult, error) {
	return api.sc.RequestReplacement(ctx, req)
}

func (api *serviceCenterAPI) RequestNewBattery(ctx context.Context, req RequestNewBattery) (*NewBatteryResult, error) {
	return api.sc.RequestNewBattery(ctx, req)
}

// NewRPCServer serves sc under the servicecenter namespace.
func NewRPCServer(sc *ServiceCenter) (*rpc.Server, error) {
	server := rpc.NewServer()

	err := server.RegisterName("servicecenter", &serviceCenterAPI{sc: sc})
	if err != nil {
		return nil, fmt.Errorf("failed to register servicecenter api: %w", err)
	}

	return server, nil
}
