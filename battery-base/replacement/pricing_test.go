package replacement

import (
	"testing"

	"github.com/evbattery/batterybase/battery-base/attestation"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFixedFee(t *testing.T) {
	cost, err := FixedFee{}.Price(Quote{})
	require.NoError(t, err)
	require.True(t, cost.IsZero(), "a zero fee is charged as configured")

	cost, err = FixedFee{Amount: decimal.RequireFromString("0.01")}.Price(Quote{})
	require.NoError(t, err)
	require.Equal(t, "0.01", cost.String())
}

func TestWearFee(t *testing.T) {
	fee := WearFee{Base: decimal.RequireFromString("0.005"), PerCycle: decimal.RequireFromString("0.0001")}

	cost, err := fee.Price(Quote{
		CarBattery: &attestation.Attestation{ChargeCount: 10},
		SCBattery:  &attestation.Attestation{ChargeCount: 0},
	})
	require.NoError(t, err)
	require.Equal(t, "0.006", cost.String())

	cost, err = fee.Price(Quote{
		CarBattery: &attestation.Attestation{ChargeCount: 1},
		SCBattery:  &attestation.Attestation{ChargeCount: 4},
	})
	require.NoError(t, err)
	require.Equal(t, "0.005", cost.String())

	_, err = fee.Price(Quote{CarBattery: &attestation.Attestation{}})
	require.Error(t, err)
}

func TestWei(t *testing.T) {
	require.Equal(t, "5000000000000000", Wei(DefaultFee).String())
}

func TestStatePath(t *testing.T) {
	s := StateStarted
	var visited []State
	for {
		visited = append(visited, s)
		next, ok := s.next()
		if !ok {
			break
		}
		s = next
	}
	require.Equal(t, successPath, visited)
	require.True(t, StateNewBatteryIssued.Terminal())
	require.False(t, StateNewBatteryIssued.Failed())
	require.True(t, StateNoResponse.Terminal())
	require.False(t, StateReplacementApproved.Terminal())
}

func TestAbortErrorMatches(t *testing.T) {
	cause := errTest("ledger down")
	err := error(&AbortError{State: StateTransferFailed, Step: StateOwnershipTransferred, Reason: "failed to transfer", Err: cause})
	require.ErrorIs(t, err, ErrWorkflowAborted)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "TransferFailed")
}

type errTest string

func (e errTest) Error() string { return string(e) }
