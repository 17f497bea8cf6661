package replacement

// State is a step of the replacement workflow. The success path is linear:
// Started, BatteryVerified, ReplacementRequested, ReplacementApproved,
// OwnershipTransferred, NewBatteryIssued. Every other state is a terminal failure.
type State string

const (
	StateStarted              State = "Started"
	StateBatteryVerified      State = "BatteryVerified"
	StateReplacementRequested State = "ReplacementRequested"
	StateReplacementApproved  State = "ReplacementApproved"
	StateOwnershipTransferred State = "OwnershipTransferred"
	StateNewBatteryIssued     State = "NewBatteryIssued"

	StateFakeBattery    State = "FakeBattery"
	StateApprovalDenied State = "ApprovalDenied"
	StateTransferFailed State = "TransferFailed"
	StateIssueFailed    State = "IssueFailed"
	StateNoResponse     State = "NoResponse"
	StateAborted        State = "Aborted"
)

var successPath = []State{
	StateStarted,
	StateBatteryVerified,
	StateReplacementRequested,
	StateReplacementApproved,
	StateOwnershipTransferred,
	StateNewBatteryIssued,
}

func (s State) Failed() bool {
	switch s {
	case StateFakeBattery, StateApprovalDenied, StateTransferFailed, StateIssueFailed, StateNoResponse, StateAborted:
		return true
	}
	return false
}

func (s State) Terminal() bool {
	return s == StateNewBatteryIssued || s.Failed()
}

// next returns the state following s on the success path.
func (s State) next() (State, bool) {
	for i, st := range successPath[:len(successPath)-1] {
		if st == s {
			return successPath[i+1], true
		}
	}
	return "", false
}
