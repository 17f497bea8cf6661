package replacement

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkflowAborted is matched by every *AbortError.
	ErrWorkflowAborted = errors.New("replacement workflow aborted")
	// ErrUnreachable marks a delivery that got no answer from the counterparty.
	// Only such failures are retried.
	ErrUnreachable = errors.New("service center unreachable")
)

// AbortError reports a workflow that ended in a failure state. Step is the state the
// workflow was moving to when it failed.
type AbortError struct {
	State  State
	Step   State
	Reason string
	Err    error
}

// errCodeRetryLater is the JSON-RPC error code of a RetryLaterError.
const errCodeRetryLater = -32010

// RetryLaterError is returned by the service center when the ledger did not confirm
// in time. Nothing about the request is remembered, so the car redelivers it.
type RetryLaterError struct {
	Err error
}

func (e *RetryLaterError) Error() string {
	return "retry later: " + e.Err.Error()
}

func (e *RetryLaterError) Unwrap() []error {
	return []error{ErrUnreachable, e.Err}
}

func (e *RetryLaterError) ErrorCode() int {
	return errCodeRetryLater
}

func (e *AbortError) Error() string {
	msg := fmt.Sprintf("replacement failed with %s at %s: %s", e.State, e.Step, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AbortError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrWorkflowAborted}
	}
	return []error{ErrWorkflowAborted, e.Err}
}
