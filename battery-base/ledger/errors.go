package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrTimeout           = errors.New("transaction not confirmed before timeout")
	ErrReverted          = errors.New("transaction reverted")
	ErrInsufficientFunds = errors.New("insufficient funds for gas * price + value")
	ErrNotFound          = errors.New("not found on ledger")
	ErrOwnershipMismatch = errors.New("battery is not owned by the sender")
)

const revertPrefix = "execution reverted: "

// RevertError is returned when the ledger included a transaction with failed status.
// Reason is the error reported when replaying the call, if the node reports one.
type RevertError struct {
	TxHash common.Hash
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("transaction %s reverted", e.TxHash.Hex())
	}
	return fmt.Sprintf("transaction %s reverted: %s", e.TxHash.Hex(), e.Reason)
}

func (e *RevertError) Unwrap() error {
	return ErrReverted
}

// Matches reports whether the revert reason carries the message of target. Sentinel
// identity does not survive the RPC boundary, messages do.
func (e *RevertError) Matches(target error) bool {
	return e.Reason != "" && strings.Contains(e.Reason, target.Error())
}

func reasonFromCallError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.Index(msg, revertPrefix); i >= 0 {
		return msg[i+len(revertPrefix):]
	}
	return msg
}
