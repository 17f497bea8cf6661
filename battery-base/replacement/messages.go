package replacement

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RequestReplacement asks the service center to swap the car's battery for the
// offered one. The request id identifies the whole replacement and is reused by
// RequestNewBattery and by every redelivery.
type RequestReplacement struct {
	RequestID  uuid.UUID      `json:"requestId"`
	CarBattery common.Address `json:"carBattery"`
	SCBattery  common.Address `json:"scBattery"`
	CarAddress common.Address `json:"carAddress"`
}

type ApprovalResult struct {
	RequestID     uuid.UUID      `json:"requestId"`
	Approved      bool           `json:"approved"`
	Error         string         `json:"error,omitempty"`
	ServiceCenter common.Address `json:"serviceCenter"`
}

// RequestNewBattery is sent once the car ceded its old battery on the ledger.
type RequestNewBattery struct {
	RequestID  uuid.UUID      `json:"requestId"`
	CarAddress common.Address `json:"carAddress"`
	CarBattery common.Address `json:"carBattery"`
	SCBattery  common.Address `json:"scBattery"`
}

type NewBatteryResult struct {
	RequestID uuid.UUID       `json:"requestId"`
	Battery   common.Address  `json:"battery"`
	Cost      decimal.Decimal `json:"cost"`
	Error     string          `json:"error,omitempty"`
}
