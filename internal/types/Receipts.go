/*

This file contains the receipt records the engine persists for the external
indexer surface. Rejected operations are recorded too, with their reason code.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// OperationKind identifies the guarded operation a receipt belongs to.
type OperationKind string

const (
	OpDeposit           OperationKind = "DEPOSIT"
	OpWithdraw          OperationKind = "WITHDRAW"
	OpInject            OperationKind = "INJECT"
	OpReinvest          OperationKind = "REINVEST"
	OpEmergencyWithdraw OperationKind = "EMERGENCY_WITHDRAW"
)

// OperationReceipt records the outcome of one guarded operation.
type OperationReceipt struct {
	ReceiptID int64         `json:"receipt_id,omitempty"` // Auto-incremented by DB
	OpID      string        `json:"op_id"`
	Kind      OperationKind `json:"kind"`
	Account   string        `json:"account,omitempty"`
	Amount    sdkmath.Int   `json:"amount"`
	Fee       sdkmath.Int   `json:"fee"`
	Accepted  bool          `json:"accepted"`
	Reason    string        `json:"reason,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
