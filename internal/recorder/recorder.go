// Package recorder decouples the engine from its persistence layer. The guard
// calls the Recorder after a committed operation; failures here are logged,
// never propagated, so durability problems cannot roll back token movements.
package recorder

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/meridianprotocol/lpe/internal/types"
)

// Recorder receives the engine's durable side effects.
type Recorder interface {
	RecordReceipt(receipt types.OperationReceipt) error
	RecordAccount(acct *types.AccountLiquidity) error
	RecordPositions(positions []types.Position) error
	RecordConfig(cfg types.GuardConfig) error
	RecordTWAP(twap sdkmath.LegacyDec, computedAt time.Time) error
}

// Noop discards everything. Used when the engine runs without a database.
type Noop struct{}

func (Noop) RecordReceipt(types.OperationReceipt) error    { return nil }
func (Noop) RecordAccount(*types.AccountLiquidity) error   { return nil }
func (Noop) RecordPositions([]types.Position) error        { return nil }
func (Noop) RecordConfig(types.GuardConfig) error          { return nil }
func (Noop) RecordTWAP(sdkmath.LegacyDec, time.Time) error { return nil }

var _ Recorder = Noop{}
