// Package amm defines the boundary to the external concentrated-liquidity
// market maker. The engine only ever talks to a Pool; live deployments bind a
// network-backed implementation, sim mode and tests bind SimPool.
package amm

import (
	"errors"

	sdkmath "cosmossdk.io/math"
)

var (
	// ErrInsufficientHistory means the pool cannot serve an observation
	// that far back. Callers skip the window, they do not treat it as zero.
	ErrInsufficientHistory = errors.New("insufficient observation history")

	// ErrSlippage means execution would violate a caller-supplied minimum.
	// The pool applies no state change when returning it.
	ErrSlippage = errors.New("execution below minimum amount")

	ErrUnknownPosition = errors.New("unknown position id")
)

// Slot0 is the pool's instantaneous state.
type Slot0 struct {
	SpotPrice   sdkmath.LegacyDec
	CurrentTick int64
	TickSpacing int64
}

// MintParams opens a new position over [TickLower, TickUpper).
type MintParams struct {
	Payer          string
	TickLower      int64
	TickUpper      int64
	Amount0Desired sdkmath.Int
	Amount1Desired sdkmath.Int
	Amount0Min     sdkmath.Int
	Amount1Min     sdkmath.Int
}

// MintResult reports the handle and the amounts actually taken.
type MintResult struct {
	PositionID uint64
	Liquidity  sdkmath.Int
	Amount0    sdkmath.Int
	Amount1    sdkmath.Int
}

// IncreaseParams tops up an existing position.
type IncreaseParams struct {
	Payer          string
	PositionID     uint64
	Amount0Desired sdkmath.Int
	Amount1Desired sdkmath.Int
	Amount0Min     sdkmath.Int
	Amount1Min     sdkmath.Int
}

// IncreaseResult reports liquidity added and amounts taken.
type IncreaseResult struct {
	Liquidity sdkmath.Int
	Amount0   sdkmath.Int
	Amount1   sdkmath.Int
}

// DecreaseResult reports the amounts owed after removing liquidity. Owed
// tokens stay in the pool until collected.
type DecreaseResult struct {
	Amount0 sdkmath.Int
	Amount1 sdkmath.Int
}

// CollectResult reports the owed tokens swept to the recipient.
type CollectResult struct {
	Amount0 sdkmath.Int
	Amount1 sdkmath.Int
}

// Pool is the external AMM contract surface the engine consumes. All calls are
// synchronous; a returned error means no state changed on the pool side.
type Pool interface {
	// Observe returns the tick-cumulative pair (now, now-secondsAgo).
	Observe(secondsAgo int64) (tickCumulativeNow, tickCumulativePast int64, err error)

	Slot0() (Slot0, error)

	Mint(params MintParams) (MintResult, error)
	IncreaseLiquidity(params IncreaseParams) (IncreaseResult, error)
	DecreaseLiquidity(positionID uint64, liquidity, amount0Min, amount1Min sdkmath.Int) (DecreaseResult, error)
	Collect(positionID uint64, recipient string) (CollectResult, error)
	Burn(positionID uint64) error
}
