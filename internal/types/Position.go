/*

This file contains the engine-side view of an open AMM allocation. The handle
and tick range come from the external pool; liquidity is the engine's record of
what it owns.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// Position is one open concentrated-liquidity allocation.
type Position struct {
	// ID is the opaque handle assigned by the external AMM.
	ID        uint64      `json:"position_id"`
	TickLower int64       `json:"tick_lower"`
	TickUpper int64       `json:"tick_upper"`
	Liquidity sdkmath.Int `json:"liquidity_units"`
	Active    bool        `json:"active"`
}

// Contains reports whether tick falls inside the position's range.
// The upper bound is exclusive, matching the AMM convention.
func (p Position) Contains(tick int64) bool {
	return tick >= p.TickLower && tick < p.TickUpper
}

// Midpoint returns the center of the position's tick range.
func (p Position) Midpoint() int64 {
	return (p.TickLower + p.TickUpper) / 2
}
