/*

This file contains the per-depositor ledger record. One AccountLiquidity exists
per address that has ever deposited; it becomes inert (never deleted) once
principal returns to zero.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// AccountLiquidity is the rate-limit and vesting bookkeeping for one depositor.
type AccountLiquidity struct {
	Address string `json:"address"`

	// Principal is the amount currently deposited, in base units.
	Principal sdkmath.Int `json:"principal"`
	// LifetimeWithdrawn accumulates every withdrawal ever committed, used
	// by the vesting cap.
	LifetimeWithdrawn sdkmath.Int `json:"lifetime_withdrawn"`

	// VestingStart is the timestamp of the first-ever deposit.
	VestingStart time.Time `json:"vesting_start"`

	DailyWithdrawn   sdkmath.Int `json:"daily_withdrawn"`
	DailyWindowStart time.Time   `json:"daily_window_start"`

	WeeklyWithdrawn   sdkmath.Int `json:"weekly_withdrawn"`
	WeeklyWindowStart time.Time   `json:"weekly_window_start"`

	LastWithdrawalTime time.Time `json:"last_withdrawal_time"`

	// Whitelisted accounts bypass limits and fees; bookkeeping still runs.
	Whitelisted bool `json:"whitelisted"`
}

// NewAccountLiquidity returns a zeroed record for an address.
func NewAccountLiquidity(address string) *AccountLiquidity {
	return &AccountLiquidity{
		Address:           address,
		Principal:         sdkmath.ZeroInt(),
		LifetimeWithdrawn: sdkmath.ZeroInt(),
		DailyWithdrawn:    sdkmath.ZeroInt(),
		WeeklyWithdrawn:   sdkmath.ZeroInt(),
	}
}

// Clone returns a deep copy suitable for read-only snapshots.
func (a *AccountLiquidity) Clone() *AccountLiquidity {
	cp := *a
	return &cp
}
