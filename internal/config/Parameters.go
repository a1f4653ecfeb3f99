/*

This file contains the default protective parameters. They are used when no
active configuration is found in the database during initialization, and can
be replaced at runtime through the governance surface.

*/

package config

import (
	sdkmath "cosmossdk.io/math"

	"github.com/meridianprotocol/lpe/internal/types"
)

// DefaultGuardConfig is a conservative baseline. Limits are percentages of the
// account's principal; zero MaxPrincipalPerAccount means uncapped.
var DefaultGuardConfig = types.GuardConfig{
	DailyLimitPct:  5,  // At most 5% of principal per rolling day.
	WeeklyLimitPct: 20, // At most 20% of principal per rolling week.

	VestingUnlockPctPerWeek: 10, // Fully vested after 10 weeks.

	BaseFeePct:            2,
	LargeWithdrawalFeePct: 5,  // Surcharge above 50% of principal.
	MaxFeePct:             50, // Hard ceiling regardless of stacking.

	RemovalCooldownSeconds: 3600,

	MaxPrincipalPerAccount: sdkmath.ZeroInt(),
	ReinjectionThreshold:   sdkmath.NewInt(1_000_000),

	SlippageToleranceBps:       100, // 1%.
	TickRangeHalfWidthSpacings: 8,
}

// DefaultTWAPConfig observes three windows so a short manipulation cannot move
// every reading at once.
var DefaultTWAPConfig = types.TWAPConfig{
	WindowsSeconds:  []int64{1800, 7200, 86400},
	MaxDeviationPct: 5,
	CacheTTLSeconds: 3600,
}
