/*

This file contains the process-wide protective configuration. GuardConfig is a
value: the orchestrator snapshots it into every operation, and writers go
through the same single-writer discipline as account mutations.

*/

package types

import (
	"fmt"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
)

const (
	// MaxObservationWindowSeconds caps a single TWAP window at 7 days.
	MaxObservationWindowSeconds = 7 * 24 * 3600

	// SecondsPerDay / SecondsPerWeek drive the rolling withdrawal windows.
	SecondsPerDay  = 24 * 3600
	SecondsPerWeek = 7 * 24 * 3600
)

// GuardConfig holds every protective parameter, mutated only through the
// governance capability.
type GuardConfig struct {
	// DailyLimitPct / WeeklyLimitPct cap rolling-window withdrawals as a
	// percentage of principal. WeeklyLimitPct >= DailyLimitPct.
	DailyLimitPct  int64 `json:"daily_limit_pct"`
	WeeklyLimitPct int64 `json:"weekly_limit_pct"`

	// VestingUnlockPctPerWeek is the share of principal that unlocks per
	// week elapsed since first deposit.
	VestingUnlockPctPerWeek int64 `json:"vesting_unlock_pct_per_week"`

	BaseFeePct            int64 `json:"base_fee_pct"`
	LargeWithdrawalFeePct int64 `json:"large_withdrawal_fee_pct"`
	// MaxFeePct is the hard ceiling on the effective fee.
	MaxFeePct int64 `json:"max_fee_pct"`

	RemovalCooldownSeconds int64 `json:"removal_cooldown_seconds"`

	// MaxPrincipalPerAccount caps deposits per account; zero is unlimited.
	MaxPrincipalPerAccount sdkmath.Int `json:"max_principal_per_account"`

	// ReinjectionThreshold is the minimum idle balance before rewards are
	// redeployed into the AMM.
	ReinjectionThreshold sdkmath.Int `json:"reinjection_threshold"`

	SlippageToleranceBps int64 `json:"slippage_tolerance_bps"`

	// TickRangeHalfWidthSpacings sizes new position ranges as a multiple
	// of the pool's tick spacing on each side of the current tick.
	TickRangeHalfWidthSpacings int64 `json:"tick_range_half_width_spacings"`
}

// Validate enforces the documented caps on every percentage field.
func (c GuardConfig) Validate() error {
	pctFields := map[string]int64{
		"daily_limit_pct":             c.DailyLimitPct,
		"weekly_limit_pct":            c.WeeklyLimitPct,
		"vesting_unlock_pct_per_week": c.VestingUnlockPctPerWeek,
		"base_fee_pct":                c.BaseFeePct,
		"large_withdrawal_fee_pct":    c.LargeWithdrawalFeePct,
		"max_fee_pct":                 c.MaxFeePct,
	}
	for name, v := range pctFields {
		if v < 0 || v > 100 {
			return errorsmod.Wrapf(ErrInvalidConfig, "%s must be between 0 and 100, got %d", name, v)
		}
	}
	if c.WeeklyLimitPct < c.DailyLimitPct {
		return errorsmod.Wrapf(ErrInvalidConfig,
			"weekly_limit_pct (%d) must be >= daily_limit_pct (%d)", c.WeeklyLimitPct, c.DailyLimitPct)
	}
	if c.RemovalCooldownSeconds < 0 {
		return errorsmod.Wrap(ErrInvalidConfig, "removal_cooldown_seconds must not be negative")
	}
	if c.MaxPrincipalPerAccount.IsNil() || c.MaxPrincipalPerAccount.IsNegative() {
		return errorsmod.Wrap(ErrInvalidConfig, "max_principal_per_account must be zero or positive")
	}
	if c.ReinjectionThreshold.IsNil() || c.ReinjectionThreshold.IsNegative() {
		return errorsmod.Wrap(ErrInvalidConfig, "reinjection_threshold must be zero or positive")
	}
	if c.SlippageToleranceBps < 0 || c.SlippageToleranceBps > 10000 {
		return errorsmod.Wrapf(ErrInvalidConfig,
			"slippage_tolerance_bps must be between 0 and 10000, got %d", c.SlippageToleranceBps)
	}
	if c.TickRangeHalfWidthSpacings <= 0 {
		return errorsmod.Wrap(ErrInvalidConfig, "tick_range_half_width_spacings must be positive")
	}
	return nil
}

// TWAPConfig is the ordered set of observation windows used for manipulation
// detection, plus the tolerated downside deviation.
type TWAPConfig struct {
	// WindowsSeconds are observation window durations, shortest first.
	WindowsSeconds []int64 `json:"windows_seconds"`
	MaxDeviationPct int64  `json:"max_deviation_pct"`
	// CacheTTLSeconds bounds how long a cached TWAP may stand in when all
	// observation windows fail.
	CacheTTLSeconds int64 `json:"cache_ttl_seconds"`
}

// Validate rejects empty or out-of-range window sets.
func (c TWAPConfig) Validate() error {
	if len(c.WindowsSeconds) == 0 {
		return errorsmod.Wrap(ErrInvalidConfig, "at least one observation window is required")
	}
	for i, w := range c.WindowsSeconds {
		if w <= 0 || w > MaxObservationWindowSeconds {
			return errorsmod.Wrap(ErrInvalidConfig,
				fmt.Sprintf("window %d duration %ds out of range (0, %d]", i, w, MaxObservationWindowSeconds))
		}
	}
	if c.MaxDeviationPct <= 0 || c.MaxDeviationPct > 100 {
		return errorsmod.Wrapf(ErrInvalidConfig, "max_deviation_pct must be in (0, 100], got %d", c.MaxDeviationPct)
	}
	if c.CacheTTLSeconds <= 0 {
		return errorsmod.Wrap(ErrInvalidConfig, "cache_ttl_seconds must be positive")
	}
	return nil
}

// EmergencyState holds the two independent halt switches.
type EmergencyState struct {
	// EmergencyMode disables deposits and withdrawals and enables the
	// privileged recovery path.
	EmergencyMode bool `json:"emergency_mode"`
	// CircuitBreakerTriggered independently disables deposit and inject
	// paths.
	CircuitBreakerTriggered bool `json:"circuit_breaker_triggered"`
}
