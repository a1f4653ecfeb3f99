package fees

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"

	"github.com/meridianprotocol/lpe/internal/types"
)

func feeConfig() types.GuardConfig {
	return types.GuardConfig{
		DailyLimitPct:              5,
		WeeklyLimitPct:             20,
		VestingUnlockPctPerWeek:    10,
		BaseFeePct:                 2,
		LargeWithdrawalFeePct:      5,
		MaxFeePct:                  50,
		RemovalCooldownSeconds:     0,
		MaxPrincipalPerAccount:     sdkmath.ZeroInt(),
		ReinjectionThreshold:       sdkmath.ZeroInt(),
		SlippageToleranceBps:       100,
		TickRangeHalfWidthSpacings: 8,
	}
}

func account(principal int64, vestingStart time.Time) *types.AccountLiquidity {
	acct := types.NewAccountLiquidity("addr1")
	acct.Principal = sdkmath.NewInt(principal)
	acct.VestingStart = vestingStart
	return acct
}

func TestComputeBaseFee(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	acct := account(1000, now) // zero weeks vested

	// 100 of 1000 is under the 50% threshold: base 2% only.
	fee := Compute(acct, sdkmath.NewInt(100), now, feeConfig())
	assert.Equal(t, int64(2), fee.Int64())
}

func TestComputeLargeWithdrawalSurcharge(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	acct := account(1000, now)

	// 600 of 1000 is over 50%: 2% + 5% = 7%.
	fee := Compute(acct, sdkmath.NewInt(600), now, feeConfig())
	assert.Equal(t, int64(42), fee.Int64())

	// Exactly 50% does not trigger the surcharge.
	fee = Compute(acct, sdkmath.NewInt(500), now, feeConfig())
	assert.Equal(t, int64(10), fee.Int64())
}

func TestComputeVestingDiscount(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	acct := account(1000, start)

	// 5 weeks vested at 10%/week: 50% unlocked, fee halved.
	now := start.Add(5 * 7 * 24 * time.Hour)
	fee := Compute(acct, sdkmath.NewInt(100), now, feeConfig())
	assert.Equal(t, int64(1), fee.Int64())

	// Fully vested: fee goes to zero.
	now = start.Add(10 * 7 * 24 * time.Hour)
	fee = Compute(acct, sdkmath.NewInt(100), now, feeConfig())
	assert.True(t, fee.IsZero())
}

func TestComputeMaxFeeClamp(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	acct := account(1000, now)

	cfg := feeConfig()
	cfg.BaseFeePct = 40
	cfg.LargeWithdrawalFeePct = 40
	cfg.MaxFeePct = 50

	// 40% + 40% would be 80%, clamped to 50%.
	fee := Compute(acct, sdkmath.NewInt(600), now, cfg)
	assert.Equal(t, int64(300), fee.Int64())
}

func TestComputeWhitelistedPaysNothing(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	acct := account(1000, now)
	acct.Whitelisted = true

	fee := Compute(acct, sdkmath.NewInt(600), now, feeConfig())
	assert.True(t, fee.IsZero())
}

func TestComputeNeverExceedsAmount(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	acct := account(10, now)

	cfg := feeConfig()
	cfg.BaseFeePct = 100
	cfg.LargeWithdrawalFeePct = 100
	cfg.MaxFeePct = 100

	fee := Compute(acct, sdkmath.NewInt(10), now, cfg)
	assert.True(t, fee.LTE(sdkmath.NewInt(10)))
}

func TestComputeNilAccount(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fee := Compute(nil, sdkmath.NewInt(100), now, feeConfig())
	assert.True(t, fee.IsZero())
}
