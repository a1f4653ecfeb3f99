package ledger

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianprotocol/lpe/internal/types"
)

func testConfig() types.GuardConfig {
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

// testClock gives tests explicit control of time.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRecordDepositStartsVesting(t *testing.T) {
	clock := newTestClock()
	l := New(clock.now)

	acct, err := l.RecordDeposit("addr1", sdkmath.NewInt(1000), testConfig())
	require.NoError(t, err)
	assert.Equal(t, clock.t, acct.VestingStart)
	assert.Equal(t, int64(1000), acct.Principal.Int64())

	// A later deposit must not reset the vesting clock.
	started := acct.VestingStart
	clock.advance(14 * 24 * time.Hour)
	acct, err = l.RecordDeposit("addr1", sdkmath.NewInt(500), testConfig())
	require.NoError(t, err)
	assert.Equal(t, started, acct.VestingStart)
	assert.Equal(t, int64(1500), acct.Principal.Int64())
}

func TestRecordDepositMaxPrincipal(t *testing.T) {
	clock := newTestClock()
	l := New(clock.now)
	cfg := testConfig()
	cfg.MaxPrincipalPerAccount = sdkmath.NewInt(1000)

	_, err := l.RecordDeposit("addr1", sdkmath.NewInt(800), cfg)
	require.NoError(t, err)

	_, err = l.RecordDeposit("addr1", sdkmath.NewInt(300), cfg)
	require.ErrorIs(t, err, types.ErrPolicyViolation)

	_, err = l.RecordDeposit("addr1", sdkmath.NewInt(200), cfg)
	assert.NoError(t, err)
}

func TestVestingCapOverLifetime(t *testing.T) {
	clock := newTestClock()
	l := New(clock.now)
	cfg := testConfig()
	cfg.DailyLimitPct = 100
	cfg.WeeklyLimitPct = 100

	_, err := l.RecordDeposit("addr1", sdkmath.NewInt(1000), cfg)
	require.NoError(t, err)

	// Three weeks at 10%/week unlocks 300.
	clock.advance(3 * 7 * 24 * time.Hour)

	_, err = l.AuthorizeWithdrawal("addr1", sdkmath.NewInt(350), cfg)
	require.ErrorIs(t, err, types.ErrPolicyViolation)

	grant, err := l.AuthorizeWithdrawal("addr1", sdkmath.NewInt(300), cfg)
	require.NoError(t, err)
	_, err = l.Commit(grant)
	require.NoError(t, err)

	// The unlock base is lifetime value, so nothing more unlocks until
	// another week passes.
	_, err = l.AuthorizeWithdrawal("addr1", sdkmath.NewInt(1), cfg)
	require.ErrorIs(t, err, types.ErrPolicyViolation)

	clock.advance(7 * 24 * time.Hour)
	grant, err = l.AuthorizeWithdrawal("addr1", sdkmath.NewInt(100), cfg)
	require.NoError(t, err)
	_, err = l.Commit(grant)
	assert.NoError(t, err)
}

func TestDailyLimitResetsOnElapse(t *testing.T) {
	clock := newTestClock()
	l := New(clock.now)
	cfg := testConfig()
	cfg.VestingUnlockPctPerWeek = 100

	_, err := l.RecordDeposit("addr1", sdkmath.NewInt(1000), cfg)
	require.NoError(t, err)
	clock.advance(7 * 24 * time.Hour) // fully vested

	// Daily cap is 5% of 1000 = 50. Two withdrawals of 30 cannot both fit.
	grant, err := l.AuthorizeWithdrawal("addr1", sdkmath.NewInt(30), cfg)
	require.NoError(t, err)
	_, err = l.Commit(grant)
	require.NoError(t, err)

	_, err = l.AuthorizeWithdrawal("addr1", sdkmath.NewInt(30), cfg)
	require.ErrorIs(t, err, types.ErrPolicyViolation)

	// A smaller one still fits inside the same window.
	grant, err = l.AuthorizeWithdrawal("addr1", sdkmath.NewInt(18), cfg)
	require.NoError(t, err)
	_, err = l.Commit(grant)
	require.NoError(t, err)

	// After the window elapses the counter resets. The cap shrinks with
	// principal: 5% of 952 = 47.
	clock.advance(24 * time.Hour)
	grant, err = l.AuthorizeWithdrawal("addr1", sdkmath.NewInt(47), cfg)
	require.NoError(t, err)
	_, err = l.Commit(grant)
	assert.NoError(t, err)
}

func TestWeeklyLimit(t *testing.T) {
	clock := newTestClock()
	l := New(clock.now)
	cfg := testConfig()
	cfg.DailyLimitPct = 100
	cfg.WeeklyLimitPct = 20
	cfg.VestingUnlockPctPerWeek = 100

	_, err := l.RecordDeposit("addr1", sdkmath.NewInt(1000), cfg)
	require.NoError(t, err)
	clock.advance(7 * 24 * time.Hour)

	// Weekly cap is 200.
	grant, err := l.AuthorizeWithdrawal("addr1", sdkmath.NewInt(150), cfg)
	require.NoError(t, err)
	_, err = l.Commit(grant)
	require.NoError(t, err)

	clock.advance(24 * time.Hour)
	_, err = l.AuthorizeWithdrawal("addr1", sdkmath.NewInt(100), cfg)
	require.ErrorIs(t, err, types.ErrPolicyViolation)

	// Six more days roll the weekly window.
	clock.advance(6 * 24 * time.Hour)
	_, err = l.AuthorizeWithdrawal("addr1", sdkmath.NewInt(100), cfg)
	assert.NoError(t, err)
}

func TestCooldown(t *testing.T) {
	clock := newTestClock()
	l := New(clock.now)
	cfg := testConfig()
	cfg.RemovalCooldownSeconds = 3600
	cfg.VestingUnlockPctPerWeek = 100

	_, err := l.RecordDeposit("addr1", sdkmath.NewInt(1000), cfg)
	require.NoError(t, err)
	clock.advance(7 * 24 * time.Hour)

	grant, err := l.AuthorizeWithdrawal("addr1", sdkmath.NewInt(10), cfg)
	require.NoError(t, err)
	_, err = l.Commit(grant)
	require.NoError(t, err)

	clock.advance(30 * time.Minute)
	_, err = l.AuthorizeWithdrawal("addr1", sdkmath.NewInt(10), cfg)
	require.ErrorIs(t, err, types.ErrPolicyViolation)

	clock.advance(31 * time.Minute)
	_, err = l.AuthorizeWithdrawal("addr1", sdkmath.NewInt(10), cfg)
	assert.NoError(t, err)
}

func TestWhitelistBypassesLimits(t *testing.T) {
	clock := newTestClock()
	l := New(clock.now)
	cfg := testConfig()
	cfg.RemovalCooldownSeconds = 3600

	_, err := l.RecordDeposit("addr1", sdkmath.NewInt(1000), cfg)
	require.NoError(t, err)
	l.SetWhitelisted("addr1", true)

	// Nothing is vested and the daily cap is 50, but the whitelist
	// bypasses both. Principal is still a hard bound.
	grant, err := l.AuthorizeWithdrawal("addr1", sdkmath.NewInt(900), cfg)
	require.NoError(t, err)
	acct, err := l.Commit(grant)
	require.NoError(t, err)
	assert.Equal(t, int64(100), acct.Principal.Int64())

	_, err = l.AuthorizeWithdrawal("addr1", sdkmath.NewInt(200), cfg)
	require.ErrorIs(t, err, types.ErrPolicyViolation)
}

func TestAuthorizeDoesNotMutate(t *testing.T) {
	clock := newTestClock()
	l := New(clock.now)
	cfg := testConfig()
	cfg.VestingUnlockPctPerWeek = 100

	_, err := l.RecordDeposit("addr1", sdkmath.NewInt(1000), cfg)
	require.NoError(t, err)
	clock.advance(7 * 24 * time.Hour)

	before := l.Account("addr1")
	_, err = l.AuthorizeWithdrawal("addr1", sdkmath.NewInt(50), cfg)
	require.NoError(t, err)
	after := l.Account("addr1")

	assert.Equal(t, before, after)
}

func TestUnknownAccountRejected(t *testing.T) {
	l := New(nil)
	_, err := l.AuthorizeWithdrawal("nobody", sdkmath.NewInt(1), testConfig())
	assert.ErrorIs(t, err, types.ErrPolicyViolation)
}
