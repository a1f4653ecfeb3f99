package guard

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianprotocol/lpe/internal/amm"
	"github.com/meridianprotocol/lpe/internal/ledger"
	"github.com/meridianprotocol/lpe/internal/oracle"
	"github.com/meridianprotocol/lpe/internal/positions"
	"github.com/meridianprotocol/lpe/internal/recorder"
	"github.com/meridianprotocol/lpe/internal/tokens"
	"github.com/meridianprotocol/lpe/internal/treasury"
	"github.com/meridianprotocol/lpe/internal/types"
)

const (
	engineAddr   = "engine"
	feeSinkAddr  = "fee-sink"
	poolAddr     = "pool"
	treasuryAddr = "treasury"
	govAddr      = "gov"
	emergAddr    = "emerg"
	opAddr       = "op"
	aliceAddr    = "alice"

	baseDenom = "ubase"
	pairDenom = "upair"
)

type harness struct {
	guard *Guard
	bank  *tokens.Bank
	pool  *amm.SimPool
	clock *testClock
}

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func guardConfig() types.GuardConfig {
	return types.GuardConfig{
		DailyLimitPct:              100,
		WeeklyLimitPct:             100,
		VestingUnlockPctPerWeek:    10,
		BaseFeePct:                 2,
		LargeWithdrawalFeePct:      5,
		MaxFeePct:                  50,
		RemovalCooldownSeconds:     0,
		MaxPrincipalPerAccount:     sdkmath.ZeroInt(),
		ReinjectionThreshold:       sdkmath.NewInt(1),
		SlippageToleranceBps:       100,
		TickRangeHalfWidthSpacings: 8,
	}
}

func newHarness(t *testing.T, rec recorder.Recorder) *harness {
	t.Helper()

	clock := &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	bank := tokens.NewBank()
	bank.Mint(aliceAddr, sdk.NewCoin(baseDenom, sdkmath.NewInt(100_000)))
	bank.Mint(treasuryAddr, sdk.NewCoin(pairDenom, sdkmath.NewInt(1_000_000)))

	pool := amm.NewSimPool(baseDenom, pairDenom, 10, 1000, bank, poolAddr, clock.now)

	twapAdapter, err := oracle.NewAdapter(pool, types.TWAPConfig{
		WindowsSeconds:  []int64{100, 300},
		MaxDeviationPct: 5,
		CacheTTLSeconds: 3600,
	}, clock.now)
	require.NoError(t, err)

	g, err := New(Config{
		Bank:          bank,
		Oracle:        twapAdapter,
		Accounts:      ledger.New(clock.now),
		Positions:     positions.NewManager(pool, engineAddr),
		Treasury:      treasury.NewFixedRateTreasury(bank, treasuryAddr, pairDenom, sdkmath.LegacyOneDec()),
		Recorder:      rec,
		EngineAddress: engineAddr,
		FeeSink:       feeSinkAddr,
		BaseDenom:     baseDenom,
		PairedDenom:   pairDenom,
		GuardConfig:   guardConfig(),
		Capabilities: map[string]Capability{
			govAddr:   CapGovernance,
			emergAddr: CapEmergency,
			opAddr:    CapOperator,
		},
		Now: clock.now,
	})
	require.NoError(t, err)

	return &harness{guard: g, bank: bank, pool: pool, clock: clock}
}

func (h *harness) deposit(t *testing.T, amount int64) {
	t.Helper()
	coin := sdk.NewCoin(baseDenom, sdkmath.NewInt(amount))
	require.NoError(t, h.bank.Approve(aliceAddr, engineAddr, coin))
	receipt, err := h.guard.Deposit(aliceAddr, sdkmath.NewInt(amount))
	require.NoError(t, err)
	require.True(t, receipt.Accepted)
}

func TestDepositStartsVestingAndMovesFunds(t *testing.T) {
	h := newHarness(t, nil)

	before := h.bank.BalanceOf(aliceAddr, baseDenom)
	h.deposit(t, 1000)

	acct := h.guard.AccountSnapshot(aliceAddr)
	require.NotNil(t, acct)
	assert.Equal(t, int64(1000), acct.Principal.Int64())
	assert.Equal(t, h.clock.t, acct.VestingStart)
	assert.True(t, h.bank.BalanceOf(aliceAddr, baseDenom).Equal(before.SubRaw(1000)))
	assert.Equal(t, int64(1000), h.bank.BalanceOf(engineAddr, baseDenom).Int64())
}

func TestDepositWithoutAllowanceRejected(t *testing.T) {
	h := newHarness(t, nil)

	receipt, err := h.guard.Deposit(aliceAddr, sdkmath.NewInt(1000))
	require.ErrorIs(t, err, types.ErrExternalCallFailure)
	assert.False(t, receipt.Accepted)
	assert.Nil(t, h.guard.AccountSnapshot(aliceAddr))
}

func TestWithdrawPaysFeeToSink(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(t, 1000)

	// Three weeks vests 30%; fee on 100 is 2 discounted by 30% = 1.
	h.clock.advance(3 * 7 * 24 * time.Hour)

	receipt, err := h.guard.Withdraw(aliceAddr, sdkmath.NewInt(100))
	require.NoError(t, err)
	require.True(t, receipt.Accepted)
	assert.Equal(t, int64(1), receipt.Fee.Int64())

	assert.Equal(t, int64(1), h.bank.BalanceOf(feeSinkAddr, baseDenom).Int64())
	acct := h.guard.AccountSnapshot(aliceAddr)
	assert.Equal(t, int64(900), acct.Principal.Int64())
	assert.Equal(t, int64(100), acct.LifetimeWithdrawn.Int64())
}

func TestWithdrawRejectionLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(t, 1000)
	h.clock.advance(3 * 7 * 24 * time.Hour)

	before := h.guard.AccountSnapshot(aliceAddr)
	beforeBal := h.bank.BalanceOf(aliceAddr, baseDenom)

	// 350 exceeds the 300 unlocked by vesting.
	receipt, err := h.guard.Withdraw(aliceAddr, sdkmath.NewInt(350))
	require.ErrorIs(t, err, types.ErrPolicyViolation)
	assert.False(t, receipt.Accepted)
	assert.Equal(t, "policy_violation", receipt.Reason)

	assert.Equal(t, before, h.guard.AccountSnapshot(aliceAddr))
	assert.True(t, h.bank.BalanceOf(aliceAddr, baseDenom).Equal(beforeBal))
	assert.True(t, h.bank.BalanceOf(feeSinkAddr, baseDenom).IsZero())
}

func TestWithdrawRejectedOnPriceCrash(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(t, 1000)
	h.clock.advance(3 * 7 * 24 * time.Hour)

	// History sits at tick 1000; crash the spot to tick 0, ~10% below the
	// TWAP with a 5% tolerance.
	h.pool.AdvanceTick(0)

	receipt, err := h.guard.Withdraw(aliceAddr, sdkmath.NewInt(100))
	require.ErrorIs(t, err, types.ErrPolicyViolation)
	assert.False(t, receipt.Accepted)

	acct := h.guard.AccountSnapshot(aliceAddr)
	assert.Equal(t, int64(1000), acct.Principal.Int64())
}

func TestEmergencyModeHaltsOperations(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(t, 1000)
	h.clock.advance(3 * 7 * 24 * time.Hour)

	require.ErrorIs(t, h.guard.SetEmergencyMode(aliceAddr, true), types.ErrUnauthorized)
	require.NoError(t, h.guard.SetEmergencyMode(emergAddr, true))

	_, err := h.guard.Withdraw(aliceAddr, sdkmath.NewInt(10))
	assert.ErrorIs(t, err, types.ErrHalted)

	require.NoError(t, h.bank.Approve(aliceAddr, engineAddr, sdk.NewCoin(baseDenom, sdkmath.NewInt(10))))
	_, err = h.guard.Deposit(aliceAddr, sdkmath.NewInt(10))
	assert.ErrorIs(t, err, types.ErrHalted)

	require.NoError(t, h.guard.SetEmergencyMode(emergAddr, false))
	_, err = h.guard.Withdraw(aliceAddr, sdkmath.NewInt(10))
	assert.NoError(t, err)
}

func TestCircuitBreakerBlocksInboundOnly(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(t, 1000)
	h.clock.advance(3 * 7 * 24 * time.Hour)

	require.NoError(t, h.guard.TriggerCircuitBreaker(emergAddr))

	require.NoError(t, h.bank.Approve(aliceAddr, engineAddr, sdk.NewCoin(baseDenom, sdkmath.NewInt(10))))
	_, err := h.guard.Deposit(aliceAddr, sdkmath.NewInt(10))
	assert.ErrorIs(t, err, types.ErrHalted)

	_, err = h.guard.InjectLiquidity(govAddr, sdkmath.NewInt(100))
	assert.ErrorIs(t, err, types.ErrHalted)

	// Withdrawals stay open.
	_, err = h.guard.Withdraw(aliceAddr, sdkmath.NewInt(10))
	assert.NoError(t, err)

	require.NoError(t, h.guard.ResetCircuitBreaker(emergAddr))
	_, err = h.guard.Deposit(aliceAddr, sdkmath.NewInt(10))
	assert.NoError(t, err)
}

func TestInjectLiquidityRequiresGovernance(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(t, 1000)

	_, err := h.guard.InjectLiquidity(aliceAddr, sdkmath.NewInt(100))
	require.ErrorIs(t, err, types.ErrUnauthorized)
	_, err = h.guard.InjectLiquidity(opAddr, sdkmath.NewInt(100))
	require.ErrorIs(t, err, types.ErrUnauthorized)

	receipt, err := h.guard.InjectLiquidity(govAddr, sdkmath.NewInt(100))
	require.NoError(t, err)
	assert.True(t, receipt.Accepted)
	assert.Len(t, h.guard.PositionsSnapshot(), 1)
}

func TestInjectSlippageAbortReturnsPairedLeg(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(t, 1000)

	treasuryBefore := h.bank.BalanceOf(treasuryAddr, pairDenom)
	engineBefore := h.bank.BalanceOf(engineAddr, baseDenom)

	h.pool.SetFillBps(9000)
	_, err := h.guard.InjectLiquidity(govAddr, sdkmath.NewInt(100))
	require.ErrorIs(t, err, types.ErrSlippageExceeded)

	assert.Empty(t, h.guard.PositionsSnapshot())
	assert.True(t, h.bank.BalanceOf(treasuryAddr, pairDenom).Equal(treasuryBefore))
	assert.True(t, h.bank.BalanceOf(engineAddr, baseDenom).Equal(engineBefore))
}

func TestReinvestRequiresOperator(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(t, 1000)

	_, err := h.guard.ReinvestRewards(aliceAddr)
	require.ErrorIs(t, err, types.ErrUnauthorized)

	receipt, err := h.guard.ReinvestRewards(opAddr)
	require.NoError(t, err)
	assert.True(t, receipt.Accepted)
}

func TestReinvestFundsPairedLegFromTreasury(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(t, 1000)

	treasuryBefore := h.bank.BalanceOf(treasuryAddr, pairDenom)
	require.True(t, h.bank.BalanceOf(engineAddr, pairDenom).IsZero())

	receipt, err := h.guard.ReinvestRewards(opAddr)
	require.NoError(t, err)
	require.True(t, receipt.Accepted)

	// With no idle paired asset in the engine, the whole paired leg comes
	// out of the treasury at the fixed 1:1 rate.
	assert.True(t, h.bank.BalanceOf(treasuryAddr, pairDenom).Equal(treasuryBefore.SubRaw(1000)))
	require.Len(t, h.guard.PositionsSnapshot(), 1)
	assert.True(t, h.bank.BalanceOf(engineAddr, baseDenom).IsZero())
	assert.True(t, h.bank.BalanceOf(engineAddr, pairDenom).IsZero())
}

func TestReinvestSlippageAbortReturnsPairedLeg(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(t, 1000)

	treasuryBefore := h.bank.BalanceOf(treasuryAddr, pairDenom)
	engineBefore := h.bank.BalanceOf(engineAddr, baseDenom)

	h.pool.SetFillBps(9000)
	_, err := h.guard.ReinvestRewards(opAddr)
	require.ErrorIs(t, err, types.ErrSlippageExceeded)

	assert.Empty(t, h.guard.PositionsSnapshot())
	assert.True(t, h.bank.BalanceOf(treasuryAddr, pairDenom).Equal(treasuryBefore))
	assert.True(t, h.bank.BalanceOf(engineAddr, baseDenom).Equal(engineBefore))
}

func TestEmergencyWithdrawRequiresEmergencyMode(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(t, 1000)

	receipt, err := h.guard.InjectLiquidity(govAddr, sdkmath.NewInt(500))
	require.NoError(t, err)
	require.True(t, receipt.Accepted)
	positionID := h.guard.PositionsSnapshot()[0].ID

	_, err = h.guard.EmergencyWithdrawPosition(emergAddr, positionID)
	require.ErrorIs(t, err, types.ErrUnauthorized)

	require.NoError(t, h.guard.SetEmergencyMode(emergAddr, true))

	// Recovery proceeds even under an adverse fill.
	h.pool.SetFillBps(9000)
	receipt, err = h.guard.EmergencyWithdrawPosition(emergAddr, positionID)
	require.NoError(t, err)
	assert.True(t, receipt.Accepted)
	assert.Empty(t, h.guard.PositionsSnapshot())
}

func TestSetGuardConfigValidatesAndApplies(t *testing.T) {
	h := newHarness(t, nil)

	bad := guardConfig()
	bad.DailyLimitPct = 120
	require.ErrorIs(t, h.guard.SetGuardConfig(govAddr, bad), types.ErrInvalidConfig)

	good := guardConfig()
	good.BaseFeePct = 3
	require.NoError(t, h.guard.SetGuardConfig(govAddr, good))
	assert.Equal(t, int64(3), h.guard.ConfigSnapshot().BaseFeePct)

	require.ErrorIs(t, h.guard.SetGuardConfig(opAddr, good), types.ErrUnauthorized)
}

func TestWhitelistedAccountSkipsFees(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(t, 1000)
	require.NoError(t, h.guard.SetWhitelisted(govAddr, aliceAddr, true))

	receipt, err := h.guard.Withdraw(aliceAddr, sdkmath.NewInt(900))
	require.NoError(t, err)
	assert.True(t, receipt.Fee.IsZero())
	assert.True(t, h.bank.BalanceOf(feeSinkAddr, baseDenom).IsZero())
}

// twapCapture records every TWAP handed to the recorder.
type twapCapture struct {
	recorder.Noop
	twaps []sdkmath.LegacyDec
}

func (r *twapCapture) RecordTWAP(twap sdkmath.LegacyDec, _ time.Time) error {
	r.twaps = append(r.twaps, twap)
	return nil
}

func TestWithdrawPersistsTWAPCache(t *testing.T) {
	rec := &twapCapture{}
	h := newHarness(t, rec)
	h.deposit(t, 1000)
	h.clock.advance(3 * 7 * 24 * time.Hour)

	_, err := h.guard.Withdraw(aliceAddr, sdkmath.NewInt(100))
	require.NoError(t, err)

	require.Len(t, rec.twaps, 1)
	assert.True(t, rec.twaps[0].IsPositive())
}

// reentrantRecorder calls back into the guard mid-operation to prove the
// busy flag rejects nested mutations.
type reentrantRecorder struct {
	recorder.Noop
	guard *Guard
	err   error
}

func (r *reentrantRecorder) RecordAccount(*types.AccountLiquidity) error {
	_, r.err = r.guard.Withdraw(aliceAddr, sdkmath.NewInt(1))
	return nil
}

func TestReentrantCallRejected(t *testing.T) {
	rec := &reentrantRecorder{}
	h := newHarness(t, rec)
	rec.guard = h.guard

	h.deposit(t, 1000) // triggers RecordAccount, which re-enters
	assert.ErrorIs(t, rec.err, types.ErrReentrancy)
}

func TestReceiptsAccumulate(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(t, 1000)

	_, _ = h.guard.Withdraw(aliceAddr, sdkmath.NewInt(100_000)) // rejected

	receipts := h.guard.Receipts(0)
	require.Len(t, receipts, 2)
	assert.True(t, receipts[0].Accepted)
	assert.Equal(t, types.OpDeposit, receipts[0].Kind)
	assert.False(t, receipts[1].Accepted)
	assert.Equal(t, types.OpWithdraw, receipts[1].Kind)

	limited := h.guard.Receipts(1)
	require.Len(t, limited, 1)
	assert.Equal(t, types.OpWithdraw, limited[0].Kind)
}
