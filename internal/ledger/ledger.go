/*

Package ledger keeps the per-account vesting and rate-limit bookkeeping and
decides whether a withdrawal is allowed. Authorization and mutation are split:
AuthorizeWithdrawal is a pure check that returns a Grant, and Commit applies
the Grant only after the orchestrator has finished every fallible step. An
aborted operation therefore never moves a window counter.

*/

package ledger

import (
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/meridianprotocol/lpe/internal/types"
)

// Grant is an authorized, not-yet-committed withdrawal. It captures the window
// state the authorization saw so Commit applies exactly what was checked.
type Grant struct {
	Account string
	Amount  sdkmath.Int

	// rolled window values as of authorization time
	dailyWithdrawn    sdkmath.Int
	dailyWindowStart  time.Time
	weeklyWithdrawn   sdkmath.Int
	weeklyWindowStart time.Time
	authorizedAt      time.Time
}

// Ledger owns every AccountLiquidity record. All access goes through it.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*types.AccountLiquidity

	now func() time.Time
}

// New returns an empty account ledger.
func New(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		accounts: make(map[string]*types.AccountLiquidity),
		now:      now,
	}
}

// Restore seeds an account record, used when loading persisted state.
func (l *Ledger) Restore(acct *types.AccountLiquidity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[acct.Address] = acct.Clone()
}

// RecordDeposit credits principal. The first deposit starts the vesting clock;
// later deposits never reset it.
func (l *Ledger) RecordDeposit(account string, amount sdkmath.Int, cfg types.GuardConfig) (*types.AccountLiquidity, error) {
	if !amount.IsPositive() {
		return nil, errorsmod.Wrap(types.ErrPolicyViolation, "deposit amount must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[account]
	if !ok {
		acct = types.NewAccountLiquidity(account)
		l.accounts[account] = acct
	}

	if cfg.MaxPrincipalPerAccount.IsPositive() &&
		acct.Principal.Add(amount).GT(cfg.MaxPrincipalPerAccount) {
		return nil, errorsmod.Wrapf(types.ErrPolicyViolation,
			"deposit would raise principal to %s, cap is %s",
			acct.Principal.Add(amount).String(), cfg.MaxPrincipalPerAccount.String())
	}

	if acct.VestingStart.IsZero() {
		acct.VestingStart = l.now()
	}
	acct.Principal = acct.Principal.Add(amount)
	return acct.Clone(), nil
}

// AuthorizeWithdrawal runs every policy check without mutating anything.
// Whitelisted accounts skip rate limits, vesting and cooldown but still must
// hold the principal.
func (l *Ledger) AuthorizeWithdrawal(account string, amount sdkmath.Int, cfg types.GuardConfig) (*Grant, error) {
	if !amount.IsPositive() {
		return nil, errorsmod.Wrap(types.ErrPolicyViolation, "withdrawal amount must be positive")
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	acct, ok := l.accounts[account]
	if !ok {
		return nil, errorsmod.Wrapf(types.ErrPolicyViolation, "account %s has no deposits", account)
	}
	if amount.GT(acct.Principal) {
		return nil, errorsmod.Wrapf(types.ErrPolicyViolation,
			"withdrawal %s exceeds principal %s", amount.String(), acct.Principal.String())
	}

	now := l.now()
	grant := &Grant{Account: account, Amount: amount, authorizedAt: now}

	grant.dailyWithdrawn, grant.dailyWindowStart = rollWindow(
		acct.DailyWithdrawn, acct.DailyWindowStart, types.SecondsPerDay, now)
	grant.weeklyWithdrawn, grant.weeklyWindowStart = rollWindow(
		acct.WeeklyWithdrawn, acct.WeeklyWindowStart, types.SecondsPerWeek, now)

	if acct.Whitelisted {
		return grant, nil
	}

	if cfg.RemovalCooldownSeconds > 0 && !acct.LastWithdrawalTime.IsZero() {
		elapsed := int64(now.Sub(acct.LastWithdrawalTime).Seconds())
		if elapsed < cfg.RemovalCooldownSeconds {
			return nil, errorsmod.Wrapf(types.ErrPolicyViolation,
				"cooldown: %ds since last withdrawal, need %ds", elapsed, cfg.RemovalCooldownSeconds)
		}
	}

	dailyCap := acct.Principal.MulRaw(cfg.DailyLimitPct).QuoRaw(100)
	if grant.dailyWithdrawn.Add(amount).GT(dailyCap) {
		return nil, errorsmod.Wrapf(types.ErrPolicyViolation,
			"daily limit: %s withdrawn this window, cap %s, requested %s",
			grant.dailyWithdrawn.String(), dailyCap.String(), amount.String())
	}

	weeklyCap := acct.Principal.MulRaw(cfg.WeeklyLimitPct).QuoRaw(100)
	if grant.weeklyWithdrawn.Add(amount).GT(weeklyCap) {
		return nil, errorsmod.Wrapf(types.ErrPolicyViolation,
			"weekly limit: %s withdrawn this window, cap %s, requested %s",
			grant.weeklyWithdrawn.String(), weeklyCap.String(), amount.String())
	}

	unlocked := unlockedAmount(acct, cfg, now)
	if acct.LifetimeWithdrawn.Add(amount).GT(unlocked) {
		return nil, errorsmod.Wrapf(types.ErrPolicyViolation,
			"vesting: %s unlocked, %s already withdrawn, requested %s",
			unlocked.String(), acct.LifetimeWithdrawn.String(), amount.String())
	}

	return grant, nil
}

// Commit applies a Grant. Called only after every external step succeeded.
func (l *Ledger) Commit(grant *Grant) (*types.AccountLiquidity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[grant.Account]
	if !ok {
		return nil, errorsmod.Wrapf(types.ErrPolicyViolation, "account %s has no deposits", grant.Account)
	}

	acct.Principal = acct.Principal.Sub(grant.Amount)
	acct.LifetimeWithdrawn = acct.LifetimeWithdrawn.Add(grant.Amount)
	acct.DailyWithdrawn = grant.dailyWithdrawn.Add(grant.Amount)
	acct.DailyWindowStart = grant.dailyWindowStart
	acct.WeeklyWithdrawn = grant.weeklyWithdrawn.Add(grant.Amount)
	acct.WeeklyWindowStart = grant.weeklyWindowStart
	acct.LastWithdrawalTime = grant.authorizedAt
	return acct.Clone(), nil
}

// SetWhitelisted flags an account. The record is created if absent so the flag
// survives until the first deposit.
func (l *Ledger) SetWhitelisted(account string, whitelisted bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[account]
	if !ok {
		acct = types.NewAccountLiquidity(account)
		l.accounts[account] = acct
	}
	acct.Whitelisted = whitelisted
}

// Account returns a copy of the record, or nil when the address never
// deposited.
func (l *Ledger) Account(account string) *types.AccountLiquidity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if acct, ok := l.accounts[account]; ok {
		return acct.Clone()
	}
	return nil
}

// Accounts returns copies of every record.
func (l *Ledger) Accounts() []*types.AccountLiquidity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*types.AccountLiquidity, 0, len(l.accounts))
	for _, acct := range l.accounts {
		out = append(out, acct.Clone())
	}
	return out
}

// UnlockedAmount reports how much of the account's lifetime value has vested.
func (l *Ledger) UnlockedAmount(account string, cfg types.GuardConfig) sdkmath.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.accounts[account]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return unlockedAmount(acct, cfg, l.now())
}

// UnlockedPct reports the vested percentage for an account, 0..100.
func (l *Ledger) UnlockedPct(account string, cfg types.GuardConfig) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.accounts[account]
	if !ok {
		return 0
	}
	return UnlockedPct(acct, cfg, l.now())
}

// UnlockedPct computes the vested percentage for a record at a point in time.
func UnlockedPct(acct *types.AccountLiquidity, cfg types.GuardConfig, now time.Time) int64 {
	if acct.VestingStart.IsZero() {
		return 0
	}
	weeks := int64(now.Sub(acct.VestingStart).Seconds()) / types.SecondsPerWeek
	pct := weeks * cfg.VestingUnlockPctPerWeek
	if pct > 100 {
		pct = 100
	}
	return pct
}

// unlockedAmount is the vesting cap in base units. The base is the lifetime
// deposited value (current principal plus what already left), so withdrawing
// does not shrink the remaining unlock.
func unlockedAmount(acct *types.AccountLiquidity, cfg types.GuardConfig, now time.Time) sdkmath.Int {
	lifetimeValue := acct.Principal.Add(acct.LifetimeWithdrawn)
	return lifetimeValue.MulRaw(UnlockedPct(acct, cfg, now)).QuoRaw(100)
}

// rollWindow resets a rolling counter once its window has fully elapsed.
func rollWindow(withdrawn sdkmath.Int, start time.Time, windowSeconds int64, now time.Time) (sdkmath.Int, time.Time) {
	if start.IsZero() || int64(now.Sub(start).Seconds()) >= windowSeconds {
		return sdkmath.ZeroInt(), now
	}
	return withdrawn, start
}
