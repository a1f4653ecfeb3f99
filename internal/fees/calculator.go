// Package fees holds the withdrawal fee schedule. Compute is a pure function
// of the account record, the amount and the config; it never mutates state and
// never errors, so the orchestrator can call it between authorization and
// commit without widening the failure surface.
package fees

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/meridianprotocol/lpe/internal/ledger"
	"github.com/meridianprotocol/lpe/internal/types"
)

// Compute returns the fee owed on a withdrawal of amount by acct at now.
//
// Schedule: base percentage on every withdrawal, a surcharge when the
// withdrawal takes more than half the remaining principal, a vesting discount
// proportional to the unlocked share, and a hard ceiling of MaxFeePct.
// Whitelisted accounts pay nothing.
func Compute(acct *types.AccountLiquidity, amount sdkmath.Int, now time.Time, cfg types.GuardConfig) sdkmath.Int {
	if acct == nil || acct.Whitelisted || !amount.IsPositive() {
		return sdkmath.ZeroInt()
	}

	fee := amount.MulRaw(cfg.BaseFeePct).QuoRaw(100)

	// amount/principal > 50%, kept in integer math.
	if acct.Principal.IsPositive() && amount.MulRaw(2).GT(acct.Principal) {
		fee = fee.Add(amount.MulRaw(cfg.LargeWithdrawalFeePct).QuoRaw(100))
	}

	unlockedPct := ledger.UnlockedPct(acct, cfg, now)
	fee = fee.MulRaw(100 - unlockedPct).QuoRaw(100)

	ceiling := amount.MulRaw(cfg.MaxFeePct).QuoRaw(100)
	if fee.GT(ceiling) {
		fee = ceiling
	}
	return fee
}
