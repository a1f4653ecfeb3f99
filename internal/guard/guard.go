/*

Package guard is the orchestrator every externally visible operation passes
through. It enforces the halt switches, capability checks and reentrancy
rejection, sequences the two-phase withdrawal (authorize, validate price,
compute fee, move tokens, commit), and emits one receipt per attempt.

Atomicity rule: ledger counters and the position book mutate only after every
external call in the operation has succeeded. Any failure leaves observable
state identical to the pre-operation state, except for the receipt.

*/

package guard

import (
	"fmt"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meridianprotocol/lpe/internal/fees"
	"github.com/meridianprotocol/lpe/internal/ledger"
	"github.com/meridianprotocol/lpe/internal/logger"
	"github.com/meridianprotocol/lpe/internal/oracle"
	"github.com/meridianprotocol/lpe/internal/positions"
	"github.com/meridianprotocol/lpe/internal/recorder"
	"github.com/meridianprotocol/lpe/internal/tokens"
	"github.com/meridianprotocol/lpe/internal/treasury"
	"github.com/meridianprotocol/lpe/internal/types"
)

// Capability gates the privileged operations. Callers hold a bitmask.
type Capability uint8

const (
	CapGovernance Capability = 1 << iota
	CapEmergency
	CapOperator
)

// Config wires the guard's collaborators.
type Config struct {
	Bank      tokens.Ledger
	Oracle    *oracle.Adapter
	Accounts  *ledger.Ledger
	Positions *positions.Manager
	Treasury  treasury.Treasury
	Recorder  recorder.Recorder // optional, defaults to Noop

	// EngineAddress is the ledger account holding pooled funds; FeeSink
	// receives withdrawal fees.
	EngineAddress string
	FeeSink       string

	BaseDenom   string
	PairedDenom string

	GuardConfig types.GuardConfig

	// Capabilities maps caller addresses to their capability bitmask.
	Capabilities map[string]Capability

	Now func() time.Time // optional, defaults to time.Now
}

func (c *Config) validate() error {
	if c.Bank == nil || c.Oracle == nil || c.Accounts == nil || c.Positions == nil || c.Treasury == nil {
		return fmt.Errorf("bank, oracle, accounts, positions and treasury are all required")
	}
	if c.EngineAddress == "" || c.FeeSink == "" {
		return fmt.Errorf("engine address and fee sink are required")
	}
	if c.BaseDenom == "" || c.PairedDenom == "" {
		return fmt.Errorf("base and paired denoms are required")
	}
	return c.GuardConfig.Validate()
}

// Guard serializes every mutating operation behind a single busy flag.
type Guard struct {
	cfg Config

	// mu guards the fields below. busy marks an operation in flight so a
	// nested or concurrent mutating call is rejected, not queued.
	mu        sync.Mutex
	busy      bool
	guardCfg  types.GuardConfig
	emergency types.EmergencyState
	receipts  []types.OperationReceipt

	now func() time.Time
	log zerolog.Logger
}

// New validates the wiring and returns a ready guard.
func New(cfg Config) (*Guard, error) {
	if err := cfg.validate(); err != nil {
		return nil, errorsmod.Wrap(types.ErrInvalidConfig, err.Error())
	}
	if cfg.Recorder == nil {
		cfg.Recorder = recorder.Noop{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Guard{
		cfg:      cfg,
		guardCfg: cfg.GuardConfig,
		now:      now,
		log:      logger.GetForComponent("guard"),
	}, nil
}

// enter acquires the guard for a mutating operation. A call arriving while
// another mutating operation is in flight is rejected, never queued.
func (g *Guard) enter() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return errorsmod.Wrap(types.ErrReentrancy, "another operation is in flight")
	}
	g.busy = true
	return nil
}

func (g *Guard) exit() {
	g.mu.Lock()
	g.busy = false
	g.mu.Unlock()
}

// opLogger derives a per-operation logger carrying a fresh trace id.
func (g *Guard) opLogger(kind types.OperationKind) (zerolog.Logger, string) {
	opID := uuid.NewString()
	return g.log.With().Str("op_id", opID).Str("op", string(kind)).Logger(), opID
}

// Deposit pulls amount of the base asset from the depositor into the engine
// and credits their principal. Requires a prior allowance for the engine.
func (g *Guard) Deposit(account string, amount sdkmath.Int) (*types.OperationReceipt, error) {
	log, opID := g.opLogger(types.OpDeposit)
	if err := g.enter(); err != nil {
		return g.finish(opID, types.OpDeposit, account, amount, sdkmath.ZeroInt(), err, log)
	}
	defer g.exit()

	if err := g.checkHalted(true); err != nil {
		return g.finish(opID, types.OpDeposit, account, amount, sdkmath.ZeroInt(), err, log)
	}

	cfg := g.configSnapshot()
	coin := sdk.NewCoin(g.cfg.BaseDenom, amount)
	if err := g.cfg.Bank.TransferFrom(g.cfg.EngineAddress, account, g.cfg.EngineAddress, coin); err != nil {
		return g.finish(opID, types.OpDeposit, account, amount, sdkmath.ZeroInt(),
			errorsmod.Wrap(types.ErrExternalCallFailure, err.Error()), log)
	}

	acct, err := g.cfg.Accounts.RecordDeposit(account, amount, cfg)
	if err != nil {
		// Undo the pull so a rejected deposit leaves balances untouched.
		if refundErr := g.cfg.Bank.Transfer(g.cfg.EngineAddress, account, coin); refundErr != nil {
			log.Error().Err(refundErr).Msg("Refund of rejected deposit failed")
		}
		return g.finish(opID, types.OpDeposit, account, amount, sdkmath.ZeroInt(), err, log)
	}

	if recErr := g.cfg.Recorder.RecordAccount(acct); recErr != nil {
		log.Error().Err(recErr).Msg("Recording account state failed")
	}
	log.Info().Str("account", account).Str("amount", amount.String()).Msg("Deposit accepted")
	return g.finish(opID, types.OpDeposit, account, amount, sdkmath.ZeroInt(), nil, log)
}

// Withdraw runs the full protected withdrawal sequence.
func (g *Guard) Withdraw(account string, amount sdkmath.Int) (*types.OperationReceipt, error) {
	log, opID := g.opLogger(types.OpWithdraw)
	if err := g.enter(); err != nil {
		return g.finish(opID, types.OpWithdraw, account, amount, sdkmath.ZeroInt(), err, log)
	}
	defer g.exit()

	if err := g.checkHalted(false); err != nil {
		return g.finish(opID, types.OpWithdraw, account, amount, sdkmath.ZeroInt(), err, log)
	}

	cfg := g.configSnapshot()

	grant, err := g.cfg.Accounts.AuthorizeWithdrawal(account, amount, cfg)
	if err != nil {
		return g.finish(opID, types.OpWithdraw, account, amount, sdkmath.ZeroInt(), err, log)
	}

	verdict, err := g.cfg.Oracle.ValidatePrice()
	if err != nil {
		return g.finish(opID, types.OpWithdraw, account, amount, sdkmath.ZeroInt(), err, log)
	}
	if !verdict.OK {
		err = errorsmod.Wrapf(types.ErrPolicyViolation,
			"spot %s deviates below twap %s beyond tolerance", verdict.Spot.String(), verdict.TWAP.String())
		return g.finish(opID, types.OpWithdraw, account, amount, sdkmath.ZeroInt(), err, log)
	}
	if verdict.Skipped {
		log.Warn().Msg("Price validation skipped, no TWAP available yet")
	}

	acct := g.cfg.Accounts.Account(account)
	fee := fees.Compute(acct, amount, g.now(), cfg)
	payout := amount.Sub(fee)

	payoutCoin := sdk.NewCoin(g.cfg.BaseDenom, payout)
	if err := g.cfg.Bank.Transfer(g.cfg.EngineAddress, account, payoutCoin); err != nil {
		return g.finish(opID, types.OpWithdraw, account, amount, fee,
			errorsmod.Wrap(types.ErrExternalCallFailure, err.Error()), log)
	}
	if fee.IsPositive() {
		if err := g.cfg.Bank.Transfer(g.cfg.EngineAddress, g.cfg.FeeSink, sdk.NewCoin(g.cfg.BaseDenom, fee)); err != nil {
			if refundErr := g.cfg.Bank.Transfer(account, g.cfg.EngineAddress, payoutCoin); refundErr != nil {
				log.Error().Err(refundErr).Msg("Refund after fee transfer failure failed")
			}
			return g.finish(opID, types.OpWithdraw, account, amount, fee,
				errorsmod.Wrap(types.ErrExternalCallFailure, err.Error()), log)
		}
	}

	committed, err := g.cfg.Accounts.Commit(grant)
	if err != nil {
		log.Error().Err(err).Msg("Ledger commit failed after token movement")
		return g.finish(opID, types.OpWithdraw, account, amount, fee, err, log)
	}

	if recErr := g.cfg.Recorder.RecordAccount(committed); recErr != nil {
		log.Error().Err(recErr).Msg("Recording account state failed")
	}
	if twap, at, ok := g.cfg.Oracle.CachedTWAP(); ok {
		if recErr := g.cfg.Recorder.RecordTWAP(twap, at); recErr != nil {
			log.Error().Err(recErr).Msg("Recording twap cache failed")
		}
	}
	log.Info().
		Str("account", account).
		Str("amount", amount.String()).
		Str("fee", fee.String()).
		Msg("Withdrawal accepted")
	return g.finish(opID, types.OpWithdraw, account, amount, fee, nil, log)
}

// InjectLiquidity deploys amount of the engine's idle base asset plus the
// treasury-funded paired leg into the AMM. Governance only.
func (g *Guard) InjectLiquidity(caller string, amount sdkmath.Int) (*types.OperationReceipt, error) {
	log, opID := g.opLogger(types.OpInject)
	if err := g.requireCapability(caller, CapGovernance); err != nil {
		return g.finish(opID, types.OpInject, caller, amount, sdkmath.ZeroInt(), err, log)
	}
	if err := g.enter(); err != nil {
		return g.finish(opID, types.OpInject, caller, amount, sdkmath.ZeroInt(), err, log)
	}
	defer g.exit()

	if err := g.checkHalted(true); err != nil {
		return g.finish(opID, types.OpInject, caller, amount, sdkmath.ZeroInt(), err, log)
	}
	if !amount.IsPositive() {
		return g.finish(opID, types.OpInject, caller, amount, sdkmath.ZeroInt(),
			errorsmod.Wrap(types.ErrPolicyViolation, "injection amount must be positive"), log)
	}

	cfg := g.configSnapshot()

	paired, err := g.cfg.Treasury.WithdrawPairedAssetEquivalent(
		sdk.NewCoin(g.cfg.BaseDenom, amount), g.cfg.EngineAddress)
	if err != nil {
		return g.finish(opID, types.OpInject, caller, amount, sdkmath.ZeroInt(),
			errorsmod.Wrap(types.ErrExternalCallFailure, err.Error()), log)
	}

	pos, err := g.cfg.Positions.OpenOrIncrease(amount, paired.Amount, cfg)
	if err != nil {
		// Return the paired leg so a failed injection does not strand
		// treasury funds in the engine account.
		g.returnPairedLeg(paired, log)
		return g.finish(opID, types.OpInject, caller, amount, sdkmath.ZeroInt(), err, log)
	}

	if recErr := g.cfg.Recorder.RecordPositions(g.cfg.Positions.Positions()); recErr != nil {
		log.Error().Err(recErr).Msg("Recording positions failed")
	}
	log.Info().
		Uint64("position_id", pos.ID).
		Str("base_amount", amount.String()).
		Str("paired_amount", paired.Amount.String()).
		Msg("Liquidity injected")
	return g.finish(opID, types.OpInject, caller, amount, sdkmath.ZeroInt(), nil, log)
}

// ReinvestRewards sweeps accrued rewards from every position and redeploys
// them once the idle base balance clears the configured threshold. Operator
// only.
func (g *Guard) ReinvestRewards(caller string) (*types.OperationReceipt, error) {
	log, opID := g.opLogger(types.OpReinvest)
	if err := g.requireCapability(caller, CapOperator); err != nil {
		return g.finish(opID, types.OpReinvest, caller, sdkmath.ZeroInt(), sdkmath.ZeroInt(), err, log)
	}
	if err := g.enter(); err != nil {
		return g.finish(opID, types.OpReinvest, caller, sdkmath.ZeroInt(), sdkmath.ZeroInt(), err, log)
	}
	defer g.exit()

	if err := g.checkHalted(true); err != nil {
		return g.finish(opID, types.OpReinvest, caller, sdkmath.ZeroInt(), sdkmath.ZeroInt(), err, log)
	}

	cfg := g.configSnapshot()

	collected, err := g.cfg.Positions.CollectAll(g.cfg.EngineAddress)
	if err != nil {
		return g.finish(opID, types.OpReinvest, caller, sdkmath.ZeroInt(), sdkmath.ZeroInt(), err, log)
	}

	idleBase := g.cfg.Bank.BalanceOf(g.cfg.EngineAddress, g.cfg.BaseDenom)
	idlePaired := g.cfg.Bank.BalanceOf(g.cfg.EngineAddress, g.cfg.PairedDenom)
	if !idleBase.IsPositive() || idleBase.LT(cfg.ReinjectionThreshold) {
		log.Info().
			Str("collected_base", collected.Amount0.String()).
			Str("idle_base", idleBase.String()).
			Str("threshold", cfg.ReinjectionThreshold.String()).
			Msg("Collected rewards held idle, below reinjection threshold")
		return g.finish(opID, types.OpReinvest, caller, collected.Amount0, sdkmath.ZeroInt(), nil, log)
	}

	// The treasury supplies the paired leg for the redeployed base; paired
	// rewards already idle in the engine ride along.
	paired, err := g.cfg.Treasury.WithdrawPairedAssetEquivalent(
		sdk.NewCoin(g.cfg.BaseDenom, idleBase), g.cfg.EngineAddress)
	if err != nil {
		return g.finish(opID, types.OpReinvest, caller, collected.Amount0, sdkmath.ZeroInt(),
			errorsmod.Wrap(types.ErrExternalCallFailure, err.Error()), log)
	}
	pairedTotal := idlePaired.Add(paired.Amount)

	pos, err := g.cfg.Positions.OpenOrIncrease(idleBase, pairedTotal, cfg)
	if err != nil {
		g.returnPairedLeg(paired, log)
		return g.finish(opID, types.OpReinvest, caller, collected.Amount0, sdkmath.ZeroInt(), err, log)
	}

	if recErr := g.cfg.Recorder.RecordPositions(g.cfg.Positions.Positions()); recErr != nil {
		log.Error().Err(recErr).Msg("Recording positions failed")
	}
	log.Info().
		Uint64("position_id", pos.ID).
		Str("reinvested_base", idleBase.String()).
		Str("reinvested_paired", pairedTotal.String()).
		Msg("Rewards reinvested")
	return g.finish(opID, types.OpReinvest, caller, idleBase, sdkmath.ZeroInt(), nil, log)
}

// SetGuardConfig replaces the protective parameters. Governance only.
func (g *Guard) SetGuardConfig(caller string, cfg types.GuardConfig) error {
	if err := g.requireCapability(caller, CapGovernance); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := g.enter(); err != nil {
		return err
	}
	defer g.exit()

	g.mu.Lock()
	g.guardCfg = cfg
	g.mu.Unlock()

	if recErr := g.cfg.Recorder.RecordConfig(cfg); recErr != nil {
		g.log.Error().Err(recErr).Msg("Recording config failed")
	}
	g.log.Info().Str("caller", caller).Msg("Guard configuration updated")
	return nil
}

// SetWhitelisted flags an account as exempt from limits and fees. Governance
// only.
func (g *Guard) SetWhitelisted(caller, account string, whitelisted bool) error {
	if err := g.requireCapability(caller, CapGovernance); err != nil {
		return err
	}
	if err := g.enter(); err != nil {
		return err
	}
	defer g.exit()

	g.cfg.Accounts.SetWhitelisted(account, whitelisted)
	g.log.Info().
		Str("caller", caller).
		Str("account", account).
		Bool("whitelisted", whitelisted).
		Msg("Whitelist updated")
	return nil
}

// requireCapability checks the caller's bitmask.
func (g *Guard) requireCapability(caller string, required Capability) error {
	if g.cfg.Capabilities[caller]&required == 0 {
		return errorsmod.Wrapf(types.ErrUnauthorized, "caller %s lacks required capability", caller)
	}
	return nil
}

// checkHalted enforces the halt switches. The circuit breaker only blocks
// inbound paths (deposits, injections, reinvestment); emergency mode blocks
// everything except the privileged recovery path.
func (g *Guard) checkHalted(inbound bool) error {
	g.mu.Lock()
	em := g.emergency
	g.mu.Unlock()

	if em.EmergencyMode {
		return errorsmod.Wrap(types.ErrHalted, "emergency mode active")
	}
	if inbound && em.CircuitBreakerTriggered {
		return errorsmod.Wrap(types.ErrHalted, "circuit breaker triggered")
	}
	return nil
}

func (g *Guard) configSnapshot() types.GuardConfig {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.guardCfg
}

// finish records the receipt for an attempt and returns it alongside the
// operation's error. Recorder failures are logged, never propagated.
func (g *Guard) finish(opID string, kind types.OperationKind, account string, amount, fee sdkmath.Int, opErr error, log zerolog.Logger) (*types.OperationReceipt, error) {
	receipt := types.OperationReceipt{
		OpID:      opID,
		Kind:      kind,
		Account:   account,
		Amount:    amount,
		Fee:       fee,
		Accepted:  opErr == nil,
		Reason:    types.ReasonCode(opErr),
		Timestamp: g.now(),
	}

	g.mu.Lock()
	g.receipts = append(g.receipts, receipt)
	g.mu.Unlock()

	if recErr := g.cfg.Recorder.RecordReceipt(receipt); recErr != nil {
		log.Error().Err(recErr).Msg("Recording receipt failed")
	}
	if opErr != nil {
		log.Warn().Err(opErr).Str("reason", receipt.Reason).Msg("Operation rejected")
	}
	return &receipt, opErr
}

// returnPairedLeg sends treasury-provided funds back after a failed
// deployment. Only possible when the treasury exposes a ledger address.
func (g *Guard) returnPairedLeg(paired sdk.Coin, log zerolog.Logger) {
	if !paired.Amount.IsPositive() {
		return
	}
	type addressed interface{ Address() string }
	a, ok := g.cfg.Treasury.(addressed)
	if !ok || a.Address() == "" {
		log.Warn().Msg("Treasury does not expose a refund address, paired leg held idle")
		return
	}
	if err := g.cfg.Bank.Transfer(g.cfg.EngineAddress, a.Address(), paired); err != nil {
		log.Error().Err(err).Msg("Returning paired leg after failed deployment failed")
	}
}
