/*

Emergency controls and read-only snapshots. Emergency mode and the circuit
breaker are independent switches: the breaker blocks inbound value, emergency
mode halts everything and arms the privileged recovery path.

*/

package guard

import (
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/meridianprotocol/lpe/internal/types"
)

// SetEmergencyMode toggles the global halt. Emergency capability only.
func (g *Guard) SetEmergencyMode(caller string, active bool) error {
	if err := g.requireCapability(caller, CapEmergency); err != nil {
		return err
	}
	g.mu.Lock()
	g.emergency.EmergencyMode = active
	g.mu.Unlock()

	g.log.Warn().Str("caller", caller).Bool("active", active).Msg("Emergency mode changed")
	return nil
}

// TriggerCircuitBreaker halts inbound value flow. Emergency capability only.
func (g *Guard) TriggerCircuitBreaker(caller string) error {
	if err := g.requireCapability(caller, CapEmergency); err != nil {
		return err
	}
	g.mu.Lock()
	g.emergency.CircuitBreakerTriggered = true
	g.mu.Unlock()

	g.log.Warn().Str("caller", caller).Msg("Circuit breaker triggered")
	return nil
}

// ResetCircuitBreaker re-enables inbound value flow. Emergency capability
// only.
func (g *Guard) ResetCircuitBreaker(caller string) error {
	if err := g.requireCapability(caller, CapEmergency); err != nil {
		return err
	}
	g.mu.Lock()
	g.emergency.CircuitBreakerTriggered = false
	g.mu.Unlock()

	g.log.Info().Str("caller", caller).Msg("Circuit breaker reset")
	return nil
}

// EmergencyWithdrawPosition force-closes one position with slippage protection
// disabled, sweeping proceeds to the engine account. Only callable while
// emergency mode is active.
func (g *Guard) EmergencyWithdrawPosition(caller string, positionID uint64) (*types.OperationReceipt, error) {
	log, opID := g.opLogger(types.OpEmergencyWithdraw)
	if err := g.requireCapability(caller, CapEmergency); err != nil {
		return g.finish(opID, types.OpEmergencyWithdraw, caller, sdkmath.ZeroInt(), sdkmath.ZeroInt(), err, log)
	}
	if err := g.enter(); err != nil {
		return g.finish(opID, types.OpEmergencyWithdraw, caller, sdkmath.ZeroInt(), sdkmath.ZeroInt(), err, log)
	}
	defer g.exit()

	g.mu.Lock()
	active := g.emergency.EmergencyMode
	g.mu.Unlock()
	if !active {
		err := errorsmod.Wrap(types.ErrUnauthorized, "emergency withdrawal requires emergency mode")
		return g.finish(opID, types.OpEmergencyWithdraw, caller, sdkmath.ZeroInt(), sdkmath.ZeroInt(), err, log)
	}

	collected, err := g.cfg.Positions.EmergencyClose(positionID, g.cfg.EngineAddress)
	if err != nil {
		return g.finish(opID, types.OpEmergencyWithdraw, caller, sdkmath.ZeroInt(), sdkmath.ZeroInt(), err, log)
	}

	if recErr := g.cfg.Recorder.RecordPositions(g.cfg.Positions.Positions()); recErr != nil {
		log.Error().Err(recErr).Msg("Recording positions failed")
	}
	log.Warn().
		Uint64("position_id", positionID).
		Str("recovered_base", collected.Amount0.String()).
		Str("recovered_paired", collected.Amount1.String()).
		Msg("Position emergency-withdrawn")
	return g.finish(opID, types.OpEmergencyWithdraw, caller, collected.Amount0, sdkmath.ZeroInt(), nil, log)
}

// AccountSnapshot returns a copy of one account record, or nil.
func (g *Guard) AccountSnapshot(account string) *types.AccountLiquidity {
	return g.cfg.Accounts.Account(account)
}

// ConfigSnapshot returns the current protective parameters.
func (g *Guard) ConfigSnapshot() types.GuardConfig {
	return g.configSnapshot()
}

// PositionsSnapshot returns a copy of the position book.
func (g *Guard) PositionsSnapshot() []types.Position {
	return g.cfg.Positions.Positions()
}

// EmergencySnapshot returns the state of both halt switches.
func (g *Guard) EmergencySnapshot() types.EmergencyState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.emergency
}

// TWAPSnapshot returns the cached TWAP, if one exists.
func (g *Guard) TWAPSnapshot() (twap sdkmath.LegacyDec, at time.Time, ok bool) {
	return g.cfg.Oracle.CachedTWAP()
}

// Receipts returns the most recent limit receipts, newest last. limit <= 0
// returns everything.
func (g *Guard) Receipts(limit int) []types.OperationReceipt {
	g.mu.Lock()
	defer g.mu.Unlock()
	start := 0
	if limit > 0 && len(g.receipts) > limit {
		start = len(g.receipts) - limit
	}
	out := make([]types.OperationReceipt, len(g.receipts)-start)
	copy(out, g.receipts[start:])
	return out
}
