package types

import (
	"errors"

	errorsmod "cosmossdk.io/errors"
)

const codespace = "lpe"

// Error taxonomy for the protection engine. Every rejection surfaces as one of
// these registered errors so callers (and persisted receipts) can classify it.
var (
	// ErrPolicyViolation covers rate limit, vesting, cooldown and
	// max-principal rejections. Recoverable by retrying later or smaller.
	ErrPolicyViolation = errorsmod.Register(codespace, 2, "policy violation")

	// ErrOracleUnavailable means every TWAP window failed and no fresh
	// cached value exists.
	ErrOracleUnavailable = errorsmod.Register(codespace, 3, "twap oracle unavailable")

	// ErrSlippageExceeded means the AMM returned worse terms than the
	// configured minimum. The enclosing operation aborts entirely.
	ErrSlippageExceeded = errorsmod.Register(codespace, 4, "slippage tolerance exceeded")

	// ErrExternalCallFailure means an AMM or token ledger call itself
	// failed. Fatal to the current operation; engine state stays valid.
	ErrExternalCallFailure = errorsmod.Register(codespace, 5, "external call failed")

	// ErrUnauthorized is a capability check failure.
	ErrUnauthorized = errorsmod.Register(codespace, 6, "unauthorized")

	// ErrHalted is returned while emergency mode or the circuit breaker
	// disables the requested path.
	ErrHalted = errorsmod.Register(codespace, 7, "operations halted")

	// ErrReentrancy is returned when a mutating operation is invoked while
	// another mutating operation is in flight.
	ErrReentrancy = errorsmod.Register(codespace, 8, "reentrant call rejected")

	ErrInvalidConfig    = errorsmod.Register(codespace, 9, "invalid configuration")
	ErrPositionNotFound = errorsmod.Register(codespace, 10, "position not found")
)

// ReasonCode maps an error to the short code persisted on receipts.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPolicyViolation):
		return "policy_violation"
	case errors.Is(err, ErrOracleUnavailable):
		return "oracle_unavailable"
	case errors.Is(err, ErrSlippageExceeded):
		return "slippage_exceeded"
	case errors.Is(err, ErrExternalCallFailure):
		return "external_call_failure"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrHalted):
		return "halted"
	case errors.Is(err, ErrReentrancy):
		return "reentrancy"
	case errors.Is(err, ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, ErrPositionNotFound):
		return "position_not_found"
	default:
		return "internal"
	}
}
