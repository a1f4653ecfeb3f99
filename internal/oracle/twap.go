/*

Package oracle computes multi-window time-weighted average prices from the
pool's tick-cumulative history and validates spot prices against them before
value leaves the system.

Availability policy: a window that cannot be observed is skipped, not zeroed.
When every window fails, a cached TWAP inside its TTL stands in; a stale or
absent cache makes price validation fail closed with ErrOracleUnavailable,
except that an engine which has never computed a TWAP at all fails open and
reports the check as skipped.

*/

package oracle

import (
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/meridianprotocol/lpe/internal/amm"
	"github.com/meridianprotocol/lpe/internal/logger"
	"github.com/meridianprotocol/lpe/internal/types"
)

// Verdict is the outcome of a price validation.
type Verdict struct {
	// OK reports whether the withdrawal may proceed.
	OK bool
	// Skipped is set when no TWAP has ever been computable and the check
	// passed by fail-open policy.
	Skipped bool
	Spot    sdkmath.LegacyDec
	TWAP    sdkmath.LegacyDec
}

// Adapter reads the pool's observation history and maintains the TWAP cache.
type Adapter struct {
	pool amm.Pool
	cfg  types.TWAPConfig

	mu        sync.RWMutex
	cached    sdkmath.LegacyDec
	cachedAt  time.Time
	hasCached bool

	now func() time.Time
	log zerolog.Logger
}

// NewAdapter builds an adapter over the pool with the given window config.
func NewAdapter(pool amm.Pool, cfg types.TWAPConfig, now func() time.Time) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		pool: pool,
		cfg:  cfg,
		now:  now,
		log:  logger.GetForComponent("twap_oracle"),
	}, nil
}

// ComputeTWAP averages the per-window TWAPs weighted by window duration.
// Failed windows are skipped. When all windows fail the fresh cache is served;
// otherwise ErrOracleUnavailable.
func (a *Adapter) ComputeTWAP() (sdkmath.LegacyDec, error) {
	weighted := sdkmath.LegacyZeroDec()
	var totalWeight int64

	for _, window := range a.cfg.WindowsSeconds {
		price, err := a.windowTWAP(window)
		if err != nil {
			a.log.Debug().Int64("window_seconds", window).Err(err).Msg("Observation window unavailable, skipping")
			continue
		}
		weighted = weighted.Add(price.MulInt64(window))
		totalWeight += window
	}

	if totalWeight == 0 {
		return a.cacheFallback()
	}

	twap := weighted.QuoInt64(totalWeight)

	a.mu.Lock()
	a.cached = twap
	a.cachedAt = a.now()
	a.hasCached = true
	a.mu.Unlock()

	return twap, nil
}

// windowTWAP derives the average tick over one window and converts it to a
// price. Integer division of tick-seconds truncates toward zero, matching the
// cumulative encoding.
func (a *Adapter) windowTWAP(windowSeconds int64) (sdkmath.LegacyDec, error) {
	cumNow, cumPast, err := a.pool.Observe(windowSeconds)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	avgTick := (cumNow - cumPast) / windowSeconds
	return amm.PriceAtTick(avgTick)
}

func (a *Adapter) cacheFallback() (sdkmath.LegacyDec, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.hasCached {
		return sdkmath.LegacyDec{}, errorsmod.Wrap(types.ErrOracleUnavailable,
			"all observation windows failed and no cached value exists")
	}
	age := a.now().Sub(a.cachedAt)
	if age > time.Duration(a.cfg.CacheTTLSeconds)*time.Second {
		return sdkmath.LegacyDec{}, errorsmod.Wrapf(types.ErrOracleUnavailable,
			"all observation windows failed and cache is %s old (ttl %ds)", age, a.cfg.CacheTTLSeconds)
	}
	a.log.Warn().
		Str("cached_twap", a.cached.String()).
		Dur("cache_age", age).
		Msg("All observation windows failed, serving cached TWAP")
	return a.cached, nil
}

// ValidatePrice compares the pool's spot price against the TWAP. Deviation is
// only checked downward: a spot above the TWAP cannot be used to extract value
// through a withdrawal, so it always passes.
func (a *Adapter) ValidatePrice() (Verdict, error) {
	slot, err := a.pool.Slot0()
	if err != nil {
		return Verdict{}, errorsmod.Wrap(types.ErrExternalCallFailure, err.Error())
	}

	twap, err := a.ComputeTWAP()
	if err != nil {
		if a.everCached() {
			return Verdict{Spot: slot.SpotPrice}, err
		}
		// Never computable since startup: fail open rather than brick
		// withdrawals on a pool with no history yet.
		a.log.Warn().Msg("No TWAP has ever been computable, skipping price validation")
		return Verdict{OK: true, Skipped: true, Spot: slot.SpotPrice}, nil
	}

	v := Verdict{Spot: slot.SpotPrice, TWAP: twap}
	if slot.SpotPrice.GTE(twap) {
		v.OK = true
		return v, nil
	}

	maxDrop := twap.MulInt64(a.cfg.MaxDeviationPct).QuoInt64(100)
	if twap.Sub(slot.SpotPrice).GT(maxDrop) {
		a.log.Warn().
			Str("spot", slot.SpotPrice.String()).
			Str("twap", twap.String()).
			Int64("max_deviation_pct", a.cfg.MaxDeviationPct).
			Msg("Spot price deviates below TWAP beyond tolerance")
		return v, nil
	}
	v.OK = true
	return v, nil
}

// CachedTWAP exposes the cache for read-only snapshots.
func (a *Adapter) CachedTWAP() (twap sdkmath.LegacyDec, at time.Time, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cached, a.cachedAt, a.hasCached
}

func (a *Adapter) everCached() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.hasCached
}
