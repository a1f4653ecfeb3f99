/*

Package positions tracks the engine's open AMM allocations and performs the
range math for opening, topping up, shrinking and closing them. The manager's
local records mutate only after the pool call has succeeded, so a slippage
abort leaves the book exactly as it was.

*/

package positions

import (
	"errors"
	"sync"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/meridianprotocol/lpe/internal/amm"
	"github.com/meridianprotocol/lpe/internal/logger"
	"github.com/meridianprotocol/lpe/internal/types"
)

// Manager owns the engine's position book against one pool.
type Manager struct {
	mu sync.Mutex

	pool amm.Pool
	// engine is the ledger account coins move through.
	engine string

	// positions plus an id index; removal swaps with the last element so
	// closing is O(1) regardless of book size.
	positions []types.Position
	index     map[uint64]int

	log zerolog.Logger
}

// NewManager returns an empty book over the pool, paying from engine.
func NewManager(pool amm.Pool, engine string) *Manager {
	return &Manager{
		pool:   pool,
		engine: engine,
		index:  make(map[uint64]int),
		log:    logger.GetForComponent("positions"),
	}
}

// Restore seeds a position record, used when loading persisted state. An
// existing record with the same id is replaced.
func (m *Manager) Restore(pos types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idx, ok := m.index[pos.ID]; ok {
		m.positions[idx] = pos
		return
	}
	m.index[pos.ID] = len(m.positions)
	m.positions = append(m.positions, pos)
}

// OpenOrIncrease deploys amount0/amount1 into the pool. An existing active
// position containing the current tick is topped up; otherwise a new position
// is minted centered on the current tick.
func (m *Manager) OpenOrIncrease(amount0, amount1 sdkmath.Int, cfg types.GuardConfig) (*types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, err := m.pool.Slot0()
	if err != nil {
		return nil, errorsmod.Wrap(types.ErrExternalCallFailure, err.Error())
	}

	min0 := minOut(amount0, cfg.SlippageToleranceBps)
	min1 := minOut(amount1, cfg.SlippageToleranceBps)

	if best := m.bestPosition(slot.CurrentTick); best >= 0 {
		pos := &m.positions[best]
		res, err := m.pool.IncreaseLiquidity(amm.IncreaseParams{
			Payer:          m.engine,
			PositionID:     pos.ID,
			Amount0Desired: amount0,
			Amount1Desired: amount1,
			Amount0Min:     min0,
			Amount1Min:     min1,
		})
		if err != nil {
			return nil, wrapPoolErr(err)
		}
		pos.Liquidity = pos.Liquidity.Add(res.Liquidity)
		m.log.Info().
			Uint64("position_id", pos.ID).
			Str("liquidity_added", res.Liquidity.String()).
			Msg("Topped up existing position")
		cp := *pos
		return &cp, nil
	}

	lower, upper := rangeAround(slot.CurrentTick, slot.TickSpacing, cfg.TickRangeHalfWidthSpacings)
	res, err := m.pool.Mint(amm.MintParams{
		Payer:          m.engine,
		TickLower:      lower,
		TickUpper:      upper,
		Amount0Desired: amount0,
		Amount1Desired: amount1,
		Amount0Min:     min0,
		Amount1Min:     min1,
	})
	if err != nil {
		return nil, wrapPoolErr(err)
	}

	pos := types.Position{
		ID:        res.PositionID,
		TickLower: lower,
		TickUpper: upper,
		Liquidity: res.Liquidity,
		Active:    true,
	}
	m.index[pos.ID] = len(m.positions)
	m.positions = append(m.positions, pos)
	m.log.Info().
		Uint64("position_id", pos.ID).
		Int64("tick_lower", lower).
		Int64("tick_upper", upper).
		Str("liquidity", res.Liquidity.String()).
		Msg("Opened new position")
	return &pos, nil
}

// Decrease removes liquidity from a position and sweeps the proceeds to
// recipient. Slippage minimums are in base units of each leg.
func (m *Manager) Decrease(id uint64, liquidity, amount0Min, amount1Min sdkmath.Int, recipient string) (amm.CollectResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decreaseLocked(id, liquidity, amount0Min, amount1Min, recipient)
}

func (m *Manager) decreaseLocked(id uint64, liquidity, amount0Min, amount1Min sdkmath.Int, recipient string) (amm.CollectResult, error) {
	idx, ok := m.index[id]
	if !ok {
		return amm.CollectResult{}, errorsmod.Wrapf(types.ErrPositionNotFound, "position %d", id)
	}
	pos := &m.positions[idx]
	if liquidity.GT(pos.Liquidity) {
		return amm.CollectResult{}, errorsmod.Wrapf(types.ErrPolicyViolation,
			"position %d holds %s liquidity, requested %s", id, pos.Liquidity.String(), liquidity.String())
	}

	if _, err := m.pool.DecreaseLiquidity(id, liquidity, amount0Min, amount1Min); err != nil {
		return amm.CollectResult{}, wrapPoolErr(err)
	}
	// The pool has already shrunk the position, so the book follows even if
	// the sweep below fails; the proceeds stay owed inside the pool.
	pos.Liquidity = pos.Liquidity.Sub(liquidity)

	collected, err := m.pool.Collect(id, recipient)
	if err != nil {
		return amm.CollectResult{}, errorsmod.Wrap(types.ErrExternalCallFailure, err.Error())
	}
	return collected, nil
}

// Close fully exits a position, burns it on the pool, and drops it from the
// book. minimums of zero disable slippage protection.
func (m *Manager) Close(id uint64, amount0Min, amount1Min sdkmath.Int, recipient string) (amm.CollectResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.index[id]
	if !ok {
		return amm.CollectResult{}, errorsmod.Wrapf(types.ErrPositionNotFound, "position %d", id)
	}
	liquidity := m.positions[idx].Liquidity

	var collected amm.CollectResult
	if liquidity.IsPositive() {
		var err error
		collected, err = m.decreaseLocked(id, liquidity, amount0Min, amount1Min, recipient)
		if err != nil {
			return amm.CollectResult{}, err
		}
	} else {
		// Sweep anything still owed from an earlier decrease whose
		// collection failed.
		var err error
		collected, err = m.pool.Collect(id, recipient)
		if err != nil {
			return amm.CollectResult{}, errorsmod.Wrap(types.ErrExternalCallFailure, err.Error())
		}
	}
	if err := m.pool.Burn(id); err != nil {
		return amm.CollectResult{}, errorsmod.Wrap(types.ErrExternalCallFailure, err.Error())
	}

	m.removeLocked(id)
	m.log.Info().Uint64("position_id", id).Msg("Closed position")
	return collected, nil
}

// EmergencyClose exits a position with slippage protection disabled. Recovery
// of whatever value remains takes priority over execution quality.
func (m *Manager) EmergencyClose(id uint64, recipient string) (amm.CollectResult, error) {
	return m.Close(id, sdkmath.ZeroInt(), sdkmath.ZeroInt(), recipient)
}

// CollectAll sweeps accrued rewards from every active position to recipient.
func (m *Manager) CollectAll(recipient string) (amm.CollectResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := amm.CollectResult{Amount0: sdkmath.ZeroInt(), Amount1: sdkmath.ZeroInt()}
	for _, pos := range m.positions {
		res, err := m.pool.Collect(pos.ID, recipient)
		if err != nil {
			return total, errorsmod.Wrapf(types.ErrExternalCallFailure,
				"collect position %d: %s", pos.ID, err.Error())
		}
		total.Amount0 = total.Amount0.Add(res.Amount0)
		total.Amount1 = total.Amount1.Add(res.Amount1)
	}
	return total, nil
}

// Positions returns a copy of the book.
func (m *Manager) Positions() []types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Position, len(m.positions))
	copy(out, m.positions)
	return out
}

// Position returns a copy of one record.
func (m *Manager) Position(id uint64) (types.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.index[id]
	if !ok {
		return types.Position{}, false
	}
	return m.positions[idx], true
}

// bestPosition picks the active position to top up: it must contain the
// current tick; among candidates the one whose midpoint is closest wins, ties
// broken by lowest id. Returns -1 when none qualifies.
func (m *Manager) bestPosition(currentTick int64) int {
	best := -1
	var bestDist int64
	for i, pos := range m.positions {
		if !pos.Active || !pos.Contains(currentTick) {
			continue
		}
		dist := pos.Midpoint() - currentTick
		if dist < 0 {
			dist = -dist
		}
		if best < 0 || dist < bestDist || (dist == bestDist && pos.ID < m.positions[best].ID) {
			best = i
			bestDist = dist
		}
	}
	return best
}

// removeLocked drops a position by swapping it with the last element.
func (m *Manager) removeLocked(id uint64) {
	idx := m.index[id]
	last := len(m.positions) - 1
	if idx != last {
		m.positions[idx] = m.positions[last]
		m.index[m.positions[idx].ID] = idx
	}
	m.positions = m.positions[:last]
	delete(m.index, id)
}

// rangeAround centers a spacing-aligned range on tick, halfWidthSpacings
// spacings wide on each side.
func rangeAround(tick, spacing, halfWidthSpacings int64) (lower, upper int64) {
	halfWidth := halfWidthSpacings * spacing
	lower = amm.FloorToSpacing(tick-halfWidth, spacing)
	upper = amm.FloorToSpacing(tick+halfWidth, spacing)
	if upper <= lower {
		upper = lower + spacing
	}
	if lower < -amm.MaxTick {
		lower = amm.FloorToSpacing(-amm.MaxTick+spacing-1, spacing)
	}
	if upper > amm.MaxTick {
		upper = amm.FloorToSpacing(amm.MaxTick, spacing)
	}
	return lower, upper
}

func minOut(desired sdkmath.Int, toleranceBps int64) sdkmath.Int {
	return desired.MulRaw(10000 - toleranceBps).QuoRaw(10000)
}

// wrapPoolErr classifies a pool failure into the engine's error taxonomy.
func wrapPoolErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, amm.ErrSlippage) {
		return errorsmod.Wrap(types.ErrSlippageExceeded, err.Error())
	}
	return errorsmod.Wrap(types.ErrExternalCallFailure, err.Error())
}
