/*

SimPool is the in-process Pool implementation. It keeps a real tick-cumulative
observation history, moves real coins through the token ledger, and applies a
configurable execution fill so slippage failures are reproducible in tests and
sim mode. A returned error never leaves partial state behind.

*/

package amm

import (
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/meridianprotocol/lpe/internal/tokens"
)

// observation is one tick checkpoint. Cumulative carries tick-seconds up to Ts.
type observation struct {
	Ts         time.Time
	Cumulative int64
	Tick       int64
}

type simPosition struct {
	TickLower int64
	TickUpper int64
	Liquidity sdkmath.Int
	// Deposited amounts drive proportional withdrawal math.
	Deposited0 sdkmath.Int
	Deposited1 sdkmath.Int
	// Owed tokens accumulate on decrease until collected.
	Owed0 sdkmath.Int
	Owed1 sdkmath.Int
}

// SimPool simulates a concentrated-liquidity pool for one denom pair.
type SimPool struct {
	mu sync.Mutex

	denom0      string
	denom1      string
	tickSpacing int64
	currentTick int64

	observations []observation
	positions    map[uint64]*simPosition
	nextID       uint64

	// fillBps scales executed amounts versus desired amounts; 10000 is a
	// perfect fill, lower values simulate adverse execution.
	fillBps int64

	bank    tokens.Ledger
	address string

	now func() time.Time
}

// NewSimPool creates a pool at initialTick with an initial observation.
func NewSimPool(denom0, denom1 string, tickSpacing, initialTick int64, bank tokens.Ledger, address string, now func() time.Time) *SimPool {
	if now == nil {
		now = time.Now
	}
	p := &SimPool{
		denom0:      denom0,
		denom1:      denom1,
		tickSpacing: tickSpacing,
		currentTick: initialTick,
		positions:   make(map[uint64]*simPosition),
		nextID:      1,
		fillBps:     10000,
		bank:        bank,
		address:     address,
		now:         now,
	}
	p.observations = []observation{{Ts: now(), Cumulative: 0, Tick: initialTick}}
	return p
}

// Address returns the pool's ledger account.
func (p *SimPool) Address() string { return p.address }

// SetFillBps configures the execution fill applied to mints, increases and
// decreases. Values below the caller's slippage minimum force ErrSlippage.
func (p *SimPool) SetFillBps(bps int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fillBps = bps
}

// AdvanceTick moves the pool to a new tick, checkpointing the cumulative.
func (p *SimPool) AdvanceTick(tick int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	last := p.observations[len(p.observations)-1]
	ts := p.now()
	elapsed := int64(ts.Sub(last.Ts).Seconds())
	p.observations = append(p.observations, observation{
		Ts:         ts,
		Cumulative: last.Cumulative + last.Tick*elapsed,
		Tick:       tick,
	})
	p.currentTick = tick
}

// Observe returns the tick-cumulative pair (now, now-secondsAgo).
func (p *SimPool) Observe(secondsAgo int64) (int64, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts := p.now()
	past := ts.Add(-time.Duration(secondsAgo) * time.Second)
	if past.Before(p.observations[0].Ts) {
		return 0, 0, fmt.Errorf("%w: oldest observation %s, requested %s",
			ErrInsufficientHistory, p.observations[0].Ts.Format(time.RFC3339), past.Format(time.RFC3339))
	}
	return p.cumulativeAt(ts), p.cumulativeAt(past), nil
}

// cumulativeAt extrapolates the cumulative from the newest observation at or
// before t. Must be called with the lock held.
func (p *SimPool) cumulativeAt(t time.Time) int64 {
	idx := 0
	for i := len(p.observations) - 1; i >= 0; i-- {
		if !p.observations[i].Ts.After(t) {
			idx = i
			break
		}
	}
	obs := p.observations[idx]
	return obs.Cumulative + obs.Tick*int64(t.Sub(obs.Ts).Seconds())
}

// Slot0 returns the pool's instantaneous state.
func (p *SimPool) Slot0() (Slot0, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	spot, err := PriceAtTick(p.currentTick)
	if err != nil {
		return Slot0{}, err
	}
	return Slot0{SpotPrice: spot, CurrentTick: p.currentTick, TickSpacing: p.tickSpacing}, nil
}

// Mint opens a new position. Executed amounts are desired scaled by the fill;
// a violated minimum aborts with no coins moved and no position created.
func (p *SimPool) Mint(params MintParams) (MintResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.validateRange(params.TickLower, params.TickUpper); err != nil {
		return MintResult{}, err
	}

	used0 := applyFill(params.Amount0Desired, p.fillBps)
	used1 := applyFill(params.Amount1Desired, p.fillBps)
	if used0.LT(params.Amount0Min) || used1.LT(params.Amount1Min) {
		return MintResult{}, fmt.Errorf("%w: fill %d bps", ErrSlippage, p.fillBps)
	}

	if err := p.pull(params.Payer, used0, used1); err != nil {
		return MintResult{}, err
	}

	id := p.nextID
	p.nextID++
	p.positions[id] = &simPosition{
		TickLower:  params.TickLower,
		TickUpper:  params.TickUpper,
		Liquidity:  used0.Add(used1),
		Deposited0: used0,
		Deposited1: used1,
		Owed0:      sdkmath.ZeroInt(),
		Owed1:      sdkmath.ZeroInt(),
	}
	return MintResult{PositionID: id, Liquidity: used0.Add(used1), Amount0: used0, Amount1: used1}, nil
}

// IncreaseLiquidity tops up an existing position under the same fill rules.
func (p *SimPool) IncreaseLiquidity(params IncreaseParams) (IncreaseResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[params.PositionID]
	if !ok {
		return IncreaseResult{}, fmt.Errorf("%w: %d", ErrUnknownPosition, params.PositionID)
	}

	used0 := applyFill(params.Amount0Desired, p.fillBps)
	used1 := applyFill(params.Amount1Desired, p.fillBps)
	if used0.LT(params.Amount0Min) || used1.LT(params.Amount1Min) {
		return IncreaseResult{}, fmt.Errorf("%w: fill %d bps", ErrSlippage, p.fillBps)
	}

	if err := p.pull(params.Payer, used0, used1); err != nil {
		return IncreaseResult{}, err
	}

	added := used0.Add(used1)
	pos.Liquidity = pos.Liquidity.Add(added)
	pos.Deposited0 = pos.Deposited0.Add(used0)
	pos.Deposited1 = pos.Deposited1.Add(used1)
	return IncreaseResult{Liquidity: added, Amount0: used0, Amount1: used1}, nil
}

// DecreaseLiquidity removes liquidity proportionally; proceeds become owed
// tokens inside the pool until Collect sweeps them.
func (p *SimPool) DecreaseLiquidity(positionID uint64, liquidity, amount0Min, amount1Min sdkmath.Int) (DecreaseResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[positionID]
	if !ok {
		return DecreaseResult{}, fmt.Errorf("%w: %d", ErrUnknownPosition, positionID)
	}
	if liquidity.GT(pos.Liquidity) {
		return DecreaseResult{}, fmt.Errorf("position %d holds %s liquidity, requested %s",
			positionID, pos.Liquidity.String(), liquidity.String())
	}
	if pos.Liquidity.IsZero() || liquidity.IsZero() {
		return DecreaseResult{Amount0: sdkmath.ZeroInt(), Amount1: sdkmath.ZeroInt()}, nil
	}

	out0 := applyFill(pos.Deposited0.Mul(liquidity).Quo(pos.Liquidity), p.fillBps)
	out1 := applyFill(pos.Deposited1.Mul(liquidity).Quo(pos.Liquidity), p.fillBps)
	if out0.LT(amount0Min) || out1.LT(amount1Min) {
		return DecreaseResult{}, fmt.Errorf("%w: fill %d bps", ErrSlippage, p.fillBps)
	}

	pos.Deposited0 = pos.Deposited0.Sub(pos.Deposited0.Mul(liquidity).Quo(pos.Liquidity))
	pos.Deposited1 = pos.Deposited1.Sub(pos.Deposited1.Mul(liquidity).Quo(pos.Liquidity))
	pos.Liquidity = pos.Liquidity.Sub(liquidity)
	pos.Owed0 = pos.Owed0.Add(out0)
	pos.Owed1 = pos.Owed1.Add(out1)
	return DecreaseResult{Amount0: out0, Amount1: out1}, nil
}

// Collect sweeps owed tokens to the recipient.
func (p *SimPool) Collect(positionID uint64, recipient string) (CollectResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[positionID]
	if !ok {
		return CollectResult{}, fmt.Errorf("%w: %d", ErrUnknownPosition, positionID)
	}

	out0, out1 := pos.Owed0, pos.Owed1
	if out0.IsPositive() {
		if err := p.bank.Transfer(p.address, recipient, sdk.NewCoin(p.denom0, out0)); err != nil {
			return CollectResult{}, err
		}
	}
	if out1.IsPositive() {
		if err := p.bank.Transfer(p.address, recipient, sdk.NewCoin(p.denom1, out1)); err != nil {
			return CollectResult{}, err
		}
	}
	pos.Owed0 = sdkmath.ZeroInt()
	pos.Owed1 = sdkmath.ZeroInt()
	return CollectResult{Amount0: out0, Amount1: out1}, nil
}

// Burn removes an emptied position.
func (p *SimPool) Burn(positionID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[positionID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPosition, positionID)
	}
	if !pos.Liquidity.IsZero() || pos.Owed0.IsPositive() || pos.Owed1.IsPositive() {
		return fmt.Errorf("position %d not empty", positionID)
	}
	delete(p.positions, positionID)
	return nil
}

func (p *SimPool) validateRange(lower, upper int64) error {
	if lower >= upper {
		return fmt.Errorf("tick range [%d, %d) inverted", lower, upper)
	}
	if lower < -MaxTick || upper > MaxTick {
		return fmt.Errorf("tick range [%d, %d) out of bounds", lower, upper)
	}
	if lower%p.tickSpacing != 0 || upper%p.tickSpacing != 0 {
		return fmt.Errorf("tick range [%d, %d) not aligned to spacing %d", lower, upper, p.tickSpacing)
	}
	return nil
}

// pull moves both legs from the payer, refunding the first on a second-leg
// failure so a rejected mint leaves balances untouched.
func (p *SimPool) pull(payer string, amount0, amount1 sdkmath.Int) error {
	if amount0.IsPositive() {
		if err := p.bank.Transfer(payer, p.address, sdk.NewCoin(p.denom0, amount0)); err != nil {
			return err
		}
	}
	if amount1.IsPositive() {
		if err := p.bank.Transfer(payer, p.address, sdk.NewCoin(p.denom1, amount1)); err != nil {
			if amount0.IsPositive() {
				_ = p.bank.Transfer(p.address, payer, sdk.NewCoin(p.denom0, amount0))
			}
			return err
		}
	}
	return nil
}

func applyFill(amount sdkmath.Int, fillBps int64) sdkmath.Int {
	return amount.MulRaw(fillBps).QuoRaw(10000)
}
