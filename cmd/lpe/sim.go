package main

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meridianprotocol/lpe/internal/amm"
	"github.com/meridianprotocol/lpe/internal/config"
	"github.com/meridianprotocol/lpe/internal/tokens"
)

// simPoolHandle wraps the in-process pool with a background tick drift so the
// observation history accrues without external price action.
type simPoolHandle struct {
	*amm.SimPool
}

func newSimPoolHandle(bank tokens.Ledger) *simPoolHandle {
	pool := amm.NewSimPool(
		config.BaseDenom, config.PairedDenom,
		SIM_TICK_SPACING, SIM_INITIAL_TICK,
		bank, SIM_POOL_ADDRESS, nil,
	)
	return &simPoolHandle{SimPool: pool}
}

// drift walks the tick one step per period, alternating direction every few
// steps. Enough movement to exercise the TWAP windows, not enough to trip the
// deviation check on its own.
func (p *simPoolHandle) drift() {
	tick := int64(SIM_INITIAL_TICK)
	step := int64(1)
	for i := 0; ; i++ {
		time.Sleep(SIM_TICK_DRIFT_PERIOD)
		if i%5 == 4 {
			step = -step
		}
		tick += step
		p.AdvanceTick(tick)
		log.Debug().Int64("tick", tick).Msg("Sim pool tick advanced")
	}
}
