package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Travel-Concierge/agent/contract"
	nodex "github.com/tanpawarit/Chative-Travel-Concierge/agent/nodes/orchestrator"
)

// run drives one turn through the phase machine:
// validate -> prepare -> routing -> dispatched -> finalizing -> done.
func (o *Orchestrator) run(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
	gs, err := nodex.ValidateRequest(in, o.now)
	if err != nil {
		return nil, err
	}
	if gs, err = nodex.PrepareState(gs); err != nil {
		return nil, err
	}

	for gs.Phase != nodex.PhaseDone {
		if gs.Phase == nodex.PhaseRouting && gs.Hops >= o.maxHops {
			log.Ctx(ctx).Warn().
				Int("hops", gs.Hops).
				Msg("hop limit reached, finalizing turn")
			gs.Phase = nodex.PhaseFinalizing
		}

		switch {
		case gs.Phase == nodex.PhaseRouting:
			gs, err = nodex.RouteRequest(gs)
			if err == nil {
				log.Ctx(ctx).Debug().Str("route", string(gs.Route)).Msg("query routed")
			}
		case gs.Phase.Dispatched():
			gs, err = nodex.DispatchSpecialist(ctx, gs, o.models, o.failures)
		case gs.Phase == nodex.PhaseFinalizing:
			gs, err = nodex.Finalize(gs)
		default:
			err = fmt.Errorf("%w: unexpected phase %q", contractx.ErrValidation, gs.Phase)
		}
		if err != nil {
			return nil, err
		}
	}
	return gs, nil
}
