// Package engine runs the fixed-cadence sampling loop: fetch the eight
// hub registers, decode and evaluate them, and publish the result.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/capceri/Tube-measurement/pkg/al1322"
	"github.com/capceri/Tube-measurement/pkg/config"
	"github.com/capceri/Tube-measurement/pkg/measure"
	"github.com/capceri/Tube-measurement/pkg/state"
)

// Notifier receives live updates for the operator display. All methods
// must be non-blocking from the engine's point of view; a stalled display
// must not stall sampling. A nil Notifier is allowed.
type Notifier interface {
	UpdateLive(r measure.Result)
	SendTargets(t config.Targets)
	SendOffsets(offsetsMM []float64)
}

// Engine drives the sampling cycles. Each cycle reads a configuration
// snapshot, so edits from the display or the web API apply atomically on
// the next cycle.
type Engine struct {
	store    *config.Store
	state    *state.Store
	hub      al1322.Client
	notifier Notifier
	eval     *measure.Evaluator
	log      zerolog.Logger

	lastConfigVersion uint64
}

// New creates an Engine. notifier may be nil.
func New(store *config.Store, st *state.Store, hub al1322.Client, notifier Notifier, log zerolog.Logger) *Engine {
	return &Engine{
		store:    store,
		state:    st,
		hub:      hub,
		notifier: notifier,
		eval:     measure.NewEvaluator(),
		log:      log,
	}
}

// Run samples until ctx is canceled. The interval is re-read from the
// configuration every cycle.
func (e *Engine) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		cfg := e.store.Snapshot()
		e.cycle(ctx, cfg)
		timer.Reset(cfg.PollInterval)
	}
}

// cycle runs one sampling cycle. A cycle either produces a complete
// result or fails cleanly, leaving the previous result as the last
// known-good state.
func (e *Engine) cycle(ctx context.Context, cfg *config.Config) {
	now := time.Now()

	var rawHex [config.NumChannels]string
	readsOK := true
	for port := 1; port <= config.NumChannels; port++ {
		reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
		hex, err := e.hub.ReadPort(reqCtx, port)
		cancel()

		e.state.RecordPortRead(port, hex, err, now)
		if err != nil {
			readsOK = false
			e.log.Error().Err(err).Int("port", port).Msg("hub read failed")
			continue
		}
		rawHex[port-1] = hex
	}
	if !readsOK {
		e.state.RecordFailedCycle(now)
		return
	}

	result, err := e.eval.Evaluate(rawHex, cfg.Channels, cfg.Targets, cfg.OffsetsMM)
	if err != nil {
		e.state.RecordFailedCycle(now)
		e.log.Error().Err(err).Msg("measurement cycle failed")
		return
	}

	e.state.RecordResult(result, now)

	if e.notifier != nil {
		e.notifier.UpdateLive(result)

		// Push configuration to the display whenever someone edited it.
		if v := e.store.Version(); v != e.lastConfigVersion {
			e.notifier.SendTargets(cfg.Targets)
			e.notifier.SendOffsets(cfg.OffsetsMM)
			e.lastConfigVersion = v
		}
	}
}
