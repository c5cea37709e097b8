// Package coordinator runs the pipeline control loop: it asks the loop
// detector whether the current phase is stuck, consults the objective
// manager for the next phase, invokes the registered runner, records the
// outcome and persists state, once per iteration. The loop is
// single-threaded: exactly one phase executes at a time and the coordinator
// blocks until it returns.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/justmebob123/autonomy-sub005/internal/bus"
	"github.com/justmebob123/autonomy-sub005/internal/correlate"
	"github.com/justmebob123/autonomy-sub005/internal/loopdetect"
	"github.com/justmebob123/autonomy-sub005/internal/objective"
	"github.com/justmebob123/autonomy-sub005/internal/state"
)

const busName = "coordinator"

// RunStore is the subset of store.Store the coordinator needs (avoids an
// import cycle).
type RunStore interface {
	SaveState(runID string, blob []byte) error
	AppendPhaseRun(runID, phase string, success bool, duration time.Duration, message string) error
	SaveCorrelationData(runID string, blob []byte) error
}

// Options tunes loop termination.
type Options struct {
	// MaxIterations stops a runaway loop; 0 means no limit.
	MaxIterations int
	// IdleThreshold ends the run after this many consecutive no-progress
	// iterations once no open objectives remain.
	IdleThreshold int
}

func (o Options) withDefaults() Options {
	if o.IdleThreshold <= 0 {
		o.IdleThreshold = 3
	}
	return o
}

// Coordinator composes the state manager, bus, loop detector, correlation
// engine and objective manager into the phase state machine.
type Coordinator struct {
	states     *state.Manager
	bus        *bus.Bus
	detector   *loopdetect.Detector
	engine     *correlate.Engine
	objectives *objective.Manager
	store      RunStore
	opts       Options
	log        *zap.Logger

	runners map[Phase]PhaseRunner

	current     Phase
	iterations  int
	noProgress  int
	lastSuccess bool
}

// New wires a coordinator. The store may be nil for dry runs; everything
// else is required.
func New(states *state.Manager, b *bus.Bus, detector *loopdetect.Detector,
	engine *correlate.Engine, objectives *objective.Manager,
	store RunStore, opts Options, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		states:     states,
		bus:        b,
		detector:   detector,
		engine:     engine,
		objectives: objectives,
		store:      store,
		opts:       opts.withDefaults(),
		log:        log,
		runners:    make(map[Phase]PhaseRunner),
		current:    PhaseIdle,
	}
}

// RegisterPhase adds a runner to the dispatch table. Last registration for a
// name wins.
func (c *Coordinator) RegisterPhase(r PhaseRunner) {
	c.runners[r.Name()] = r
}

// Current returns the phase the loop is in.
func (c *Coordinator) Current() Phase {
	return c.current
}

// Iterations returns the number of completed loop iterations.
func (c *Coordinator) Iterations() int {
	return c.iterations
}

// Run drives the loop until the pipeline is done, the iteration cap is hit
// or the context is cancelled between iterations. The phase invocation
// itself is the suspension point; decision logic stays synchronous.
func (c *Coordinator) Run(ctx context.Context) error {
	c.log.Info("pipeline loop starting", zap.String("run_id", c.states.RunID()))

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline loop cancelled: %w", err)
		}
		if c.opts.MaxIterations > 0 && c.iterations >= c.opts.MaxIterations {
			c.log.Info("iteration cap reached", zap.Int("iterations", c.iterations))
			return nil
		}
		if c.done() {
			c.current = PhaseDone
			c.log.Info("pipeline done",
				zap.Int("iterations", c.iterations),
			)
			c.bus.Publish(bus.NewMessage(busName, bus.Broadcast, bus.SystemInfo, bus.PriorityNormal, map[string]any{
				"event":      "pipeline_done",
				"iterations": c.iterations,
			}))
			return nil
		}

		if err := c.step(ctx); err != nil {
			return err
		}
	}
}

// done reports the terminal condition: no open objectives and the tactical
// rotation has stopped producing progress.
func (c *Coordinator) done() bool {
	if len(c.states.OpenObjectives()) > 0 {
		return false
	}
	return c.noProgress >= c.opts.IdleThreshold
}

// step performs one iteration of the state machine.
func (c *Coordinator) step(ctx context.Context) error {
	decision := c.decide()
	next := Phase(decision.Phase)
	if next != c.current {
		c.bus.Publish(bus.NewMessage(busName, bus.Broadcast, bus.PhaseTransition, bus.PriorityNormal, map[string]any{
			"from":   string(c.current),
			"to":     string(next),
			"mode":   decision.Mode,
			"reason": decision.Reason,
		}))
	}
	c.current = next

	if decision.ObjectiveID != "" {
		if c.states.SetObjectiveStatus(decision.ObjectiveID, state.ObjectiveActive) {
			c.bus.Publish(bus.NewMessage(busName, bus.Broadcast, bus.ObjectiveActivated, bus.PriorityNormal, map[string]any{
				"objective_id": decision.ObjectiveID,
			}))
		}
	}

	started := time.Now()
	result, err := c.invoke(ctx, decision)
	c.record(decision, result, err, time.Since(started))
	c.iterations++

	if err := c.persist(); err != nil {
		return err
	}
	return nil
}

// decide picks the phase for this iteration. A forced transition from the
// loop detector and a completed phase both route through the objective
// manager; a phase that is still making headway continues.
func (c *Coordinator) decide() objective.Decision {
	if c.current == PhaseIdle || c.current == PhaseDone {
		return c.objectives.NextPhase(string(c.current))
	}
	forced, reason := c.detector.ShouldForceTransition(string(c.current))
	if !forced && !c.lastSuccess {
		return objective.Decision{
			Phase:  string(c.current),
			Mode:   "continue",
			Reason: reason,
		}
	}
	if forced {
		c.log.Info("loop detector forced transition",
			zap.String("phase", string(c.current)),
			zap.String("reason", reason),
		)
	}
	d := c.objectives.NextPhase(string(c.current))
	if forced {
		d.Reason = "forced: " + reason
	}
	return d
}

// invoke calls the registered runner behind the error boundary: a missing
// runner, an error return and a panic all surface as a failed PhaseResult
// wrapped in ErrPhaseInvocation, never as a crashed loop.
func (c *Coordinator) invoke(ctx context.Context, decision objective.Decision) (result PhaseResult, err error) {
	phase := Phase(decision.Phase)
	runner, ok := c.runners[phase]
	if !ok {
		return PhaseResult{Message: "no runner registered"},
			fmt.Errorf("%w: %s", ErrUnknownPhase, phase)
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("phase runner panicked",
				zap.String("phase", string(phase)),
				zap.Any("panic", r),
			)
			result = PhaseResult{Message: fmt.Sprintf("panic: %v", r)}
			err = fmt.Errorf("%w: %s panicked: %v", ErrPhaseInvocation, phase, r)
		}
	}()

	c.bus.Publish(bus.NewMessage(busName, bus.Broadcast, bus.TaskStarted, bus.PriorityNormal, map[string]any{
		"phase":        string(phase),
		"objective_id": decision.ObjectiveID,
	}))

	result, err = runner.Run(ctx, Request{
		RunID:       c.states.RunID(),
		Phase:       phase,
		ObjectiveID: decision.ObjectiveID,
		Objective:   decision.Objective,
		Summary:     c.states.Summary(),
	})
	if err != nil {
		return result, fmt.Errorf("%w: %s: %v", ErrPhaseInvocation, phase, err)
	}
	return result, nil
}

// record books the outcome everywhere it matters: state store, correlation
// engine, no-progress accounting, objective retirement and the bus.
func (c *Coordinator) record(decision objective.Decision, result PhaseResult, err error, duration time.Duration) {
	phase := decision.Phase
	success := err == nil && result.Success
	c.lastSuccess = success

	c.states.RecordRun(phase, success, result.TaskID, result.FilesCreated, result.FilesModified)
	c.engine.RecordExecution(phase, success)

	if result.HasFileChanges() {
		c.states.ResetNoUpdate(phase)
		c.noProgress = 0
		c.bus.Publish(bus.NewMessage(busName, bus.Broadcast, bus.CodeChanged, bus.PriorityNormal, map[string]any{
			"phase":          phase,
			"files_created":  result.FilesCreated,
			"files_modified": result.FilesModified,
		}))
	} else {
		c.states.IncrementNoUpdate(phase)
		c.noProgress++
	}

	if success {
		if decision.ObjectiveID != "" {
			c.states.SetObjectiveStatus(decision.ObjectiveID, state.ObjectiveCompleted)
			c.bus.Publish(bus.NewMessage(busName, bus.Broadcast, bus.ObjectiveCompleted, bus.PriorityNormal, map[string]any{
				"objective_id": decision.ObjectiveID,
			}))
		}
		c.bus.Publish(bus.NewMessage(busName, bus.Broadcast, bus.PhaseCompleted, bus.PriorityNormal, map[string]any{
			"phase":   phase,
			"task_id": result.TaskID,
			"message": result.Message,
		}))
	} else {
		payload := map[string]any{
			"phase":   phase,
			"message": result.Message,
		}
		if err != nil {
			payload["error"] = err.Error()
			c.log.Warn("phase invocation failed",
				zap.String("phase", phase),
				zap.Error(err),
			)
		}
		c.bus.Publish(bus.NewMessage(busName, bus.Broadcast, bus.TaskFailed, bus.PriorityHigh, payload))
	}

	c.states.RecordMetric("phase_duration_"+phase, duration.Seconds())

	if c.store != nil {
		if serr := c.store.AppendPhaseRun(c.states.RunID(), phase, success, duration, result.Message); serr != nil {
			c.log.Warn("append phase run failed", zap.Error(serr))
		}
	}
}

// persist writes the serialized state, the run log entry and the
// correlation cache. Skipped entirely when no store is attached.
func (c *Coordinator) persist() error {
	if c.store == nil {
		return nil
	}
	blob, err := c.states.Serialize()
	if err != nil {
		return err
	}
	if err := c.store.SaveState(c.states.RunID(), blob); err != nil {
		return fmt.Errorf("persist pipeline state: %w", err)
	}
	corr, err := c.engine.MarshalData()
	if err != nil {
		return err
	}
	if err := c.store.SaveCorrelationData(c.states.RunID(), corr); err != nil {
		return fmt.Errorf("persist correlation data: %w", err)
	}
	return nil
}
