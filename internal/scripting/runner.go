package scripting

import (
	"context"
	"fmt"
	"time"

	"github.com/MJE43/bart-task-go/internal/scoring"
	"github.com/MJE43/bart-task-go/internal/session"
	"github.com/MJE43/bart-task-go/internal/triallog"
	"github.com/MJE43/bart-task-go/internal/trials"
)

// Default simulated timing
const (
	defaultThinkTime = 350 * time.Millisecond
	defaultStart     = "2024-01-01T00:00:00Z"
)

// RunOptions configures a scripted session
type RunOptions struct {
	Sequence trials.Options
	// ThinkTime is the simulated delay before each action when the
	// script does not call sleep().
	ThinkTime time.Duration
	Delays    session.Delays
	// Seed for the script's Math.random.
	Seed        int64
	Params      map[string]any
	CallTimeout time.Duration
	// Emitter receives the session's events.
	Emitter session.Emitter
}

// Result is the outcome of a scripted session
type Result struct {
	Records  []triallog.Record `json:"records"`
	Scores   scoring.ScoreSet  `json:"scores"`
	Finished bool              `json:"finished"`
	Stopped  bool              `json:"stopped"`
	Actions  int               `json:"actions"`
	// Collect requests the engine rejected because nothing was earned yet.
	ForcedPumps int           `json:"forcedPumps"`
	Elapsed     time.Duration `json:"elapsed"`
	Logs        []LogEntry    `json:"logs,omitempty"`
}

// Runner plays one session with a strategy script on a simulated clock.
type Runner struct {
	vm     *VM
	engine *session.Engine
	clock  *session.ManualClock
	opts   RunOptions
}

// NewRunner compiles the script and prepares a fresh session.
func NewRunner(script string, opts RunOptions) (*Runner, error) {
	if opts.ThinkTime <= 0 {
		opts.ThinkTime = defaultThinkTime
	}

	start, _ := time.Parse(time.RFC3339, defaultStart)
	clock := session.NewManualClock(start)

	engineOpts := []session.Option{session.WithClock(clock)}
	if opts.Emitter != nil {
		engineOpts = append(engineOpts, session.WithEmitter(opts.Emitter))
	}
	eng, err := session.NewFromOptions(opts.Sequence, engineOpts...)
	if err != nil {
		return nil, err
	}

	vm := NewVM(VMOptions{
		Seed:        opts.Seed,
		Params:      opts.Params,
		CallTimeout: opts.CallTimeout,
	})
	if err := vm.Execute(script); err != nil {
		return nil, err
	}
	if !vm.HasDecide() {
		return nil, ErrNoDecide
	}

	return &Runner{vm: vm, engine: eng, clock: clock, opts: opts}, nil
}

// Engine exposes the underlying session
func (r *Runner) Engine() *session.Engine {
	return r.engine
}

// Run plays until the session finishes, the script calls stop(), or ctx
// is cancelled. A stopped session keeps only its completed trials.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	res := &Result{}
	began := r.clock.Now()

	var lastOutcome triallog.Outcome
	lastPumps := 0

	r.engine.Start()

loop:
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch r.engine.State() {
		case session.StateFinished:
			res.Finished = true
			break loop

		case session.StateAppearing:
			r.clock.Add(r.opts.Delays.Appear)
			r.engine.Ready()

		case session.StateExploding, session.StateCollected, session.StateAdvancing:
			recs := r.engine.Records()
			last := recs[len(recs)-1]
			lastOutcome = triallog.OutcomeCollected
			if last.Exploded() {
				lastOutcome = triallog.OutcomeExploded
				r.clock.Add(r.opts.Delays.Explode)
			} else {
				r.clock.Add(r.opts.Delays.Collect)
			}
			lastPumps = last.TimesPumped
			r.clock.Add(r.opts.Delays.Settle)
			r.engine.Advance()

		case session.StateActive:
			view := r.view(lastOutcome, lastPumps)
			action, err := r.vm.CallDecide(view)
			if err != nil {
				return nil, fmt.Errorf("trial %d: %w", view.Index, err)
			}

			think := r.opts.ThinkTime
			if d, ok := r.vm.TakeSleepTime(); ok {
				think = d
			}
			r.clock.Add(think)
			res.Actions++

			if r.vm.IsStopRequested() {
				res.Stopped = true
				break loop
			}

			switch action {
			case ActionCollect:
				if !r.engine.Collect() {
					res.ForcedPumps++
					r.engine.Pump()
				}
			default:
				r.engine.Pump()
			}

		default:
			return nil, fmt.Errorf("unexpected engine state %s", r.engine.State())
		}
	}

	res.Records = r.engine.Records()
	res.Scores, _ = r.engine.Scores()
	res.Elapsed = r.clock.Now().Sub(began)
	res.Logs = r.vm.GetLogs()
	return res, nil
}

func (r *Runner) view(lastOutcome triallog.Outcome, lastPumps int) TrialView {
	snap := r.engine.Snapshot()
	return TrialView{
		Index:        snap.TrialIndex,
		Block:        string(snap.Block),
		BalloonCount: snap.BalloonCount,
		Balloon:      string(snap.Balloon),
		MaxPumps:     snap.Balloon.MaxPumps(),
		ValuePerPump: snap.ValuePerPump,
		TimesPumped:  snap.TimesPumped,
		CurrentMoney: snap.CurrentMoney,
		TotalMoney:   snap.TotalMoney,
		LastOutcome:  string(lastOutcome),
		LastPumps:    lastPumps,
	}
}

// RunStrategy runs a built-in strategy by name.
func RunStrategy(ctx context.Context, name string, opts RunOptions) (*Result, error) {
	src, err := StrategySource(name)
	if err != nil {
		return nil, err
	}
	r, err := NewRunner(src, opts)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx)
}
