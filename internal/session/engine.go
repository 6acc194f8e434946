package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/MJE43/bart-task-go/internal/scoring"
	"github.com/MJE43/bart-task-go/internal/triallog"
	"github.com/MJE43/bart-task-go/internal/trials"
)

// Engine runs one participant's session over a prebuilt trial sequence.
// Actions are serialized; an action that is not valid in the current state
// is ignored and reports false.
type Engine struct {
	mu    sync.Mutex
	state State

	trials []trials.Trial
	index  int

	timesPumped  int
	currentMoney int
	totalMoney   int

	pumpRTs    []time.Duration
	lastAction time.Time

	log    *triallog.Log
	scores *scoring.ScoreSet
	clock  Clock

	// event dispatch, ordered by seq across emitters
	emitMu      sync.Mutex
	emitters    []Emitter
	pending     []Event
	dispatching bool
	eventSeq    int64
}

// Option configures an Engine
type Option func(*Engine)

// WithClock sets the clock used for reaction times
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithEmitter subscribes an emitter at construction
func WithEmitter(em Emitter) Option {
	return func(e *Engine) {
		if em != nil {
			e.emitters = append(e.emitters, em)
		}
	}
}

// New creates an engine over seq. The sequence is copied and validated.
func New(seq []trials.Trial, opts ...Option) (*Engine, error) {
	if err := trials.Validate(seq); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	e := &Engine{
		state:  StateIdle,
		trials: append([]trials.Trial(nil), seq...),
		log:    triallog.New(),
		clock:  SystemClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// NewFromOptions builds the trial sequence and an engine over it.
func NewFromOptions(seqOpts trials.Options, opts ...Option) (*Engine, error) {
	seq, err := trials.Build(seqOpts)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return New(seq, opts...)
}

// Subscribe adds an emitter for subsequent events.
func (e *Engine) Subscribe(em Emitter) {
	if em == nil {
		return
	}
	e.emitMu.Lock()
	e.emitters = append(e.emitters, em)
	e.emitMu.Unlock()
}

// Start presents trial 0. It only has an effect on a new engine.
func (e *Engine) Start() bool {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return false
	}
	e.enterTrial(0)
	e.queue(e.newEvent(EventTrialStarted))
	e.mu.Unlock()

	e.dispatch()
	return true
}

// Ready marks the entrance of the current balloon as finished; pump and
// collect are accepted from here on. Reaction timing restarts.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	if e.state != StateAppearing {
		e.mu.Unlock()
		return false
	}
	e.state = StateActive
	e.lastAction = e.clock.Now()
	e.queue(e.newEvent(EventTrialActivated))
	e.mu.Unlock()

	e.dispatch()
	return true
}

// Pump inflates the current balloon once. If the new pump count reaches
// the trial's burst point, or the type's maximum, the balloon explodes:
// the balloon's money is lost and the trial is logged.
func (e *Engine) Pump() bool {
	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return false
	}

	now := e.clock.Now()
	rt := now.Sub(e.lastAction)
	if rt < 0 {
		rt = 0
	}
	e.pumpRTs = append(e.pumpRTs, rt)
	e.lastAction = now

	trial := e.trials[e.index]
	next := e.timesPumped + 1

	if next >= trial.BurstPoint || next >= trial.Type.MaxPumps() {
		e.state = StateExploding
		e.currentMoney = 0

		pumped := e.newEvent(EventPumpApplied)
		pumped.ReactionMs = rt.Milliseconds()
		pumped.Burst = true
		e.queue(pumped)

		rec := e.log.Append(e.entry(triallog.OutcomeExploded))
		e.queue(e.endedEvent(triallog.OutcomeExploded, rec))
	} else {
		e.timesPumped = next
		e.currentMoney += trial.Type.ValuePerPump()

		pumped := e.newEvent(EventPumpApplied)
		pumped.ReactionMs = rt.Milliseconds()
		e.queue(pumped)
	}
	e.mu.Unlock()

	e.dispatch()
	return true
}

// Collect banks the balloon's money. It is ignored when nothing has been
// earned on the current balloon.
func (e *Engine) Collect() bool {
	e.mu.Lock()
	if e.state != StateActive || e.currentMoney <= 0 {
		e.mu.Unlock()
		return false
	}

	e.totalMoney += e.currentMoney
	e.state = StateCollected

	rec := e.log.Append(e.entry(triallog.OutcomeCollected))
	e.queue(e.endedEvent(triallog.OutcomeCollected, rec))
	e.mu.Unlock()

	e.dispatch()
	return true
}

// Settle moves an ended trial into the pause before the next balloon.
// Calling it is optional; Advance settles implicitly.
func (e *Engine) Settle() bool {
	e.mu.Lock()
	if e.state != StateExploding && e.state != StateCollected {
		e.mu.Unlock()
		return false
	}
	e.state = StateAdvancing
	e.queue(e.newEvent(EventTrialSettling))
	e.mu.Unlock()

	e.dispatch()
	return true
}

// Advance presents the next trial, or finishes the session and computes
// the final scores after the last one. It runs once per completed trial.
func (e *Engine) Advance() bool {
	e.mu.Lock()
	if !e.state.Ended() {
		e.mu.Unlock()
		return false
	}

	if e.index+1 >= len(e.trials) {
		e.state = StateFinished
		scores := scoring.Compute(e.log.Records())
		e.scores = &scores

		ev := e.newEvent(EventSessionFinished)
		ev.Scores = &scores
		e.queue(ev)
	} else {
		e.enterTrial(e.index + 1)
		e.queue(e.newEvent(EventTrialStarted))
	}
	e.mu.Unlock()

	e.dispatch()
	return true
}

// State returns the current lifecycle state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Finished reports whether the last trial has been advanced past
func (e *Engine) Finished() bool {
	return e.State() == StateFinished
}

// Snapshot returns the current view of the session
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		State:         e.state,
		TrialIndex:    e.index,
		TotalTrials:   len(e.trials),
		TimesPumped:   e.timesPumped,
		CurrentMoney:  e.currentMoney,
		TotalMoney:    e.totalMoney,
		RecordsLogged: e.log.Len(),
		CanPump:       e.state == StateActive,
		CanCollect:    e.state == StateActive && e.currentMoney > 0,
	}

	if e.state == StateIdle || e.state == StateFinished {
		return snap
	}

	trial := e.trials[e.index]
	snap.Balloon = trial.Type
	snap.ValuePerPump = trial.Type.ValuePerPump()
	if trials.IsPractice(e.index) {
		snap.Block = triallog.BlockTutorial
		snap.PhaseLabel = PhasePractice
		snap.BalloonCount = e.index + 1
		snap.Remaining = trials.PracticeTrials - e.index
	} else {
		snap.Block = triallog.BlockMain
		snap.PhaseLabel = PhaseTest
		snap.BalloonCount = e.index - trials.PracticeTrials + 1
		snap.Remaining = len(e.trials) - e.index
	}
	return snap
}

// Log returns the session's trial log for tail reads
func (e *Engine) Log() *triallog.Log {
	return e.log
}

// Records returns a copy of every logged trial
func (e *Engine) Records() []triallog.Record {
	return e.log.Records()
}

// Scores returns the final scores once finished. Before that it scores the
// records logged so far and reports false.
func (e *Engine) Scores() (scoring.ScoreSet, bool) {
	e.mu.Lock()
	final := e.scores
	e.mu.Unlock()

	if final != nil {
		return *final, true
	}
	return scoring.Compute(e.log.Records()), false
}

// enterTrial resets the per-trial state. Practice earnings are dropped
// when the first main trial is entered. Caller holds mu.
func (e *Engine) enterTrial(index int) {
	e.index = index
	e.state = StateAppearing
	e.timesPumped = 0
	e.currentMoney = 0
	e.pumpRTs = e.pumpRTs[:0]
	e.lastAction = e.clock.Now()

	if index == trials.PracticeTrials {
		e.totalMoney = 0
	}
}

// entry captures the current trial for the log. Caller holds mu.
func (e *Engine) entry(outcome triallog.Outcome) triallog.Entry {
	rts := make([]time.Duration, len(e.pumpRTs))
	copy(rts, e.pumpRTs)
	return triallog.Entry{
		Index:        e.index,
		Type:         e.trials[e.index].Type,
		TimesPumped:  e.timesPumped,
		Outcome:      outcome,
		CurrentMoney: e.currentMoney,
		TotalMoney:   e.totalMoney,
		PumpRTs:      rts,
	}
}

// newEvent stamps an event with the current state. Caller holds mu.
func (e *Engine) newEvent(t EventType) Event {
	e.eventSeq++
	ev := Event{
		Seq:          e.eventSeq,
		Type:         t,
		Time:         e.clock.Now(),
		State:        e.state,
		TrialIndex:   e.index,
		TimesPumped:  e.timesPumped,
		CurrentMoney: e.currentMoney,
		TotalMoney:   e.totalMoney,
	}
	if e.state != StateIdle && e.state != StateFinished {
		ev.Balloon = e.trials[e.index].Type
		if trials.IsPractice(e.index) {
			ev.Block = triallog.BlockTutorial
		} else {
			ev.Block = triallog.BlockMain
		}
	}
	return ev
}

func (e *Engine) endedEvent(outcome triallog.Outcome, rec triallog.Record) Event {
	ev := e.newEvent(EventTrialEnded)
	ev.Outcome = outcome
	ev.Record = &rec
	return ev
}

// queue appends an event for dispatch. Caller holds mu so events are
// queued in seq order.
func (e *Engine) queue(ev Event) {
	e.emitMu.Lock()
	e.pending = append(e.pending, ev)
	e.emitMu.Unlock()
}

// dispatch delivers queued events outside mu. Events queued by emitters
// calling back into the engine are delivered after the current one, by
// the outermost dispatcher.
func (e *Engine) dispatch() {
	e.emitMu.Lock()
	if e.dispatching {
		e.emitMu.Unlock()
		return
	}
	e.dispatching = true

	for len(e.pending) > 0 {
		ev := e.pending[0]
		e.pending = e.pending[1:]
		emitters := e.emitters
		e.emitMu.Unlock()

		for _, em := range emitters {
			em.Emit(ev)
		}

		e.emitMu.Lock()
	}

	e.dispatching = false
	e.emitMu.Unlock()
}
