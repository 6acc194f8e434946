package session

import (
	"sync"
	"time"

	"github.com/MJE43/bart-task-go/internal/triallog"
)

// Delays are the presentation pauses between engine states.
type Delays struct {
	// Appear is the balloon entrance before actions are accepted.
	Appear time.Duration `json:"appear" yaml:"appear"`
	// Explode is how long the burst is shown before settling.
	Explode time.Duration `json:"explode" yaml:"explode"`
	// Collect is how long a banked balloon is shown before settling.
	Collect time.Duration `json:"collect" yaml:"collect"`
	// Settle is the pause before the next balloon appears.
	Settle time.Duration `json:"settle" yaml:"settle"`
}

// DefaultDelays matches the original presentation timing.
func DefaultDelays() Delays {
	return Delays{
		Appear:  400 * time.Millisecond,
		Explode: 1500 * time.Millisecond,
		Collect: 0,
		Settle:  500 * time.Millisecond,
	}
}

// Pacer drives Ready, Settle and Advance on an engine after the configured
// delays. Zero delays run inline.
type Pacer struct {
	engine *Engine
	delays Delays

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
}

// NewPacer creates a pacer and subscribes it to the engine.
func NewPacer(engine *Engine, delays Delays) *Pacer {
	p := &Pacer{
		engine: engine,
		delays: delays,
		timers: make(map[*time.Timer]struct{}),
	}
	engine.Subscribe(p)
	return p
}

// Emit schedules the next engine step for the event.
func (p *Pacer) Emit(ev Event) {
	switch ev.Type {
	case EventTrialStarted:
		p.after(p.delays.Appear, func() { p.engine.Ready() })
	case EventTrialEnded:
		d := p.delays.Collect
		if ev.Outcome == triallog.OutcomeExploded {
			d = p.delays.Explode
		}
		p.after(d, func() { p.engine.Settle() })
	case EventTrialSettling:
		p.after(p.delays.Settle, func() { p.engine.Advance() })
	}
}

// Stop cancels pending steps. The engine is left where it is.
func (p *Pacer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	for t := range p.timers {
		t.Stop()
	}
	p.timers = make(map[*time.Timer]struct{})
}

// Pending returns the number of scheduled steps
func (p *Pacer) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

func (p *Pacer) after(d time.Duration, fn func()) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if d <= 0 {
		p.mu.Unlock()
		fn()
		return
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		p.mu.Lock()
		_, live := p.timers[t]
		delete(p.timers, t)
		p.mu.Unlock()
		if live {
			fn()
		}
	})
	p.timers[t] = struct{}{}
	p.mu.Unlock()
}
