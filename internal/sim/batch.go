package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MJE43/bart-task-go/internal/engine"
	"github.com/MJE43/bart-task-go/internal/scoring"
	"github.com/MJE43/bart-task-go/internal/scripting"
	"github.com/MJE43/bart-task-go/internal/session"
	"github.com/MJE43/bart-task-go/internal/triallog"
	"github.com/MJE43/bart-task-go/internal/trials"
)

// Request describes a batch of scripted participants
type Request struct {
	Strategy     string         `json:"strategy,omitempty"`
	Script       string         `json:"script,omitempty"`
	Participants int            `json:"participants"`
	Workers      int            `json:"workers,omitempty"`
	Seed         int64          `json:"seed"`
	Order        trials.Order   `json:"order,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
	ThinkTime    time.Duration  `json:"thinkTime,omitempty"`
	CallTimeout  time.Duration  `json:"callTimeout,omitempty"`
	TimeoutMs    int            `json:"timeoutMs,omitempty"`
	// KeepRecords retains every participant's trial log in the result.
	KeepRecords bool `json:"keepRecords,omitempty"`
}

// Participant is one simulated session. Every participant plays the
// sequence built from the request seed; Seed drives only the strategy's
// Math.random.
type Participant struct {
	ID          string            `json:"id"`
	Index       int               `json:"index"`
	Seed        int64             `json:"seed"`
	Scores      scoring.ScoreSet  `json:"scores"`
	Earnings    int               `json:"earnings"`
	Explosions  int               `json:"explosions"`
	ForcedPumps int               `json:"forcedPumps"`
	Records     []triallog.Record `json:"records,omitempty"`
}

// Stat aggregates one summary value across participants
type Stat struct {
	Key  string  `json:"key"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// Result is the outcome of a batch
type Result struct {
	Participants []Participant `json:"participants"`
	Summary      []Stat        `json:"summary"`
	Elapsed      time.Duration `json:"elapsed"`
	Echo         Request       `json:"echo"`
}

// Batch runs scripted participants in parallel
type Batch struct {
	workerCount int
	emitter     session.Emitter
	logger      *log.Logger
	completed   atomic.Int64
}

// Option configures a Batch
type Option func(*Batch)

// WithWorkers caps concurrent participants.
func WithWorkers(n int) Option {
	return func(b *Batch) {
		if n > 0 {
			b.workerCount = n
		}
	}
}

// WithEmitter forwards every participant's session events to e. It is
// called from several goroutines at once.
func WithEmitter(e session.Emitter) Option {
	return func(b *Batch) { b.emitter = e }
}

// WithLogger sets the progress logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Batch) { b.logger = l }
}

// NewBatch creates a batch runner sized to GOMAXPROCS by default
func NewBatch(opts ...Option) *Batch {
	b := &Batch{
		workerCount: runtime.GOMAXPROCS(0),
		logger:      log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Completed reports how many participants have finished across all runs.
func (b *Batch) Completed() int64 {
	return b.completed.Load()
}

// Run plays every participant on the same trial sequence and aggregates
// their scores. The first script error cancels the remaining participants.
func (b *Batch) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Participants <= 0 {
		return nil, ErrNoParticipants
	}
	script := req.Script
	if script == "" {
		if req.Strategy == "" {
			return nil, ErrNoStrategy
		}
		src, err := scripting.StrategySource(req.Strategy)
		if err != nil {
			return nil, err
		}
		script = src
	}
	if req.Seed == 0 {
		req.Seed = engine.DefaultSeed
	}
	if _, err := trials.ParseOrder(string(req.Order)); err != nil {
		return nil, err
	}

	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	workers := b.workerCount
	if req.Workers > 0 {
		workers = req.Workers
	}

	started := time.Now()
	b.logger.Printf("batch start participants=%d workers=%d seed=%d", req.Participants, workers, req.Seed)

	participants := make([]Participant, req.Participants)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 0; i < req.Participants; i++ {
		i := i
		g.Go(func() error {
			p, err := b.runOne(gctx, req, script, i)
			if err != nil {
				return fmt.Errorf("participant %d: %w", i, err)
			}
			participants[i] = p
			b.completed.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}

	res := &Result{
		Participants: participants,
		Summary:      Aggregate(participants),
		Elapsed:      time.Since(started),
		Echo:         req,
	}
	res.Echo.Script = ""
	b.logger.Printf("batch done participants=%d elapsed=%s", len(participants), res.Elapsed)
	return res, nil
}

func (b *Batch) runOne(ctx context.Context, req Request, script string, index int) (Participant, error) {
	seed := req.Seed + int64(index)
	r, err := scripting.NewRunner(script, scripting.RunOptions{
		Sequence:    trials.Options{Seed: req.Seed, Order: req.Order},
		ThinkTime:   req.ThinkTime,
		Seed:        seed,
		Params:      req.Params,
		CallTimeout: req.CallTimeout,
		Emitter:     b.emitter,
	})
	if err != nil {
		return Participant{}, err
	}
	res, err := r.Run(ctx)
	if err != nil {
		return Participant{}, err
	}

	p := Participant{
		ID:          uuid.NewString(),
		Index:       index,
		Seed:        seed,
		Scores:      res.Scores,
		ForcedPumps: res.ForcedPumps,
	}
	for _, rec := range res.Records {
		if rec.Exploded() {
			p.Explosions++
		}
	}
	if n := len(res.Records); n > 0 && res.Records[n-1].TotalEarningsSoFar != nil {
		p.Earnings = *res.Records[n-1].TotalEarningsSoFar
	}
	if req.KeepRecords {
		p.Records = res.Records
	}
	return p, nil
}

// Aggregate reduces the participants' summary values to min/max/mean, in
// summary key order.
func Aggregate(participants []Participant) []Stat {
	if len(participants) == 0 {
		return nil
	}

	var stats []Stat
	for i, p := range participants {
		for j, item := range p.Scores.Summary() {
			if i == 0 {
				stats = append(stats, Stat{Key: item.Key, Min: math.Inf(1), Max: math.Inf(-1)})
			}
			s := &stats[j]
			s.Min = math.Min(s.Min, item.Value)
			s.Max = math.Max(s.Max, item.Value)
			s.Mean += item.Value
		}
	}

	n := float64(len(participants))
	for i := range stats {
		stats[i].Mean /= n
	}
	return stats
}
