package sim

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/MJE43/bart-task-go/internal/scoring"
	"github.com/MJE43/bart-task-go/internal/scripting"
	"github.com/MJE43/bart-task-go/internal/session"
	"github.com/MJE43/bart-task-go/internal/trials"
)

func TestBatchRun(t *testing.T) {
	var finished atomic.Int64
	emitter := session.EmitterFunc(func(ev session.Event) {
		if ev.Type == session.EventSessionFinished {
			finished.Add(1)
		}
	})

	b := NewBatch(WithWorkers(3), WithEmitter(emitter))
	res, err := b.Run(context.Background(), Request{
		Strategy:     "adaptive",
		Participants: 5,
		Seed:         100,
		KeepRecords:  true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Participants) != 5 {
		t.Fatalf("participants = %d, want 5", len(res.Participants))
	}
	if got := finished.Load(); got != 5 {
		t.Errorf("session_finished events = %d, want 5", got)
	}
	if b.Completed() != 5 {
		t.Errorf("Completed = %d, want 5", b.Completed())
	}

	ids := map[string]bool{}
	for i, p := range res.Participants {
		if p.Index != i || p.Seed != 100+int64(i) {
			t.Errorf("participant %d: index=%d seed=%d", i, p.Index, p.Seed)
		}
		if ids[p.ID] {
			t.Errorf("duplicate id %s", p.ID)
		}
		ids[p.ID] = true
		if len(p.Records) != trials.TotalTrials {
			t.Errorf("participant %d records = %d", i, len(p.Records))
		}
		if last := p.Records[len(p.Records)-1]; last.TotalEarningsSoFar == nil || p.Earnings != *last.TotalEarningsSoFar {
			t.Errorf("participant %d earnings = %d", i, p.Earnings)
		}
	}

	if len(res.Summary) != len(scoring.ScoreSet{}.Summary()) {
		t.Fatalf("summary stats = %d", len(res.Summary))
	}
	for _, s := range res.Summary {
		if s.Min > s.Mean || s.Mean > s.Max {
			t.Errorf("%s: min=%v mean=%v max=%v", s.Key, s.Min, s.Mean, s.Max)
		}
	}
}

func TestBatchDeterministic(t *testing.T) {
	req := Request{Strategy: "random", Participants: 4, Seed: 9}

	a, err := NewBatch(WithWorkers(4)).Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	b, err := NewBatch(WithWorkers(1)).Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i := range a.Participants {
		if a.Participants[i].Scores != b.Participants[i].Scores {
			t.Errorf("participant %d scores differ across worker counts", i)
		}
	}
	if a.Participants[0].Records != nil {
		t.Error("records kept without KeepRecords")
	}
}

func TestBatchErrors(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"no participants", Request{Strategy: "fixed"}, ErrNoParticipants},
		{"no strategy", Request{Participants: 1}, ErrNoStrategy},
		{"unknown strategy", Request{Strategy: "yolo", Participants: 1}, scripting.ErrUnknownStrategy},
		{"bad order", Request{Strategy: "fixed", Participants: 1, Order: "sideways"}, trials.ErrUnknownOrder},
		{"script error", Request{Script: `function decide(t) { return "hold" }`, Participants: 2}, scripting.ErrBadAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBatch().Run(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAggregate(t *testing.T) {
	mk := func(raw float64, score int) Participant {
		return Participant{Scores: scoring.ScoreSet{OverallRisk: scoring.Score{Raw: raw, Score: score}}}
	}
	stats := Aggregate([]Participant{mk(0.2, 10), mk(0.6, 50), mk(0.4, 30)})

	if stats[0].Key != "overallRisk_raw" {
		t.Fatalf("first key = %s", stats[0].Key)
	}
	if stats[0].Min != 0.2 || stats[0].Max != 0.6 {
		t.Errorf("overallRisk_raw min=%v max=%v", stats[0].Min, stats[0].Max)
	}
	if got := stats[0].Mean; got < 0.3999 || got > 0.4001 {
		t.Errorf("overallRisk_raw mean = %v", got)
	}

	if Aggregate(nil) != nil {
		t.Error("Aggregate(nil) should be nil")
	}
}

func TestBatchParticipantsShareSequence(t *testing.T) {
	res, err := NewBatch(WithWorkers(2)).Run(context.Background(), Request{
		Strategy:     "random",
		Participants: 3,
		Seed:         12345,
		KeepRecords:  true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := trials.MustBuild(trials.DefaultOptions())
	for _, p := range res.Participants {
		if len(p.Records) != len(want) {
			t.Fatalf("participant %d records = %d, want %d", p.Index, len(p.Records), len(want))
		}
		for i, rec := range p.Records {
			if rec.BalloonColor != want[i].Type.LogColor() {
				t.Fatalf("participant %d (seed %d) trial %d color = %s, want %s",
					p.Index, p.Seed, i, rec.BalloonColor, want[i].Type.LogColor())
			}
		}
	}

	if res.Participants[0].Scores == res.Participants[1].Scores &&
		res.Participants[1].Scores == res.Participants[2].Scores {
		t.Error("strategy seeds should vary participants' behavior")
	}
}
