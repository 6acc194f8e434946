package triallog

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/MJE43/bart-task-go/internal/trials"
)

func ms(v ...int) []time.Duration {
	out := make([]time.Duration, len(v))
	for i, x := range v {
		out[i] = time.Duration(x) * time.Millisecond
	}
	return out
}

func TestAppendTutorialRecord(t *testing.T) {
	l := New()
	rec := l.Append(Entry{
		Index:        1,
		Type:         trials.Training,
		TimesPumped:  4,
		Outcome:      OutcomeCollected,
		CurrentMoney: 4,
		TotalMoney:   4,
		PumpRTs:      ms(300, 301, 302, 303),
	})

	if rec.BlockName != BlockTutorial {
		t.Errorf("BlockName = %s, want tutorial", rec.BlockName)
	}
	if rec.BalloonColor != "medium" {
		t.Errorf("BalloonColor = %s, want medium", rec.BalloonColor)
	}
	if rec.BalloonCount != 2 {
		t.Errorf("BalloonCount = %d, want 2", rec.BalloonCount)
	}
	if rec.TotalEarningsSoFar != nil || rec.TotalAdjustedBartScoreSoFar != nil {
		t.Error("tutorial record has non-null totals")
	}
	if rec.EarningsThisBalloon != 4 {
		t.Errorf("EarningsThisBalloon = %d, want 4", rec.EarningsThisBalloon)
	}
	// mean 301.5 rounds up
	if rec.AveragePumpRT != 302 {
		t.Errorf("AveragePumpRT = %d, want 302", rec.AveragePumpRT)
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"blockName":"tutorial","balloonColor":"medium","balloonCount":2,"timesPumped":4,"explosion":0,"earningsThisBalloon":4,"totalEarningsSoFar":null,"totalAdjustedBartScoreSoFar":null,"averagePumpRT":302}`
	if string(raw) != want {
		t.Errorf("json = %s\nwant   %s", raw, want)
	}
}

func TestAppendMainRecords(t *testing.T) {
	l := New()
	for i := 0; i < trials.PracticeTrials; i++ {
		l.Append(Entry{Index: i, Type: trials.Training, Outcome: OutcomeExploded})
	}

	// collected 10 pumps
	r1 := l.Append(Entry{Index: 3, Type: trials.Low, TimesPumped: 10, Outcome: OutcomeCollected, CurrentMoney: 50, TotalMoney: 50})
	// exploded after 3 pumps
	r2 := l.Append(Entry{Index: 4, Type: trials.High, TimesPumped: 3, Outcome: OutcomeExploded, CurrentMoney: 150, TotalMoney: 50})
	// collected 5 pumps
	r3 := l.Append(Entry{Index: 5, Type: trials.Medium, TimesPumped: 5, Outcome: OutcomeCollected, CurrentMoney: 75, TotalMoney: 125})

	if r1.BalloonCount != 1 || r2.BalloonCount != 2 || r3.BalloonCount != 3 {
		t.Errorf("balloon counts = %d,%d,%d", r1.BalloonCount, r2.BalloonCount, r3.BalloonCount)
	}
	if r2.Explosion != 1 || r2.EarningsThisBalloon != 0 {
		t.Errorf("exploded record = %+v", r2)
	}
	if *r2.TotalEarningsSoFar != 50 || *r3.TotalEarningsSoFar != 125 {
		t.Errorf("totals = %d, %d", *r2.TotalEarningsSoFar, *r3.TotalEarningsSoFar)
	}

	adjusted := []float64{*r1.TotalAdjustedBartScoreSoFar, *r2.TotalAdjustedBartScoreSoFar, *r3.TotalAdjustedBartScoreSoFar}
	want := []float64{10, 10, 7.5}
	for i := range want {
		if adjusted[i] != want[i] {
			t.Errorf("adjusted[%d] = %v, want %v", i, adjusted[i], want[i])
		}
	}

	if l.Len() != 6 {
		t.Errorf("Len = %d, want 6", l.Len())
	}
	if len(l.Main()) != 3 {
		t.Errorf("Main len = %d, want 3", len(l.Main()))
	}
}

func TestAdjustedScoreZeroWhenAllExploded(t *testing.T) {
	l := New()
	rec := l.Append(Entry{Index: 3, Type: trials.High, TimesPumped: 1, Outcome: OutcomeExploded})
	if rec.TotalAdjustedBartScoreSoFar == nil || *rec.TotalAdjustedBartScoreSoFar != 0 {
		t.Errorf("adjusted = %v, want 0", rec.TotalAdjustedBartScoreSoFar)
	}
}

func TestAveragePumpRT(t *testing.T) {
	tests := []struct {
		name string
		rts  []time.Duration
		want int
	}{
		{name: "none", rts: nil, want: 0},
		{name: "single", rts: ms(450), want: 450},
		{name: "half rounds up", rts: ms(100, 101), want: 101},
		{name: "below half", rts: ms(100, 100, 101), want: 100},
		{name: "sub-millisecond truncated", rts: []time.Duration{1500 * time.Microsecond}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AveragePumpRT(tt.rts); got != tt.want {
				t.Errorf("AveragePumpRT() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSince(t *testing.T) {
	l := New()
	for i := 0; i < 5; i++ {
		l.Append(Entry{Index: i, Type: trials.Training, Outcome: OutcomeExploded})
	}

	tests := []struct {
		n, limit, want int
	}{
		{0, 0, 5},
		{2, 0, 3},
		{2, 2, 2},
		{5, 0, 0},
		{9, 1, 0},
		{-3, 1, 1},
	}

	for _, tt := range tests {
		got := l.Since(tt.n, tt.limit)
		if len(got) != tt.want {
			t.Errorf("Since(%d, %d) len = %d, want %d", tt.n, tt.limit, len(got), tt.want)
		}
		if got == nil {
			t.Errorf("Since(%d, %d) returned nil", tt.n, tt.limit)
		}
	}
}

func TestRecordsReturnsCopy(t *testing.T) {
	l := New()
	l.Append(Entry{Index: 0, Type: trials.Training, TimesPumped: 2, Outcome: OutcomeCollected, CurrentMoney: 2})

	recs := l.Records()
	recs[0].TimesPumped = 99

	if l.Records()[0].TimesPumped != 2 {
		t.Error("mutating Records() result changed the log")
	}
}
