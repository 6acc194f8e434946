package triallog

import (
	"sync"

	"github.com/MJE43/bart-task-go/internal/trials"
)

// Log is the append-only trial log for one session.
// It is safe for concurrent readers while the engine appends.
type Log struct {
	mu      sync.RWMutex
	records []Record

	// running adjusted BART score inputs (main block, non-exploded)
	adjustedSum   int
	adjustedCount int
}

// New creates an empty log
func New() *Log {
	return &Log{
		records: make([]Record, 0, trials.TotalTrials),
	}
}

// Append derives a Record from the entry, stores it and returns it.
func (l *Log) Append(e Entry) Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	exploded := e.Outcome == OutcomeExploded
	tutorial := trials.IsPractice(e.Index)

	rec := Record{
		BalloonColor:  e.Type.LogColor(),
		TimesPumped:   e.TimesPumped,
		AveragePumpRT: AveragePumpRT(e.PumpRTs),
	}
	if exploded {
		rec.Explosion = 1
	} else {
		rec.EarningsThisBalloon = e.CurrentMoney
	}

	if tutorial {
		rec.BlockName = BlockTutorial
		rec.BalloonCount = e.Index + 1
	} else {
		rec.BlockName = BlockMain
		rec.BalloonCount = e.Index - trials.PracticeTrials + 1

		total := e.TotalMoney
		rec.TotalEarningsSoFar = &total

		if !exploded {
			l.adjustedSum += e.TimesPumped
			l.adjustedCount++
		}
		adjusted := 0.0
		if l.adjustedCount > 0 {
			adjusted = float64(l.adjustedSum) / float64(l.adjustedCount)
		}
		rec.TotalAdjustedBartScoreSoFar = &adjusted
	}

	l.records = append(l.records, rec)
	return rec
}

// Len returns the number of records written
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Records returns a copy of every record in append order
func (l *Log) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Since returns up to limit records after the first n, for tail polling.
// A limit <= 0 returns everything after n.
func (l *Log) Since(n, limit int) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n < 0 {
		n = 0
	}
	if n >= len(l.records) {
		return []Record{}
	}
	end := len(l.records)
	if limit > 0 && n+limit < end {
		end = n + limit
	}
	out := make([]Record, end-n)
	copy(out, l.records[n:end])
	return out
}

// Main returns the main-block records in order
func (l *Log) Main() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return FilterMain(l.records)
}

// FilterMain keeps only main-block records
func FilterMain(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.IsMain() {
			out = append(out, r)
		}
	}
	return out
}
