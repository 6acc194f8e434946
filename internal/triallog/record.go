package triallog

import (
	"math"
	"time"

	"github.com/MJE43/bart-task-go/internal/trials"
)

// Block names a section of the session
type Block string

const (
	BlockTutorial Block = "tutorial"
	BlockMain     Block = "main"
)

// Outcome is how a trial ended
type Outcome string

const (
	OutcomeExploded  Outcome = "exploded"
	OutcomeCollected Outcome = "collected"
)

// Record is the immutable log entry written once per completed trial.
// Pointer fields are null for tutorial trials.
type Record struct {
	BlockName                   Block    `json:"blockName"`
	BalloonColor                string   `json:"balloonColor"`
	BalloonCount                int      `json:"balloonCount"`
	TimesPumped                 int      `json:"timesPumped"`
	Explosion                   int      `json:"explosion"`
	EarningsThisBalloon         int      `json:"earningsThisBalloon"`
	TotalEarningsSoFar          *int     `json:"totalEarningsSoFar"`
	TotalAdjustedBartScoreSoFar *float64 `json:"totalAdjustedBartScoreSoFar"`
	AveragePumpRT               int      `json:"averagePumpRT"`
}

// Exploded reports whether the balloon burst
func (r Record) Exploded() bool {
	return r.Explosion == 1
}

// IsMain reports whether the record belongs to the scored block
func (r Record) IsMain() bool {
	return r.BlockName == BlockMain
}

// Entry carries the engine's end-of-trial state into the log.
type Entry struct {
	Index       int
	Type        trials.BalloonType
	TimesPumped int
	Outcome     Outcome
	// Money accumulated on the balloon before the outcome
	CurrentMoney int
	// Bank total after the outcome was applied
	TotalMoney int
	PumpRTs    []time.Duration
}

// AveragePumpRT rounds the mean reaction time to whole milliseconds.
// Each reaction time is first truncated to whole milliseconds.
func AveragePumpRT(rts []time.Duration) int {
	if len(rts) == 0 {
		return 0
	}
	var sum int64
	for _, rt := range rts {
		sum += rt.Milliseconds()
	}
	return roundHalfUp(float64(sum) / float64(len(rts)))
}

// roundHalfUp rounds .5 toward positive infinity
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}
