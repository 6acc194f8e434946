package session

import (
	"github.com/MJE43/bart-task-go/internal/triallog"
	"github.com/MJE43/bart-task-go/internal/trials"
)

// State represents the trial engine's lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateAppearing State = "appearing"
	StateActive    State = "active"
	StateExploding State = "exploding"
	StateCollected State = "collected"
	StateAdvancing State = "advancing"
	StateFinished  State = "finished"
)

// Ended reports whether the current trial already has an outcome
func (s State) Ended() bool {
	return s == StateExploding || s == StateCollected || s == StateAdvancing
}

// Phase labels shown next to the remaining-balloon counter
const (
	PhasePractice = "practice"
	PhaseTest     = "test"
)

// Snapshot is a serializable view of the engine. Burst points are never
// included.
type Snapshot struct {
	State         State              `json:"state"`
	TrialIndex    int                `json:"trialIndex"`
	TotalTrials   int                `json:"totalTrials"`
	Block         triallog.Block     `json:"block"`
	PhaseLabel    string             `json:"phaseLabel"`
	BalloonCount  int                `json:"balloonCount"`
	Remaining     int                `json:"remaining"`
	Balloon       trials.BalloonType `json:"balloon"`
	ValuePerPump  int                `json:"valuePerPump"`
	TimesPumped   int                `json:"timesPumped"`
	CurrentMoney  int                `json:"currentMoney"`
	TotalMoney    int                `json:"totalMoney"`
	RecordsLogged int                `json:"recordsLogged"`
	CanPump       bool               `json:"canPump"`
	CanCollect    bool               `json:"canCollect"`
}
