package session

import (
	"io"
	"log"
	"time"

	"github.com/MJE43/bart-task-go/internal/scoring"
	"github.com/MJE43/bart-task-go/internal/triallog"
	"github.com/MJE43/bart-task-go/internal/trials"
)

// EventType names an engine event
type EventType string

const (
	EventTrialStarted    EventType = "trial_started"
	EventTrialActivated  EventType = "trial_activated"
	EventPumpApplied     EventType = "pump_applied"
	EventTrialEnded      EventType = "trial_ended"
	EventTrialSettling   EventType = "trial_settling"
	EventSessionFinished EventType = "session_finished"
)

// Event is pushed to subscribers after every state change.
type Event struct {
	Seq          int64              `json:"seq"`
	Type         EventType          `json:"type"`
	Time         time.Time          `json:"time"`
	State        State              `json:"state"`
	TrialIndex   int                `json:"trialIndex"`
	Block        triallog.Block     `json:"block,omitempty"`
	Balloon      trials.BalloonType `json:"balloon,omitempty"`
	TimesPumped  int                `json:"timesPumped"`
	CurrentMoney int                `json:"currentMoney"`
	TotalMoney   int                `json:"totalMoney"`
	ReactionMs   int64              `json:"reactionMs,omitempty"`
	Burst        bool               `json:"burst,omitempty"`
	Outcome      triallog.Outcome   `json:"outcome,omitempty"`
	Record       *triallog.Record   `json:"record,omitempty"`
	Scores       *scoring.ScoreSet  `json:"scores,omitempty"`
}

// Emitter receives engine events. Emit is never called while the engine
// holds its lock, so implementations may call back into the engine.
type Emitter interface {
	Emit(ev Event)
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(ev Event)

func (f EmitterFunc) Emit(ev Event) { f(ev) }

// LogEmitter writes one key=value line per event.
type LogEmitter struct {
	logger *log.Logger
}

// NewLogEmitter creates a log emitter. A nil logger discards output.
func NewLogEmitter(logger *log.Logger) *LogEmitter {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &LogEmitter{logger: logger}
}

func (l *LogEmitter) Emit(ev Event) {
	switch ev.Type {
	case EventTrialEnded:
		l.logger.Printf("event=%s seq=%d trial=%d balloon=%s outcome=%s pumps=%d total=%d",
			ev.Type, ev.Seq, ev.TrialIndex, ev.Balloon, ev.Outcome, ev.TimesPumped, ev.TotalMoney)
	case EventSessionFinished:
		if ev.Scores != nil {
			l.logger.Printf("event=%s seq=%d total=%d overall_risk=%d efficiency=%d adaptation=%d loss_sensitivity=%d decision_speed=%d",
				ev.Type, ev.Seq, ev.TotalMoney, ev.Scores.OverallRisk.Score, ev.Scores.Efficiency.Score,
				ev.Scores.Adaptation.Score, ev.Scores.LossSensitivity.Score, ev.Scores.DecisionSpeed.Score)
			return
		}
		l.logger.Printf("event=%s seq=%d total=%d", ev.Type, ev.Seq, ev.TotalMoney)
	default:
		l.logger.Printf("event=%s seq=%d trial=%d state=%s pumps=%d current=%d",
			ev.Type, ev.Seq, ev.TrialIndex, ev.State, ev.TimesPumped, ev.CurrentMoney)
	}
}
