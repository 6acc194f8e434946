package scripting

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/MJE43/bart-task-go/internal/trials"
)

// Action is a participant decision
type Action string

const (
	ActionPump    Action = "pump"
	ActionCollect Action = "collect"
)

// ParseAction accepts the strings a strategy may return from decide().
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionPump, ActionCollect:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrBadAction, s)
	}
}

// TrialView is the argument passed to decide(). Burst points are not
// part of it.
type TrialView struct {
	Index        int    `json:"index"`
	Block        string `json:"block"`
	BalloonCount int    `json:"balloonCount"`
	Balloon      string `json:"balloon"`
	MaxPumps     int    `json:"maxPumps"`
	ValuePerPump int    `json:"valuePerPump"`
	TimesPumped  int    `json:"timesPumped"`
	CurrentMoney int    `json:"currentMoney"`
	TotalMoney   int    `json:"totalMoney"`
	// Outcome of the previous trial: "exploded", "collected" or "".
	LastOutcome string `json:"lastOutcome"`
	LastPumps   int    `json:"lastPumps"`
}

// injectConstants sets the action names and balloon table on the JS runtime.
func injectConstants(vm *goja.Runtime) {
	vm.Set("PUMP", string(ActionPump))
	vm.Set("COLLECT", string(ActionCollect))

	balloons := make(map[string]any)
	for _, b := range trials.Balloons() {
		balloons[string(b.Type)] = map[string]any{
			"maxPumps":     b.MaxPumps,
			"valuePerPump": b.ValuePerPump,
		}
	}
	vm.Set("BALLOONS", balloons)
}

// injectParams exposes strategy parameters as the global `params` object.
func injectParams(vm *goja.Runtime, params map[string]any) {
	if params == nil {
		params = map[string]any{}
	}
	vm.Set("params", params)
}
