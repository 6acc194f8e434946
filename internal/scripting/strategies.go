package scripting

import (
	"fmt"
	"sort"
)

// Built-in participant strategies
var strategies = map[string]string{
	// Pump a fixed number of times on every balloon.
	"fixed": `
		var target = params.target || 8
		function decide(t) {
			return t.timesPumped < target ? PUMP : COLLECT
		}
	`,

	// Stop at a quarter of the balloon's maximum.
	"cautious": `
		function decide(t) {
			var target = Math.max(1, Math.floor(t.maxPumps / 4))
			return t.timesPumped < target ? PUMP : COLLECT
		}
	`,

	// Start near half the maximum and adjust per color after each outcome.
	"adaptive": `
		var targets = {}
		var step = params.step || 0.2
		var lastColor = ""
		function decide(t) {
			if (t.timesPumped === 0 && lastColor !== "" && t.lastOutcome !== "") {
				var prev = targets[lastColor]
				if (t.lastOutcome === "exploded") {
					targets[lastColor] = Math.max(1, prev * (1 - step))
				} else {
					targets[lastColor] = prev * (1 + step / 2)
				}
			}
			if (targets[t.balloon] === undefined) {
				targets[t.balloon] = t.maxPumps / 2
			}
			lastColor = t.balloon
			return t.timesPumped < Math.round(targets[t.balloon]) ? PUMP : COLLECT
		}
	`,

	// Pump with a fixed probability, varying think time.
	"random": `
		var p = params.pumpProbability || 0.8
		function decide(t) {
			sleep(200 + Math.floor(Math.random() * 600))
			return Math.random() < p ? PUMP : COLLECT
		}
	`,
}

// StrategySource returns the script for a built-in strategy
func StrategySource(name string) (string, error) {
	src, ok := strategies[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return src, nil
}

// ListStrategies returns the built-in strategy names, sorted
func ListStrategies() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
