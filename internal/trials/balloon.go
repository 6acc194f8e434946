package trials

import (
	"fmt"
	"strings"
)

// BalloonType identifies one of the fixed balloon configurations.
type BalloonType string

const (
	Training BalloonType = "training"
	Low      BalloonType = "low"
	Medium   BalloonType = "medium"
	High     BalloonType = "high"
)

// Balloon is the static configuration for a balloon type
type Balloon struct {
	Type         BalloonType `json:"type"`
	Name         string      `json:"name"`
	MaxPumps     int         `json:"maxPumps"`
	ValuePerPump int         `json:"valuePerPump"`
}

// Balloon configurations, fixed for the whole session
var balloonTable = map[BalloonType]Balloon{
	Training: {Type: Training, Name: "Training", MaxPumps: 32, ValuePerPump: 1},
	Low:      {Type: Low, Name: "Low Risk", MaxPumps: 128, ValuePerPump: 5},
	Medium:   {Type: Medium, Name: "Medium Risk", MaxPumps: 32, ValuePerPump: 15},
	High:     {Type: High, Name: "High Risk", MaxPumps: 8, ValuePerPump: 50},
}

// balloonOrder is the display order for listings
var balloonOrder = []BalloonType{Training, Low, Medium, High}

// Lookup returns the configuration for a balloon type
func Lookup(t BalloonType) (Balloon, bool) {
	b, ok := balloonTable[t]
	return b, ok
}

// Balloons returns every balloon configuration in display order
func Balloons() []Balloon {
	out := make([]Balloon, 0, len(balloonOrder))
	for _, t := range balloonOrder {
		out = append(out, balloonTable[t])
	}
	return out
}

// ParseBalloonType converts a name into a BalloonType.
func ParseBalloonType(s string) (BalloonType, error) {
	t := BalloonType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownBalloon, s)
	}
	return t, nil
}

// Valid reports whether t is one of the known balloon types
func (t BalloonType) Valid() bool {
	_, ok := balloonTable[t]
	return ok
}

// MaxPumps returns the type's maximum pump count, or 0 for unknown types.
func (t BalloonType) MaxPumps() int {
	return balloonTable[t].MaxPumps
}

// ValuePerPump returns the reward added by one successful pump
func (t BalloonType) ValuePerPump() int {
	return balloonTable[t].ValuePerPump
}

// LogColor is the color written to trial records. Training balloons
// are logged as medium.
func (t BalloonType) LogColor() string {
	switch t {
	case Low, Medium, High:
		return string(t)
	default:
		return string(Medium)
	}
}

func (t BalloonType) String() string {
	return string(t)
}
