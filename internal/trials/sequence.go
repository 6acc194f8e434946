package trials

import (
	"fmt"
	"math"
	"strings"

	"github.com/MJE43/bart-task-go/internal/engine"
)

// Session layout
const (
	PracticeTrials = 3
	MainPerType    = 20
	MainTrials     = MainPerType * 3
	TotalTrials    = PracticeTrials + MainTrials
)

// Practice burst points are fixed and never drawn from the source
var practiceBurstPoints = [PracticeTrials]int{8, 24, 16}

// Main block composition before ordering
var mainTypes = []BalloonType{Low, Medium, High}

// Trial is one balloon to be presented: its type and the hidden pump
// count at which it bursts.
type Trial struct {
	Type       BalloonType `json:"type"`
	BurstPoint int         `json:"burstPoint"`
}

// Order controls how the main block is arranged.
type Order string

const (
	// OrderShuffled mixes the main block with a seeded shuffle.
	OrderShuffled Order = "shuffled"
	// OrderBlocked presents 20 low, then 20 medium, then 20 high.
	OrderBlocked Order = "blocked"
)

// ParseOrder converts a config or request value into an Order.
// An empty string selects OrderShuffled.
func ParseOrder(s string) (Order, error) {
	switch o := Order(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return OrderShuffled, nil
	case OrderShuffled, OrderBlocked:
		return o, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOrder, s)
	}
}

// Options configures sequence generation
type Options struct {
	Seed  int64 `json:"seed" yaml:"seed"`
	Order Order `json:"order" yaml:"order"`
}

// DefaultOptions returns the canonical configuration: seed 12345, shuffled.
func DefaultOptions() Options {
	return Options{
		Seed:  engine.DefaultSeed,
		Order: OrderShuffled,
	}
}

// Practice returns the three training trials.
func Practice() []Trial {
	out := make([]Trial, PracticeTrials)
	for i, bp := range practiceBurstPoints {
		out[i] = Trial{Type: Training, BurstPoint: bp}
	}
	return out
}

// Build generates the full 63-trial sequence. All shuffle draws are
// consumed before any burst point is drawn, so the same options always
// give the same sequence. A zero seed selects engine.DefaultSeed and an
// empty order selects OrderShuffled.
func Build(opts Options) ([]Trial, error) {
	order, err := ParseOrder(string(opts.Order))
	if err != nil {
		return nil, err
	}
	seed := opts.Seed
	if seed == 0 {
		seed = engine.DefaultSeed
	}

	src := engine.NewSource(seed)

	types := make([]BalloonType, 0, MainTrials)
	for _, t := range mainTypes {
		for i := 0; i < MainPerType; i++ {
			types = append(types, t)
		}
	}

	if order == OrderShuffled {
		shuffle(src, types)
	}

	seq := make([]Trial, 0, TotalTrials)
	seq = append(seq, Practice()...)
	for _, t := range types {
		seq = append(seq, Trial{
			Type:       t,
			BurstPoint: src.BurstDraw(t.MaxPumps()),
		})
	}

	return seq, nil
}

// MustBuild is Build for options known to be valid
func MustBuild(opts Options) []Trial {
	seq, err := Build(opts)
	if err != nil {
		panic(err)
	}
	return seq
}

// shuffle is a Durstenfeld shuffle walking from the last index down to 1.
func shuffle(src *engine.Source, types []BalloonType) {
	for i := len(types) - 1; i > 0; i-- {
		j := int(math.Floor(src.Next() * float64(i+1)))
		if j > i {
			j = i
		}
		types[i], types[j] = types[j], types[i]
	}
}

// Validate checks that a sequence is non-empty and that every burst
// point lies within [1, maxPumps] for its type.
func Validate(seq []Trial) error {
	if len(seq) == 0 {
		return ErrEmptySequence
	}
	for i, tr := range seq {
		if !tr.Type.Valid() {
			return fmt.Errorf("trial %d: %w: %q", i, ErrUnknownBalloon, tr.Type)
		}
		if tr.BurstPoint < 1 || tr.BurstPoint > tr.Type.MaxPumps() {
			return fmt.Errorf("trial %d: %w: %d not in [1, %d]", i, ErrInvalidBurstPoint, tr.BurstPoint, tr.Type.MaxPumps())
		}
	}
	return nil
}

// IsPractice reports whether the trial index belongs to the practice block
func IsPractice(index int) bool {
	return index < PracticeTrials
}

// CountByType tallies the main-block trials of each type
func CountByType(seq []Trial) map[BalloonType]int {
	counts := make(map[BalloonType]int)
	for i, tr := range seq {
		if IsPractice(i) {
			continue
		}
		counts[tr.Type]++
	}
	return counts
}
