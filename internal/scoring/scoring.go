package scoring

import (
	"math"

	"github.com/MJE43/bart-task-go/internal/triallog"
)

// Mean explosion point per balloon color
var meanExplosion = map[string]float64{
	"low":    64,
	"medium": 16,
	"high":   4,
}

// Colors missing from the table fall back to the medium value
const defaultMeanExplosion = 16

// Minimum main-block records for the phase and loss metrics
const (
	adaptationMinTrials      = 60
	adaptationPhaseSize      = 20
	lossSensitivityMinTrials = 3
)

// neutral is returned when a metric has too little data
var neutral = Score{Raw: 0, Score: 50}

// Score is one metric: the raw value and its 0-100 normalization
type Score struct {
	Raw   float64 `json:"raw"`
	Score int     `json:"score"`
}

// ScoreSet holds the five behavioral metrics for a session.
type ScoreSet struct {
	OverallRisk     Score `json:"overallRisk"`
	Efficiency      Score `json:"efficiency"`
	Adaptation      Score `json:"adaptation"`
	LossSensitivity Score `json:"lossSensitivity"`
	DecisionSpeed   Score `json:"decisionSpeed"`
}

// SummaryItem is one key/value line of the export summary
type SummaryItem struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// Compute scores a full record list. Tutorial records are ignored.
func Compute(records []triallog.Record) ScoreSet {
	main := triallog.FilterMain(records)
	return ScoreSet{
		OverallRisk:     OverallRisk(main),
		Efficiency:      Efficiency(main),
		Adaptation:      Adaptation(main),
		LossSensitivity: LossSensitivity(main),
		DecisionSpeed:   DecisionSpeed(main),
	}
}

// Summary returns the raw values, the scores and the legacy score aliases
// in export order.
func (s ScoreSet) Summary() []SummaryItem {
	return []SummaryItem{
		{"overallRisk_raw", s.OverallRisk.Raw},
		{"efficiency_raw", s.Efficiency.Raw},
		{"adaptation_raw", s.Adaptation.Raw},
		{"lossSensitivity_raw", s.LossSensitivity.Raw},
		{"decisionSpeed_raw", s.DecisionSpeed.Raw},

		{"overallRisk_score", float64(s.OverallRisk.Score)},
		{"efficiency_score", float64(s.Efficiency.Score)},
		{"adaptation_score", float64(s.Adaptation.Score)},
		{"lossSensitivity_score", float64(s.LossSensitivity.Score)},
		{"decisionSpeed_score", float64(s.DecisionSpeed.Score)},

		{"GRA_score", float64(s.OverallRisk.Score)},
		{"RV_score", float64(s.Efficiency.Score)},
		{"OA_score", float64(s.Adaptation.Score)},
		{"KD_score", float64(s.LossSensitivity.Score)},
		{"Speed_score", float64(s.DecisionSpeed.Score)},
	}
}

// OverallRisk averages the normalized adjusted BART score with the mean
// per-trial risk ratio.
func OverallRisk(main []triallog.Record) Score {
	if len(main) == 0 {
		return neutral
	}

	pumps, kept := 0, 0
	for _, r := range main {
		if !r.Exploded() {
			pumps += r.TimesPumped
			kept++
		}
	}
	adjusted := 0.0
	if kept > 0 {
		adjusted = float64(pumps) / float64(kept)
	}

	ratioSum := 0.0
	for _, r := range main {
		ratioSum += riskRatio(r)
	}
	avgRatio := ratioSum / float64(len(main))

	raw := (adjusted/64 + avgRatio) / 2
	return Score{Raw: raw, Score: normalize((raw - 0.2) / 0.6 * 100)}
}

// Efficiency is earnings per pump across the main block.
func Efficiency(main []triallog.Record) Score {
	if len(main) == 0 {
		return neutral
	}

	earnings, pumps := 0, 0
	for _, r := range main {
		earnings += r.EarningsThisBalloon
		pumps += r.TimesPumped
	}

	raw := 0.0
	if pumps > 0 {
		raw = float64(earnings) / float64(pumps)
	}
	return Score{Raw: raw, Score: normalize(raw / 50 * 100)}
}

// Adaptation measures how consistent risk-adjusted pumping is across the
// three 20-trial phases of the main block. Lower spread scores higher.
func Adaptation(main []triallog.Record) Score {
	if len(main) < adaptationMinTrials {
		return neutral
	}

	avg1 := meanPumps(main[0:adaptationPhaseSize])
	avg2 := meanPumps(main[adaptationPhaseSize : 2*adaptationPhaseSize])
	avg3 := meanPumps(main[2*adaptationPhaseSize : 3*adaptationPhaseSize])

	adj1 := avg1 / 64
	adj2 := avg2 / 16
	adj3 := avg3 / 4

	mean := (adj1 + adj2 + adj3) / 3
	d1, d2, d3 := adj1-mean, adj2-mean, adj3-mean
	variance := (d1*d1 + d2*d2 + d3*d3) / 3

	raw := -math.Sqrt(variance)
	return Score{Raw: raw, Score: normalize((raw + 0.5) / 0.5 * 100)}
}

// LossSensitivity is the negated mean change in pumps from the trial
// before an explosion to the trial after it.
func LossSensitivity(main []triallog.Record) Score {
	if len(main) < lossSensitivityMinTrials {
		return neutral
	}

	deltaSum, deltaCount := 0, 0
	for i := 1; i < len(main)-1; i++ {
		if main[i].Exploded() {
			deltaSum += main[i+1].TimesPumped - main[i-1].TimesPumped
			deltaCount++
		}
	}

	raw := 0.0
	if deltaCount > 0 {
		raw = -(float64(deltaSum) / float64(deltaCount))
	}
	return Score{Raw: raw, Score: normalize((raw + 10) / 20 * 100)}
}

// DecisionSpeed combines mean pump reaction time with its variability.
// Trials with no pumps are skipped.
func DecisionSpeed(main []triallog.Record) Score {
	if len(main) == 0 {
		return neutral
	}

	rts := make([]float64, 0, len(main))
	for _, r := range main {
		if r.AveragePumpRT > 0 {
			rts = append(rts, float64(r.AveragePumpRT))
		}
	}
	if len(rts) == 0 {
		return neutral
	}

	sum := 0.0
	for _, rt := range rts {
		sum += rt
	}
	meanSec := sum / float64(len(rts)) / 1000

	variance := 0.0
	for _, rt := range rts {
		diff := rt/1000 - meanSec
		variance += diff * diff
	}
	variance /= float64(len(rts))
	sdSec := math.Sqrt(variance)

	speed := 1 / math.Max(0.1, meanSec)
	consistency := 1 / (1 + sdSec)

	raw := speed * consistency
	return Score{Raw: raw, Score: normalize((raw - 0.5) / 1.5 * 100)}
}

func riskRatio(r triallog.Record) float64 {
	mean, ok := meanExplosion[r.BalloonColor]
	if !ok {
		mean = defaultMeanExplosion
	}
	return float64(r.TimesPumped) / mean
}

func meanPumps(records []triallog.Record) float64 {
	sum := 0
	for _, r := range records {
		sum += r.TimesPumped
	}
	return float64(sum) / float64(len(records))
}

// normalize rounds half up then clamps to [0, 100].
func normalize(x float64) int {
	r := math.Floor(x + 0.5)
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return int(r)
}
