package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/MJE43/bart-task-go/internal/scoring"
	"github.com/MJE43/bart-task-go/internal/triallog"
)

// Columns is the export header, in record field order
var Columns = []string{
	"blockName",
	"balloonColor",
	"balloonCount",
	"timesPumped",
	"explosion",
	"earningsThisBalloon",
	"totalEarningsSoFar",
	"totalAdjustedBartScoreSoFar",
	"averagePumpRT",
}

// SummaryHeading separates trial rows from the score summary
const SummaryHeading = "SUMMARY SCORES"

var ErrNoRecords = errors.New("no trial records to export")

// FileName returns the download name for an export made at t
func FileName(t time.Time) string {
	return fmt.Sprintf("bart_results_%d.csv", t.UnixMilli())
}

// WriteCSV writes the trial log followed by the score summary. Every
// field is a JSON literal: strings are quoted and missing totals are null.
// Lines are separated by a single newline with none after the last.
func WriteCSV(w io.Writer, records []triallog.Record, scores scoring.ScoreSet) error {
	if len(records) == 0 {
		return ErrNoRecords
	}

	lines := make([]string, 0, len(records)+20)
	lines = append(lines, strings.Join(Columns, ","))
	for _, r := range records {
		lines = append(lines, formatRow(r))
	}

	lines = append(lines, "", SummaryHeading)
	for _, item := range scores.Summary() {
		lines = append(lines, item.Key+","+FormatNumber(item.Value))
	}

	_, err := io.WriteString(w, strings.Join(lines, "\n"))
	return err
}

func formatRow(r triallog.Record) string {
	fields := []string{
		strconv.Quote(string(r.BlockName)),
		strconv.Quote(r.BalloonColor),
		strconv.Itoa(r.BalloonCount),
		strconv.Itoa(r.TimesPumped),
		strconv.Itoa(r.Explosion),
		strconv.Itoa(r.EarningsThisBalloon),
		"null",
		"null",
		strconv.Itoa(r.AveragePumpRT),
	}
	if r.TotalEarningsSoFar != nil {
		fields[6] = strconv.Itoa(*r.TotalEarningsSoFar)
	}
	if r.TotalAdjustedBartScoreSoFar != nil {
		fields[7] = FormatNumber(*r.TotalAdjustedBartScoreSoFar)
	}
	return strings.Join(fields, ",")
}

// FormatNumber renders a float the way a browser prints a number:
// shortest round-trip digits, integers without a fraction and no
// negative zero.
func FormatNumber(v float64) string {
	if v == 0 {
		return "0"
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		if math.IsNaN(v) {
			return "NaN"
		}
		if v > 0 {
			return "Infinity"
		}
		return "-Infinity"
	}
	// encoding/json uses the same exponent thresholds as ECMAScript
	raw, err := json.Marshal(v)
	if err != nil {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return string(raw)
}
