package export

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/MJE43/bart-task-go/internal/scoring"
	"github.com/MJE43/bart-task-go/internal/triallog"
)

func intPtr(v int) *int { return &v }
func floatPtr(v float64) *float64 { return &v }

func sampleRecords() []triallog.Record {
	return []triallog.Record{
		{BlockName: triallog.BlockTutorial, BalloonColor: "medium", BalloonCount: 1, TimesPumped: 3, EarningsThisBalloon: 3, AveragePumpRT: 412},
		{BlockName: triallog.BlockMain, BalloonColor: "high", BalloonCount: 1, TimesPumped: 1, Explosion: 1, TotalEarningsSoFar: intPtr(0), TotalAdjustedBartScoreSoFar: floatPtr(0), AveragePumpRT: 380},
		{BlockName: triallog.BlockMain, BalloonColor: "low", BalloonCount: 2, TimesPumped: 15, EarningsThisBalloon: 75, TotalEarningsSoFar: intPtr(75), TotalAdjustedBartScoreSoFar: floatPtr(7.5), AveragePumpRT: 290},
	}
}

func sampleScores() scoring.ScoreSet {
	return scoring.ScoreSet{
		OverallRisk:     scoring.Score{Raw: 0.375, Score: 29},
		Efficiency:      scoring.Score{Raw: 23.333333333333332, Score: 47},
		Adaptation:      scoring.Score{Raw: math.Copysign(0, -1), Score: 100},
		LossSensitivity: scoring.Score{Raw: -0.13333333333333333, Score: 49},
		DecisionSpeed:   scoring.Score{Raw: 2.5, Score: 100},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleRecords(), sampleScores()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	want := strings.Join([]string{
		"blockName,balloonColor,balloonCount,timesPumped,explosion,earningsThisBalloon,totalEarningsSoFar,totalAdjustedBartScoreSoFar,averagePumpRT",
		`"tutorial","medium",1,3,0,3,null,null,412`,
		`"main","high",1,1,1,0,0,0,380`,
		`"main","low",2,15,0,75,75,7.5,290`,
		"",
		"SUMMARY SCORES",
		"overallRisk_raw,0.375",
		"efficiency_raw,23.333333333333332",
		"adaptation_raw,0",
		"lossSensitivity_raw,-0.13333333333333333",
		"decisionSpeed_raw,2.5",
		"overallRisk_score,29",
		"efficiency_score,47",
		"adaptation_score,100",
		"lossSensitivity_score,49",
		"decisionSpeed_score,100",
		"GRA_score,29",
		"RV_score,47",
		"OA_score,100",
		"KD_score,49",
		"Speed_score,100",
	}, "\n")

	if got := buf.String(); got != want {
		t.Errorf("WriteCSV output mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestWriteCSVRejectsEmptyLog(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, nil, scoring.ScoreSet{}); !errors.Is(err, ErrNoRecords) {
		t.Errorf("WriteCSV(nil) err = %v, want ErrNoRecords", err)
	}
	if buf.Len() != 0 {
		t.Error("WriteCSV wrote output for an empty log")
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{math.Copysign(0, -1), "0"},
		{50, "50"},
		{-3, "-3"},
		{0.1, "0.1"},
		{1.0 / 3, "0.3333333333333333"},
		{1e-7, "1e-7"},
		{1e21, "1e+21"},
		{123456789012, "123456789012"},
	}

	for _, tt := range tests {
		if got := FormatNumber(tt.in); got != tt.want {
			t.Errorf("FormatNumber(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileName(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	if got := FileName(ts); got != "bart_results_1700000000123.csv" {
		t.Errorf("FileName = %q", got)
	}
}

func TestParseCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	records := sampleRecords()
	if err := WriteCSV(&buf, records, sampleScores()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	parsed, err := ParseCSV(&buf)
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(parsed.Records) != len(records) {
		t.Fatalf("records = %d, want %d", len(parsed.Records), len(records))
	}

	first := parsed.Records[0]
	if first.BlockName != triallog.BlockTutorial || first.TotalEarningsSoFar != nil || first.TotalAdjustedBartScoreSoFar != nil {
		t.Errorf("tutorial record = %+v", first)
	}
	last := parsed.Records[2]
	if last.TotalEarningsSoFar == nil || *last.TotalEarningsSoFar != 75 || *last.TotalAdjustedBartScoreSoFar != 7.5 {
		t.Errorf("main record = %+v", last)
	}

	if len(parsed.Summary) != 15 {
		t.Fatalf("summary items = %d, want 15", len(parsed.Summary))
	}
	if parsed.Summary[0].Key != "overallRisk_raw" || parsed.Summary[0].Value != 0.375 {
		t.Errorf("summary[0] = %+v", parsed.Summary[0])
	}
}

func TestParseCSVErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "wrong header", input: "a,b,c\n1,2,3"},
		{name: "short row", input: strings.Join(Columns, ",") + "\n\"main\",\"low\",1"},
		{name: "bad literal", input: strings.Join(Columns, ",") + "\nmain,low,1,2,0,0,null,null,3"},
		{name: "bad summary", input: strings.Join(Columns, ",") + "\n\nSUMMARY SCORES\noverallRisk_raw,abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCSV(strings.NewReader(tt.input)); err == nil {
				t.Error("ParseCSV succeeded, want error")
			}
		})
	}
}
