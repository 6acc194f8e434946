package export

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/MJE43/bart-task-go/internal/scoring"
	"github.com/MJE43/bart-task-go/internal/triallog"
)

var ErrBadHeader = errors.New("unexpected export header")

// Parsed is an export read back from disk
type Parsed struct {
	Records []triallog.Record
	Summary []scoring.SummaryItem
}

// ParseCSV reads a file written by WriteCSV. The summary section is
// optional.
func ParseCSV(r io.Reader) (*Parsed, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("export: read header: %w", err)
		}
		return nil, ErrBadHeader
	}
	if strings.TrimSpace(sc.Text()) != strings.Join(Columns, ",") {
		return nil, fmt.Errorf("%w: %q", ErrBadHeader, sc.Text())
	}

	out := &Parsed{}
	line := 1
	inSummary := false

	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")

		switch {
		case text == "":
			continue
		case text == SummaryHeading:
			inSummary = true
			continue
		case inSummary:
			item, err := parseSummary(text)
			if err != nil {
				return nil, fmt.Errorf("export: line %d: %w", line, err)
			}
			out.Summary = append(out.Summary, item)
		default:
			rec, err := parseRow(text)
			if err != nil {
				return nil, fmt.Errorf("export: line %d: %w", line, err)
			}
			out.Records = append(out.Records, rec)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("export: read: %w", err)
	}
	return out, nil
}

// parseRow rebuilds a JSON object from the row's literal fields
func parseRow(text string) (triallog.Record, error) {
	fields := strings.Split(text, ",")
	if len(fields) != len(Columns) {
		return triallog.Record{}, fmt.Errorf("expected %d fields, got %d", len(Columns), len(fields))
	}

	var b strings.Builder
	b.WriteByte('{')
	for i, col := range Columns {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(col))
		b.WriteByte(':')
		b.WriteString(strings.TrimSpace(fields[i]))
	}
	b.WriteByte('}')

	var rec triallog.Record
	if err := json.Unmarshal([]byte(b.String()), &rec); err != nil {
		return triallog.Record{}, fmt.Errorf("decode row: %w", err)
	}
	return rec, nil
}

func parseSummary(text string) (scoring.SummaryItem, error) {
	key, value, ok := strings.Cut(text, ",")
	if !ok {
		return scoring.SummaryItem{}, fmt.Errorf("summary line %q has no value", text)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return scoring.SummaryItem{}, fmt.Errorf("summary %s: %w", key, err)
	}
	return scoring.SummaryItem{Key: key, Value: v}, nil
}
