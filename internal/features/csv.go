package features

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339}

// CSVProvider loads the long-format dataset written by the ingestion pipeline
// (columns Date, Ticker, Close and optionally Volume, sentiment, forecast),
// plus an optional dense forecast file of shape [days x assets].
type CSVProvider struct {
	path         string
	forecastPath string
}

// NewCSVProvider creates a provider; forecastPath may be empty
func NewCSVProvider(path, forecastPath string) *CSVProvider {
	return &CSVProvider{path: path, forecastPath: forecastPath}
}

// Load implements Provider
func (p *CSVProvider) Load(ctx context.Context) (*Set, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	set, err := ReadLong(f)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", p.path, err)
	}

	if p.forecastPath == "" {
		return set, nil
	}

	ff, err := os.Open(p.forecastPath)
	if err != nil {
		return nil, fmt.Errorf("open forecast: %w", err)
	}
	defer ff.Close()

	forecast, err := ReadDense(ff)
	if err != nil {
		return nil, fmt.Errorf("read forecast %s: %w", p.forecastPath, err)
	}

	return set.AttachForecast(forecast)
}

// ReadLong parses a long-format CSV into an aligned Set
func ReadLong(r io.Reader) (*Set, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"date", "ticker", "close"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	volIdx, hasVolume := cols["volume"]
	sentIdx, hasSentiment := cols["sentiment"]
	fcIdx, hasForecast := cols["forecast"]
	pv := newPivot(hasVolume, hasSentiment, hasForecast)

	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		date, err := parseDate(field(row, cols["date"]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ticker := normalizeTicker(field(row, cols["ticker"]))
		if ticker == "" {
			return nil, fmt.Errorf("line %d: empty ticker", line)
		}

		rec := record{
			date:      date,
			ticker:    ticker,
			close:     parseCell(field(row, cols["close"])),
			volume:    math.NaN(),
			sentiment: math.NaN(),
			forecast:  math.NaN(),
		}
		if hasVolume {
			rec.volume = parseCell(field(row, volIdx))
		}
		if hasSentiment {
			rec.sentiment = parseCell(field(row, sentIdx))
		}
		if hasForecast {
			rec.forecast = parseCell(field(row, fcIdx))
		}
		pv.add(rec)
	}

	return pv.build()
}

// ReadDense parses a [days x assets] numeric CSV; a non-numeric first row is
// treated as a header and skipped.
func ReadDense(r io.Reader) (Matrix, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}

	m := make(Matrix, 0, len(rows))
	for i, row := range rows {
		values := make([]float64, len(row))
		numeric := true
		for j, cell := range row {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				numeric = false
				break
			}
			values[j] = v
		}
		if !numeric {
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("row %d: non-numeric value", i+1)
		}
		m = append(m, values)
	}

	if len(m) == 0 {
		return nil, ErrEmptyMatrix
	}
	m.sanitize()
	return m, nil
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// parseCell maps empty or malformed cells to NaN; they are sanitised later
func parseCell(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}
