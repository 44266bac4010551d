// Package portfolio parses user holdings and the risk profiles that set
// simulation defaults.
package portfolio

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Holdings maps an upper-case ticker to the amount invested
type Holdings map[string]float64

// Tickers returns the holding identifiers in sorted order
func (h Holdings) Tickers() []string {
	out := make([]string, 0, len(h))
	for t := range h {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Total returns the summed amount
func (h Holdings) Total() float64 {
	sum := 0.0
	for _, v := range h {
		sum += v
	}
	return sum
}

// InputError reports a malformed portfolio line
type InputError struct {
	Line   int
	Text   string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("line %d %q: %s", e.Line, e.Text, e.Reason)
}

// ParseLines reads one "TICKER amount" holding per line. Blank lines and
// lines starting with # are skipped; a repeated ticker keeps the last amount.
func ParseLines(r io.Reader) (Holdings, error) {
	holdings := make(Holdings)
	scanner := bufio.NewScanner(r)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, &InputError{Line: lineNo, Text: raw, Reason: "expected \"TICKER amount\""}
		}

		amount, err := strconv.ParseFloat(strings.ReplaceAll(fields[1], ",", "."), 64)
		if err != nil {
			return nil, &InputError{Line: lineNo, Text: raw, Reason: "amount is not a number"}
		}
		if amount <= 0 || math.IsInf(amount, 0) || math.IsNaN(amount) {
			return nil, &InputError{Line: lineNo, Text: raw, Reason: "amount must be positive"}
		}

		holdings[strings.ToUpper(fields[0])] = amount
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read portfolio: %w", err)
	}

	if len(holdings) == 0 {
		return nil, &InputError{Line: lineNo, Reason: "no holdings"}
	}
	return holdings, nil
}

// ParseText is ParseLines over a string
func ParseText(s string) (Holdings, error) {
	return ParseLines(strings.NewReader(s))
}
