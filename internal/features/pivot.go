package features

import (
	"math"
	"sort"
	"strings"
	"time"
)

// record is one (date, ticker) row of the long-format dataset
type record struct {
	date      time.Time
	ticker    string
	close     float64
	volume    float64
	sentiment float64
	forecast  float64
}

// pivot turns long-format rows into aligned matrices.
// Duplicate (date, ticker) rows keep the last occurrence.
type pivot struct {
	rows         map[time.Time]map[string]record
	tickers      map[string]struct{}
	hasVolume    bool
	hasSentiment bool
	hasForecast  bool
}

func newPivot(hasVolume, hasSentiment, hasForecast bool) *pivot {
	return &pivot{
		rows:         make(map[time.Time]map[string]record),
		tickers:      make(map[string]struct{}),
		hasVolume:    hasVolume,
		hasSentiment: hasSentiment,
		hasForecast:  hasForecast,
	}
}

// normalizeTicker is the identifier form shared by every provider
func normalizeTicker(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// add stores r under its normalised ticker; case variants of one ticker merge
func (p *pivot) add(r record) {
	r.ticker = normalizeTicker(r.ticker)
	day, ok := p.rows[r.date]
	if !ok {
		day = make(map[string]record)
		p.rows[r.date] = day
	}
	day[r.ticker] = r
	p.tickers[r.ticker] = struct{}{}
}

func (p *pivot) build() (*Set, error) {
	if len(p.rows) == 0 || len(p.tickers) == 0 {
		return nil, ErrEmptyMatrix
	}

	dates := make([]time.Time, 0, len(p.rows))
	for d := range p.rows {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	assets := make([]string, 0, len(p.tickers))
	for t := range p.tickers {
		assets = append(assets, t)
	}
	sort.Strings(assets)

	set := &Set{
		Assets: assets,
		Dates:  dates,
		Price:  NewMatrix(len(dates), len(assets)),
	}
	if p.hasVolume {
		set.Volume = NewMatrix(len(dates), len(assets))
	}
	if p.hasSentiment {
		set.Sentiment = NewMatrix(len(dates), len(assets))
	}
	if p.hasForecast {
		set.Forecast = NewMatrix(len(dates), len(assets))
	}

	for d, date := range dates {
		day := p.rows[date]
		for a, ticker := range assets {
			r, ok := day[ticker]
			if !ok {
				// 결측 셀: NaN으로 두고 Sanitize에서 0으로 치환
				r = record{close: math.NaN(), volume: math.NaN(), sentiment: math.NaN(), forecast: math.NaN()}
			}
			set.Price[d][a] = r.close
			if set.Volume != nil {
				set.Volume[d][a] = r.volume
			}
			if set.Sentiment != nil {
				set.Sentiment[d][a] = r.sentiment
			}
			if set.Forecast != nil {
				set.Forecast[d][a] = r.forecast
			}
		}
	}

	set.Sanitize()
	return set, set.Validate()
}
