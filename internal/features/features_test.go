package features

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const longCSV = `Date,Ticker,Close,Volume,sentiment
2024-01-02,MSFT,370,1000,0.2
2024-01-02,AAPL,185,2000,-0.5
2024-01-03,AAPL,184,,0.1
2024-01-03,MSFT,371,1100,nan
2024-01-03,MSFT,372,1200,0.3
2024-01-04,AAPL,181,2500,0
`

func TestReadLong(t *testing.T) {
	set, err := ReadLong(strings.NewReader(longCSV))
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT"}, set.Assets, "columns sorted like a pivot")
	assert.Equal(t, 3, set.NumDays())
	require.NotNil(t, set.Volume)
	require.NotNil(t, set.Sentiment)
	assert.Nil(t, set.Forecast)

	assert.Equal(t, []float64{185, 370}, set.Price[0])
	// duplicate (date, ticker) keeps the last row
	assert.Equal(t, 372.0, set.Price[1][1])
	assert.Equal(t, 1200.0, set.Volume[1][1])
	// empty volume cell sanitised to 0
	assert.Equal(t, 0.0, set.Volume[1][0])
	// missing MSFT row on 2024-01-04 sanitised to 0
	assert.Equal(t, 0.0, set.Price[2][1])

	for _, m := range []Matrix{set.Price, set.Volume, set.Sentiment} {
		for _, row := range m {
			for _, v := range row {
				assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
			}
		}
	}
}

func TestPivot_NormalisesTickers(t *testing.T) {
	d1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)

	// rows as a database driver returns them, without any cleanup
	pv := newPivot(true, true, false)
	pv.add(record{date: d1, ticker: "aapl", close: 185, volume: 10, sentiment: 0.1})
	pv.add(record{date: d1, ticker: " MSFT ", close: 370, volume: 20, sentiment: 0})
	pv.add(record{date: d2, ticker: "Aapl", close: 186, volume: 11, sentiment: 0.2})
	pv.add(record{date: d2, ticker: "msft", close: 371, volume: 21, sentiment: 0})

	set, err := pv.build()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, set.Assets)
	assert.Equal(t, []float64{186, 371}, set.Price[1])

	sub, err := set.Select([]string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 1, sub.NumAssets())
}

func TestReadLong_MissingColumn(t *testing.T) {
	_, err := ReadLong(strings.NewReader("Date,Close\n2024-01-02,1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ticker")
}

func TestReadLong_BadDate(t *testing.T) {
	_, err := ReadLong(strings.NewReader("Date,Ticker,Close\n02/01/2024,AAPL,1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadDense(t *testing.T) {
	m, err := ReadDense(strings.NewReader("AAPL,MSFT\n0.1,0.9\n0.4,Inf\n"))
	require.NoError(t, err)
	assert.Equal(t, Matrix{{0.1, 0.9}, {0.4, 0}}, m)

	_, err = ReadDense(strings.NewReader("0.1,0.2\nx,y\n"))
	assert.Error(t, err)
}

func TestSet_Select(t *testing.T) {
	set, err := ReadLong(strings.NewReader(longCSV))
	require.NoError(t, err)

	sub, err := set.Select([]string{"MSFT", "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT", "AAPL"}, sub.Assets)
	assert.Equal(t, []float64{370, 185}, sub.Price[0])
	assert.Equal(t, []float64{1000, 2000}, sub.Volume[0])

	_, err = set.Select([]string{"AAPL", "TSLA", "NVDA"})
	var missing *MissingAssetsError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"TSLA", "NVDA"}, missing.Missing)
	assert.Contains(t, err.Error(), "TSLA, NVDA")

	_, err = set.Select(nil)
	assert.ErrorIs(t, err, ErrEmptyMatrix)
}

func TestSet_Validate(t *testing.T) {
	tests := []struct {
		name    string
		set     Set
		wantErr bool
	}{
		{"valid", Set{Assets: []string{"A"}, Price: Matrix{{1}, {2}}}, false},
		{"empty price", Set{Assets: []string{"A"}}, true},
		{"ragged volume", Set{Assets: []string{"A"}, Price: Matrix{{1}, {2}}, Volume: Matrix{{1}}}, true},
		{"duplicate asset", Set{Assets: []string{"A", "A"}, Price: Matrix{{1, 1}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.set.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSet_AttachForecast(t *testing.T) {
	set := &Set{
		Assets: []string{"A", "B"},
		Price:  Matrix{{1, 1}, {2, 2}, {3, 3}},
	}

	out, err := set.AttachForecast(Matrix{{0.2, 0.8}, {0.6, 0.4}})
	require.NoError(t, err)
	assert.Equal(t, 2, out.NumDays(), "aligned on the common trailing window")
	assert.Equal(t, []float64{2, 2}, out.Price[0])
	assert.Equal(t, []float64{0.2, 0.8}, out.Forecast[0])

	_, err = set.AttachForecast(Matrix{{0.1}})
	assert.Error(t, err)
}
