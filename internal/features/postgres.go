package features

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresProvider reads the enriched daily features table
// ⭐ SSOT: 피처 테이블 조회는 여기서만
type PostgresProvider struct {
	pool *pgxpool.Pool
}

// NewPostgresProvider creates a provider backed by data.daily_features
func NewPostgresProvider(pool *pgxpool.Pool) *PostgresProvider {
	return &PostgresProvider{pool: pool}
}

// Load implements Provider
func (p *PostgresProvider) Load(ctx context.Context) (*Set, error) {
	query := `
		SELECT trade_date, ticker, close_price, volume, sentiment, forecast
		FROM data.daily_features
		ORDER BY trade_date ASC, ticker ASC
	`

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query features: %w", err)
	}
	defer rows.Close()

	pv := newPivot(true, true, false)
	forecastSeen := false
	for rows.Next() {
		var (
			rec                         record
			volume, sentiment, forecast sql.NullFloat64
		)
		if err := rows.Scan(&rec.date, &rec.ticker, &rec.close, &volume, &sentiment, &forecast); err != nil {
			return nil, fmt.Errorf("scan features: %w", err)
		}
		rec.ticker = normalizeTicker(rec.ticker)
		if rec.ticker == "" {
			return nil, fmt.Errorf("features row %s: empty ticker", rec.date.Format("2006-01-02"))
		}
		rec.volume = nullToNaN(volume)
		rec.sentiment = nullToNaN(sentiment)
		rec.forecast = nullToNaN(forecast)
		if forecast.Valid {
			forecastSeen = true
		}
		pv.add(rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate features: %w", err)
	}

	pv.hasForecast = forecastSeen
	return pv.build()
}

func nullToNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
