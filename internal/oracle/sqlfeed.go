package oracle

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agritrace/agritrace/internal/model"
)

// SQLFeed reads the most recently pushed sample of each kind from the
// oracle_samples table. With no pushed sample it falls back to the
// package defaults.
type SQLFeed struct {
	DB *sql.DB
}

var _ Feed = (*SQLFeed)(nil)

func (f *SQLFeed) CurrentPrice(ctx context.Context) (PriceQuote, error) {
	var q PriceQuote
	err := f.DB.QueryRowContext(ctx,
		`SELECT price_value, price_decimals FROM oracle_samples
		 WHERE kind = 'price' ORDER BY recorded_at DESC, id DESC LIMIT 1`,
	).Scan(&q.Value, &q.Decimals)
	if err == sql.ErrNoRows {
		return DefaultQuote, nil
	}
	if err != nil {
		return DefaultQuote, fmt.Errorf("reading price sample: %w", err)
	}
	return q, nil
}

func (f *SQLFeed) CurrentWeather(ctx context.Context) (model.WeatherSample, error) {
	var s model.WeatherSample
	err := f.DB.QueryRowContext(ctx,
		`SELECT temperature, humidity, rainfall, wind_speed, recorded_at FROM oracle_samples
		 WHERE kind = 'weather' ORDER BY recorded_at DESC, id DESC LIMIT 1`,
	).Scan(&s.Temperature, &s.Humidity, &s.Rainfall, &s.WindSpeed, &s.Timestamp)
	if err == sql.ErrNoRows {
		s = DefaultWeather
		s.Timestamp = time.Now()
		return s, nil
	}
	if err != nil {
		return DefaultWeather, fmt.Errorf("reading weather sample: %w", err)
	}
	return s, nil
}

// PushPrice records a new price sample.
func PushPrice(ctx context.Context, db *sql.DB, value, decimals int64) error {
	if value <= 0 || decimals < 0 {
		return fmt.Errorf("%w: price value must be positive", model.ErrInvalidArgument)
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO oracle_samples (kind, price_value, price_decimals) VALUES ('price', ?, ?)`,
		value, decimals,
	)
	if err != nil {
		return fmt.Errorf("pushing price sample: %w", err)
	}
	return nil
}

// PushWeather records a new weather sample.
func PushWeather(ctx context.Context, db *sql.DB, s model.WeatherSample) error {
	if s.Humidity < 0 || s.Humidity > 100 {
		return fmt.Errorf("%w: humidity must be 0-100", model.ErrInvalidArgument)
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO oracle_samples (kind, temperature, humidity, rainfall, wind_speed)
		 VALUES ('weather', ?, ?, ?, ?)`,
		s.Temperature, s.Humidity, s.Rainfall, s.WindSpeed,
	)
	if err != nil {
		return fmt.Errorf("pushing weather sample: %w", err)
	}
	return nil
}

// StaticFeed returns fixed readings; used by tests.
type StaticFeed struct {
	Quote   PriceQuote
	Weather model.WeatherSample
}

var _ Feed = (*StaticFeed)(nil)

func (f *StaticFeed) CurrentPrice(context.Context) (PriceQuote, error) {
	return f.Quote, nil
}

func (f *StaticFeed) CurrentWeather(context.Context) (model.WeatherSample, error) {
	return f.Weather, nil
}
