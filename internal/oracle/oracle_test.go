package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agritrace/agritrace/internal/db"
	"github.com/agritrace/agritrace/internal/model"
)

func TestPriceQuoteApply(t *testing.T) {
	cases := []struct {
		name   string
		quote  PriceQuote
		amount int64
		want   int64
	}{
		{"neutral", DefaultQuote, 1000, 1000},
		{"markup", PriceQuote{Value: 150, Decimals: 2}, 1000, 1500},
		{"discount", PriceQuote{Value: 75, Decimals: 2}, 1000, 750},
		{"whole multiplier", PriceQuote{Value: 3, Decimals: 0}, 1000, 3000},
		{"truncates", PriceQuote{Value: 333, Decimals: 3}, 100, 33},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.quote.Apply(tc.amount))
		})
	}
}

func TestSQLFeedDefaults(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	feed := &SQLFeed{DB: database}

	quote, err := feed.CurrentPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultQuote, quote)

	weather, err := feed.CurrentWeather(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultWeather.Temperature, weather.Temperature)
	assert.Equal(t, DefaultWeather.Humidity, weather.Humidity)
	assert.False(t, weather.Timestamp.IsZero(), "default weather should carry a timestamp")
}

func TestSQLFeedLatestSampleWins(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	feed := &SQLFeed{DB: database}

	require.NoError(t, PushPrice(ctx, database, 120, 2))
	require.NoError(t, PushPrice(ctx, database, 140, 2))

	quote, err := feed.CurrentPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, PriceQuote{Value: 140, Decimals: 2}, quote)

	require.NoError(t, PushWeather(ctx, database, model.WeatherSample{
		Temperature: 18, Humidity: 70, Rainfall: 12, WindSpeed: 8,
	}))
	require.NoError(t, PushWeather(ctx, database, model.WeatherSample{
		Temperature: 25, Humidity: 40, Rainfall: 0, WindSpeed: 3,
	}))

	weather, err := feed.CurrentWeather(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(25), weather.Temperature)
	assert.Equal(t, int64(40), weather.Humidity)
	assert.False(t, weather.Timestamp.IsZero())
}

func TestPushPriceValidation(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	err := PushPrice(ctx, database, 0, 0)
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))

	err = PushPrice(ctx, database, 100, -1)
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))
}

func TestPushWeatherValidation(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	err := PushWeather(ctx, database, model.WeatherSample{Humidity: 101})
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))

	// Negative temperatures are legitimate readings.
	err = PushWeather(ctx, database, model.WeatherSample{Temperature: -5, Humidity: 80})
	assert.NoError(t, err)
}

func TestStaticFeed(t *testing.T) {
	ctx := context.Background()
	feed := &StaticFeed{
		Quote:   PriceQuote{Value: 2, Decimals: 0},
		Weather: model.WeatherSample{Temperature: 30},
	}

	quote, err := feed.CurrentPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), quote.Value)

	weather, err := feed.CurrentWeather(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(30), weather.Temperature)
}
