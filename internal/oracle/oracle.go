// Package oracle provides the read-only environmental feeds the core
// consults inline: a price feed and a weather feed. A feed is never
// required to succeed; an unconfigured feed yields documented defaults
// rather than an error, and the core never retries.
package oracle

import (
	"context"

	"github.com/agritrace/agritrace/internal/model"
)

// PriceQuote is a price-feed reading: Value scaled by 10^Decimals.
type PriceQuote struct {
	Value    int64 `json:"value"`
	Decimals int64 `json:"decimals"`
}

// Apply converts a local-currency amount through the quote.
// The neutral quote (1, 0) is a pass-through.
func (q PriceQuote) Apply(amount int64) int64 {
	scale := int64(1)
	for i := int64(0); i < q.Decimals; i++ {
		scale *= 10
	}
	if scale == 0 {
		return amount
	}
	return amount * q.Value / scale
}

// Feed answers the core's price and weather questions.
type Feed interface {
	CurrentPrice(ctx context.Context) (PriceQuote, error)
	CurrentWeather(ctx context.Context) (model.WeatherSample, error)
}

// Defaults returned when no sample has been pushed. The weather default
// is a fixed neutral reading, deliberately not the zero value.
var (
	DefaultQuote   = PriceQuote{Value: 1, Decimals: 0}
	DefaultWeather = model.WeatherSample{
		Temperature: 20,
		Humidity:    60,
		Rainfall:    0,
		WindSpeed:   5,
	}
)
