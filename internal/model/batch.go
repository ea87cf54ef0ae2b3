package model

import "time"

// Batch represents a tracked unit of physical product and its ledger record.
// Monetary fields are in minor currency units (cents).
type Batch struct {
	ID              int64          `json:"id"`
	FarmerID        int64          `json:"farmer_id"`
	OwnerID         int64          `json:"owner_id"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	Quantity        int64          `json:"quantity"`
	InitialQuantity int64          `json:"initial_quantity"`
	BasePrice       int64          `json:"base_price"`
	MarketPrice     int64          `json:"market_price"`
	OriginLocation  string         `json:"origin_location"`
	MetadataHash    string         `json:"metadata_hash,omitempty"`
	PhotoMime       string         `json:"photo_mime,omitempty"`
	Status          string         `json:"status"`
	TradingMode     string         `json:"trading_mode"`
	ForSale         bool           `json:"for_sale"`
	RequiresWeather bool           `json:"requires_weather_verification"`
	LastWeather     *WeatherSample `json:"last_weather,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`

	// AuthorizedBuyers restricts who may buy or bid on the batch.
	// Empty means anyone with the right role.
	AuthorizedBuyers []int64 `json:"authorized_buyers,omitempty"`

	// Joined fields (not always populated).
	FarmerName string `json:"farmer_name,omitempty"`
	OwnerName  string `json:"owner_name,omitempty"`
}

// Batch statuses, in lifecycle order.
const (
	BatchStatusCreated        = "CREATED"
	BatchStatusListed         = "LISTED"
	BatchStatusOffered        = "OFFERED"
	BatchStatusSold           = "SOLD"
	BatchStatusShipped        = "SHIPPED"
	BatchStatusReceived       = "RECEIVED"
	BatchStatusProcessed      = "PROCESSED"
	BatchStatusQualityChecked = "QUALITY_CHECKED"
	BatchStatusFinalized      = "FINALIZED"
)

// Trading modes.
const (
	TradingModeSpot     = "SPOT"
	TradingModeContract = "CONTRACT"
	TradingModeAuction  = "AUCTION"
)

// batchRank orders statuses along the main lifecycle. Used for the
// branch-sensitive checks (processing and quality are keyed by role and
// a minimum stage, not by the immediately preceding status).
var batchRank = map[string]int{
	BatchStatusCreated:        0,
	BatchStatusListed:         1,
	BatchStatusOffered:        2,
	BatchStatusSold:           3,
	BatchStatusShipped:        4,
	BatchStatusReceived:       5,
	BatchStatusProcessed:      6,
	BatchStatusQualityChecked: 7,
	BatchStatusFinalized:      8,
}

// batchTransitions is the allowed next-status set for each status.
// Processing may re-enter from any status at or past SOLD, and a quality
// check from any status at or past PROCESSED; those branches are encoded
// in BatchStatusAtLeast checks in the store, not here.
var batchTransitions = map[string][]string{
	BatchStatusCreated:        {BatchStatusListed},
	BatchStatusListed:         {BatchStatusOffered, BatchStatusSold},
	BatchStatusOffered:        {BatchStatusSold},
	BatchStatusSold:           {BatchStatusShipped, BatchStatusProcessed},
	BatchStatusShipped:        {BatchStatusReceived},
	BatchStatusReceived:       {BatchStatusProcessed},
	BatchStatusProcessed:      {BatchStatusQualityChecked},
	BatchStatusQualityChecked: {BatchStatusFinalized},
	BatchStatusFinalized:      {},
}

// ValidBatchStatus reports whether s is a known batch status.
func ValidBatchStatus(s string) bool {
	_, ok := batchRank[s]
	return ok
}

// ValidTradingMode reports whether m is a known trading mode.
func ValidTradingMode(m string) bool {
	return m == TradingModeSpot || m == TradingModeContract || m == TradingModeAuction
}

// CanBatchTransition reports whether a batch may move from one status to
// another along the main lifecycle.
func CanBatchTransition(from, to string) bool {
	for _, s := range batchTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// BatchStatusAtLeast reports whether status has reached the given stage.
func BatchStatusAtLeast(status, stage string) bool {
	sr, ok := batchRank[status]
	if !ok {
		return false
	}
	tr, ok := batchRank[stage]
	if !ok {
		return false
	}
	return sr >= tr
}

// ProcessingData captures one processing stage of a batch. Records are
// append-only; the latest record per batch is the canonical one.
type ProcessingData struct {
	ID             int64          `json:"id"`
	BatchID        int64          `json:"batch_id"`
	ProcessorID    int64          `json:"processor_id"`
	ProcessingType string         `json:"processing_type"`
	QualityMetrics string         `json:"quality_metrics,omitempty"`
	OutputQuantity int64          `json:"output_quantity"`
	Weather        *WeatherSample `json:"weather,omitempty"`
	ProcessedAt    time.Time      `json:"processed_at"`
}

// QualityData captures one quality check of a batch. Append-only, like
// ProcessingData.
type QualityData struct {
	ID            int64     `json:"id"`
	BatchID       int64     `json:"batch_id"`
	InspectorID   int64     `json:"inspector_id"`
	Grade         string    `json:"grade"`
	Moisture      int64     `json:"moisture"`
	Purity        int64     `json:"purity"`
	Organic       bool      `json:"organic"`
	CertBody      string    `json:"cert_body,omitempty"`
	Passed        bool      `json:"passed"`
	CheckedAt     time.Time `json:"checked_at"`
}

// Quality pass criteria.
const (
	QualityMinPurity   = 80
	QualityMaxMoisture = 15
)

// QualityPassed applies the pass criteria: purity at least 80 and
// moisture at most 15.
func QualityPassed(purity, moisture int64) bool {
	return purity >= QualityMinPurity && moisture <= QualityMaxMoisture
}
