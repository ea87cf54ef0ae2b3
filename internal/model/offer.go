package model

import "time"

// Offer is a proposed trade of a quantity of a batch at a price, open to
// acceptance by a designated counterparty until expiry.
type Offer struct {
	ID             int64      `json:"id"`
	BatchID        int64      `json:"batch_id"`
	CreatorID      int64      `json:"creator_id"`
	CounterpartyID int64      `json:"counterparty_id,omitempty"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	PricePerUnit   int64      `json:"price_per_unit"`
	Quantity       int64      `json:"quantity"`
	TermsHash      string     `json:"terms_hash,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
	AcceptedBy     *int64     `json:"accepted_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`

	// Joined fields (not always populated).
	BatchName   string `json:"batch_name,omitempty"`
	CreatorName string `json:"creator_name,omitempty"`
}

// Offer types.
const (
	OfferTypeBuy      = "BUY"
	OfferTypeSell     = "SELL"
	OfferTypeContract = "CONTRACT"
)

// Offer statuses. Expiry is a derived predicate, not a stored transition:
// an offer past its deadline is expired regardless of stored status.
const (
	OfferStatusOpen      = "OPEN"
	OfferStatusAccepted  = "ACCEPTED"
	OfferStatusRejected  = "REJECTED"
	OfferStatusCancelled = "CANCELLED"
)

// ValidOfferType reports whether t is a known offer type.
func ValidOfferType(t string) bool {
	return t == OfferTypeBuy || t == OfferTypeSell || t == OfferTypeContract
}

// Expired reports whether the offer is past its deadline at the given time.
func (o *Offer) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// Total returns the full offer value (price per unit times quantity).
func (o *Offer) Total() int64 {
	return o.PricePerUnit * o.Quantity
}
