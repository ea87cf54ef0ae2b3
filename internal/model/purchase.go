package model

import "time"

// ConsumerPurchase is a consumer's retail purchase of (part of) a batch.
// Two-phase flow: purchase -> confirm pickup -> claim ownership. The
// one-shot variant sets both flags in the same operation.
type ConsumerPurchase struct {
	ID               int64     `json:"id"`
	Receipt          string    `json:"receipt"`
	BatchID          int64     `json:"batch_id"`
	ConsumerID       int64     `json:"consumer_id"`
	RetailerID       int64     `json:"retailer_id"`
	Quantity         int64     `json:"quantity"`
	PurchasePrice    int64     `json:"purchase_price"`
	PickupLocation   string    `json:"pickup_location,omitempty"`
	PickedUp         bool      `json:"picked_up"`
	OwnershipClaimed bool      `json:"ownership_claimed"`
	PurchasedAt      time.Time `json:"purchased_at"`

	// Joined fields (not always populated).
	BatchName    string `json:"batch_name,omitempty"`
	ConsumerName string `json:"consumer_name,omitempty"`
	RetailerName string `json:"retailer_name,omitempty"`
}
