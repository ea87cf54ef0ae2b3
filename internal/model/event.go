package model

import "time"

// RegistryEvent is one append-only record of a core state change, emitted
// in the same transaction as the change and consumed read-only by
// downstream observers. The core never reads events back.
type RegistryEvent struct {
	ID         int64     `json:"id"`
	UID        string    `json:"uid"`
	Type       string    `json:"type"`
	EntityKind string    `json:"entity_kind"`
	EntityID   int64     `json:"entity_id"`
	ActorID    int64     `json:"actor_id"`
	Payload    string    `json:"payload,omitempty"` // JSON object with the salient changed fields
	CreatedAt  time.Time `json:"created_at"`
}

// Entity kinds.
const (
	EntityBatch    = "batch"
	EntityOffer    = "offer"
	EntityShipment = "shipment"
	EntityPurchase = "purchase"
)

// Event types.
const (
	EventBatchCreated         = "BatchCreated"
	EventBatchListed          = "BatchListed"
	EventWeatherVerified      = "WeatherVerified"
	EventPriceUpdated         = "PriceUpdated"
	EventOwnershipTransferred = "OwnershipTransferred"
	EventProcessingCompleted  = "ProcessingCompleted"
	EventQualityChecked       = "QualityChecked"
	EventBatchSold            = "BatchSold"
	EventBatchFinalized       = "BatchFinalized"
	EventOfferCreated         = "OfferCreated"
	EventOfferAccepted        = "OfferAccepted"
	EventOfferRejected        = "OfferRejected"
	EventOfferCancelled       = "OfferCancelled"
	EventShipmentCreated      = "ShipmentCreated"
	EventShipmentPickedUp     = "ShipmentPickedUp"
	EventShipmentInTransit    = "ShipmentInTransit"
	EventShipmentDelivered    = "ShipmentDelivered"
	EventDeliveryConfirmed    = "DeliveryConfirmed"
	EventShipmentCancelled    = "ShipmentCancelled"
	EventShipmentFailed       = "ShipmentFailed"
	EventPurchaseCreated      = "ConsumerPurchaseCreated"
	EventProductPickedUp      = "ProductPickedUp"
	EventOwnershipClaimed     = "OwnershipClaimed"
)
