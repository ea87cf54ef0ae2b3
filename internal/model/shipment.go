package model

import "time"

// Shipment tracks physical custody of a batch between an accepted offer's
// parties. Its status machine is independent of the batch's own status
// field; the store keeps both consistent inside one transaction.
type Shipment struct {
	ID           int64      `json:"id"`
	BatchID      int64      `json:"batch_id"`
	OfferID      int64      `json:"offer_id"`
	SenderID     int64      `json:"sender_id"`
	ReceiverID   int64      `json:"receiver_id"`
	ShipperID    int64      `json:"shipper_id"`
	TrackingID   string     `json:"tracking_id"`
	FromLocation string     `json:"from_location"`
	ToLocation   string     `json:"to_location"`
	Status       string     `json:"status"`
	MetadataHash string     `json:"metadata_hash,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	PickedUpAt   *time.Time `json:"picked_up_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`

	// Joined fields (not always populated).
	BatchName    string `json:"batch_name,omitempty"`
	SenderName   string `json:"sender_name,omitempty"`
	ReceiverName string `json:"receiver_name,omitempty"`
	ShipperName  string `json:"shipper_name,omitempty"`
}

// Shipment statuses.
const (
	ShipmentStatusCreated         = "CREATED"
	ShipmentStatusPickedUp        = "PICKED_UP"
	ShipmentStatusInTransit       = "IN_TRANSIT"
	ShipmentStatusDelivered       = "DELIVERED"
	ShipmentStatusConfirmed       = "CONFIRMED"
	ShipmentStatusUnableToDeliver = "UNABLE_TO_DELIVER"
	ShipmentStatusCancelled       = "CANCELLED"
)

// shipmentTransitions is the full transition table. CONFIRMED, CANCELLED
// and UNABLE_TO_DELIVER are absorbing.
var shipmentTransitions = map[string][]string{
	ShipmentStatusCreated:         {ShipmentStatusPickedUp, ShipmentStatusCancelled},
	ShipmentStatusPickedUp:        {ShipmentStatusInTransit, ShipmentStatusUnableToDeliver, ShipmentStatusCancelled},
	ShipmentStatusInTransit:       {ShipmentStatusDelivered, ShipmentStatusUnableToDeliver, ShipmentStatusCancelled},
	ShipmentStatusDelivered:       {ShipmentStatusConfirmed},
	ShipmentStatusConfirmed:       {},
	ShipmentStatusUnableToDeliver: {},
	ShipmentStatusCancelled:       {},
}

// CanShipmentTransition reports whether a shipment may move between the
// two statuses. No transitions may be skipped.
func CanShipmentTransition(from, to string) bool {
	for _, s := range shipmentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ShipmentActive reports whether the shipment still occupies its batch
// (a batch may only have one shipment that is not in a terminal state).
func ShipmentActive(status string) bool {
	switch status {
	case ShipmentStatusConfirmed, ShipmentStatusCancelled, ShipmentStatusUnableToDeliver:
		return false
	}
	return true
}

// ShipmentEvent is one entry in a shipment's append-only location and
// transition history.
type ShipmentEvent struct {
	ID         int64     `json:"id"`
	ShipmentID int64     `json:"shipment_id"`
	ActorID    int64     `json:"actor_id"`
	Status     string    `json:"status"`
	Location   string    `json:"location,omitempty"`
	Note       string    `json:"note,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ShipmentStats aggregates shipment counts and completion rates.
type ShipmentStats struct {
	Total            int64            `json:"total"`
	ByStatus         map[string]int64 `json:"by_status"`
	DeliveryRate     float64          `json:"delivery_rate"`
	ConfirmationRate float64          `json:"confirmation_rate"`
}
