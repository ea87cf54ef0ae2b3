package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/agritrace/agritrace/internal/db"
	"github.com/agritrace/agritrace/internal/gate"
	"github.com/agritrace/agritrace/internal/model"
)

// setupShipment runs a full sale and opens a shipment handled by a
// dedicated shipper.
func setupShipment(t *testing.T, database *sql.DB) (farmer, buyer, shipper gate.Context, shipment *model.Shipment) {
	t.Helper()
	admin := newActor(t, database, "root", model.RoleAdmin)
	farmer = newActor(t, database, "alice", model.RoleFarmer)
	buyer = newActor(t, database, "paul", model.RoleProcessor)
	shipper = newActor(t, database, "sam", model.RoleShipper)

	_, offer := soldBatch(t, database, admin, farmer, buyer, 100, 500)

	var err error
	shipment, err = CreateShipment(context.Background(), database, farmer, CreateShipmentParams{
		OfferID:      offer.ID,
		ShipperID:    shipper.ActorID,
		TrackingID:   "TRK-1",
		FromLocation: "North Field",
		ToLocation:   "Mill",
	})
	if err != nil {
		t.Fatalf("creating shipment: %v", err)
	}
	return farmer, buyer, shipper, shipment
}

func TestCreateShipment(t *testing.T) {
	database := db.NewTestDB(t)
	farmer, buyer, shipper, shipment := setupShipment(t, database)

	if shipment.Status != model.ShipmentStatusCreated {
		t.Errorf("expected status CREATED, got %s", shipment.Status)
	}
	if shipment.SenderID != farmer.ActorID {
		t.Errorf("expected sender %d, got %d", farmer.ActorID, shipment.SenderID)
	}
	if shipment.ReceiverID != buyer.ActorID {
		t.Errorf("expected receiver %d, got %d", buyer.ActorID, shipment.ReceiverID)
	}
	if shipment.ShipperID != shipper.ActorID {
		t.Errorf("expected shipper %d, got %d", shipper.ActorID, shipment.ShipperID)
	}

	history, err := ShipmentHistory(context.Background(), database, shipment.ID)
	if err != nil {
		t.Fatalf("ShipmentHistory: %v", err)
	}
	if len(history) != 1 || history[0].Status != model.ShipmentStatusCreated {
		t.Errorf("expected a single CREATED history row, got %v", history)
	}
}

func TestCreateShipmentDefaultShipper(t *testing.T) {
	database := db.NewTestDB(t)
	admin := newActor(t, database, "root", model.RoleAdmin)
	farmer := newActor(t, database, "alice", model.RoleFarmer)
	buyer := newActor(t, database, "paul", model.RoleProcessor)

	_, offer := soldBatch(t, database, admin, farmer, buyer, 100, 500)

	// No shipper named: the sender carries the delivery themselves.
	shipment, err := CreateShipment(context.Background(), database, farmer, CreateShipmentParams{
		OfferID:      offer.ID,
		TrackingID:   "TRK-1",
		FromLocation: "North Field",
		ToLocation:   "Mill",
	})
	if err != nil {
		t.Fatalf("creating shipment: %v", err)
	}
	if shipment.ShipperID != farmer.ActorID {
		t.Errorf("expected sender %d as shipper, got %d", farmer.ActorID, shipment.ShipperID)
	}
}

func TestCreateShipmentRequiresAcceptedOffer(t *testing.T) {
	database := db.NewTestDB(t)
	farmer := newActor(t, database, "alice", model.RoleFarmer)
	buyer := newActor(t, database, "paul", model.RoleProcessor)

	batch := newListedBatch(t, database, farmer, 100, 500)
	offer := openOffer(t, database, buyer, batch.ID, 500, 100)

	_, err := CreateShipment(context.Background(), database, farmer, CreateShipmentParams{
		OfferID:      offer.ID,
		TrackingID:   "TRK-1",
		FromLocation: "North Field",
		ToLocation:   "Mill",
	})
	if !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestCreateShipmentOnlySellingParty(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	admin := newActor(t, database, "root", model.RoleAdmin)
	farmer := newActor(t, database, "alice", model.RoleFarmer)
	buyer := newActor(t, database, "paul", model.RoleProcessor)

	_, offer := soldBatch(t, database, admin, farmer, buyer, 100, 500)

	_, err := CreateShipment(ctx, database, buyer, CreateShipmentParams{
		OfferID:      offer.ID,
		TrackingID:   "TRK-1",
		FromLocation: "North Field",
		ToLocation:   "Mill",
	})
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCreateShipmentDuplicateTracking(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	admin := newActor(t, database, "root", model.RoleAdmin)
	farmer := newActor(t, database, "alice", model.RoleFarmer)
	buyer := newActor(t, database, "paul", model.RoleProcessor)

	_, first := soldBatch(t, database, admin, farmer, buyer, 100, 500)
	if _, err := CreateShipment(ctx, database, farmer, CreateShipmentParams{
		OfferID: first.ID, TrackingID: "TRK-1", FromLocation: "A", ToLocation: "B",
	}); err != nil {
		t.Fatalf("CreateShipment: %v", err)
	}

	_, second := soldBatch(t, database, admin, farmer, buyer, 50, 400)
	_, err := CreateShipment(ctx, database, farmer, CreateShipmentParams{
		OfferID: second.ID, TrackingID: "TRK-1", FromLocation: "A", ToLocation: "B",
	})
	if !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for duplicate tracking, got %v", err)
	}
}

func TestOneActiveShipmentPerBatch(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	admin := newActor(t, database, "root", model.RoleAdmin)
	farmer := newActor(t, database, "alice", model.RoleFarmer)
	buyer := newActor(t, database, "paul", model.RoleProcessor)

	_, offer := soldBatch(t, database, admin, farmer, buyer, 100, 500)
	if _, err := CreateShipment(ctx, database, farmer, CreateShipmentParams{
		OfferID: offer.ID, TrackingID: "TRK-1", FromLocation: "A", ToLocation: "B",
	}); err != nil {
		t.Fatalf("CreateShipment: %v", err)
	}

	_, err := CreateShipment(ctx, database, farmer, CreateShipmentParams{
		OfferID: offer.ID, TrackingID: "TRK-2", FromLocation: "A", ToLocation: "B",
	})
	if !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for second active shipment, got %v", err)
	}
}

func TestShipmentLifecycle(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	_, buyer, shipper, shipment := setupShipment(t, database)

	shipment, err := PickupShipment(ctx, database, shipper, shipment.ID, "North Field", "")
	if err != nil {
		t.Fatalf("PickupShipment: %v", err)
	}
	if shipment.Status != model.ShipmentStatusPickedUp {
		t.Errorf("expected PICKED_UP, got %s", shipment.Status)
	}
	if shipment.PickedUpAt == nil {
		t.Error("expected picked_up_at to be set")
	}

	batch, _ := GetBatch(ctx, database, shipment.BatchID)
	if batch.Status != model.BatchStatusShipped {
		t.Errorf("expected batch SHIPPED, got %s", batch.Status)
	}

	shipment, err = UpdateLocation(ctx, database, shipper, shipment.ID, "Highway 7", "")
	if err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}
	if shipment.Status != model.ShipmentStatusInTransit {
		t.Errorf("expected IN_TRANSIT, got %s", shipment.Status)
	}

	// Later updates are checkpoints only.
	shipment, err = UpdateLocation(ctx, database, shipper, shipment.ID, "Depot", "overnight stop")
	if err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}
	if shipment.Status != model.ShipmentStatusInTransit {
		t.Errorf("expected IN_TRANSIT after checkpoint, got %s", shipment.Status)
	}

	shipment, err = MarkDelivered(ctx, database, shipper, shipment.ID, "Mill", "")
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if shipment.Status != model.ShipmentStatusDelivered || shipment.DeliveredAt == nil {
		t.Errorf("expected DELIVERED with timestamp, got %s", shipment.Status)
	}

	shipment, err = ConfirmDelivery(ctx, database, buyer, shipment.ID, "all good")
	if err != nil {
		t.Fatalf("ConfirmDelivery: %v", err)
	}
	if shipment.Status != model.ShipmentStatusConfirmed || shipment.ConfirmedAt == nil {
		t.Errorf("expected CONFIRMED with timestamp, got %s", shipment.Status)
	}

	batch, _ = GetBatch(ctx, database, shipment.BatchID)
	if batch.Status != model.BatchStatusReceived {
		t.Errorf("expected batch RECEIVED, got %s", batch.Status)
	}

	history, err := ShipmentHistory(ctx, database, shipment.ID)
	if err != nil {
		t.Fatalf("ShipmentHistory: %v", err)
	}
	want := []string{
		model.ShipmentStatusCreated,
		model.ShipmentStatusPickedUp,
		model.ShipmentStatusInTransit,
		model.ShipmentStatusInTransit,
		model.ShipmentStatusDelivered,
		model.ShipmentStatusConfirmed,
	}
	if len(history) != len(want) {
		t.Fatalf("expected %d history rows, got %d", len(want), len(history))
	}
	for i, e := range history {
		if e.Status != want[i] {
			t.Errorf("history[%d]: expected %s, got %s", i, want[i], e.Status)
		}
	}
}

func TestShipmentPermissions(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	farmer, buyer, shipper, shipment := setupShipment(t, database)

	// Only the shipper picks up.
	if _, err := PickupShipment(ctx, database, buyer, shipment.ID, "", ""); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for pickup by receiver, got %v", err)
	}
	// Only the shipper updates location.
	if _, err := UpdateLocation(ctx, database, farmer, shipment.ID, "x", ""); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for location update by sender, got %v", err)
	}

	if _, err := PickupShipment(ctx, database, shipper, shipment.ID, "", ""); err != nil {
		t.Fatalf("PickupShipment: %v", err)
	}
	if _, err := UpdateLocation(ctx, database, shipper, shipment.ID, "road", ""); err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}
	if _, err := MarkDelivered(ctx, database, shipper, shipment.ID, "Mill", ""); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}

	// Only the receiver confirms.
	if _, err := ConfirmDelivery(ctx, database, shipper, shipment.ID, ""); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for confirmation by shipper, got %v", err)
	}
	if _, err := ConfirmDelivery(ctx, database, buyer, shipment.ID, ""); err != nil {
		t.Fatalf("ConfirmDelivery: %v", err)
	}
}

func TestShipmentInvalidTransitions(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	_, buyer, shipper, shipment := setupShipment(t, database)

	// Delivery before pickup.
	if _, err := MarkDelivered(ctx, database, shipper, shipment.ID, "Mill", ""); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	// Location updates only apply underway.
	if _, err := UpdateLocation(ctx, database, shipper, shipment.ID, "x", ""); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}

	if _, err := PickupShipment(ctx, database, shipper, shipment.ID, "", ""); err != nil {
		t.Fatalf("PickupShipment: %v", err)
	}

	// Confirmation before delivery.
	if _, err := ConfirmDelivery(ctx, database, buyer, shipment.ID, ""); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	// Stages are never skipped: PICKED_UP cannot jump to DELIVERED.
	if _, err := MarkDelivered(ctx, database, shipper, shipment.ID, "Mill", ""); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancelShipment(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	farmer, buyer, shipper, shipment := setupShipment(t, database)

	// A reason is required.
	if _, err := CancelShipment(ctx, database, farmer, shipment.ID, ""); !errors.Is(err, model.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	// The receiver may not cancel.
	if _, err := CancelShipment(ctx, database, buyer, shipment.ID, "changed my mind"); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	shipment, err := CancelShipment(ctx, database, farmer, shipment.ID, "weather hold")
	if err != nil {
		t.Fatalf("CancelShipment: %v", err)
	}
	if shipment.Status != model.ShipmentStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", shipment.Status)
	}
	if shipment.CancelReason != "weather hold" {
		t.Errorf("expected cancel reason recorded, got %q", shipment.CancelReason)
	}

	// Terminal.
	if _, err := PickupShipment(ctx, database, shipper, shipment.ID, "", ""); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition after cancel, got %v", err)
	}
}

func TestMarkUndeliverable(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	_, buyer, shipper, shipment := setupShipment(t, database)

	if _, err := PickupShipment(ctx, database, shipper, shipment.ID, "", ""); err != nil {
		t.Fatalf("PickupShipment: %v", err)
	}

	if _, err := MarkUndeliverable(ctx, database, shipper, shipment.ID, ""); !errors.Is(err, model.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument without reason, got %v", err)
	}

	shipment, err := MarkUndeliverable(ctx, database, shipper, shipment.ID, "address unknown")
	if err != nil {
		t.Fatalf("MarkUndeliverable: %v", err)
	}
	if shipment.Status != model.ShipmentStatusUnableToDeliver {
		t.Errorf("expected UNABLE_TO_DELIVER, got %s", shipment.Status)
	}

	// Terminal.
	if _, err := ConfirmDelivery(ctx, database, buyer, shipment.ID, ""); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestGetShipmentByTracking(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	_, _, _, shipment := setupShipment(t, database)

	found, err := GetShipmentByTracking(ctx, database, "TRK-1")
	if err != nil {
		t.Fatalf("GetShipmentByTracking: %v", err)
	}
	if found == nil || found.ID != shipment.ID {
		t.Errorf("expected shipment %d, got %v", shipment.ID, found)
	}

	missing, err := GetShipmentByTracking(ctx, database, "TRK-404")
	if err != nil {
		t.Fatalf("GetShipmentByTracking: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown tracking number")
	}
}

func TestListShipmentsByParticipant(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	_, buyer, shipper, _ := setupShipment(t, database)
	outsider := newActor(t, database, "eve", model.RoleConsumer)

	for _, id := range []int64{buyer.ActorID, shipper.ActorID} {
		shipments, err := ListShipments(ctx, database, ShipmentFilter{ParticipantID: id})
		if err != nil {
			t.Fatalf("ListShipments: %v", err)
		}
		if len(shipments) != 1 {
			t.Errorf("expected 1 shipment for participant %d, got %d", id, len(shipments))
		}
	}

	shipments, _ := ListShipments(ctx, database, ShipmentFilter{ParticipantID: outsider.ActorID})
	if len(shipments) != 0 {
		t.Errorf("expected no shipments for outsider, got %d", len(shipments))
	}
}

func TestGetShipmentStats(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	empty, err := GetShipmentStats(ctx, database)
	if err != nil {
		t.Fatalf("GetShipmentStats: %v", err)
	}
	if empty.Total != 0 || empty.DeliveryRate != 0 || empty.ConfirmationRate != 0 {
		t.Errorf("expected zero stats, got %+v", empty)
	}

	farmer, buyer, shipper, first := setupShipment(t, database)
	if _, err := PickupShipment(ctx, database, shipper, first.ID, "", ""); err != nil {
		t.Fatalf("PickupShipment: %v", err)
	}
	if _, err := UpdateLocation(ctx, database, shipper, first.ID, "road", ""); err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}
	if _, err := MarkDelivered(ctx, database, shipper, first.ID, "Mill", ""); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if _, err := ConfirmDelivery(ctx, database, buyer, first.ID, ""); err != nil {
		t.Fatalf("ConfirmDelivery: %v", err)
	}

	admin := newActor(t, database, "root2", model.RoleAdmin)
	_, offer := soldBatch(t, database, admin, farmer, buyer, 50, 400)
	second, err := CreateShipment(ctx, database, farmer, CreateShipmentParams{
		OfferID: offer.ID, ShipperID: shipper.ActorID,
		TrackingID: "TRK-2", FromLocation: "A", ToLocation: "B",
	})
	if err != nil {
		t.Fatalf("CreateShipment: %v", err)
	}
	if _, err := CancelShipment(ctx, database, farmer, second.ID, "order withdrawn"); err != nil {
		t.Fatalf("CancelShipment: %v", err)
	}

	stats, err := GetShipmentStats(ctx, database)
	if err != nil {
		t.Fatalf("GetShipmentStats: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected 2 shipments, got %d", stats.Total)
	}
	if stats.DeliveryRate != 0.5 {
		t.Errorf("expected delivery rate 0.5, got %f", stats.DeliveryRate)
	}
	if stats.ConfirmationRate != 0.5 {
		t.Errorf("expected confirmation rate 0.5, got %f", stats.ConfirmationRate)
	}
}
