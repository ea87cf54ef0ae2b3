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

// retailBatch moves a batch through a sale to the retailer and relists
// it for consumers.
func retailBatch(t *testing.T, database *sql.DB, admin, farmer, retailer gate.Context, quantity, price int64) *model.Batch {
	t.Helper()
	batch, _ := soldBatch(t, database, admin, farmer, retailer, quantity, price)

	batch, err := ListBatchForSale(context.Background(), database, retailer, passThroughFeed(), batch.ID, price, "")
	if err != nil {
		t.Fatalf("relisting batch: %v", err)
	}
	return batch
}

func TestPurchase(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	admin := newActor(t, database, "root", model.RoleAdmin)
	farmer := newActor(t, database, "alice", model.RoleFarmer)
	retailer := newActor(t, database, "rita", model.RoleRetailer)
	consumer := newActor(t, database, "carol", model.RoleConsumer)

	batch := retailBatch(t, database, admin, farmer, retailer, 100, 10000)
	fund(t, database, admin, consumer.ActorID, 5000)
	retailerBefore := balance(t, database, retailer.ActorID)

	// 10 of 100 units at a 10000 base price costs 1000; pay 1500 and
	// get 500 back.
	p, err := Purchase(ctx, database, consumer, batch.ID, 10, 1500, "Market St 5")
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	if p.PurchasePrice != 1000 {
		t.Errorf("expected price 1000, got %d", p.PurchasePrice)
	}
	if p.Receipt == "" {
		t.Error("expected a receipt code")
	}
	if p.PickedUp || p.OwnershipClaimed {
		t.Error("expected a deferred purchase to start unpicked and unclaimed")
	}
	if p.PickupLocation != "Market St 5" {
		t.Errorf("expected pickup location recorded, got %q", p.PickupLocation)
	}

	if got := balance(t, database, consumer.ActorID); got != 4000 {
		t.Errorf("expected consumer balance 4000 after refund, got %d", got)
	}
	if got := balance(t, database, retailer.ActorID); got != retailerBefore+1000 {
		t.Errorf("expected retailer credited 1000, got %d", got-retailerBefore)
	}

	batch, _ = GetBatch(ctx, database, batch.ID)
	if batch.Quantity != 90 {
		t.Errorf("expected 90 units remaining, got %d", batch.Quantity)
	}
	if !batch.ForSale {
		t.Error("expected partially sold batch to stay listed")
	}
	if batch.OwnerID != retailer.ActorID {
		t.Error("expected deferred purchase to leave the retailer as owner")
	}
}

func TestPurchaseUnderpayment(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	admin := newActor(t, database, "root", model.RoleAdmin)
	farmer := newActor(t, database, "alice", model.RoleFarmer)
	retailer := newActor(t, database, "rita", model.RoleRetailer)
	consumer := newActor(t, database, "carol", model.RoleConsumer)

	batch := retailBatch(t, database, admin, farmer, retailer, 100, 10000)
	fund(t, database, admin, consumer.ActorID, 5000)

	_, err := Purchase(ctx, database, consumer, batch.ID, 10, 999, "")
	if !errors.Is(err, model.ErrInsufficientPayment) {
		t.Errorf("expected ErrInsufficientPayment, got %v", err)
	}

	// An unfunded consumer fails at settlement even with a nominally
	// sufficient payment.
	broke := newActor(t, database, "bob", model.RoleConsumer)
	_, err = Purchase(ctx, database, broke, batch.ID, 10, 1000, "")
	if !errors.Is(err, model.ErrInsufficientPayment) {
		t.Errorf("expected ErrInsufficientPayment for unfunded consumer, got %v", err)
	}

	batch, _ = GetBatch(ctx, database, batch.ID)
	if batch.Quantity != 100 {
		t.Errorf("expected quantity unchanged after failed purchases, got %d", batch.Quantity)
	}
}

func TestPurchaseRequiresRetailer(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	admin := newActor(t, database, "root", model.RoleAdmin)
	farmer := newActor(t, database, "alice", model.RoleFarmer)
	consumer := newActor(t, database, "carol", model.RoleConsumer)

	// Farmer-held batch, listed but not retail.
	batch := newListedBatch(t, database, farmer, 100, 10000)
	fund(t, database, admin, consumer.ActorID, 5000)

	_, err := Purchase(ctx, database, consumer, batch.ID, 10, 2000, "")
	if !errors.Is(err, model.ErrNotForSale) {
		t.Errorf("expected ErrNotForSale, got %v", err)
	}
}

func TestPurchaseQuantityExceeded(t *testing.T) {
	database := db.NewTestDB(t)
	admin := newActor(t, database, "root", model.RoleAdmin)
	farmer := newActor(t, database, "alice", model.RoleFarmer)
	retailer := newActor(t, database, "rita", model.RoleRetailer)
	consumer := newActor(t, database, "carol", model.RoleConsumer)

	batch := retailBatch(t, database, admin, farmer, retailer, 100, 10000)
	fund(t, database, admin, consumer.ActorID, 20000)

	_, err := Purchase(context.Background(), database, consumer, batch.ID, 101, 20000, "")
	if !errors.Is(err, model.ErrQuantityExceeded) {
		t.Errorf("expected ErrQuantityExceeded, got %v", err)
	}
}

func TestPurchaseSellsOut(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	admin := newActor(t, database, "root", model.RoleAdmin)
	farmer := newActor(t, database, "alice", model.RoleFarmer)
	retailer := newActor(t, database, "rita", model.RoleRetailer)
	consumer := newActor(t, database, "carol", model.RoleConsumer)

	batch := retailBatch(t, database, admin, farmer, retailer, 10, 1000)
	fund(t, database, admin, consumer.ActorID, 1000)

	if _, err := Purchase(ctx, database, consumer, batch.ID, 10, 1000, ""); err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	batch, _ = GetBatch(ctx, database, batch.ID)
	if batch.Quantity != 0 {
		t.Errorf("expected 0 units remaining, got %d", batch.Quantity)
	}
	if batch.ForSale {
		t.Error("expected sold-out batch to be delisted")
	}
	if batch.Status != model.BatchStatusSold {
		t.Errorf("expected status SOLD, got %s", batch.Status)
	}
}

func TestPurchaseImmediate(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	admin := newActor(t, database, "root", model.RoleAdmin)
	farmer := newActor(t, database, "alice", model.RoleFarmer)
	retailer := newActor(t, database, "rita", model.RoleRetailer)
	consumer := newActor(t, database, "carol", model.RoleConsumer)

	batch := retailBatch(t, database, admin, farmer, retailer, 100, 10000)
	fund(t, database, admin, consumer.ActorID, 2000)

	p, err := PurchaseImmediate(ctx, database, consumer, batch.ID, 10, 1000)
	if err != nil {
		t.Fatalf("PurchaseImmediate: %v", err)
	}
	if !p.PickedUp || !p.OwnershipClaimed {
		t.Error("expected an immediate purchase to be picked up and claimed")
	}

	batch, _ = GetBatch(ctx, database, batch.ID)
	if batch.OwnerID != consumer.ActorID {
		t.Errorf("expected owner %d, got %d", consumer.ActorID, batch.OwnerID)
	}
}

func TestConfirmPickupAndClaim(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	admin := newActor(t, database, "root", model.RoleAdmin)
	farmer := newActor(t, database, "alice", model.RoleFarmer)
	retailer := newActor(t, database, "rita", model.RoleRetailer)
	consumer := newActor(t, database, "carol", model.RoleConsumer)
	stranger := newActor(t, database, "eve", model.RoleConsumer)

	batch := retailBatch(t, database, admin, farmer, retailer, 100, 10000)
	fund(t, database, admin, consumer.ActorID, 1000)

	p, err := Purchase(ctx, database, consumer, batch.ID, 10, 1000, "Market St 5")
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	// Claim before pickup is rejected.
	if _, err := ClaimOwnership(ctx, database, consumer, p.ID); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState claiming before pickup, got %v", err)
	}
	// Uninvolved stakeholders cannot confirm.
	if _, err := ConfirmPickup(ctx, database, stranger, p.ID); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	// The retailer may confirm the handover.
	p, err = ConfirmPickup(ctx, database, retailer, p.ID)
	if err != nil {
		t.Fatalf("ConfirmPickup: %v", err)
	}
	if !p.PickedUp {
		t.Error("expected purchase marked picked up")
	}
	if _, err := ConfirmPickup(ctx, database, consumer, p.ID); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState confirming twice, got %v", err)
	}

	// Only the consumer may claim.
	if _, err := ClaimOwnership(ctx, database, retailer, p.ID); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	p, err = ClaimOwnership(ctx, database, consumer, p.ID)
	if err != nil {
		t.Fatalf("ClaimOwnership: %v", err)
	}
	if !p.OwnershipClaimed {
		t.Error("expected purchase marked claimed")
	}

	batch, _ = GetBatch(ctx, database, batch.ID)
	if batch.OwnerID != consumer.ActorID {
		t.Errorf("expected owner %d after claim, got %d", consumer.ActorID, batch.OwnerID)
	}

	if _, err := ClaimOwnership(ctx, database, consumer, p.ID); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState claiming twice, got %v", err)
	}
}

func TestGetPurchaseByReceipt(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	admin := newActor(t, database, "root", model.RoleAdmin)
	farmer := newActor(t, database, "alice", model.RoleFarmer)
	retailer := newActor(t, database, "rita", model.RoleRetailer)
	consumer := newActor(t, database, "carol", model.RoleConsumer)

	batch := retailBatch(t, database, admin, farmer, retailer, 100, 10000)
	fund(t, database, admin, consumer.ActorID, 1000)

	p, err := Purchase(ctx, database, consumer, batch.ID, 10, 1000, "")
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	found, err := GetPurchaseByReceipt(ctx, database, p.Receipt)
	if err != nil {
		t.Fatalf("GetPurchaseByReceipt: %v", err)
	}
	if found == nil || found.ID != p.ID {
		t.Errorf("expected purchase %d, got %v", p.ID, found)
	}

	missing, err := GetPurchaseByReceipt(ctx, database, "no-such-receipt")
	if err != nil {
		t.Fatalf("GetPurchaseByReceipt: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown receipt")
	}
}

func TestListPurchases(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	admin := newActor(t, database, "root", model.RoleAdmin)
	farmer := newActor(t, database, "alice", model.RoleFarmer)
	retailer := newActor(t, database, "rita", model.RoleRetailer)
	carol := newActor(t, database, "carol", model.RoleConsumer)
	dave := newActor(t, database, "dave", model.RoleConsumer)

	batch := retailBatch(t, database, admin, farmer, retailer, 100, 10000)
	fund(t, database, admin, carol.ActorID, 1000)
	fund(t, database, admin, dave.ActorID, 1000)

	if _, err := Purchase(ctx, database, carol, batch.ID, 10, 1000, ""); err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if _, err := Purchase(ctx, database, dave, batch.ID, 5, 1000, ""); err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	mine, err := ListPurchases(ctx, database, PurchaseFilter{ConsumerID: carol.ActorID})
	if err != nil {
		t.Fatalf("ListPurchases: %v", err)
	}
	if len(mine) != 1 {
		t.Errorf("expected 1 purchase for carol, got %d", len(mine))
	}

	sold, _ := ListPurchases(ctx, database, PurchaseFilter{RetailerID: retailer.ActorID})
	if len(sold) != 2 {
		t.Errorf("expected 2 purchases for the retailer, got %d", len(sold))
	}
}
