package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/agritrace/agritrace/internal/gate"
	"github.com/agritrace/agritrace/internal/model"
	"github.com/agritrace/agritrace/internal/oracle"
)

// passThroughFeed returns the neutral quote and default weather.
func passThroughFeed() oracle.Feed {
	return &oracle.StaticFeed{
		Quote:   oracle.DefaultQuote,
		Weather: oracle.DefaultWeather,
	}
}

// newActor creates an active, verified stakeholder with the given role
// and returns its authorization context.
func newActor(t *testing.T, db *sql.DB, username, role string) gate.Context {
	t.Helper()
	ctx := context.Background()

	s, err := CreateStakeholder(ctx, db, username, "x", role, "")
	if err != nil {
		t.Fatalf("creating stakeholder %s: %v", username, err)
	}
	if err := SetStakeholderVerified(ctx, db, s.ID, true); err != nil {
		t.Fatalf("verifying stakeholder %s: %v", username, err)
	}

	return gate.Context{
		ActorID:  s.ID,
		Username: username,
		Role:     role,
		Active:   true,
		Verified: true,
	}
}

// fund credits a stakeholder through the admin deposit path.
func fund(t *testing.T, db *sql.DB, admin gate.Context, id, amount int64) {
	t.Helper()
	if err := DepositFunds(context.Background(), db, admin, id, amount); err != nil {
		t.Fatalf("depositing %d to stakeholder %d: %v", amount, id, err)
	}
}

// balance reads a stakeholder's current balance directly.
func balance(t *testing.T, db *sql.DB, id int64) int64 {
	t.Helper()
	var b int64
	err := db.QueryRow(`SELECT balance FROM stakeholders WHERE id = ?`, id).Scan(&b)
	if err != nil {
		t.Fatalf("reading balance of stakeholder %d: %v", id, err)
	}
	return b
}

// newListedBatch creates a batch for the farmer and lists it for sale.
func newListedBatch(t *testing.T, db *sql.DB, farmer gate.Context, quantity, price int64) *model.Batch {
	t.Helper()
	ctx := context.Background()

	batch, err := CreateBatch(ctx, db, farmer, passThroughFeed(), CreateBatchParams{
		Name:           "Wheat",
		Quantity:       quantity,
		BasePrice:      price,
		OriginLocation: "North Field",
	})
	if err != nil {
		t.Fatalf("creating batch: %v", err)
	}

	batch, err = ListBatchForSale(ctx, db, farmer, passThroughFeed(), batch.ID, price, "")
	if err != nil {
		t.Fatalf("listing batch: %v", err)
	}
	return batch
}

func futureExpiry() time.Time {
	return time.Now().Add(24 * time.Hour)
}

// openOffer creates a BUY offer on the batch from the buyer, expiring
// well in the future.
func openOffer(t *testing.T, db *sql.DB, buyer gate.Context, batchID, pricePerUnit, quantity int64) *model.Offer {
	t.Helper()
	offer, err := CreateOffer(context.Background(), db, buyer, CreateOfferParams{
		BatchID:      batchID,
		Type:         model.OfferTypeBuy,
		PricePerUnit: pricePerUnit,
		Quantity:     quantity,
		ExpiresAt:    futureExpiry(),
	})
	if err != nil {
		t.Fatalf("creating offer: %v", err)
	}
	return offer
}

// soldBatch runs the full sale path: farmer lists, buyer bids, farmer
// accepts. Returns the batch (now owned by the buyer) and the accepted
// offer.
func soldBatch(t *testing.T, db *sql.DB, admin, farmer, buyer gate.Context, quantity, price int64) (*model.Batch, *model.Offer) {
	t.Helper()
	ctx := context.Background()

	batch := newListedBatch(t, db, farmer, quantity, price)
	fund(t, db, admin, buyer.ActorID, price*quantity)

	offer := openOffer(t, db, buyer, batch.ID, price, quantity)
	offer, err := AcceptOffer(ctx, db, farmer, offer.ID)
	if err != nil {
		t.Fatalf("accepting offer: %v", err)
	}

	batch, err = GetBatch(ctx, db, batch.ID)
	if err != nil {
		t.Fatalf("reloading batch: %v", err)
	}
	return batch, offer
}
