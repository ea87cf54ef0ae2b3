package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/agritrace/agritrace/internal/gate"
	"github.com/agritrace/agritrace/internal/model"
)

const purchaseColumns = `p.id, p.receipt, p.batch_id, p.consumer_id, p.retailer_id,
	p.quantity, p.purchase_price, p.pickup_location, p.picked_up, p.claimed, p.purchased_at`

func scanPurchase(row interface{ Scan(...any) error }, extra ...any) (*model.ConsumerPurchase, error) {
	p := &model.ConsumerPurchase{}
	var pickup sql.NullString
	dest := []any{&p.ID, &p.Receipt, &p.BatchID, &p.ConsumerID, &p.RetailerID,
		&p.Quantity, &p.PurchasePrice, &pickup, &p.PickedUp, &p.OwnershipClaimed, &p.PurchasedAt}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	p.PickupLocation = pickup.String
	return p, nil
}

// Purchase buys a quantity of a retail batch for later pickup. The
// payment covers a proportional share of the batch's base price; any
// excess is refunded in the same transaction. Overpayment is accepted,
// underpayment rejected.
func Purchase(ctx context.Context, db *sql.DB, gctx gate.Context, batchID, quantity, payment int64, pickupLocation string) (*model.ConsumerPurchase, error) {
	return purchase(ctx, db, gctx, batchID, quantity, payment, pickupLocation, false)
}

// PurchaseImmediate buys and takes possession in one step: the purchase
// is recorded as picked up and claimed, and batch ownership moves to the
// consumer immediately.
func PurchaseImmediate(ctx context.Context, db *sql.DB, gctx gate.Context, batchID, quantity, payment int64) (*model.ConsumerPurchase, error) {
	return purchase(ctx, db, gctx, batchID, quantity, payment, "", true)
}

func purchase(ctx context.Context, db *sql.DB, gctx gate.Context, batchID, quantity, payment int64, pickupLocation string, immediate bool) (*model.ConsumerPurchase, error) {
	if !gctx.Active {
		return nil, fmt.Errorf("%w: inactive stakeholder", model.ErrUnauthorized)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", model.ErrInvalidArgument)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	batch, err := getBatchTx(ctx, tx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, fmt.Errorf("%w: batch %d", model.ErrNotFound, batchID)
	}
	if !batch.ForSale {
		return nil, fmt.Errorf("%w: batch %d", model.ErrNotForSale, batchID)
	}
	if quantity > batch.Quantity {
		return nil, fmt.Errorf("%w: requested %d of %d available",
			model.ErrQuantityExceeded, quantity, batch.Quantity)
	}

	retailerID := batch.OwnerID
	var retailerRole string
	err = tx.QueryRowContext(ctx,
		`SELECT role FROM stakeholders WHERE id = ? AND active = 1 AND deleted_at IS NULL`,
		retailerID,
	).Scan(&retailerRole)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: batch %d has no active owner", model.ErrInvalidState, batchID)
	}
	if err != nil {
		return nil, fmt.Errorf("checking retailer: %w", err)
	}
	if retailerRole != model.RoleRetailer {
		return nil, fmt.Errorf("%w: batch %d is not held by a retailer", model.ErrNotForSale, batchID)
	}
	if retailerID == gctx.ActorID {
		return nil, fmt.Errorf("%w: cannot purchase an owned batch", model.ErrInvalidArgument)
	}

	// Proportional share of the base price, in minor units.
	totalPrice := batch.BasePrice * quantity / batch.Quantity
	if payment < totalPrice {
		return nil, fmt.Errorf("%w: payment %d below price %d", model.ErrInsufficientPayment, payment, totalPrice)
	}

	remaining := batch.Quantity - quantity
	if remaining == 0 {
		// Sold out: delist. SOLD is set directly rather than through the
		// transition table, since retail batches sell from any resale
		// status.
		_, err = tx.ExecContext(ctx,
			`UPDATE batches SET quantity = 0, for_sale = 0, status = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`,
			model.BatchStatusSold, batchID,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE batches SET quantity = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			remaining, batchID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("updating batch after purchase: %w", err)
	}

	if immediate {
		_, err = tx.ExecContext(ctx,
			`UPDATE batches SET owner_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			gctx.ActorID, batchID,
		)
		if err != nil {
			return nil, fmt.Errorf("transferring batch to consumer: %w", err)
		}
	}

	receipt := uuid.NewString()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO purchases (receipt, batch_id, consumer_id, retailer_id, quantity,
		                        purchase_price, pickup_location, picked_up, claimed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		receipt, batchID, gctx.ActorID, retailerID, quantity,
		totalPrice, nullString(pickupLocation), immediate, immediate,
	)
	if err != nil {
		return nil, fmt.Errorf("recording purchase: %w", err)
	}
	purchaseID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting purchase id: %w", err)
	}

	if err := appendEventTx(ctx, tx, model.EventPurchaseCreated, model.EntityPurchase, purchaseID, gctx.ActorID, map[string]any{
		"batch_id": batchID,
		"quantity": quantity,
		"price":    totalPrice,
		"receipt":  receipt,
	}); err != nil {
		return nil, err
	}
	if immediate {
		if err := appendEventTx(ctx, tx, model.EventOwnershipClaimed, model.EntityPurchase, purchaseID, gctx.ActorID, map[string]any{
			"batch_id": batchID,
		}); err != nil {
			return nil, err
		}
	}

	// Funds move last: take the full payment, pay the retailer, refund
	// any excess.
	if err := debitTx(ctx, tx, gctx.ActorID, payment); err != nil {
		return nil, err
	}
	if err := creditTx(ctx, tx, retailerID, totalPrice); err != nil {
		return nil, err
	}
	if err := recordLedgerTx(ctx, tx, &gctx.ActorID, &retailerID, totalPrice, ledgerPurchase, &batchID); err != nil {
		return nil, err
	}
	if excess := payment - totalPrice; excess > 0 {
		if err := creditTx(ctx, tx, gctx.ActorID, excess); err != nil {
			return nil, err
		}
		if err := recordLedgerTx(ctx, tx, nil, &gctx.ActorID, excess, ledgerRefund, &batchID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing purchase: %w", err)
	}

	return GetPurchase(ctx, db, purchaseID)
}

// ConfirmPickup records that the consumer has collected their goods.
func ConfirmPickup(ctx context.Context, db *sql.DB, gctx gate.Context, purchaseID int64) (*model.ConsumerPurchase, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := getPurchaseTx(ctx, tx, purchaseID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: purchase %d", model.ErrNotFound, purchaseID)
	}
	if p.ConsumerID != gctx.ActorID && p.RetailerID != gctx.ActorID {
		return nil, fmt.Errorf("%w: purchase %d does not involve stakeholder %d",
			model.ErrUnauthorized, purchaseID, gctx.ActorID)
	}
	if p.PickedUp {
		return nil, fmt.Errorf("%w: purchase %d already picked up", model.ErrInvalidState, purchaseID)
	}

	_, err = tx.ExecContext(ctx, `UPDATE purchases SET picked_up = 1 WHERE id = ?`, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("confirming pickup: %w", err)
	}

	if err := appendEventTx(ctx, tx, model.EventProductPickedUp, model.EntityPurchase, purchaseID, gctx.ActorID, map[string]any{
		"batch_id": p.BatchID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing pickup: %w", err)
	}

	return GetPurchase(ctx, db, purchaseID)
}

// ClaimOwnership records the picked-up goods as the consumer's property
// and moves batch ownership to them. Requires a prior pickup.
func ClaimOwnership(ctx context.Context, db *sql.DB, gctx gate.Context, purchaseID int64) (*model.ConsumerPurchase, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := getPurchaseTx(ctx, tx, purchaseID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: purchase %d", model.ErrNotFound, purchaseID)
	}
	if p.ConsumerID != gctx.ActorID {
		return nil, fmt.Errorf("%w: only the purchasing consumer may claim ownership", model.ErrUnauthorized)
	}
	if !p.PickedUp {
		return nil, fmt.Errorf("%w: purchase %d has not been picked up", model.ErrInvalidState, purchaseID)
	}
	if p.OwnershipClaimed {
		return nil, fmt.Errorf("%w: purchase %d already claimed", model.ErrInvalidState, purchaseID)
	}

	_, err = tx.ExecContext(ctx, `UPDATE purchases SET claimed = 1 WHERE id = ?`, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("claiming ownership: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE batches SET owner_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		gctx.ActorID, p.BatchID,
	)
	if err != nil {
		return nil, fmt.Errorf("transferring batch to consumer: %w", err)
	}

	if err := appendEventTx(ctx, tx, model.EventOwnershipClaimed, model.EntityPurchase, purchaseID, gctx.ActorID, map[string]any{
		"batch_id": p.BatchID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	return GetPurchase(ctx, db, purchaseID)
}

func getPurchaseTx(ctx context.Context, q dbtx, id int64) (*model.ConsumerPurchase, error) {
	row := q.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases p WHERE p.id = ?`, id)
	p, err := scanPurchase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting purchase: %w", err)
	}
	return p, nil
}

// GetPurchase returns a purchase by id with joined names, or nil when no
// such purchase exists.
func GetPurchase(ctx context.Context, db *sql.DB, id int64) (*model.ConsumerPurchase, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+`, b.name, c.username, r.username
		 FROM purchases p
		 JOIN batches b ON b.id = p.batch_id
		 JOIN stakeholders c ON c.id = p.consumer_id
		 JOIN stakeholders r ON r.id = p.retailer_id
		 WHERE p.id = ?`, id)

	var batchName, consumerName, retailerName string
	p, err := scanPurchase(row, &batchName, &consumerName, &retailerName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting purchase: %w", err)
	}
	p.BatchName = batchName
	p.ConsumerName = consumerName
	p.RetailerName = retailerName
	return p, nil
}

// GetPurchaseByReceipt looks a purchase up by its receipt code.
func GetPurchaseByReceipt(ctx context.Context, db *sql.DB, receipt string) (*model.ConsumerPurchase, error) {
	var id int64
	err := db.QueryRowContext(ctx, `SELECT id FROM purchases WHERE receipt = ?`, receipt).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up receipt: %w", err)
	}
	return GetPurchase(ctx, db, id)
}

// PurchaseFilter narrows ListPurchases. Zero values match everything.
type PurchaseFilter struct {
	BatchID    int64
	ConsumerID int64
	RetailerID int64
}

// ListPurchases returns purchases matching the filter, newest first.
func ListPurchases(ctx context.Context, db *sql.DB, f PurchaseFilter) ([]model.ConsumerPurchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases p WHERE 1=1`
	var args []any
	if f.BatchID > 0 {
		query += ` AND p.batch_id = ?`
		args = append(args, f.BatchID)
	}
	if f.ConsumerID > 0 {
		query += ` AND p.consumer_id = ?`
		args = append(args, f.ConsumerID)
	}
	if f.RetailerID > 0 {
		query += ` AND p.retailer_id = ?`
		args = append(args, f.RetailerID)
	}
	query += ` ORDER BY p.id DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing purchases: %w", err)
	}
	defer rows.Close()

	var purchases []model.ConsumerPurchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning purchase: %w", err)
		}
		purchases = append(purchases, *p)
	}
	return purchases, rows.Err()
}
