package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agritrace/agritrace/internal/gate"
	"github.com/agritrace/agritrace/internal/model"
)

const offerColumns = `o.id, o.batch_id, o.creator_id, o.counterparty_id, o.type, o.status,
	o.price_per_unit, o.quantity, o.terms_hash, o.expires_at, o.accepted_by, o.created_at`

func scanOffer(row interface{ Scan(...any) error }) (*model.Offer, error) {
	o := &model.Offer{}
	var counterparty, acceptedBy sql.NullInt64
	var terms sql.NullString
	err := row.Scan(&o.ID, &o.BatchID, &o.CreatorID, &counterparty, &o.Type, &o.Status,
		&o.PricePerUnit, &o.Quantity, &terms, &o.ExpiresAt, &acceptedBy, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.CounterpartyID = counterparty.Int64
	o.TermsHash = terms.String
	if acceptedBy.Valid {
		o.AcceptedBy = &acceptedBy.Int64
	}
	return o, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func getOfferTx(ctx context.Context, q dbtx, id int64) (*model.Offer, error) {
	row := q.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers o WHERE o.id = ?`, id)
	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting offer: %w", err)
	}
	return o, nil
}

// CreateOfferParams carries the fields of a new offer.
type CreateOfferParams struct {
	BatchID        int64
	CounterpartyID int64
	Type           string
	PricePerUnit   int64
	Quantity       int64
	TermsHash      string
	ExpiresAt      time.Time
}

// CreateOffer opens a negotiation on a batch that is currently for sale.
// A BUY offer is a bid by the caller; its counterparty defaults to the
// batch owner. SELL and CONTRACT offers are made by the owner and must
// name the counterparty. Creating the first offer moves a LISTED batch
// to OFFERED.
func CreateOffer(ctx context.Context, db *sql.DB, gctx gate.Context, p CreateOfferParams) (*model.Offer, error) {
	if !gctx.Active {
		return nil, fmt.Errorf("%w: inactive stakeholder", model.ErrUnauthorized)
	}
	if !model.ValidOfferType(p.Type) {
		return nil, fmt.Errorf("%w: unknown offer type %q", model.ErrInvalidArgument, p.Type)
	}
	if p.PricePerUnit <= 0 {
		return nil, fmt.Errorf("%w: price per unit must be positive", model.ErrInvalidArgument)
	}
	if p.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", model.ErrInvalidArgument)
	}
	if !p.ExpiresAt.After(time.Now()) {
		return nil, fmt.Errorf("%w: expiry must be in the future", model.ErrInvalidArgument)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	batch, err := getBatchTx(ctx, tx, p.BatchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, fmt.Errorf("%w: batch %d", model.ErrNotFound, p.BatchID)
	}
	if !batch.ForSale {
		return nil, fmt.Errorf("%w: batch %d", model.ErrNotForSale, p.BatchID)
	}
	if p.Quantity > batch.Quantity {
		return nil, fmt.Errorf("%w: offer quantity %d exceeds batch quantity %d",
			model.ErrQuantityExceeded, p.Quantity, batch.Quantity)
	}

	counterparty := p.CounterpartyID
	var buyerID int64
	switch p.Type {
	case model.OfferTypeBuy:
		if batch.OwnerID == gctx.ActorID {
			return nil, fmt.Errorf("%w: cannot bid on an owned batch", model.ErrInvalidArgument)
		}
		if counterparty == 0 {
			counterparty = batch.OwnerID
		} else if counterparty != batch.OwnerID {
			return nil, fmt.Errorf("%w: a bid's counterparty must be the batch owner", model.ErrInvalidArgument)
		}
		buyerID = gctx.ActorID
	default: // SELL, CONTRACT
		if batch.OwnerID != gctx.ActorID {
			return nil, fmt.Errorf("%w: only the batch owner may create %s offers", model.ErrUnauthorized, p.Type)
		}
		if counterparty == 0 {
			return nil, fmt.Errorf("%w: %s offers must name a counterparty", model.ErrInvalidArgument, p.Type)
		}
		buyerID = counterparty
	}

	allowed, err := buyerAuthorizedTx(ctx, tx, p.BatchID, buyerID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%w: stakeholder %d is not an authorized buyer of batch %d",
			model.ErrUnauthorized, buyerID, p.BatchID)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO offers (batch_id, creator_id, counterparty_id, type, price_per_unit,
		                     quantity, terms_hash, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.BatchID, gctx.ActorID, counterparty, p.Type, p.PricePerUnit,
		p.Quantity, nullString(p.TermsHash), p.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating offer: %w", err)
	}
	offerID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting offer id: %w", err)
	}

	if batch.Status == model.BatchStatusListed {
		_, err = tx.ExecContext(ctx,
			`UPDATE batches SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			model.BatchStatusOffered, p.BatchID,
		)
		if err != nil {
			return nil, fmt.Errorf("marking batch offered: %w", err)
		}
	}

	if err := appendEventTx(ctx, tx, model.EventOfferCreated, model.EntityOffer, offerID, gctx.ActorID, map[string]any{
		"batch_id":       p.BatchID,
		"type":           p.Type,
		"price_per_unit": p.PricePerUnit,
		"quantity":       p.Quantity,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing offer: %w", err)
	}

	return GetOffer(ctx, db, offerID)
}

// GetOffer returns an offer by id, or nil when no such offer exists.
func GetOffer(ctx context.Context, db *sql.DB, id int64) (*model.Offer, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+offerColumns+`, b.name, s.username
		 FROM offers o
		 JOIN batches b ON b.id = o.batch_id
		 JOIN stakeholders s ON s.id = o.creator_id
		 WHERE o.id = ?`, id)

	o := &model.Offer{}
	var counterparty, acceptedBy sql.NullInt64
	var terms sql.NullString
	err := row.Scan(&o.ID, &o.BatchID, &o.CreatorID, &counterparty, &o.Type, &o.Status,
		&o.PricePerUnit, &o.Quantity, &terms, &o.ExpiresAt, &acceptedBy, &o.CreatedAt,
		&o.BatchName, &o.CreatorName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting offer: %w", err)
	}
	o.CounterpartyID = counterparty.Int64
	o.TermsHash = terms.String
	if acceptedBy.Valid {
		o.AcceptedBy = &acceptedBy.Int64
	}
	return o, nil
}

// OfferFilter narrows ListOffers. Zero values match everything.
type OfferFilter struct {
	BatchID   int64
	CreatorID int64
	Status    string
}

// ListOffers returns offers matching the filter, newest first.
func ListOffers(ctx context.Context, db *sql.DB, f OfferFilter) ([]model.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers o WHERE 1=1`
	var args []any
	if f.BatchID > 0 {
		query += ` AND o.batch_id = ?`
		args = append(args, f.BatchID)
	}
	if f.CreatorID > 0 {
		query += ` AND o.creator_id = ?`
		args = append(args, f.CreatorID)
	}
	if f.Status != "" {
		query += ` AND o.status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY o.id DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing offers: %w", err)
	}
	defer rows.Close()

	var offers []model.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning offer: %w", err)
		}
		offers = append(offers, *o)
	}
	return offers, rows.Err()
}

// AvailableOffers returns the open, unexpired offers addressed to the
// caller.
func AvailableOffers(ctx context.Context, db *sql.DB, gctx gate.Context) ([]model.Offer, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+offerColumns+` FROM offers o
		 WHERE o.status = ? AND o.counterparty_id = ? AND o.expires_at > ?
		 ORDER BY o.expires_at ASC`,
		model.OfferStatusOpen, gctx.ActorID, time.Now(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing available offers: %w", err)
	}
	defer rows.Close()

	var offers []model.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning offer: %w", err)
		}
		offers = append(offers, *o)
	}
	return offers, rows.Err()
}

// AcceptOffer settles an open offer. For a BUY offer the accepting
// counterparty is the selling owner and the creator pays; for SELL and
// CONTRACT offers the accepting counterparty pays. Ownership moves to
// the buyer and the batch is marked SOLD before any funds move.
func AcceptOffer(ctx context.Context, db *sql.DB, gctx gate.Context, offerID int64) (*model.Offer, error) {
	if !gctx.Active {
		return nil, fmt.Errorf("%w: inactive stakeholder", model.ErrUnauthorized)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	offer, err := getOfferTx(ctx, tx, offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, fmt.Errorf("%w: offer %d", model.ErrNotFound, offerID)
	}
	if offer.Status != model.OfferStatusOpen {
		return nil, fmt.Errorf("%w: offer %d is %s", model.ErrInvalidState, offerID, offer.Status)
	}
	if offer.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: offer %d", model.ErrOfferExpired, offerID)
	}
	if offer.CounterpartyID != gctx.ActorID {
		return nil, fmt.Errorf("%w: offer %d is not addressed to stakeholder %d",
			model.ErrUnauthorized, offerID, gctx.ActorID)
	}

	batch, err := getBatchTx(ctx, tx, offer.BatchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, fmt.Errorf("%w: batch %d", model.ErrNotFound, offer.BatchID)
	}
	if !model.CanBatchTransition(batch.Status, model.BatchStatusSold) {
		return nil, fmt.Errorf("%w: batch %d cannot be sold from status %s",
			model.ErrInvalidState, offer.BatchID, batch.Status)
	}

	var buyerID, sellerID int64
	switch offer.Type {
	case model.OfferTypeBuy:
		// The accepting counterparty sells to the offer's creator.
		if batch.OwnerID != gctx.ActorID {
			return nil, fmt.Errorf("%w: only the batch owner may accept a bid", model.ErrUnauthorized)
		}
		buyerID, sellerID = offer.CreatorID, gctx.ActorID
	default:
		if batch.OwnerID != offer.CreatorID {
			return nil, fmt.Errorf("%w: batch %d changed hands since offer %d was created",
				model.ErrInvalidState, offer.BatchID, offerID)
		}
		buyerID, sellerID = gctx.ActorID, offer.CreatorID
	}

	allowed, err := buyerAuthorizedTx(ctx, tx, offer.BatchID, buyerID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%w: stakeholder %d is not an authorized buyer of batch %d",
			model.ErrUnauthorized, buyerID, offer.BatchID)
	}

	if err := markBatchSoldTx(ctx, tx, offer.BatchID, buyerID); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE offers SET status = ?, accepted_by = ? WHERE id = ?`,
		model.OfferStatusAccepted, gctx.ActorID, offerID,
	)
	if err != nil {
		return nil, fmt.Errorf("accepting offer: %w", err)
	}

	if err := appendEventTx(ctx, tx, model.EventOfferAccepted, model.EntityOffer, offerID, gctx.ActorID, map[string]any{
		"batch_id": offer.BatchID,
		"buyer_id": buyerID,
		"total":    offer.Total(),
	}); err != nil {
		return nil, err
	}
	if err := appendEventTx(ctx, tx, model.EventBatchSold, model.EntityBatch, offer.BatchID, gctx.ActorID, map[string]any{
		"offer_id": offerID,
		"buyer_id": buyerID,
	}); err != nil {
		return nil, err
	}

	// Funds move last, after all entity state is settled.
	if err := settleTx(ctx, tx, buyerID, sellerID, offer.Total(), ledgerSale, offer.BatchID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing acceptance: %w", err)
	}

	return GetOffer(ctx, db, offerID)
}

// RejectOffer declines an open offer. Only the counterparty may reject.
func RejectOffer(ctx context.Context, db *sql.DB, gctx gate.Context, offerID int64) (*model.Offer, error) {
	return closeOffer(ctx, db, gctx, offerID, model.OfferStatusRejected)
}

// CancelOffer withdraws an open offer. Only the creator may cancel.
func CancelOffer(ctx context.Context, db *sql.DB, gctx gate.Context, offerID int64) (*model.Offer, error) {
	return closeOffer(ctx, db, gctx, offerID, model.OfferStatusCancelled)
}

func closeOffer(ctx context.Context, db *sql.DB, gctx gate.Context, offerID int64, status string) (*model.Offer, error) {
	if !gctx.Active {
		return nil, fmt.Errorf("%w: inactive stakeholder", model.ErrUnauthorized)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	offer, err := getOfferTx(ctx, tx, offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, fmt.Errorf("%w: offer %d", model.ErrNotFound, offerID)
	}
	if offer.Status != model.OfferStatusOpen {
		return nil, fmt.Errorf("%w: offer %d is %s", model.ErrInvalidState, offerID, offer.Status)
	}
	if offer.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: offer %d", model.ErrOfferExpired, offerID)
	}

	eventType := model.EventOfferRejected
	switch status {
	case model.OfferStatusRejected:
		if offer.CounterpartyID != gctx.ActorID {
			return nil, fmt.Errorf("%w: only the counterparty may reject offer %d", model.ErrUnauthorized, offerID)
		}
	case model.OfferStatusCancelled:
		if offer.CreatorID != gctx.ActorID {
			return nil, fmt.Errorf("%w: only the creator may cancel offer %d", model.ErrUnauthorized, offerID)
		}
		eventType = model.EventOfferCancelled
	}

	_, err = tx.ExecContext(ctx, `UPDATE offers SET status = ? WHERE id = ?`, status, offerID)
	if err != nil {
		return nil, fmt.Errorf("closing offer: %w", err)
	}

	if err := appendEventTx(ctx, tx, eventType, model.EntityOffer, offerID, gctx.ActorID, map[string]any{
		"batch_id": offer.BatchID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing close: %w", err)
	}

	return GetOffer(ctx, db, offerID)
}
