package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agritrace/agritrace/internal/gate"
	"github.com/agritrace/agritrace/internal/model"
)

const shipmentColumns = `sh.id, sh.batch_id, sh.offer_id, sh.sender_id, sh.receiver_id, sh.shipper_id,
	sh.tracking_id, sh.from_location, sh.to_location, sh.status, sh.metadata_hash,
	sh.cancel_reason, sh.created_at, sh.picked_up_at, sh.delivered_at, sh.confirmed_at`

func scanShipment(row interface{ Scan(...any) error }, extra ...any) (*model.Shipment, error) {
	s := &model.Shipment{}
	var metadata, cancelReason sql.NullString
	var pickedUp, delivered, confirmed sql.NullTime
	dest := []any{&s.ID, &s.BatchID, &s.OfferID, &s.SenderID, &s.ReceiverID, &s.ShipperID,
		&s.TrackingID, &s.FromLocation, &s.ToLocation, &s.Status, &metadata,
		&cancelReason, &s.CreatedAt, &pickedUp, &delivered, &confirmed}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	s.MetadataHash = metadata.String
	s.CancelReason = cancelReason.String
	if pickedUp.Valid {
		s.PickedUpAt = &pickedUp.Time
	}
	if delivered.Valid {
		s.DeliveredAt = &delivered.Time
	}
	if confirmed.Valid {
		s.ConfirmedAt = &confirmed.Time
	}
	return s, nil
}

func getShipmentTx(ctx context.Context, q dbtx, id int64) (*model.Shipment, error) {
	row := q.QueryRowContext(ctx, `SELECT `+shipmentColumns+` FROM shipments sh WHERE sh.id = ?`, id)
	s, err := scanShipment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting shipment: %w", err)
	}
	return s, nil
}

func appendShipmentEventTx(ctx context.Context, tx *sql.Tx, shipmentID, actorID int64, status, location, note string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO shipment_events (shipment_id, actor_id, status, location, note)
		 VALUES (?, ?, ?, ?, ?)`,
		shipmentID, actorID, status, nullString(location), nullString(note),
	)
	if err != nil {
		return fmt.Errorf("recording shipment event: %w", err)
	}
	return nil
}

// CreateShipmentParams carries the fields of a new shipment.
type CreateShipmentParams struct {
	OfferID      int64
	ShipperID    int64 // zero means the sender ships it themselves
	TrackingID   string
	FromLocation string
	ToLocation   string
	MetadataHash string
}

// CreateShipment opens custody tracking for a batch sold through an
// accepted offer. The selling party (or a distributor) creates it; the
// receiver is the buying party. A batch carries at most one shipment
// that is not in a terminal state, and tracking numbers are unique
// across all shipments.
func CreateShipment(ctx context.Context, db *sql.DB, gctx gate.Context, p CreateShipmentParams) (*model.Shipment, error) {
	if !gctx.Active {
		return nil, fmt.Errorf("%w: inactive stakeholder", model.ErrUnauthorized)
	}
	if p.TrackingID == "" {
		return nil, fmt.Errorf("%w: tracking number required", model.ErrInvalidArgument)
	}
	if p.FromLocation == "" || p.ToLocation == "" {
		return nil, fmt.Errorf("%w: origin and destination required", model.ErrInvalidArgument)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	offer, err := getOfferTx(ctx, tx, p.OfferID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, fmt.Errorf("%w: offer %d", model.ErrNotFound, p.OfferID)
	}
	if offer.Status != model.OfferStatusAccepted {
		return nil, fmt.Errorf("%w: offer %d is %s, shipments require an accepted offer",
			model.ErrInvalidState, p.OfferID, offer.Status)
	}

	var buyerID, sellerID int64
	if offer.Type == model.OfferTypeBuy {
		buyerID, sellerID = offer.CreatorID, offer.CounterpartyID
	} else {
		buyerID, sellerID = offer.CounterpartyID, offer.CreatorID
	}
	if gctx.ActorID != sellerID && !gctx.HasRole(model.RoleDistributor) {
		return nil, fmt.Errorf("%w: only the selling party or a distributor may create a shipment",
			model.ErrUnauthorized)
	}

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM shipments WHERE tracking_id = ?`, p.TrackingID,
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("checking tracking number: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: tracking number already exists", model.ErrInvalidState)
	}

	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM shipments
		 WHERE batch_id = ? AND status NOT IN (?, ?, ?)`,
		offer.BatchID, model.ShipmentStatusConfirmed, model.ShipmentStatusCancelled,
		model.ShipmentStatusUnableToDeliver,
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("checking active shipments: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: batch %d already has an active shipment",
			model.ErrInvalidState, offer.BatchID)
	}

	shipperID := p.ShipperID
	if shipperID == 0 {
		shipperID = gctx.ActorID
	} else if shipperID != gctx.ActorID {
		var ok int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM stakeholders
			 WHERE id = ? AND role = ? AND active = 1 AND deleted_at IS NULL`,
			shipperID, model.RoleShipper,
		).Scan(&ok)
		if err != nil {
			return nil, fmt.Errorf("checking shipper: %w", err)
		}
		if ok == 0 {
			return nil, fmt.Errorf("%w: stakeholder %d is not an active shipper",
				model.ErrInvalidArgument, shipperID)
		}
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO shipments (batch_id, offer_id, sender_id, receiver_id, shipper_id,
		                        tracking_id, from_location, to_location, metadata_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		offer.BatchID, p.OfferID, gctx.ActorID, buyerID, shipperID,
		p.TrackingID, p.FromLocation, p.ToLocation, nullString(p.MetadataHash),
	)
	if err != nil {
		return nil, fmt.Errorf("creating shipment: %w", err)
	}
	shipmentID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting shipment id: %w", err)
	}

	if err := appendShipmentEventTx(ctx, tx, shipmentID, gctx.ActorID,
		model.ShipmentStatusCreated, p.FromLocation, ""); err != nil {
		return nil, err
	}
	if err := appendEventTx(ctx, tx, model.EventShipmentCreated, model.EntityShipment, shipmentID, gctx.ActorID, map[string]any{
		"batch_id":    offer.BatchID,
		"offer_id":    p.OfferID,
		"tracking_id": p.TrackingID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing shipment: %w", err)
	}

	return GetShipment(ctx, db, shipmentID)
}

// PickupShipment records the shipper taking custody. The batch moves to
// SHIPPED when its own status allows it.
func PickupShipment(ctx context.Context, db *sql.DB, gctx gate.Context, shipmentID int64, location, note string) (*model.Shipment, error) {
	return advanceShipment(ctx, db, gctx, shipmentID, model.ShipmentStatusPickedUp, location, note, "")
}

// UpdateLocation appends a checkpoint to an underway shipment. The first
// update after pickup moves the shipment to IN_TRANSIT; later updates
// only extend the history.
func UpdateLocation(ctx context.Context, db *sql.DB, gctx gate.Context, shipmentID int64, location, note string) (*model.Shipment, error) {
	if location == "" {
		return nil, fmt.Errorf("%w: location required", model.ErrInvalidArgument)
	}
	if !gctx.Active {
		return nil, fmt.Errorf("%w: inactive stakeholder", model.ErrUnauthorized)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	shipment, err := getShipmentTx(ctx, tx, shipmentID)
	if err != nil {
		return nil, err
	}
	if shipment == nil {
		return nil, fmt.Errorf("%w: shipment %d", model.ErrNotFound, shipmentID)
	}
	if shipment.ShipperID != gctx.ActorID {
		return nil, fmt.Errorf("%w: only the shipper may update shipment %d", model.ErrUnauthorized, shipmentID)
	}

	status := shipment.Status
	switch status {
	case model.ShipmentStatusPickedUp:
		status = model.ShipmentStatusInTransit
		_, err = tx.ExecContext(ctx,
			`UPDATE shipments SET status = ? WHERE id = ?`, status, shipmentID)
		if err != nil {
			return nil, fmt.Errorf("updating shipment status: %w", err)
		}
		if err := appendEventTx(ctx, tx, model.EventShipmentInTransit, model.EntityShipment, shipmentID, gctx.ActorID, map[string]any{
			"location": location,
		}); err != nil {
			return nil, err
		}
	case model.ShipmentStatusInTransit:
		// Checkpoint only.
	default:
		return nil, fmt.Errorf("%w: shipment %d is %s, not underway",
			model.ErrInvalidState, shipmentID, status)
	}

	if err := appendShipmentEventTx(ctx, tx, shipmentID, gctx.ActorID, status, location, note); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing location update: %w", err)
	}

	return GetShipment(ctx, db, shipmentID)
}

// MarkDelivered records arrival at the destination. Awaits the
// receiver's confirmation.
func MarkDelivered(ctx context.Context, db *sql.DB, gctx gate.Context, shipmentID int64, location, note string) (*model.Shipment, error) {
	return advanceShipment(ctx, db, gctx, shipmentID, model.ShipmentStatusDelivered, location, note, "")
}

// ConfirmDelivery is the receiver's acknowledgement, closing the
// shipment and moving the batch to RECEIVED.
func ConfirmDelivery(ctx context.Context, db *sql.DB, gctx gate.Context, shipmentID int64, note string) (*model.Shipment, error) {
	return advanceShipment(ctx, db, gctx, shipmentID, model.ShipmentStatusConfirmed, "", note, "")
}

// MarkUndeliverable records a failed delivery. Terminal.
func MarkUndeliverable(ctx context.Context, db *sql.DB, gctx gate.Context, shipmentID int64, reason string) (*model.Shipment, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: reason required", model.ErrInvalidArgument)
	}
	return advanceShipment(ctx, db, gctx, shipmentID, model.ShipmentStatusUnableToDeliver, "", "", reason)
}

// CancelShipment aborts a shipment that has not reached its destination.
// Either the sender or the shipper may cancel. Terminal.
func CancelShipment(ctx context.Context, db *sql.DB, gctx gate.Context, shipmentID int64, reason string) (*model.Shipment, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: reason required", model.ErrInvalidArgument)
	}
	return advanceShipment(ctx, db, gctx, shipmentID, model.ShipmentStatusCancelled, "", "", reason)
}

// advanceShipment applies one guarded transition. Pickup, delivery and
// failure belong to the shipper; confirmation to the receiver;
// cancellation to the sender or shipper. Timestamps and the linked
// batch's status are updated alongside the transition.
func advanceShipment(ctx context.Context, db *sql.DB, gctx gate.Context, shipmentID int64, to, location, note, reason string) (*model.Shipment, error) {
	if !gctx.Active {
		return nil, fmt.Errorf("%w: inactive stakeholder", model.ErrUnauthorized)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	shipment, err := getShipmentTx(ctx, tx, shipmentID)
	if err != nil {
		return nil, err
	}
	if shipment == nil {
		return nil, fmt.Errorf("%w: shipment %d", model.ErrNotFound, shipmentID)
	}

	switch to {
	case model.ShipmentStatusConfirmed:
		if shipment.ReceiverID != gctx.ActorID {
			return nil, fmt.Errorf("%w: only the receiver may confirm shipment %d", model.ErrUnauthorized, shipmentID)
		}
	case model.ShipmentStatusCancelled:
		if shipment.SenderID != gctx.ActorID && shipment.ShipperID != gctx.ActorID {
			return nil, fmt.Errorf("%w: only the sender or shipper may cancel shipment %d", model.ErrUnauthorized, shipmentID)
		}
	default:
		if shipment.ShipperID != gctx.ActorID {
			return nil, fmt.Errorf("%w: only the shipper may advance shipment %d", model.ErrUnauthorized, shipmentID)
		}
	}

	if !model.CanShipmentTransition(shipment.Status, to) {
		return nil, fmt.Errorf("%w: shipment %d cannot move from %s to %s",
			model.ErrInvalidTransition, shipmentID, shipment.Status, to)
	}

	query := `UPDATE shipments SET status = ?`
	args := []any{to}
	switch to {
	case model.ShipmentStatusPickedUp:
		query += `, picked_up_at = CURRENT_TIMESTAMP`
	case model.ShipmentStatusDelivered:
		query += `, delivered_at = CURRENT_TIMESTAMP`
	case model.ShipmentStatusConfirmed:
		query += `, confirmed_at = CURRENT_TIMESTAMP`
	case model.ShipmentStatusCancelled, model.ShipmentStatusUnableToDeliver:
		query += `, cancel_reason = ?`
		args = append(args, reason)
	}
	query += ` WHERE id = ?`
	args = append(args, shipmentID)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("updating shipment: %w", err)
	}

	// Keep the batch's own status in step where its machine allows it.
	eventType := ""
	switch to {
	case model.ShipmentStatusPickedUp:
		eventType = model.EventShipmentPickedUp
		if err := nudgeBatchTx(ctx, tx, shipment.BatchID, model.BatchStatusShipped); err != nil {
			return nil, err
		}
	case model.ShipmentStatusDelivered:
		eventType = model.EventShipmentDelivered
	case model.ShipmentStatusConfirmed:
		eventType = model.EventDeliveryConfirmed
		if err := nudgeBatchTx(ctx, tx, shipment.BatchID, model.BatchStatusReceived); err != nil {
			return nil, err
		}
	case model.ShipmentStatusCancelled:
		eventType = model.EventShipmentCancelled
	case model.ShipmentStatusUnableToDeliver:
		eventType = model.EventShipmentFailed
	}

	if err := appendShipmentEventTx(ctx, tx, shipmentID, gctx.ActorID, to, location, firstNonEmpty(note, reason)); err != nil {
		return nil, err
	}
	if err := appendEventTx(ctx, tx, eventType, model.EntityShipment, shipmentID, gctx.ActorID, map[string]any{
		"batch_id": shipment.BatchID,
		"status":   to,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing shipment transition: %w", err)
	}

	return GetShipment(ctx, db, shipmentID)
}

// nudgeBatchTx advances the batch alongside a shipment transition when
// the batch machine permits it, and leaves it alone otherwise.
func nudgeBatchTx(ctx context.Context, tx *sql.Tx, batchID int64, to string) error {
	batch, err := getBatchTx(ctx, tx, batchID)
	if err != nil {
		return err
	}
	if batch == nil || !model.CanBatchTransition(batch.Status, to) {
		return nil
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE batches SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		to, batchID,
	)
	if err != nil {
		return fmt.Errorf("advancing batch %d: %w", batchID, err)
	}
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// GetShipment returns a shipment by id with joined names, or nil when no
// such shipment exists.
func GetShipment(ctx context.Context, db *sql.DB, id int64) (*model.Shipment, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+shipmentColumns+`, b.name, snd.username, rcv.username, shp.username
		 FROM shipments sh
		 JOIN batches b ON b.id = sh.batch_id
		 JOIN stakeholders snd ON snd.id = sh.sender_id
		 JOIN stakeholders rcv ON rcv.id = sh.receiver_id
		 JOIN stakeholders shp ON shp.id = sh.shipper_id
		 WHERE sh.id = ?`, id)

	var batchName, senderName, receiverName, shipperName string
	s, err := scanShipment(row, &batchName, &senderName, &receiverName, &shipperName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting shipment: %w", err)
	}
	s.BatchName = batchName
	s.SenderName = senderName
	s.ReceiverName = receiverName
	s.ShipperName = shipperName
	return s, nil
}

// GetShipmentByTracking looks a shipment up by its tracking number.
func GetShipmentByTracking(ctx context.Context, db *sql.DB, trackingID string) (*model.Shipment, error) {
	var id int64
	err := db.QueryRowContext(ctx,
		`SELECT id FROM shipments WHERE tracking_id = ?`, trackingID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up tracking number: %w", err)
	}
	return GetShipment(ctx, db, id)
}

// ShipmentFilter narrows ListShipments. Zero values match everything.
// ParticipantID matches sender, receiver or shipper.
type ShipmentFilter struct {
	BatchID       int64
	ParticipantID int64
	Status        string
}

// ListShipments returns shipments matching the filter, newest first.
func ListShipments(ctx context.Context, db *sql.DB, f ShipmentFilter) ([]model.Shipment, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments sh WHERE 1=1`
	var args []any
	if f.BatchID > 0 {
		query += ` AND sh.batch_id = ?`
		args = append(args, f.BatchID)
	}
	if f.ParticipantID > 0 {
		query += ` AND (sh.sender_id = ? OR sh.receiver_id = ? OR sh.shipper_id = ?)`
		args = append(args, f.ParticipantID, f.ParticipantID, f.ParticipantID)
	}
	if f.Status != "" {
		query += ` AND sh.status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY sh.id DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing shipments: %w", err)
	}
	defer rows.Close()

	var shipments []model.Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning shipment: %w", err)
		}
		shipments = append(shipments, *s)
	}
	return shipments, rows.Err()
}

// ShipmentHistory returns a shipment's append-only event trail, oldest
// first.
func ShipmentHistory(ctx context.Context, db *sql.DB, shipmentID int64) ([]model.ShipmentEvent, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, shipment_id, actor_id, status, location, note, recorded_at
		 FROM shipment_events WHERE shipment_id = ? ORDER BY id ASC`, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("listing shipment history: %w", err)
	}
	defer rows.Close()

	var events []model.ShipmentEvent
	for rows.Next() {
		var e model.ShipmentEvent
		var location, note sql.NullString
		if err := rows.Scan(&e.ID, &e.ShipmentID, &e.ActorID, &e.Status, &location, &note, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning shipment event: %w", err)
		}
		e.Location = location.String
		e.Note = note.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetShipmentStats aggregates counts per status plus delivery and
// confirmation rates. Rates are zero when there are no shipments.
func GetShipmentStats(ctx context.Context, db *sql.DB) (*model.ShipmentStats, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM shipments GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting shipments: %w", err)
	}
	defer rows.Close()

	stats := &model.ShipmentStats{ByStatus: make(map[string]int64)}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning shipment count: %w", err)
		}
		stats.ByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.Total > 0 {
		delivered := stats.ByStatus[model.ShipmentStatusDelivered] + stats.ByStatus[model.ShipmentStatusConfirmed]
		stats.DeliveryRate = float64(delivered) / float64(stats.Total)
		stats.ConfirmationRate = float64(stats.ByStatus[model.ShipmentStatusConfirmed]) / float64(stats.Total)
	}
	return stats, nil
}
