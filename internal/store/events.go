package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agritrace/agritrace/internal/model"
)

// appendEventTx records a registry event inside the operation's
// transaction, so observers never see an event without its state change
// or vice versa.
func appendEventTx(ctx context.Context, tx *sql.Tx, eventType, entityKind string, entityID, actorID int64, payload map[string]any) error {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding event payload: %w", err)
		}
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO registry_events (uid, type, entity_kind, entity_id, actor_id, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), eventType, entityKind, entityID, actorID, string(data),
	)
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

// ListEvents returns registry events, optionally filtered by entity
// and/or type, newest first.
func ListEvents(ctx context.Context, db *sql.DB, entityKind string, entityID int64, eventType string, limit int) ([]model.RegistryEvent, error) {
	query := `SELECT id, uid, type, entity_kind, entity_id, actor_id, payload, created_at
	          FROM registry_events WHERE 1=1`
	var args []any

	if entityKind != "" {
		query += ` AND entity_kind = ?`
		args = append(args, entityKind)
	}
	if entityID > 0 {
		query += ` AND entity_id = ?`
		args = append(args, entityID)
	}
	if eventType != "" {
		query += ` AND type = ?`
		args = append(args, eventType)
	}

	query += ` ORDER BY id DESC`
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var events []model.RegistryEvent
	for rows.Next() {
		var e model.RegistryEvent
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.UID, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Payload = payload.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// TradeStats aggregates batch counts per status and total settled volume.
type TradeStats struct {
	BatchesByStatus map[string]int64 `json:"batches_by_status"`
	SettledVolume   int64            `json:"settled_volume"`
	OpenOffers      int64            `json:"open_offers"`
}

// GetTradeStats returns aggregate trade statistics for the registry API.
func GetTradeStats(ctx context.Context, db *sql.DB) (*TradeStats, error) {
	stats := &TradeStats{BatchesByStatus: map[string]int64{}}

	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM batches GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting batches: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning batch count: %w", err)
		}
		stats.BatchesByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE kind IN ('sale', 'purchase')`,
	).Scan(&stats.SettledVolume)
	if err != nil {
		return nil, fmt.Errorf("summing settled volume: %w", err)
	}

	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM offers WHERE status = 'OPEN' AND expires_at > ?`, time.Now(),
	).Scan(&stats.OpenOffers)
	if err != nil {
		return nil, fmt.Errorf("counting open offers: %w", err)
	}

	return stats, nil
}
