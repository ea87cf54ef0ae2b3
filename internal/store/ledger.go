package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agritrace/agritrace/internal/gate"
	"github.com/agritrace/agritrace/internal/model"
)

// Ledger entry kinds.
const (
	ledgerDeposit  = "deposit"
	ledgerSale     = "sale"
	ledgerPurchase = "purchase"
	ledgerRefund   = "refund"
)

// debitTx removes funds from a stakeholder's balance. Fails with
// ErrInsufficientPayment when the balance does not cover the amount; the
// balance CHECK constraint backs this up at the schema level.
func debitTx(ctx context.Context, tx *sql.Tx, stakeholderID, amount int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE stakeholders SET balance = balance - ?
		 WHERE id = ? AND balance >= ? AND deleted_at IS NULL`,
		amount, stakeholderID, amount,
	)
	if err != nil {
		return fmt.Errorf("debiting stakeholder %d: %w", stakeholderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("debiting stakeholder %d: %w", stakeholderID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: stakeholder %d cannot cover %d", model.ErrInsufficientPayment, stakeholderID, amount)
	}
	return nil
}

// creditTx adds funds to a stakeholder's balance.
func creditTx(ctx context.Context, tx *sql.Tx, stakeholderID, amount int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE stakeholders SET balance = balance + ? WHERE id = ? AND deleted_at IS NULL`,
		amount, stakeholderID,
	)
	if err != nil {
		return fmt.Errorf("crediting stakeholder %d: %w", stakeholderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("crediting stakeholder %d: %w", stakeholderID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: stakeholder %d", model.ErrNotFound, stakeholderID)
	}
	return nil
}

// recordLedgerTx appends an audit entry for a fund movement.
func recordLedgerTx(ctx context.Context, tx *sql.Tx, fromID, toID *int64, amount int64, kind string, batchID *int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (from_id, to_id, amount, kind, batch_id) VALUES (?, ?, ?, ?, ?)`,
		fromID, toID, amount, kind, batchID,
	)
	if err != nil {
		return fmt.Errorf("recording ledger entry: %w", err)
	}
	return nil
}

// settleTx moves amount from buyer to seller and records the entry.
// Callers invoke this after all entity-state mutations, keeping the
// external-value movement as the final step of the operation.
func settleTx(ctx context.Context, tx *sql.Tx, buyerID, sellerID, amount int64, kind string, batchID int64) error {
	if err := debitTx(ctx, tx, buyerID, amount); err != nil {
		return err
	}
	if err := creditTx(ctx, tx, sellerID, amount); err != nil {
		return err
	}
	return recordLedgerTx(ctx, tx, &buyerID, &sellerID, amount, kind, &batchID)
}

// DepositFunds credits a stakeholder's balance. Admin only.
func DepositFunds(ctx context.Context, db *sql.DB, gctx gate.Context, stakeholderID, amount int64) error {
	if !gctx.HasRole(model.RoleAdmin) || !gctx.Active {
		return fmt.Errorf("%w: deposits are admin-only", model.ErrUnauthorized)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: deposit amount must be positive", model.ErrInvalidArgument)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := creditTx(ctx, tx, stakeholderID, amount); err != nil {
		return err
	}
	if err := recordLedgerTx(ctx, tx, nil, &stakeholderID, amount, ledgerDeposit, nil); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing deposit: %w", err)
	}
	return nil
}

// ListLedgerEntries returns fund movements involving a stakeholder,
// newest first. A zero id returns all entries.
func ListLedgerEntries(ctx context.Context, db *sql.DB, stakeholderID int64) ([]LedgerEntry, error) {
	query := `SELECT id, from_id, to_id, amount, kind, batch_id, created_at FROM ledger_entries`
	var args []any
	if stakeholderID > 0 {
		query += ` WHERE from_id = ? OR to_id = ?`
		args = append(args, stakeholderID, stakeholderID)
	}
	query += ` ORDER BY id DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.FromID, &e.ToID, &e.Amount, &e.Kind, &e.BatchID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LedgerEntry is one audited fund movement.
type LedgerEntry struct {
	ID        int64     `json:"id"`
	FromID    *int64    `json:"from_id,omitempty"`
	ToID      *int64    `json:"to_id,omitempty"`
	Amount    int64     `json:"amount"`
	Kind      string    `json:"kind"`
	BatchID   *int64    `json:"batch_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
