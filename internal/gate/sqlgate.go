package gate

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLGate answers authorization queries from the stakeholders table.
type SQLGate struct {
	DB *sql.DB
}

var _ Gate = (*SQLGate)(nil)

func (g *SQLGate) Role(ctx context.Context, actorID int64) (string, error) {
	var role string
	err := g.DB.QueryRowContext(ctx,
		`SELECT role FROM stakeholders WHERE id = ? AND deleted_at IS NULL`, actorID,
	).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading role: %w", err)
	}
	return role, nil
}

func (g *SQLGate) HasRole(ctx context.Context, actorID int64, role string) (bool, error) {
	actual, err := g.Role(ctx, actorID)
	if err != nil {
		return false, err
	}
	return actual != "" && (actual == role || actual == "admin"), nil
}

func (g *SQLGate) IsActive(ctx context.Context, actorID int64) (bool, error) {
	var active bool
	err := g.DB.QueryRowContext(ctx,
		`SELECT active FROM stakeholders WHERE id = ? AND deleted_at IS NULL`, actorID,
	).Scan(&active)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking active flag: %w", err)
	}
	return active, nil
}

func (g *SQLGate) IsFullyActive(ctx context.Context, actorID int64) (bool, error) {
	var active, verified bool
	err := g.DB.QueryRowContext(ctx,
		`SELECT active, verified FROM stakeholders WHERE id = ? AND deleted_at IS NULL`, actorID,
	).Scan(&active, &verified)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking verification: %w", err)
	}
	return active && verified, nil
}
