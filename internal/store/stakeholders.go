package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agritrace/agritrace/internal/model"
)

const stakeholderColumns = `id, username, password_hash, role, active, verified, balance, location, created_at, deleted_at`

func scanStakeholder(row interface{ Scan(...any) error }) (*model.Stakeholder, error) {
	s := &model.Stakeholder{}
	var location sql.NullString
	err := row.Scan(&s.ID, &s.Username, &s.PasswordHash, &s.Role, &s.Active, &s.Verified,
		&s.Balance, &location, &s.CreatedAt, &s.DeletedAt)
	if err != nil {
		return nil, err
	}
	s.Location = location.String
	return s, nil
}

// CreateStakeholder registers a new stakeholder.
func CreateStakeholder(ctx context.Context, db *sql.DB, username, passwordHash, role, location string) (*model.Stakeholder, error) {
	if !model.ValidRole(role) {
		return nil, fmt.Errorf("%w: unknown role %q", model.ErrInvalidArgument, role)
	}

	result, err := db.ExecContext(ctx,
		`INSERT INTO stakeholders (username, password_hash, role, location) VALUES (?, ?, ?, ?)`,
		username, passwordHash, role, location,
	)
	if err != nil {
		return nil, fmt.Errorf("creating stakeholder: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting stakeholder id: %w", err)
	}

	return GetStakeholder(ctx, db, id)
}

// GetStakeholder returns a stakeholder by ID.
func GetStakeholder(ctx context.Context, db *sql.DB, id int64) (*model.Stakeholder, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+stakeholderColumns+` FROM stakeholders WHERE id = ?`, id)
	s, err := scanStakeholder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting stakeholder: %w", err)
	}
	return s, nil
}

// GetStakeholderByUsername returns a stakeholder by username (including
// soft-deleted, for auth checks).
func GetStakeholderByUsername(ctx context.Context, db *sql.DB, username string) (*model.Stakeholder, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+stakeholderColumns+` FROM stakeholders WHERE username = ?`, username)
	s, err := scanStakeholder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting stakeholder by username: %w", err)
	}
	return s, nil
}

// ListStakeholders returns all non-deleted stakeholders, optionally
// filtered by role.
func ListStakeholders(ctx context.Context, db *sql.DB, role string) ([]model.Stakeholder, error) {
	var rows *sql.Rows
	var err error

	if role != "" {
		rows, err = db.QueryContext(ctx,
			`SELECT `+stakeholderColumns+` FROM stakeholders
			 WHERE deleted_at IS NULL AND role = ? ORDER BY id`, role)
	} else {
		rows, err = db.QueryContext(ctx,
			`SELECT `+stakeholderColumns+` FROM stakeholders
			 WHERE deleted_at IS NULL ORDER BY id`)
	}
	if err != nil {
		return nil, fmt.Errorf("listing stakeholders: %w", err)
	}
	defer rows.Close()

	var stakeholders []model.Stakeholder
	for rows.Next() {
		s, err := scanStakeholder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning stakeholder: %w", err)
		}
		stakeholders = append(stakeholders, *s)
	}
	return stakeholders, rows.Err()
}

// SetStakeholderRole updates a stakeholder's role.
func SetStakeholderRole(ctx context.Context, db *sql.DB, id int64, role string) error {
	if !model.ValidRole(role) {
		return fmt.Errorf("%w: unknown role %q", model.ErrInvalidArgument, role)
	}
	_, err := db.ExecContext(ctx,
		`UPDATE stakeholders SET role = ? WHERE id = ? AND deleted_at IS NULL`,
		role, id,
	)
	if err != nil {
		return fmt.Errorf("updating stakeholder role: %w", err)
	}
	return nil
}

// SetStakeholderActive toggles the activation flag.
func SetStakeholderActive(ctx context.Context, db *sql.DB, id int64, active bool) error {
	_, err := db.ExecContext(ctx,
		`UPDATE stakeholders SET active = ? WHERE id = ? AND deleted_at IS NULL`,
		active, id,
	)
	if err != nil {
		return fmt.Errorf("updating stakeholder activation: %w", err)
	}
	return nil
}

// SetStakeholderVerified toggles the verification flag.
func SetStakeholderVerified(ctx context.Context, db *sql.DB, id int64, verified bool) error {
	_, err := db.ExecContext(ctx,
		`UPDATE stakeholders SET verified = ? WHERE id = ? AND deleted_at IS NULL`,
		verified, id,
	)
	if err != nil {
		return fmt.Errorf("updating stakeholder verification: %w", err)
	}
	return nil
}

// UpdateStakeholderPassword updates a stakeholder's password hash.
func UpdateStakeholderPassword(ctx context.Context, db *sql.DB, id int64, passwordHash string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE stakeholders SET password_hash = ? WHERE id = ? AND deleted_at IS NULL`,
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("updating stakeholder password: %w", err)
	}
	return nil
}

// DeleteStakeholder soft-deletes a stakeholder.
func DeleteStakeholder(ctx context.Context, db *sql.DB, id int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE stakeholders SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("deleting stakeholder: %w", err)
	}
	return nil
}
