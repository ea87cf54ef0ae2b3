package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agritrace/agritrace/internal/gate"
	"github.com/agritrace/agritrace/internal/model"
)

// RegisterCropRequirement upserts the condition window for a crop.
// Admin only.
func RegisterCropRequirement(ctx context.Context, db *sql.DB, gctx gate.Context, crop string, idealTemp, idealHumidity, maxRainfall int64) error {
	if !gctx.HasRole(model.RoleAdmin) || !gctx.Active {
		return fmt.Errorf("%w: crop requirements are admin-only", model.ErrUnauthorized)
	}
	if crop == "" {
		return fmt.Errorf("%w: crop name required", model.ErrInvalidArgument)
	}
	if idealHumidity < 0 || idealHumidity > 100 {
		return fmt.Errorf("%w: ideal humidity must be 0-100", model.ErrInvalidArgument)
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO crop_requirements (crop, ideal_temp, ideal_humidity, max_rainfall)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (crop) DO UPDATE SET
		     ideal_temp = excluded.ideal_temp,
		     ideal_humidity = excluded.ideal_humidity,
		     max_rainfall = excluded.max_rainfall`,
		crop, idealTemp, idealHumidity, maxRainfall,
	)
	if err != nil {
		return fmt.Errorf("registering crop requirement: %w", err)
	}
	return nil
}

// GetCropRequirement returns the registered requirement for a crop, or
// nil when none is registered (meaning any weather is suitable).
func GetCropRequirement(ctx context.Context, db *sql.DB, crop string) (*model.CropRequirement, error) {
	r := &model.CropRequirement{}
	err := db.QueryRowContext(ctx,
		`SELECT crop, ideal_temp, ideal_humidity, max_rainfall, created_at
		 FROM crop_requirements WHERE crop = ?`, crop,
	).Scan(&r.Crop, &r.IdealTemp, &r.IdealHumidity, &r.MaxRainfall, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting crop requirement: %w", err)
	}
	return r, nil
}

// ListCropRequirements returns every registered requirement.
func ListCropRequirements(ctx context.Context, db *sql.DB) ([]model.CropRequirement, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT crop, ideal_temp, ideal_humidity, max_rainfall, created_at
		 FROM crop_requirements ORDER BY crop`)
	if err != nil {
		return nil, fmt.Errorf("listing crop requirements: %w", err)
	}
	defer rows.Close()

	var reqs []model.CropRequirement
	for rows.Next() {
		var r model.CropRequirement
		if err := rows.Scan(&r.Crop, &r.IdealTemp, &r.IdealHumidity, &r.MaxRainfall, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning crop requirement: %w", err)
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}
