package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agritrace/agritrace/internal/gate"
	"github.com/agritrace/agritrace/internal/model"
	"github.com/agritrace/agritrace/internal/oracle"
)

// ProcessBatch records a processing stage for a batch the caller owns.
// Processing is keyed by role and a minimum stage, not by the
// immediately preceding status: a processor may process a SOLD or later
// batch, and re-processing appends a new record. The batch quantity is
// replaced by the output quantity, which may never exceed the input.
func ProcessBatch(ctx context.Context, db *sql.DB, gctx gate.Context, feed oracle.Feed, batchID int64, processingType, qualityMetrics string, outputQuantity int64) (*model.ProcessingData, error) {
	if !gctx.HasRole(model.RoleProcessor) || !gctx.Active {
		return nil, fmt.Errorf("%w: processing requires an active processor", model.ErrUnauthorized)
	}
	if processingType == "" {
		return nil, fmt.Errorf("%w: processing type required", model.ErrInvalidArgument)
	}
	if outputQuantity <= 0 {
		return nil, fmt.Errorf("%w: output quantity must be positive", model.ErrInvalidArgument)
	}

	weather, err := feed.CurrentWeather(ctx)
	if err != nil {
		return nil, err
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
	if batch.OwnerID != gctx.ActorID {
		return nil, fmt.Errorf("%w: only the current owner may process batch %d", model.ErrUnauthorized, batchID)
	}
	if !model.BatchStatusAtLeast(batch.Status, model.BatchStatusSold) {
		return nil, fmt.Errorf("%w: batch %d must be sold before processing (status %s)",
			model.ErrInvalidState, batchID, batch.Status)
	}
	if batch.Status == model.BatchStatusFinalized {
		return nil, fmt.Errorf("%w: batch %d is finalized", model.ErrInvalidState, batchID)
	}
	if outputQuantity > batch.Quantity {
		return nil, fmt.Errorf("%w: output %d exceeds batch quantity %d",
			model.ErrQuantityExceeded, outputQuantity, batch.Quantity)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO processing_records (batch_id, processor_id, processing_type, quality_metrics,
		                                 output_quantity, weather_temp, weather_humidity,
		                                 weather_rainfall, weather_wind)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batchID, gctx.ActorID, processingType, qualityMetrics, outputQuantity,
		weather.Temperature, weather.Humidity, weather.Rainfall, weather.WindSpeed,
	)
	if err != nil {
		return nil, fmt.Errorf("recording processing: %w", err)
	}
	recordID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting processing record id: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE batches SET quantity = ?, status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		outputQuantity, model.BatchStatusProcessed, batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating batch after processing: %w", err)
	}

	if err := appendEventTx(ctx, tx, model.EventProcessingCompleted, model.EntityBatch, batchID, gctx.ActorID, map[string]any{
		"processing_type": processingType,
		"output_quantity": outputQuantity,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing processing: %w", err)
	}

	return getProcessingRecord(ctx, db, recordID)
}

// CheckQuality records a quality check for a processed batch. Any active
// processor may inspect; ownership is not required. The pass verdict
// (purity >= 80 and moisture <= 15) is stored on the record and carried
// in the emitted event.
func CheckQuality(ctx context.Context, db *sql.DB, gctx gate.Context, batchID int64, grade string, moisture, purity int64, organic bool, certBody string) (*model.QualityData, error) {
	if !gctx.HasRole(model.RoleProcessor) || !gctx.Active {
		return nil, fmt.Errorf("%w: quality checks require an active processor", model.ErrUnauthorized)
	}
	if grade == "" {
		return nil, fmt.Errorf("%w: grade required", model.ErrInvalidArgument)
	}
	if moisture < 0 || moisture > 100 || purity < 0 || purity > 100 {
		return nil, fmt.Errorf("%w: moisture and purity must be 0-100", model.ErrInvalidArgument)
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
	if !model.BatchStatusAtLeast(batch.Status, model.BatchStatusProcessed) {
		return nil, fmt.Errorf("%w: batch %d must be processed before a quality check (status %s)",
			model.ErrInvalidState, batchID, batch.Status)
	}
	if batch.Status == model.BatchStatusFinalized {
		return nil, fmt.Errorf("%w: batch %d is finalized", model.ErrInvalidState, batchID)
	}

	passed := model.QualityPassed(purity, moisture)

	result, err := tx.ExecContext(ctx,
		`INSERT INTO quality_records (batch_id, inspector_id, grade, moisture, purity, organic, cert_body, passed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		batchID, gctx.ActorID, grade, moisture, purity, organic, certBody, passed,
	)
	if err != nil {
		return nil, fmt.Errorf("recording quality check: %w", err)
	}
	recordID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting quality record id: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE batches SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		model.BatchStatusQualityChecked, batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating batch after quality check: %w", err)
	}

	if err := appendEventTx(ctx, tx, model.EventQualityChecked, model.EntityBatch, batchID, gctx.ActorID, map[string]any{
		"grade":    grade,
		"moisture": moisture,
		"purity":   purity,
		"passed":   passed,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing quality check: %w", err)
	}

	return getQualityRecord(ctx, db, recordID)
}

func scanProcessing(row interface{ Scan(...any) error }) (*model.ProcessingData, error) {
	p := &model.ProcessingData{}
	var metrics sql.NullString
	var wTemp, wHumidity, wRainfall, wWind sql.NullInt64
	err := row.Scan(&p.ID, &p.BatchID, &p.ProcessorID, &p.ProcessingType, &metrics,
		&p.OutputQuantity, &wTemp, &wHumidity, &wRainfall, &wWind, &p.ProcessedAt)
	if err != nil {
		return nil, err
	}
	p.QualityMetrics = metrics.String
	if wTemp.Valid {
		p.Weather = &model.WeatherSample{
			Temperature: wTemp.Int64,
			Humidity:    wHumidity.Int64,
			Rainfall:    wRainfall.Int64,
			WindSpeed:   wWind.Int64,
			Timestamp:   p.ProcessedAt,
		}
	}
	return p, nil
}

const processingColumns = `id, batch_id, processor_id, processing_type, quality_metrics,
	output_quantity, weather_temp, weather_humidity, weather_rainfall, weather_wind, processed_at`

func getProcessingRecord(ctx context.Context, db *sql.DB, id int64) (*model.ProcessingData, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+processingColumns+` FROM processing_records WHERE id = ?`, id)
	p, err := scanProcessing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting processing record: %w", err)
	}
	return p, nil
}

// GetProcessing returns the canonical (latest) processing record for a
// batch, or nil when the batch has never been processed.
func GetProcessing(ctx context.Context, db *sql.DB, batchID int64) (*model.ProcessingData, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+processingColumns+` FROM processing_records
		 WHERE batch_id = ? ORDER BY id DESC LIMIT 1`, batchID)
	p, err := scanProcessing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting processing record: %w", err)
	}
	return p, nil
}

// ListProcessingHistory returns all processing records for a batch,
// newest first.
func ListProcessingHistory(ctx context.Context, db *sql.DB, batchID int64) ([]model.ProcessingData, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+processingColumns+` FROM processing_records
		 WHERE batch_id = ? ORDER BY id DESC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("listing processing history: %w", err)
	}
	defer rows.Close()

	var records []model.ProcessingData
	for rows.Next() {
		p, err := scanProcessing(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning processing record: %w", err)
		}
		records = append(records, *p)
	}
	return records, rows.Err()
}

const qualityColumns = `id, batch_id, inspector_id, grade, moisture, purity, organic, cert_body, passed, checked_at`

func scanQuality(row interface{ Scan(...any) error }) (*model.QualityData, error) {
	q := &model.QualityData{}
	var certBody sql.NullString
	err := row.Scan(&q.ID, &q.BatchID, &q.InspectorID, &q.Grade, &q.Moisture, &q.Purity,
		&q.Organic, &certBody, &q.Passed, &q.CheckedAt)
	if err != nil {
		return nil, err
	}
	q.CertBody = certBody.String
	return q, nil
}

func getQualityRecord(ctx context.Context, db *sql.DB, id int64) (*model.QualityData, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+qualityColumns+` FROM quality_records WHERE id = ?`, id)
	q, err := scanQuality(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting quality record: %w", err)
	}
	return q, nil
}

// GetQuality returns the canonical (latest) quality record for a batch,
// or nil when the batch has never been checked.
func GetQuality(ctx context.Context, db *sql.DB, batchID int64) (*model.QualityData, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+qualityColumns+` FROM quality_records
		 WHERE batch_id = ? ORDER BY id DESC LIMIT 1`, batchID)
	q, err := scanQuality(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting quality record: %w", err)
	}
	return q, nil
}

// ListQualityHistory returns all quality records for a batch, newest first.
func ListQualityHistory(ctx context.Context, db *sql.DB, batchID int64) ([]model.QualityData, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+qualityColumns+` FROM quality_records
		 WHERE batch_id = ? ORDER BY id DESC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("listing quality history: %w", err)
	}
	defer rows.Close()

	var records []model.QualityData
	for rows.Next() {
		q, err := scanQuality(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning quality record: %w", err)
		}
		records = append(records, *q)
	}
	return records, rows.Err()
}
