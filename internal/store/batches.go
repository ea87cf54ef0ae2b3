package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agritrace/agritrace/internal/gate"
	"github.com/agritrace/agritrace/internal/model"
	"github.com/agritrace/agritrace/internal/oracle"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const batchColumns = `b.id, b.farmer_id, b.owner_id, b.name, b.description, b.quantity,
	b.initial_quantity, b.base_price, b.market_price, b.origin_location, b.metadata_hash,
	b.photo_mime, b.status, b.trading_mode, b.for_sale, b.requires_weather,
	b.weather_temp, b.weather_humidity, b.weather_rainfall, b.weather_wind, b.weather_at,
	b.created_at, b.updated_at`

func scanBatch(row interface{ Scan(...any) error }) (*model.Batch, error) {
	b := &model.Batch{}
	var description, metadataHash, photoMime sql.NullString
	var wTemp, wHumidity, wRainfall, wWind sql.NullInt64
	var wAt sql.NullTime
	err := row.Scan(&b.ID, &b.FarmerID, &b.OwnerID, &b.Name, &description, &b.Quantity,
		&b.InitialQuantity, &b.BasePrice, &b.MarketPrice, &b.OriginLocation, &metadataHash,
		&photoMime, &b.Status, &b.TradingMode, &b.ForSale, &b.RequiresWeather,
		&wTemp, &wHumidity, &wRainfall, &wWind, &wAt,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Description = description.String
	b.MetadataHash = metadataHash.String
	b.PhotoMime = photoMime.String
	if wAt.Valid {
		b.LastWeather = &model.WeatherSample{
			Temperature: wTemp.Int64,
			Humidity:    wHumidity.Int64,
			Rainfall:    wRainfall.Int64,
			WindSpeed:   wWind.Int64,
			Timestamp:   wAt.Time,
		}
	}
	return b, nil
}

func getBatchTx(ctx context.Context, q dbtx, id int64) (*model.Batch, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM batches b WHERE b.id = ?`, id)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting batch: %w", err)
	}
	return b, nil
}

func getAuthorizedBuyersTx(ctx context.Context, q dbtx, batchID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT stakeholder_id FROM batch_authorized_buyers WHERE batch_id = ? ORDER BY stakeholder_id`,
		batchID)
	if err != nil {
		return nil, fmt.Errorf("getting authorized buyers: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning authorized buyer: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// buyerAuthorizedTx reports whether buyerID may buy the batch. An empty
// authorized-buyers set means anyone may.
func buyerAuthorizedTx(ctx context.Context, q dbtx, batchID, buyerID int64) (bool, error) {
	var total int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM batch_authorized_buyers WHERE batch_id = ?`, batchID,
	).Scan(&total)
	if err != nil {
		return false, fmt.Errorf("counting authorized buyers: %w", err)
	}
	if total == 0 {
		return true, nil
	}
	var allowed int
	err = q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM batch_authorized_buyers WHERE batch_id = ? AND stakeholder_id = ?`,
		batchID, buyerID,
	).Scan(&allowed)
	if err != nil {
		return false, fmt.Errorf("checking authorized buyer: %w", err)
	}
	return allowed > 0, nil
}

// CreateBatchParams carries the farmer's inputs for a new batch.
type CreateBatchParams struct {
	Name             string
	Description      string
	Quantity         int64
	BasePrice        int64
	OriginLocation   string
	MetadataHash     string
	TradingMode      string
	AuthorizedBuyers []int64
	RequiresWeather  bool
}

// CreateBatch registers a new batch owned by the creating farmer.
// Snapshots the oracle price, and the weather when verification is
// required for the crop.
func CreateBatch(ctx context.Context, db *sql.DB, gctx gate.Context, feed oracle.Feed, p CreateBatchParams) (*model.Batch, error) {
	if !gctx.HasRole(model.RoleFarmer) || !gctx.Active {
		return nil, fmt.Errorf("%w: batch creation requires an active farmer", model.ErrUnauthorized)
	}
	if p.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", model.ErrInvalidArgument)
	}
	if p.BasePrice <= 0 {
		return nil, fmt.Errorf("%w: base price must be positive", model.ErrInvalidArgument)
	}
	if p.Name == "" || p.OriginLocation == "" {
		return nil, fmt.Errorf("%w: name and origin location required", model.ErrInvalidArgument)
	}
	if p.TradingMode == "" {
		p.TradingMode = model.TradingModeSpot
	}
	if !model.ValidTradingMode(p.TradingMode) {
		return nil, fmt.Errorf("%w: unknown trading mode %q", model.ErrInvalidArgument, p.TradingMode)
	}

	quote, err := feed.CurrentPrice(ctx)
	if err != nil {
		return nil, err
	}
	marketPrice := quote.Apply(p.BasePrice)

	var weather *model.WeatherSample
	if p.RequiresWeather {
		w, err := feed.CurrentWeather(ctx)
		if err != nil {
			return nil, err
		}
		weather = &w
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var result sql.Result
	if weather != nil {
		result, err = tx.ExecContext(ctx,
			`INSERT INTO batches (farmer_id, owner_id, name, description, quantity, initial_quantity,
			                      base_price, market_price, origin_location, metadata_hash, trading_mode,
			                      requires_weather, weather_temp, weather_humidity, weather_rainfall,
			                      weather_wind, weather_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?)`,
			gctx.ActorID, gctx.ActorID, p.Name, p.Description, p.Quantity, p.Quantity,
			p.BasePrice, marketPrice, p.OriginLocation, p.MetadataHash, p.TradingMode,
			weather.Temperature, weather.Humidity, weather.Rainfall, weather.WindSpeed, weather.Timestamp,
		)
	} else {
		result, err = tx.ExecContext(ctx,
			`INSERT INTO batches (farmer_id, owner_id, name, description, quantity, initial_quantity,
			                      base_price, market_price, origin_location, metadata_hash, trading_mode,
			                      requires_weather)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			gctx.ActorID, gctx.ActorID, p.Name, p.Description, p.Quantity, p.Quantity,
			p.BasePrice, marketPrice, p.OriginLocation, p.MetadataHash, p.TradingMode,
			p.RequiresWeather,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("creating batch: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting batch id: %w", err)
	}

	for _, buyerID := range p.AuthorizedBuyers {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO batch_authorized_buyers (batch_id, stakeholder_id) VALUES (?, ?)`,
			id, buyerID,
		); err != nil {
			return nil, fmt.Errorf("recording authorized buyer: %w", err)
		}
	}

	if err := appendEventTx(ctx, tx, model.EventBatchCreated, model.EntityBatch, id, gctx.ActorID, map[string]any{
		"name":     p.Name,
		"quantity": p.Quantity,
		"price":    p.BasePrice,
		"origin":   p.OriginLocation,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing batch: %w", err)
	}

	return GetBatch(ctx, db, id)
}

// GetBatch returns a batch by ID with farmer/owner names and the
// authorized-buyers set populated.
func GetBatch(ctx context.Context, db *sql.DB, id int64) (*model.Batch, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+batchColumns+`, f.username, o.username
		 FROM batches b
		 JOIN stakeholders f ON f.id = b.farmer_id
		 JOIN stakeholders o ON o.id = b.owner_id
		 WHERE b.id = ?`, id)

	b := &model.Batch{}
	var description, metadataHash, photoMime sql.NullString
	var wTemp, wHumidity, wRainfall, wWind sql.NullInt64
	var wAt sql.NullTime
	err := row.Scan(&b.ID, &b.FarmerID, &b.OwnerID, &b.Name, &description, &b.Quantity,
		&b.InitialQuantity, &b.BasePrice, &b.MarketPrice, &b.OriginLocation, &metadataHash,
		&photoMime, &b.Status, &b.TradingMode, &b.ForSale, &b.RequiresWeather,
		&wTemp, &wHumidity, &wRainfall, &wWind, &wAt,
		&b.CreatedAt, &b.UpdatedAt, &b.FarmerName, &b.OwnerName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting batch: %w", err)
	}
	b.Description = description.String
	b.MetadataHash = metadataHash.String
	b.PhotoMime = photoMime.String
	if wAt.Valid {
		b.LastWeather = &model.WeatherSample{
			Temperature: wTemp.Int64,
			Humidity:    wHumidity.Int64,
			Rainfall:    wRainfall.Int64,
			WindSpeed:   wWind.Int64,
			Timestamp:   wAt.Time,
		}
	}

	buyers, err := getAuthorizedBuyersTx(ctx, db, id)
	if err != nil {
		return nil, err
	}
	b.AuthorizedBuyers = buyers
	return b, nil
}

// BatchFilter narrows ListBatches.
type BatchFilter struct {
	Status  string
	OwnerID int64
	ForSale *bool
}

// ListBatches returns batches matching the filter, newest first.
func ListBatches(ctx context.Context, db *sql.DB, filter BatchFilter) ([]model.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches b WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND b.status = ?`
		args = append(args, filter.Status)
	}
	if filter.OwnerID > 0 {
		query += ` AND b.owner_id = ?`
		args = append(args, filter.OwnerID)
	}
	if filter.ForSale != nil {
		query += ` AND b.for_sale = ?`
		args = append(args, *filter.ForSale)
	}

	query += ` ORDER BY b.id DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	defer rows.Close()

	var batches []model.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning batch: %w", err)
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

// ListBatchForSale lists a batch for sale at an asking price. When the
// batch requires weather verification, the current oracle sample must
// fall inside the registered crop requirement's tolerance window. The
// market price is recomputed through the price oracle (pass-through when
// the feed is unconfigured).
func ListBatchForSale(ctx context.Context, db *sql.DB, gctx gate.Context, feed oracle.Feed, batchID, askingPrice int64, tradingMode string) (*model.Batch, error) {
	if askingPrice <= 0 {
		return nil, fmt.Errorf("%w: asking price must be positive", model.ErrInvalidArgument)
	}
	if tradingMode != "" && !model.ValidTradingMode(tradingMode) {
		return nil, fmt.Errorf("%w: unknown trading mode %q", model.ErrInvalidArgument, tradingMode)
	}

	quote, err := feed.CurrentPrice(ctx)
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
	if batch.OwnerID != gctx.ActorID || !gctx.Active {
		return nil, fmt.Errorf("%w: only the active current owner may list batch %d", model.ErrUnauthorized, batchID)
	}
	if batch.Status == model.BatchStatusFinalized {
		return nil, fmt.Errorf("%w: batch %d is finalized", model.ErrInvalidState, batchID)
	}

	var weather *model.WeatherSample
	if batch.RequiresWeather {
		w, err := feed.CurrentWeather(ctx)
		if err != nil {
			return nil, err
		}
		weather = &w

		var req model.CropRequirement
		err = tx.QueryRowContext(ctx,
			`SELECT crop, ideal_temp, ideal_humidity, max_rainfall, created_at
			 FROM crop_requirements WHERE crop = ?`, batch.Name,
		).Scan(&req.Crop, &req.IdealTemp, &req.IdealHumidity, &req.MaxRainfall, &req.CreatedAt)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("getting crop requirement: %w", err)
		}
		// No registered requirement means any weather is suitable.
		if err == nil && !req.Suitable(w) {
			return nil, fmt.Errorf("%w: batch %d conditions outside tolerance for %q",
				model.ErrWeatherUnsuitable, batchID, batch.Name)
		}
	}

	marketPrice := quote.Apply(askingPrice)
	newStatus := batch.Status
	if batch.Status == model.BatchStatusCreated {
		newStatus = model.BatchStatusListed
	}
	if tradingMode == "" {
		tradingMode = batch.TradingMode
	}

	if weather != nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE batches SET base_price = ?, market_price = ?, trading_mode = ?, for_sale = 1,
			        status = ?, weather_temp = ?, weather_humidity = ?, weather_rainfall = ?,
			        weather_wind = ?, weather_at = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`,
			askingPrice, marketPrice, tradingMode, newStatus,
			weather.Temperature, weather.Humidity, weather.Rainfall, weather.WindSpeed, weather.Timestamp,
			batchID,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE batches SET base_price = ?, market_price = ?, trading_mode = ?, for_sale = 1,
			        status = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`,
			askingPrice, marketPrice, tradingMode, newStatus, batchID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("listing batch for sale: %w", err)
	}

	if weather != nil {
		if err := appendEventTx(ctx, tx, model.EventWeatherVerified, model.EntityBatch, batchID, gctx.ActorID, map[string]any{
			"temperature": weather.Temperature,
			"humidity":    weather.Humidity,
			"rainfall":    weather.Rainfall,
		}); err != nil {
			return nil, err
		}
	}
	if err := appendEventTx(ctx, tx, model.EventPriceUpdated, model.EntityBatch, batchID, gctx.ActorID, map[string]any{
		"asking_price": askingPrice,
		"market_price": marketPrice,
	}); err != nil {
		return nil, err
	}
	if err := appendEventTx(ctx, tx, model.EventBatchListed, model.EntityBatch, batchID, gctx.ActorID, map[string]any{
		"asking_price": askingPrice,
		"trading_mode": tradingMode,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing listing: %w", err)
	}

	return GetBatch(ctx, db, batchID)
}

// TransferOwnership reassigns a batch to a new owner. Whether the
// transfer also advances the batch to SOLD is a server policy
// (transfer_marks_sold setting), off by default.
func TransferOwnership(ctx context.Context, db *sql.DB, gctx gate.Context, batchID, newOwnerID int64) (*model.Batch, error) {
	marksSold, err := TransferMarksSold(ctx, db)
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
	if batch.OwnerID != gctx.ActorID || !gctx.Active {
		return nil, fmt.Errorf("%w: only the active current owner may transfer batch %d", model.ErrUnauthorized, batchID)
	}
	if batch.Status == model.BatchStatusFinalized {
		return nil, fmt.Errorf("%w: batch %d is finalized", model.ErrInvalidState, batchID)
	}

	var newOwner int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stakeholders WHERE id = ? AND deleted_at IS NULL AND active = 1`,
		newOwnerID,
	).Scan(&newOwner)
	if err != nil {
		return nil, fmt.Errorf("checking new owner: %w", err)
	}
	if newOwner == 0 {
		return nil, fmt.Errorf("%w: stakeholder %d", model.ErrNotFound, newOwnerID)
	}

	if marksSold && !model.BatchStatusAtLeast(batch.Status, model.BatchStatusSold) {
		_, err = tx.ExecContext(ctx,
			`UPDATE batches SET owner_id = ?, for_sale = 0, status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			newOwnerID, model.BatchStatusSold, batchID,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE batches SET owner_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			newOwnerID, batchID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("transferring ownership: %w", err)
	}

	if err := appendEventTx(ctx, tx, model.EventOwnershipTransferred, model.EntityBatch, batchID, gctx.ActorID, map[string]any{
		"from": gctx.ActorID,
		"to":   newOwnerID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transfer: %w", err)
	}

	return GetBatch(ctx, db, batchID)
}

// markBatchSoldTx reassigns a batch to its buyer inside an already-open
// transaction. Invoked by the offer-acceptance and consumer-purchase
// paths, never directly by callers.
func markBatchSoldTx(ctx context.Context, tx *sql.Tx, batchID, buyerID int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE batches SET owner_id = ?, for_sale = 0, status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		buyerID, model.BatchStatusSold, batchID,
	)
	if err != nil {
		return fmt.Errorf("marking batch sold: %w", err)
	}
	return nil
}

// FinalizeBatch closes out a quality-checked batch. Terminal; the record
// is retained for audit.
func FinalizeBatch(ctx context.Context, db *sql.DB, gctx gate.Context, batchID int64) (*model.Batch, error) {
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
	if (batch.OwnerID != gctx.ActorID && !gctx.HasRole(model.RoleAdmin)) || !gctx.Active {
		return nil, fmt.Errorf("%w: only the owner or an admin may finalize batch %d", model.ErrUnauthorized, batchID)
	}
	if !model.CanBatchTransition(batch.Status, model.BatchStatusFinalized) {
		return nil, fmt.Errorf("%w: batch %d cannot move from %s to %s",
			model.ErrInvalidTransition, batchID, batch.Status, model.BatchStatusFinalized)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE batches SET status = ?, for_sale = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		model.BatchStatusFinalized, batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("finalizing batch: %w", err)
	}

	if err := appendEventTx(ctx, tx, model.EventBatchFinalized, model.EntityBatch, batchID, gctx.ActorID, nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing finalization: %w", err)
	}

	return GetBatch(ctx, db, batchID)
}

// SetBatchPhoto stores a processed photo for a batch. Owner only.
func SetBatchPhoto(ctx context.Context, db *sql.DB, gctx gate.Context, batchID int64, photo []byte, mime string) error {
	batch, err := getBatchTx(ctx, db, batchID)
	if err != nil {
		return err
	}
	if batch == nil {
		return fmt.Errorf("%w: batch %d", model.ErrNotFound, batchID)
	}
	if batch.OwnerID != gctx.ActorID || !gctx.Active {
		return fmt.Errorf("%w: only the active current owner may update batch %d", model.ErrUnauthorized, batchID)
	}

	_, err = db.ExecContext(ctx,
		`UPDATE batches SET photo = ?, photo_mime = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		photo, mime, batchID,
	)
	if err != nil {
		return fmt.Errorf("setting batch photo: %w", err)
	}
	return nil
}

// GetBatchPhoto returns a batch's photo data and MIME type.
func GetBatchPhoto(ctx context.Context, db *sql.DB, batchID int64) ([]byte, string, error) {
	var photo []byte
	var mime sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT photo, photo_mime FROM batches WHERE id = ?`, batchID,
	).Scan(&photo, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting batch photo: %w", err)
	}
	return photo, mime.String, nil
}
