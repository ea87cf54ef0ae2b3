package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS stakeholders (
    id            INTEGER PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'consumer'
        CHECK (role IN ('farmer', 'processor', 'distributor', 'shipper', 'retailer', 'consumer', 'admin')),
    active        INTEGER NOT NULL DEFAULT 1,
    verified      INTEGER NOT NULL DEFAULT 0,
    balance       INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
    location      TEXT,
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_stakeholders_username_active
    ON stakeholders(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS batches (
    id               INTEGER PRIMARY KEY,
    farmer_id        INTEGER NOT NULL REFERENCES stakeholders(id),
    owner_id         INTEGER NOT NULL REFERENCES stakeholders(id),
    name             TEXT NOT NULL,
    description      TEXT,
    quantity         INTEGER NOT NULL CHECK (quantity >= 0),
    initial_quantity INTEGER NOT NULL CHECK (initial_quantity > 0),
    base_price       INTEGER NOT NULL CHECK (base_price > 0),
    market_price     INTEGER NOT NULL DEFAULT 0,
    origin_location  TEXT NOT NULL,
    metadata_hash    TEXT,
    photo            BLOB,
    photo_mime       TEXT,
    status           TEXT NOT NULL DEFAULT 'CREATED'
        CHECK (status IN ('CREATED', 'LISTED', 'OFFERED', 'SOLD', 'SHIPPED',
                          'RECEIVED', 'PROCESSED', 'QUALITY_CHECKED', 'FINALIZED')),
    trading_mode     TEXT NOT NULL DEFAULT 'SPOT' CHECK (trading_mode IN ('SPOT', 'CONTRACT', 'AUCTION')),
    for_sale         INTEGER NOT NULL DEFAULT 0,
    requires_weather INTEGER NOT NULL DEFAULT 0,
    weather_temp     INTEGER,
    weather_humidity INTEGER,
    weather_rainfall INTEGER,
    weather_wind     INTEGER,
    weather_at       DATETIME,
    created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);
CREATE INDEX IF NOT EXISTS idx_batches_owner ON batches(owner_id);

CREATE TABLE IF NOT EXISTS batch_authorized_buyers (
    batch_id       INTEGER NOT NULL REFERENCES batches(id),
    stakeholder_id INTEGER NOT NULL REFERENCES stakeholders(id),
    PRIMARY KEY (batch_id, stakeholder_id)
);

CREATE TABLE IF NOT EXISTS processing_records (
    id               INTEGER PRIMARY KEY,
    batch_id         INTEGER NOT NULL REFERENCES batches(id),
    processor_id     INTEGER NOT NULL REFERENCES stakeholders(id),
    processing_type  TEXT NOT NULL,
    quality_metrics  TEXT,
    output_quantity  INTEGER NOT NULL CHECK (output_quantity >= 0),
    weather_temp     INTEGER,
    weather_humidity INTEGER,
    weather_rainfall INTEGER,
    weather_wind     INTEGER,
    processed_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_processing_batch ON processing_records(batch_id);

CREATE TABLE IF NOT EXISTS quality_records (
    id           INTEGER PRIMARY KEY,
    batch_id     INTEGER NOT NULL REFERENCES batches(id),
    inspector_id INTEGER NOT NULL REFERENCES stakeholders(id),
    grade        TEXT NOT NULL,
    moisture     INTEGER NOT NULL,
    purity       INTEGER NOT NULL,
    organic      INTEGER NOT NULL DEFAULT 0,
    cert_body    TEXT,
    passed       INTEGER NOT NULL,
    checked_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_quality_batch ON quality_records(batch_id);

CREATE TABLE IF NOT EXISTS offers (
    id              INTEGER PRIMARY KEY,
    batch_id        INTEGER NOT NULL REFERENCES batches(id),
    creator_id      INTEGER NOT NULL REFERENCES stakeholders(id),
    counterparty_id INTEGER REFERENCES stakeholders(id),
    type            TEXT NOT NULL CHECK (type IN ('BUY', 'SELL', 'CONTRACT')),
    status          TEXT NOT NULL DEFAULT 'OPEN'
        CHECK (status IN ('OPEN', 'ACCEPTED', 'REJECTED', 'CANCELLED')),
    price_per_unit  INTEGER NOT NULL CHECK (price_per_unit > 0),
    quantity        INTEGER NOT NULL CHECK (quantity > 0),
    terms_hash      TEXT,
    expires_at      DATETIME NOT NULL,
    accepted_by     INTEGER REFERENCES stakeholders(id),
    created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_offers_batch ON offers(batch_id);
CREATE INDEX IF NOT EXISTS idx_offers_status ON offers(status);

CREATE TABLE IF NOT EXISTS shipments (
    id            INTEGER PRIMARY KEY,
    batch_id      INTEGER NOT NULL REFERENCES batches(id),
    offer_id      INTEGER NOT NULL REFERENCES offers(id),
    sender_id     INTEGER NOT NULL REFERENCES stakeholders(id),
    receiver_id   INTEGER NOT NULL REFERENCES stakeholders(id),
    shipper_id    INTEGER NOT NULL REFERENCES stakeholders(id),
    tracking_id   TEXT NOT NULL UNIQUE,
    from_location TEXT NOT NULL,
    to_location   TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'CREATED'
        CHECK (status IN ('CREATED', 'PICKED_UP', 'IN_TRANSIT', 'DELIVERED',
                          'CONFIRMED', 'UNABLE_TO_DELIVER', 'CANCELLED')),
    metadata_hash TEXT,
    cancel_reason TEXT,
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    picked_up_at  DATETIME,
    delivered_at  DATETIME,
    confirmed_at  DATETIME
);

CREATE INDEX IF NOT EXISTS idx_shipments_batch ON shipments(batch_id);
CREATE INDEX IF NOT EXISTS idx_shipments_status ON shipments(status);

CREATE TABLE IF NOT EXISTS shipment_events (
    id          INTEGER PRIMARY KEY,
    shipment_id INTEGER NOT NULL REFERENCES shipments(id),
    actor_id    INTEGER NOT NULL REFERENCES stakeholders(id),
    status      TEXT NOT NULL,
    location    TEXT,
    note        TEXT,
    recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_shipment_events_shipment ON shipment_events(shipment_id);

CREATE TABLE IF NOT EXISTS purchases (
    id              INTEGER PRIMARY KEY,
    receipt         TEXT NOT NULL UNIQUE,
    batch_id        INTEGER NOT NULL REFERENCES batches(id),
    consumer_id     INTEGER NOT NULL REFERENCES stakeholders(id),
    retailer_id     INTEGER NOT NULL REFERENCES stakeholders(id),
    quantity        INTEGER NOT NULL CHECK (quantity > 0),
    purchase_price  INTEGER NOT NULL,
    pickup_location TEXT,
    picked_up       INTEGER NOT NULL DEFAULT 0,
    claimed         INTEGER NOT NULL DEFAULT 0,
    purchased_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_purchases_batch ON purchases(batch_id);
CREATE INDEX IF NOT EXISTS idx_purchases_consumer ON purchases(consumer_id);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id         INTEGER PRIMARY KEY,
    from_id    INTEGER REFERENCES stakeholders(id),
    to_id      INTEGER REFERENCES stakeholders(id),
    amount     INTEGER NOT NULL CHECK (amount > 0),
    kind       TEXT NOT NULL CHECK (kind IN ('deposit', 'sale', 'purchase', 'refund')),
    batch_id   INTEGER REFERENCES batches(id),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS registry_events (
    id          INTEGER PRIMARY KEY,
    uid         TEXT NOT NULL UNIQUE,
    type        TEXT NOT NULL,
    entity_kind TEXT NOT NULL,
    entity_id   INTEGER NOT NULL,
    actor_id    INTEGER NOT NULL,
    payload     TEXT,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_registry_events_entity ON registry_events(entity_kind, entity_id);
CREATE INDEX IF NOT EXISTS idx_registry_events_type ON registry_events(type);

CREATE TABLE IF NOT EXISTS crop_requirements (
    crop           TEXT PRIMARY KEY,
    ideal_temp     INTEGER NOT NULL,
    ideal_humidity INTEGER NOT NULL,
    max_rainfall   INTEGER NOT NULL,
    created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS oracle_samples (
    id             INTEGER PRIMARY KEY,
    kind           TEXT NOT NULL CHECK (kind IN ('price', 'weather')),
    price_value    INTEGER,
    price_decimals INTEGER,
    temperature    INTEGER,
    humidity       INTEGER,
    rainfall       INTEGER,
    wind_speed     INTEGER,
    recorded_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_oracle_samples_kind ON oracle_samples(kind, recorded_at);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
