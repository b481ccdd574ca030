package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Oskimark/snifer-mac/internal/domain"
	"github.com/Oskimark/snifer-mac/internal/ports"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS vendors (
		oui VARCHAR(6) PRIMARY KEY,
		vendor_name VARCHAR(255)
	)`,
	`CREATE TABLE IF NOT EXISTS detections (
		id SERIAL PRIMARY KEY,
		nodo VARCHAR(50),
		mac VARCHAR(50),
		rssi INTEGER,
		fingerprint VARCHAR(50),
		vendor VARCHAR(100),
		raw_packet TEXT,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS nodes (
		id VARCHAR(50) PRIMARY KEY,
		lat DOUBLE PRECISION DEFAULT -34.3382,
		lng DOUBLE PRECISION DEFAULT -56.7055,
		type VARCHAR(20) DEFAULT 'mesh',
		last_seen TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS detections_created_at_idx ON detections (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS detections_mac_idx ON detections (mac)`,
	`CREATE INDEX IF NOT EXISTS detections_nodo_idx ON detections (nodo)`,
}

const (
	lookupVendorsSQL = `SELECT oui, vendor_name FROM vendors WHERE oui = ANY($1)`

	insertDetectionSQL = `INSERT INTO detections (nodo, mac, rssi, fingerprint, vendor, raw_packet, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`

	upsertNodeSQL = `INSERT INTO nodes (id, lat, lng, type, last_seen)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET type = EXCLUDED.type, last_seen = EXCLUDED.last_seen`
)

// DetectionStore is the PostgreSQL primary store.
type DetectionStore struct {
	db *sql.DB
}

func NewDetectionStore(db *sql.DB) *DetectionStore {
	return &DetectionStore{db: db}
}

// Connect prepares a lib/pq pool without dialing; connections are made on
// first use.
func Connect(connString string) (*sql.DB, error) {
	if connString == "" {
		return nil, errors.New("postgres: empty connection string")
	}
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Open is Connect followed by a ping.
func Open(ctx context.Context, connString string) (*sql.DB, error) {
	db, err := Connect(connString)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

func (s *DetectionStore) Name() string { return "postgres" }

func (s *DetectionStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *DetectionStore) LookupVendors(ctx context.Context, prefixes []string) (map[string]string, error) {
	out := make(map[string]string, len(prefixes))
	if len(prefixes) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, lookupVendorsSQL, pq.Array(prefixes))
	if err != nil {
		return nil, fmt.Errorf("lookup vendors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			oui  string
			name sql.NullString
		)
		if err := rows.Scan(&oui, &name); err != nil {
			return nil, fmt.Errorf("scan vendor: %w", err)
		}
		if name.Valid && name.String != "" {
			out[oui] = name.String
		}
	}
	return out, rows.Err()
}

// Persist inserts the detection and upserts its node in one transaction.
func (s *DetectionStore) Persist(ctx context.Context, d domain.PersistedDetection, node domain.NodeRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	r := d.Record
	var id int64
	err = tx.QueryRowContext(ctx, insertDetectionSQL,
		r.NodeID,
		r.HardwareAddress,
		int(r.SignalStrength),
		r.Fingerprint,
		d.VendorName,
		r.Raw(),
		d.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert detection %s: %w", r.HardwareAddress, err)
	}

	if _, err := tx.ExecContext(ctx, upsertNodeSQL,
		node.NodeID,
		node.Latitude,
		node.Longitude,
		string(node.Type),
		node.LastSeen,
	); err != nil {
		return 0, fmt.Errorf("upsert node %s: %w", node.NodeID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

var _ ports.PrimaryStore = (*DetectionStore)(nil)
