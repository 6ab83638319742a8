// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crashlens/leadcrawler/internal/leads"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

// BusinessStoreConfig controls the Postgres connection pool used for
// business rows.
type BusinessStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// BusinessStore writes business rows into Postgres, one row per
// identity key. It assumes a table schema like:
//
//	CREATE TABLE businesses (
//		identity_key TEXT PRIMARY KEY,
//		name TEXT NOT NULL,
//		category TEXT,
//		address TEXT,
//		rating DOUBLE PRECISION,
//		review_count INTEGER,
//		source_url TEXT,
//		location_label TEXT,
//		phone TEXT,
//		website TEXT,
//		hours TEXT,
//		services JSONB,
//		created_at TIMESTAMPTZ NOT NULL,
//		updated_at TIMESTAMPTZ NOT NULL
//	);
type BusinessStore struct {
	pool  pgxPool
	table string
	now   func() time.Time
}

// NewBusinessStore creates a Postgres-backed BusinessStore using the
// provided config.
func NewBusinessStore(ctx context.Context, cfg BusinessStoreConfig) (*BusinessStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "businesses"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &BusinessStore{
		pool:  pool,
		table: table,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// NewBusinessStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewBusinessStoreWithPool(pool pgxPool, table string) (*BusinessStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "businesses"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &BusinessStore{
		pool:  pool,
		table: table,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the underlying pool resources.
func (s *BusinessStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Upsert inserts the record or refreshes the row sharing its identity
// key. created_at is written once and never touched on update. A
// unique-violation race with a concurrent inserter is resolved by
// falling through to a plain update.
func (s *BusinessStore) Upsert(ctx context.Context, record leads.BusinessRecord) (leads.UpsertOutcome, error) {
	if s == nil || s.pool == nil {
		return leads.UpsertDropped, fmt.Errorf("business store is not configured")
	}
	key := record.IdentityKey()
	if key == "" {
		return leads.UpsertDropped, leads.ErrNoIdentity
	}

	servicesJSON, err := json.Marshal(normalizeServices(record.Services))
	if err != nil {
		return leads.UpsertDropped, fmt.Errorf("marshal services: %w", err)
	}

	now := s.now()
	query := fmt.Sprintf(`
INSERT INTO %s (
	identity_key,
	name,
	category,
	address,
	rating,
	review_count,
	source_url,
	location_label,
	phone,
	website,
	hours,
	services,
	created_at,
	updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13
)
ON CONFLICT (identity_key) DO UPDATE SET
	name = EXCLUDED.name,
	category = EXCLUDED.category,
	address = EXCLUDED.address,
	rating = EXCLUDED.rating,
	review_count = EXCLUDED.review_count,
	source_url = EXCLUDED.source_url,
	location_label = EXCLUDED.location_label,
	phone = EXCLUDED.phone,
	website = EXCLUDED.website,
	hours = EXCLUDED.hours,
	services = EXCLUDED.services,
	updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0)`, s.table)

	args := []any{
		key,
		record.Name,
		record.Category,
		record.Address,
		record.Rating,
		record.ReviewCount,
		record.SourceURL,
		record.LocationLabel,
		record.Phone,
		record.Website,
		record.Hours,
		servicesJSON,
		now,
	}

	var inserted bool
	err = s.pool.QueryRow(ctx, query, args...).Scan(&inserted)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return s.updateExisting(ctx, key, record, servicesJSON, now)
		}
		return leads.UpsertDropped, fmt.Errorf("upsert business: %w", err)
	}
	if inserted {
		return leads.UpsertInserted, nil
	}
	return leads.UpsertUpdated, nil
}

// updateExisting refreshes the row that won the insert race.
func (s *BusinessStore) updateExisting(
	ctx context.Context,
	key string,
	record leads.BusinessRecord,
	servicesJSON []byte,
	now time.Time,
) (leads.UpsertOutcome, error) {
	query := fmt.Sprintf(`
UPDATE %s SET
	name = $2,
	category = $3,
	address = $4,
	rating = $5,
	review_count = $6,
	source_url = $7,
	location_label = $8,
	phone = $9,
	website = $10,
	hours = $11,
	services = $12,
	updated_at = $13
WHERE identity_key = $1`, s.table)

	_, err := s.pool.Exec(ctx, query,
		key,
		record.Name,
		record.Category,
		record.Address,
		record.Rating,
		record.ReviewCount,
		record.SourceURL,
		record.LocationLabel,
		record.Phone,
		record.Website,
		record.Hours,
		servicesJSON,
		now,
	)
	if err != nil {
		return leads.UpsertDropped, fmt.Errorf("update business after insert race: %w", err)
	}
	return leads.UpsertUpdated, nil
}

// FindByIdentity fetches the record stored under key, if any.
func (s *BusinessStore) FindByIdentity(ctx context.Context, key string) (leads.BusinessRecord, bool, error) {
	if s == nil || s.pool == nil {
		return leads.BusinessRecord{}, false, fmt.Errorf("business store is not configured")
	}
	query := fmt.Sprintf(`
SELECT name, category, address, rating, review_count, source_url,
	location_label, phone, website, hours, services, created_at, updated_at
FROM %s
WHERE identity_key = $1`, s.table)

	record, err := scanBusiness(s.pool.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return leads.BusinessRecord{}, false, nil
	}
	if err != nil {
		return leads.BusinessRecord{}, false, fmt.Errorf("find business: %w", err)
	}
	return record, true, nil
}

// List returns records ordered by creation time with limit/offset
// paging.
func (s *BusinessStore) List(ctx context.Context, limit, offset int) ([]leads.BusinessRecord, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("business store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`
SELECT name, category, address, rating, review_count, source_url,
	location_label, phone, website, hours, services, created_at, updated_at
FROM %s
ORDER BY created_at, identity_key
LIMIT $1 OFFSET $2`, s.table)

	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list businesses: %w", err)
	}
	defer rows.Close()

	var records []leads.BusinessRecord
	for rows.Next() {
		record, err := scanBusiness(rows)
		if err != nil {
			return nil, fmt.Errorf("scan business: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate businesses: %w", err)
	}
	return records, nil
}

func scanBusiness(row pgx.Row) (leads.BusinessRecord, error) {
	var (
		record       leads.BusinessRecord
		servicesJSON []byte
	)
	err := row.Scan(
		&record.Name,
		&record.Category,
		&record.Address,
		&record.Rating,
		&record.ReviewCount,
		&record.SourceURL,
		&record.LocationLabel,
		&record.Phone,
		&record.Website,
		&record.Hours,
		&servicesJSON,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return leads.BusinessRecord{}, err
	}
	if len(servicesJSON) > 0 {
		if err := json.Unmarshal(servicesJSON, &record.Services); err != nil {
			return leads.BusinessRecord{}, fmt.Errorf("unmarshal services: %w", err)
		}
	}
	if len(record.Services) == 0 {
		record.Services = nil
	}
	return record, nil
}

func normalizeServices(services []string) []string {
	if len(services) == 0 {
		return []string{}
	}
	return append([]string(nil), services...)
}
