// Package postgres persists scan entities into PostGIS-enabled Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/scanfleet/internal/geo"
	"github.com/JakeFAU/scanfleet/internal/scan"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Tables names the destination tables.
type Tables struct {
	Scans            string
	Creatures        string
	PointsOfInterest string
	Structures       string
}

func (t Tables) withDefaults() Tables {
	if t.Scans == "" {
		t.Scans = "scans"
	}
	if t.Creatures == "" {
		t.Creatures = "creatures"
	}
	if t.PointsOfInterest == "" {
		t.PointsOfInterest = "points_of_interest"
	}
	if t.Structures == "" {
		t.Structures = "structures"
	}
	return t
}

func (t Tables) validate() error {
	for _, name := range []string{t.Scans, t.Creatures, t.PointsOfInterest, t.Structures} {
		if !validTableName.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	return nil
}

// Config controls the Postgres connection pool used for entity rows.
type Config struct {
	DSN             string
	Tables          Tables
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// EntityStore upserts scan entities. Each SaveScan runs in one transaction
// and only overwrites rows whose last_seen is not newer than the incoming
// scan, so re-delivery is idempotent.
type EntityStore struct {
	pool   pool
	tables Tables
}

// NewEntityStore connects to Postgres using cfg.
func NewEntityStore(ctx context.Context, cfg Config) (*EntityStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	tables := cfg.Tables.withDefaults()
	if err := tables.validate(); err != nil {
		return nil, err
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &EntityStore{pool: p, tables: tables}, nil
}

// NewEntityStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewEntityStoreWithPool(p pool, tables Tables) (*EntityStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	tables = tables.withDefaults()
	if err := tables.validate(); err != nil {
		return nil, err
	}
	return &EntityStore{pool: p, tables: tables}, nil
}

// Close releases the underlying pool resources.
func (s *EntityStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies connectivity.
func (s *EntityStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Migrate creates the PostGIS extension and entity tables when missing.
func (s *EntityStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return nil
}

func (s *EntityStore) schema() []string {
	t := s.tables
	return []string{
		`CREATE EXTENSION IF NOT EXISTS postgis`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	origin geometry(PointZ, 4326) NOT NULL,
	scanned_at TIMESTAMPTZ NOT NULL,
	creatures INT NOT NULL,
	points_of_interest INT NOT NULL,
	structures INT NOT NULL
)`, t.Scans),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	species_id INT NOT NULL,
	disappears_at TIMESTAMPTZ,
	geom geometry(Point, 4326) NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL
)`, t.Creatures),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	enabled BOOLEAN NOT NULL,
	lure_expires_at TIMESTAMPTZ,
	last_modified TIMESTAMPTZ,
	geom geometry(Point, 4326) NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL
)`, t.PointsOfInterest),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	team_id INT NOT NULL,
	guard_species_id INT NOT NULL,
	points INT NOT NULL,
	enabled BOOLEAN NOT NULL,
	last_modified TIMESTAMPTZ,
	geom geometry(Point, 4326) NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL
)`, t.Structures),
	}
}

// SaveScan upserts every entity of result in one transaction.
func (s *EntityStore) SaveScan(ctx context.Context, result scan.ScanResult) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("entity store is not configured")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := s.write(ctx, tx, result); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit scan %s: %w", result.ID, err)
	}
	return nil
}

func (s *EntityStore) write(ctx context.Context, tx pgx.Tx, result scan.ScanResult) error {
	seen := result.ScannedAt
	if result.ID != "" {
		origin, err := geo.LocationEWKB(result.Location)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, s.insertScanSQL(),
			result.ID, origin, seen,
			len(result.Creatures), len(result.PointsOfInterest), len(result.Structures),
		); err != nil {
			return fmt.Errorf("insert scan %s: %w", result.ID, err)
		}
	}
	for _, c := range result.Creatures {
		point, err := geo.PointEWKB(c.Latitude, c.Longitude)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, s.upsertCreatureSQL(),
			c.ID, c.SpeciesID, nullTime(c.DisappearsAt), point, seen,
		); err != nil {
			return fmt.Errorf("upsert creature %s: %w", c.ID, err)
		}
	}
	for _, p := range result.PointsOfInterest {
		point, err := geo.PointEWKB(p.Latitude, p.Longitude)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, s.upsertPointOfInterestSQL(),
			p.ID, p.Enabled, p.LureExpiresAt, nullTime(p.LastModified), point, seen,
		); err != nil {
			return fmt.Errorf("upsert point of interest %s: %w", p.ID, err)
		}
	}
	for _, st := range result.Structures {
		point, err := geo.PointEWKB(st.Latitude, st.Longitude)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, s.upsertStructureSQL(),
			st.ID, st.TeamID, st.GuardSpeciesID, st.Points, st.Enabled, nullTime(st.LastModified), point, seen,
		); err != nil {
			return fmt.Errorf("upsert structure %s: %w", st.ID, err)
		}
	}
	return nil
}

func (s *EntityStore) insertScanSQL() string {
	return fmt.Sprintf(`
INSERT INTO %s (id, origin, scanned_at, creatures, points_of_interest, structures)
VALUES ($1, ST_GeomFromEWKB($2), $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`, s.tables.Scans)
}

func (s *EntityStore) upsertCreatureSQL() string {
	t := s.tables.Creatures
	return fmt.Sprintf(`
INSERT INTO %[1]s (id, species_id, disappears_at, geom, last_seen)
VALUES ($1, $2, $3, ST_GeomFromEWKB($4), $5)
ON CONFLICT (id) DO UPDATE SET
	species_id = EXCLUDED.species_id,
	disappears_at = EXCLUDED.disappears_at,
	geom = EXCLUDED.geom,
	last_seen = EXCLUDED.last_seen
WHERE %[1]s.last_seen <= EXCLUDED.last_seen`, t)
}

func (s *EntityStore) upsertPointOfInterestSQL() string {
	t := s.tables.PointsOfInterest
	return fmt.Sprintf(`
INSERT INTO %[1]s (id, enabled, lure_expires_at, last_modified, geom, last_seen)
VALUES ($1, $2, $3, $4, ST_GeomFromEWKB($5), $6)
ON CONFLICT (id) DO UPDATE SET
	enabled = EXCLUDED.enabled,
	lure_expires_at = EXCLUDED.lure_expires_at,
	last_modified = EXCLUDED.last_modified,
	geom = EXCLUDED.geom,
	last_seen = EXCLUDED.last_seen
WHERE %[1]s.last_seen <= EXCLUDED.last_seen`, t)
}

func (s *EntityStore) upsertStructureSQL() string {
	t := s.tables.Structures
	return fmt.Sprintf(`
INSERT INTO %[1]s (id, team_id, guard_species_id, points, enabled, last_modified, geom, last_seen)
VALUES ($1, $2, $3, $4, $5, $6, ST_GeomFromEWKB($7), $8)
ON CONFLICT (id) DO UPDATE SET
	team_id = EXCLUDED.team_id,
	guard_species_id = EXCLUDED.guard_species_id,
	points = EXCLUDED.points,
	enabled = EXCLUDED.enabled,
	last_modified = EXCLUDED.last_modified,
	geom = EXCLUDED.geom,
	last_seen = EXCLUDED.last_seen
WHERE %[1]s.last_seen <= EXCLUDED.last_seen`, t)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
