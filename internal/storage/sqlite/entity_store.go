// Package sqlite persists scan entities in a single-file SQLite database for
// local runs without Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/scanfleet/internal/geo"
	"github.com/JakeFAU/scanfleet/internal/scan"
)

// EntityStore implements ingest.Store using modernc.org/sqlite. Writes are
// serialized through a single connection.
type EntityStore struct {
	db *sql.DB
}

// Open opens a SQLite database at dsn and configures WAL mode.
func Open(dsn string) (*EntityStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &EntityStore{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS scans (
	id                 TEXT PRIMARY KEY,
	origin             BLOB NOT NULL,
	scanned_at         INTEGER NOT NULL,
	creatures          INTEGER NOT NULL,
	points_of_interest INTEGER NOT NULL,
	structures         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS creatures (
	id            TEXT PRIMARY KEY,
	species_id    INTEGER NOT NULL,
	disappears_at INTEGER,
	geom          BLOB NOT NULL,
	last_seen     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS points_of_interest (
	id              TEXT PRIMARY KEY,
	enabled         INTEGER NOT NULL,
	lure_expires_at INTEGER,
	last_modified   INTEGER,
	geom            BLOB NOT NULL,
	last_seen       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS structures (
	id               TEXT PRIMARY KEY,
	team_id          INTEGER NOT NULL,
	guard_species_id INTEGER NOT NULL,
	points           INTEGER NOT NULL,
	enabled          INTEGER NOT NULL,
	last_modified    INTEGER,
	geom             BLOB NOT NULL,
	last_seen        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_creatures_disappears_at ON creatures(disappears_at);
CREATE INDEX IF NOT EXISTS idx_scans_scanned_at ON scans(scanned_at);
`

// Migrate creates the entity tables when missing.
func (s *EntityStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *EntityStore) Close() error {
	return eris.Wrap(s.db.Close(), "sqlite: close")
}

// Ping verifies the database is reachable.
func (s *EntityStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// SaveScan upserts every entity of result in one transaction. Rows with a
// newer last_seen are left untouched.
func (s *EntityStore) SaveScan(ctx context.Context, result scan.ScanResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	if err := writeScan(ctx, tx, result); err != nil {
		_ = tx.Rollback()
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit scan %s", result.ID)
}

func writeScan(ctx context.Context, tx *sql.Tx, result scan.ScanResult) error {
	seen := result.ScannedAt.UnixNano()
	if result.ID != "" {
		origin, err := geo.LocationEWKB(result.Location)
		if err != nil {
			return eris.Wrap(err, "sqlite: encode origin")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scans (id, origin, scanned_at, creatures, points_of_interest, structures)
			VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
			result.ID, origin, seen, len(result.Creatures), len(result.PointsOfInterest), len(result.Structures),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert scan %s", result.ID)
		}
	}

	for _, c := range result.Creatures {
		point, err := geo.PointEWKB(c.Latitude, c.Longitude)
		if err != nil {
			return eris.Wrapf(err, "sqlite: encode creature %s", c.ID)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO creatures (id, species_id, disappears_at, geom, last_seen)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				species_id = excluded.species_id,
				disappears_at = excluded.disappears_at,
				geom = excluded.geom,
				last_seen = excluded.last_seen
			WHERE excluded.last_seen >= creatures.last_seen`,
			c.ID, c.SpeciesID, unixOrNil(c.DisappearsAt), point, seen,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert creature %s", c.ID)
		}
	}

	for _, p := range result.PointsOfInterest {
		point, err := geo.PointEWKB(p.Latitude, p.Longitude)
		if err != nil {
			return eris.Wrapf(err, "sqlite: encode point of interest %s", p.ID)
		}
		var lure any
		if p.LureExpiresAt != nil {
			lure = p.LureExpiresAt.UnixNano()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO points_of_interest (id, enabled, lure_expires_at, last_modified, geom, last_seen)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				enabled = excluded.enabled,
				lure_expires_at = excluded.lure_expires_at,
				last_modified = excluded.last_modified,
				geom = excluded.geom,
				last_seen = excluded.last_seen
			WHERE excluded.last_seen >= points_of_interest.last_seen`,
			p.ID, p.Enabled, lure, unixOrNil(p.LastModified), point, seen,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert point of interest %s", p.ID)
		}
	}

	for _, st := range result.Structures {
		point, err := geo.PointEWKB(st.Latitude, st.Longitude)
		if err != nil {
			return eris.Wrapf(err, "sqlite: encode structure %s", st.ID)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO structures (id, team_id, guard_species_id, points, enabled, last_modified, geom, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				team_id = excluded.team_id,
				guard_species_id = excluded.guard_species_id,
				points = excluded.points,
				enabled = excluded.enabled,
				last_modified = excluded.last_modified,
				geom = excluded.geom,
				last_seen = excluded.last_seen
			WHERE excluded.last_seen >= structures.last_seen`,
			st.ID, st.TeamID, st.GuardSpeciesID, st.Points, st.Enabled, unixOrNil(st.LastModified), point, seen,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert structure %s", st.ID)
		}
	}
	return nil
}

// Counts returns the number of rows per entity table.
func (s *EntityStore) Counts(ctx context.Context) (creatures, pois, structures int, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM creatures),
		(SELECT COUNT(*) FROM points_of_interest),
		(SELECT COUNT(*) FROM structures)`)
	if err := row.Scan(&creatures, &pois, &structures); err != nil {
		return 0, 0, 0, eris.Wrap(err, "sqlite: count entities")
	}
	return creatures, pois, structures, nil
}

// Creatures returns stored creatures ordered by ID.
func (s *EntityStore) Creatures(ctx context.Context) ([]scan.Creature, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, species_id, disappears_at, geom FROM creatures ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query creatures")
	}
	defer rows.Close()

	var out []scan.Creature
	for rows.Next() {
		var (
			c         scan.Creature
			disappear sql.NullInt64
			point     []byte
		)
		if err := rows.Scan(&c.ID, &c.SpeciesID, &disappear, &point); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan creature")
		}
		if disappear.Valid {
			c.DisappearsAt = time.Unix(0, disappear.Int64).UTC()
		}
		c.Latitude, c.Longitude, err = geo.DecodePoint(point)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode creature %s", c.ID)
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate creatures")
}

func unixOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}
