// Package store persists parsed boundary layers and enrichment run records
// in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/openfido/census/internal/boundary"
)

// Cache is the SQLite-backed boundary cache.
type Cache struct {
	db *sql.DB
}

// NewCache opens a SQLite database at the given path and configures WAL mode.
func NewCache(dsn string) (*Cache, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "store: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "store: exec %s", pragma)
		}
	}
	return &Cache{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS layers (
	layer         TEXT PRIMARY KEY,
	product       TEXT NOT NULL,
	year          INTEGER NOT NULL,
	columns       TEXT NOT NULL,
	feature_count INTEGER NOT NULL,
	loaded_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	duration_ms   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS features (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	layer TEXT NOT NULL REFERENCES layers(layer),
	attrs TEXT NOT NULL,
	geom  BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS enrich_runs (
	id          TEXT PRIMARY KEY,
	input       TEXT NOT NULL,
	output      TEXT NOT NULL,
	row_count   INTEGER NOT NULL,
	matched     INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	started_at  DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_features_layer ON features(layer);
CREATE INDEX IF NOT EXISTS idx_enrich_runs_started_at ON enrich_runs(started_at);
`

// Migrate creates the cache schema.
func (c *Cache) Migrate(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "store: migrate")
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// LayerMeta describes a stored layer.
type LayerMeta struct {
	Layer        string
	Product      string
	Year         int
	Columns      []string
	FeatureCount int
	LoadedAt     time.Time
	DurationMs   int
}

// HasLayer reports whether a layer is present in the cache.
func (c *Cache) HasLayer(ctx context.Context, layer string) (bool, error) {
	var count int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM layers WHERE layer = ?`, layer,
	).Scan(&count)
	if err != nil {
		return false, eris.Wrapf(err, "store: check layer %s", layer)
	}
	return count > 0, nil
}

// SaveLayer replaces the stored features for a layer in a single transaction.
func (c *Cache) SaveLayer(ctx context.Context, meta LayerMeta, features []boundary.Feature) error {
	columnsJSON, err := json.Marshal(meta.Columns)
	if err != nil {
		return eris.Wrap(err, "store: marshal columns")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "store: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM features WHERE layer = ?`, meta.Layer); err != nil {
		return eris.Wrapf(err, "store: clear layer %s", meta.Layer)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO features (layer, attrs, geom) VALUES (?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "store: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i := range features {
		attrsJSON, err := json.Marshal(features[i].Attrs)
		if err != nil {
			return eris.Wrap(err, "store: marshal attrs")
		}
		wkb, err := boundary.EncodeWKB(features[i].Geom)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, meta.Layer, string(attrsJSON), wkb); err != nil {
			return eris.Wrapf(err, "store: insert feature into %s", meta.Layer)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO layers (layer, product, year, columns, feature_count, loaded_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (layer) DO UPDATE SET
			product = excluded.product,
			year = excluded.year,
			columns = excluded.columns,
			feature_count = excluded.feature_count,
			loaded_at = excluded.loaded_at,
			duration_ms = excluded.duration_ms`,
		meta.Layer, meta.Product, meta.Year, string(columnsJSON),
		len(features), time.Now().UTC(), meta.DurationMs,
	)
	if err != nil {
		return eris.Wrapf(err, "store: upsert layer %s", meta.Layer)
	}

	return eris.Wrap(tx.Commit(), "store: commit")
}

// LoadLayer reads a layer from the cache and builds its spatial index.
// Returns nil when the layer has not been loaded.
func (c *Cache) LoadLayer(ctx context.Context, layer string) (*boundary.Layer, error) {
	var columnsJSON string
	err := c.db.QueryRowContext(ctx,
		`SELECT columns FROM layers WHERE layer = ?`, layer,
	).Scan(&columnsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: load layer meta %s", layer)
	}

	var columns []string
	if err := json.Unmarshal([]byte(columnsJSON), &columns); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal columns")
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT attrs, geom FROM features WHERE layer = ? ORDER BY id`, layer,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "store: load features %s", layer)
	}
	defer rows.Close() //nolint:errcheck

	var features []boundary.Feature
	for rows.Next() {
		var attrsJSON string
		var wkb []byte
		if err := rows.Scan(&attrsJSON, &wkb); err != nil {
			return nil, eris.Wrap(err, "store: scan feature")
		}

		var attrs map[string]string
		if err := json.Unmarshal([]byte(attrsJSON), &attrs); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal attrs")
		}
		mp, err := boundary.DecodeWKB(wkb)
		if err != nil {
			return nil, err
		}
		features = append(features, boundary.Feature{Attrs: attrs, Geom: mp})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: iterate features")
	}

	return boundary.NewLayer(layer, columns, features), nil
}

// LayerStatus returns metadata for all cached layers.
func (c *Cache) LayerStatus(ctx context.Context) ([]LayerMeta, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT layer, product, year, columns, feature_count, loaded_at, duration_ms
		FROM layers ORDER BY layer`)
	if err != nil {
		return nil, eris.Wrap(err, "store: query layer status")
	}
	defer rows.Close() //nolint:errcheck

	var status []LayerMeta
	for rows.Next() {
		var m LayerMeta
		var columnsJSON string
		if err := rows.Scan(&m.Layer, &m.Product, &m.Year, &columnsJSON, &m.FeatureCount, &m.LoadedAt, &m.DurationMs); err != nil {
			return nil, eris.Wrap(err, "store: scan layer status")
		}
		if err := json.Unmarshal([]byte(columnsJSON), &m.Columns); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal status columns")
		}
		status = append(status, m)
	}
	return status, eris.Wrap(rows.Err(), "store: iterate layer status")
}

// Run records one enrichment invocation.
type Run struct {
	ID         string
	Input      string
	Output     string
	RowCount   int
	Matched    int
	Skipped    int
	StartedAt  time.Time
	DurationMs int
}

// RecordRun persists an enrichment run record, assigning it an ID.
func (c *Cache) RecordRun(ctx context.Context, run Run) (string, error) {
	id := uuid.New().String()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO enrich_runs (id, input, output, row_count, matched, skipped, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, run.Input, run.Output, run.RowCount, run.Matched, run.Skipped,
		run.StartedAt.UTC(), run.DurationMs,
	)
	if err != nil {
		return "", eris.Wrap(err, "store: record run")
	}
	return id, nil
}

// ListRuns returns the most recent enrichment runs, newest first.
func (c *Cache) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, input, output, row_count, matched, skipped, started_at, duration_ms
		FROM enrich_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Input, &r.Output, &r.RowCount, &r.Matched, &r.Skipped, &r.StartedAt, &r.DurationMs); err != nil {
			return nil, eris.Wrap(err, "store: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "store: iterate runs")
}
