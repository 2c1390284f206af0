package report

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS predictions (
	run_id        TEXT NOT NULL,
	model_version TEXT NOT NULL,
	raster        TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	tile_row      INTEGER NOT NULL,
	tile_col      INTEGER NOT NULL,
	x_min         INTEGER NOT NULL,
	y_min         INTEGER NOT NULL,
	label         TEXT NOT NULL,
	confidence    REAL NOT NULL,
	PRIMARY KEY (run_id, tile_row, tile_col)
)`

// Store keeps prediction runs in a SQLite database.
type Store struct {
	db *sql.DB
}

// Run identifies one inference run stored in a Store.
type Run struct {
	ID           string
	ModelVersion string
	Raster       string
}

// OpenStore opens (creating if needed) the SQLite database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening sqlite database %q", path)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating predictions table")
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores the records of run in a single transaction.
func (s *Store) Insert(ctx context.Context, run Run, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO predictions
		(run_id, model_version, raster, created_at, tile_row, tile_col, x_min, y_min, label, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "preparing insert")
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, run.ID, run.ModelVersion, run.Raster, now,
			r.TileRow, r.TileCol, r.XMin, r.YMin, r.Label, r.Confidence); err != nil {
			return errors.Wrapf(err, "inserting tile (%d, %d)", r.TileRow, r.TileCol)
		}
	}
	return errors.Wrap(tx.Commit(), "committing predictions")
}

// Records returns the stored records of a run in row-major tile order.
func (s *Store) Records(ctx context.Context, runID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tile_row, tile_col, x_min, y_min, label, confidence
		FROM predictions WHERE run_id = ? ORDER BY tile_row, tile_col`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "querying predictions")
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.TileRow, &r.TileCol, &r.XMin, &r.YMin, &r.Label, &r.Confidence); err != nil {
			return nil, errors.Wrap(err, "scanning prediction")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterating predictions")
}
