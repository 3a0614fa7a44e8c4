// Package index exports annotation stores into a SQLite database and looks
// annotations up by data key and value across every exported store.
package index

import (
	"context"
	"database/sql"
	"os"

	"github.com/FocuswithJustin/PechaStam/core/errors"
	"github.com/FocuswithJustin/PechaStam/core/sqlite"
	"github.com/FocuswithJustin/PechaStam/core/stam"
	"github.com/FocuswithJustin/PechaStam/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS stores (
	name TEXT PRIMARY KEY,
	store_id TEXT NOT NULL,
	annotations INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS resources (
	store TEXT NOT NULL REFERENCES stores(name) ON DELETE CASCADE,
	id TEXT NOT NULL,
	include TEXT,
	checksum TEXT NOT NULL,
	PRIMARY KEY (store, id)
);
CREATE TABLE IF NOT EXISTS datasets (
	store TEXT NOT NULL REFERENCES stores(name) ON DELETE CASCADE,
	id TEXT NOT NULL,
	primary_key TEXT NOT NULL,
	PRIMARY KEY (store, id)
);
CREATE TABLE IF NOT EXISTS annotations (
	store TEXT NOT NULL REFERENCES stores(name) ON DELETE CASCADE,
	id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	resource TEXT,
	span_start INTEGER,
	span_end INTEGER,
	target TEXT,
	PRIMARY KEY (store, id)
);
CREATE TABLE IF NOT EXISTS data (
	store TEXT NOT NULL,
	annotation TEXT NOT NULL,
	dataset TEXT NOT NULL,
	data_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	value_type TEXT NOT NULL,
	FOREIGN KEY (store, annotation) REFERENCES annotations(store, id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_data_key_value ON data(key, value);
`

// Index is an open annotation index.
type Index struct {
	db   *sql.DB
	path string
}

// Hit is one annotation found by Find.
type Hit struct {
	Store        string
	AnnotationID string
	ResourceID   string    // empty for meta-annotations
	Span         stam.Span // zero for meta-annotations
	Target       string    // target annotation of a meta-annotation
	Key          string
	Value        string
}

// IsMeta reports whether the hit is a meta-annotation.
func (h Hit) IsMeta() bool { return h.Target != "" }

// Create opens the index at path, creating the file and its tables when
// they do not exist yet.
func Create(ctx context.Context, path string) (*Index, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, errors.NewIO("open index", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.NewIO("create schema", path, err)
	}
	return &Index{db: db, path: path}, nil
}

// Open opens an existing index read-only.
func Open(path string) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &errors.NotFoundError{Resource: "index", ID: path, Err: errors.ErrNotFound}
	}
	db, err := sqlite.OpenReadOnly(path)
	if err != nil {
		return nil, errors.NewIO("open index", path, err)
	}
	db.SetMaxOpenConns(1)
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM stores`).Scan(&n); err != nil {
		db.Close()
		return nil, &errors.ParseError{Format: "index", Path: path, Message: "missing stores table", Err: err}
	}
	return &Index{db: db, path: path}, nil
}

// Path returns the database file.
func (ix *Index) Path() string { return ix.path }

// Close closes the database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// AddStore exports s under name in one transaction. Names are unique
// within an index.
func (ix *Index) AddStore(ctx context.Context, name string, s *stam.Store) (err error) {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewIO("begin", ix.path, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM stores WHERE name = ?`, name).Scan(&exists); err != nil {
		return errors.NewIO("query", ix.path, err)
	}
	if exists > 0 {
		return errors.NewDuplicate("store", name)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO stores (name, store_id, annotations) VALUES (?, ?, ?)`,
		name, s.ID(), s.Len()); err != nil {
		return errors.NewIO("insert store", name, err)
	}
	for r := range s.Resources() {
		sum, err := r.Checksum()
		if err != nil {
			return errors.Wrapf(err, "resource %s", r.ID())
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO resources (store, id, include, checksum) VALUES (?, ?, ?, ?)`,
			name, r.ID(), r.Include(), sum); err != nil {
			return errors.NewIO("insert resource", r.ID(), err)
		}
	}
	for ds := range s.DataSets() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO datasets (store, id, primary_key) VALUES (?, ?, ?)`,
			name, ds.ID(), ds.PrimaryKey()); err != nil {
			return errors.NewIO("insert dataset", ds.ID(), err)
		}
	}
	if err := insertAnnotations(ctx, tx, name, s); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.NewIO("commit", ix.path, err)
	}
	logging.Info("store indexed", "index", ix.path, "store", name, "annotations", s.Len())
	return nil
}

func insertAnnotations(ctx context.Context, tx *sql.Tx, name string, s *stam.Store) error {
	annStmt, err := tx.PrepareContext(ctx, `INSERT INTO annotations
		(store, id, seq, resource, span_start, span_end, target) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.NewIO("prepare", name, err)
	}
	defer annStmt.Close()
	dataStmt, err := tx.PrepareContext(ctx, `INSERT INTO data
		(store, annotation, dataset, data_id, key, value, value_type) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.NewIO("prepare", name, err)
	}
	defer dataStmt.Close()

	seq := 0
	for a := range s.Annotations() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var resource, target sql.NullString
		var start, end sql.NullInt64
		if a.IsMeta() {
			target = sql.NullString{String: a.Target().AnnotationID, Valid: true}
		} else {
			span := a.Span()
			resource = sql.NullString{String: a.ResourceID(), Valid: true}
			start = sql.NullInt64{Int64: int64(span.Start), Valid: true}
			end = sql.NullInt64{Int64: int64(span.End), Valid: true}
		}
		if _, err := annStmt.ExecContext(ctx, name, a.ID(), seq, resource, start, end, target); err != nil {
			return errors.NewIO("insert annotation", a.ID(), err)
		}
		for _, d := range a.Data() {
			if _, err := dataStmt.ExecContext(ctx, name, a.ID(), d.DataSet().ID(), d.ID(),
				d.Key(), d.String(), valueType(d.Value())); err != nil {
				return errors.NewIO("insert data", d.ID(), err)
			}
		}
		seq++
	}
	return nil
}

func valueType(v any) string {
	switch v.(type) {
	case nil:
		return "Null"
	case int64:
		return "Int"
	case float64:
		return "Float"
	case bool:
		return "Bool"
	default:
		return "String"
	}
}

// Find returns the annotations carrying key with the textual value, in
// store name then insertion order. An empty value matches any value.
func (ix *Index) Find(ctx context.Context, key, value string) ([]Hit, error) {
	q := `SELECT a.store, a.id, a.resource, a.span_start, a.span_end, a.target, d.key, d.value
		FROM data d JOIN annotations a ON a.store = d.store AND a.id = d.annotation
		WHERE d.key = ?`
	args := []any{key}
	if value != "" {
		q += ` AND d.value = ?`
		args = append(args, value)
	}
	q += ` ORDER BY a.store, a.seq`

	rows, err := ix.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.NewIO("query", ix.path, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var resource, target sql.NullString
		var start, end sql.NullInt64
		if err := rows.Scan(&h.Store, &h.AnnotationID, &resource, &start, &end, &target, &h.Key, &h.Value); err != nil {
			return nil, errors.NewIO("scan", ix.path, err)
		}
		h.ResourceID = resource.String
		h.Target = target.String
		h.Span = stam.Span{Start: int(start.Int64), End: int(end.Int64)}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewIO("query", ix.path, err)
	}
	return hits, nil
}

// Count returns the number of indexed annotations.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM annotations`).Scan(&n); err != nil {
		return 0, errors.NewIO("query", ix.path, err)
	}
	return n, nil
}

// Stores returns the indexed store names, sorted.
func (ix *Index) Stores(ctx context.Context) ([]string, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT name FROM stores ORDER BY name`)
	if err != nil {
		return nil, errors.NewIO("query", ix.path, err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.NewIO("scan", ix.path, err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// RemoveStore deletes a store and everything exported with it.
func (ix *Index) RemoveStore(ctx context.Context, name string) error {
	res, err := ix.db.ExecContext(ctx, `DELETE FROM stores WHERE name = ?`, name)
	if err != nil {
		return errors.NewIO("delete store", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound("store", name)
	}
	return nil
}
