package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/canlidar/internal/query"
	"github.com/sells-group/canlidar/internal/resolver"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "canlidar.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS queries (
	id          TEXT PRIMARY KEY,
	request     TEXT NOT NULL,
	target_year INTEGER,
	result      TEXT NOT NULL,
	file_count  INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS query_tiles (
	query_id TEXT NOT NULL REFERENCES queries(id) ON DELETE CASCADE,
	tile_id  TEXT NOT NULL,
	project  TEXT NOT NULL,
	url      TEXT NOT NULL,
	provider TEXT NOT NULL,
	year     INTEGER
);

CREATE INDEX IF NOT EXISTS idx_queries_created_at ON queries(created_at);
CREATE INDEX IF NOT EXISTS idx_query_tiles_query_id ON query_tiles(query_id);
CREATE INDEX IF NOT EXISTS idx_query_tiles_project ON query_tiles(project);
`

// Migrate implements Store.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveQuery implements Store.
func (s *SQLiteStore) SaveQuery(ctx context.Context, req query.Request, targetYear *int, res *resolver.QueryResult) (*Record, error) {
	reqJSON, resJSON, err := encode(req, res)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:         uuid.New().String(),
		CreatedAt:  s.now().UTC(),
		Request:    req,
		TargetYear: targetYear,
		Result:     *res,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO queries (id, request, target_year, result, file_count, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, string(reqJSON), targetYear, string(resJSON), res.FileCount, rec.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert query")
	}

	insert := `INSERT INTO query_tiles (` + strings.Join(tileColumns, ", ") + `) VALUES (?, ?, ?, ?, ?, ?)`
	for _, row := range tileRows(rec.ID, res) {
		if _, err := tx.ExecContext(ctx, insert, row...); err != nil {
			return nil, eris.Wrap(err, "sqlite: insert query tile")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit")
	}
	return rec, nil
}

// GetQuery implements Store.
func (s *SQLiteStore) GetQuery(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, request, target_year, result, created_at FROM queries WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get query %s", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, selectTiles+`? ORDER BY rowid`, id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load query tiles")
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		t, err := scanTile(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan query tile")
		}
		rec.Result.Tiles = append(rec.Result.Tiles, t)
	}
	return rec, eris.Wrap(rows.Err(), "sqlite: iterate query tiles")
}

// ListQueries implements Store. Newest first.
func (s *SQLiteStore) ListQueries(ctx context.Context, filter Filter) ([]Record, error) {
	q := `SELECT id, request, target_year, result, created_at FROM queries q WHERE 1 = 1`
	var args []any
	if filter.Project != "" {
		q += ` AND EXISTS (SELECT 1 FROM query_tiles t WHERE t.query_id = q.id AND t.project = ?)`
		args = append(args, filter.Project)
	}
	if filter.Year != 0 {
		q += ` AND EXISTS (SELECT 1 FROM query_tiles t WHERE t.query_id = q.id AND t.year = ?)`
		args = append(args, filter.Year)
	}
	q += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limitOf(filter), filter.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list queries")
	}
	defer rows.Close() //nolint:errcheck

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate queries")
}

func scanRecord(row scannable) (*Record, error) {
	var (
		rec              Record
		reqJSON, resJSON string
		target           sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &reqJSON, &target, &resJSON, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan query")
	}
	if target.Valid {
		y := int(target.Int64)
		rec.TargetYear = &y
	}
	if err := decode(&rec, []byte(reqJSON), []byte(resJSON)); err != nil {
		return nil, err
	}
	return &rec, nil
}
