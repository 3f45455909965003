package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/canlidar/internal/db"
	"github.com/sells-group/canlidar/internal/query"
	"github.com/sells-group/canlidar/internal/resolver"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.TxPool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var preparedStatements = map[string]string{
	"insert_query": `INSERT INTO queries (id, request, target_year, result, file_count, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"get_query":    `SELECT id, request, target_year, result, created_at FROM queries WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool db.TxPool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: func() {}, now: time.Now}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS queries (
	id          TEXT PRIMARY KEY,
	request     JSONB NOT NULL,
	target_year INTEGER,
	result      JSONB NOT NULL,
	file_count  INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS query_tiles (
	query_id TEXT NOT NULL REFERENCES queries(id) ON DELETE CASCADE,
	tile_id  TEXT NOT NULL,
	project  TEXT NOT NULL,
	url      TEXT NOT NULL,
	provider TEXT NOT NULL,
	year     INTEGER
);

CREATE INDEX IF NOT EXISTS idx_queries_created_at ON queries(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_query_tiles_query_id ON query_tiles(query_id);
CREATE INDEX IF NOT EXISTS idx_query_tiles_project ON query_tiles(project);
`

// Migrate implements Store.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.closeFn()
	return nil
}

// SaveQuery implements Store. The query row and its tiles are written in
// one transaction; tiles go through COPY.
func (s *PostgresStore) SaveQuery(ctx context.Context, req query.Request, targetYear *int, res *resolver.QueryResult) (*Record, error) {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO queries (id, request, target_year, result, file_count, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, reqJSON, targetYear, resJSON, res.FileCount, rec.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert query")
	}

	if rows := tileRows(rec.ID, res); len(rows) > 0 {
		if _, err := db.CopyFrom(ctx, tx, "query_tiles", tileColumns, rows); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit")
	}
	return rec, nil
}

// GetQuery implements Store.
func (s *PostgresStore) GetQuery(ctx context.Context, id string) (*Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, request, target_year, result, created_at FROM queries WHERE id = $1`, id)
	rec, err := scanPgRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get query %s", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, selectTiles+`$1`, id)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load query tiles")
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTile(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan query tile")
		}
		rec.Result.Tiles = append(rec.Result.Tiles, t)
	}
	return rec, eris.Wrap(rows.Err(), "postgres: iterate query tiles")
}

// ListQueries implements Store. Newest first.
func (s *PostgresStore) ListQueries(ctx context.Context, filter Filter) ([]Record, error) {
	q := `SELECT id, request, target_year, result, created_at FROM queries q WHERE 1 = 1`
	var args []any
	if filter.Project != "" {
		args = append(args, filter.Project)
		q += fmt.Sprintf(` AND EXISTS (SELECT 1 FROM query_tiles t WHERE t.query_id = q.id AND t.project = $%d)`, len(args))
	}
	if filter.Year != 0 {
		args = append(args, filter.Year)
		q += fmt.Sprintf(` AND EXISTS (SELECT 1 FROM query_tiles t WHERE t.query_id = q.id AND t.year = $%d)`, len(args))
	}
	args = append(args, limitOf(filter), filter.Offset)
	q += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list queries")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate queries")
}

func scanPgRecord(row pgx.Row) (*Record, error) {
	var (
		rec              Record
		reqJSON, resJSON []byte
		target           *int32
	)
	if err := row.Scan(&rec.ID, &reqJSON, &target, &resJSON, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan query")
	}
	if target != nil {
		y := int(*target)
		rec.TargetYear = &y
	}
	if err := decode(&rec, reqJSON, resJSON); err != nil {
		return nil, err
	}
	return &rec, nil
}
