// Package store keeps a history of resolved queries in SQLite or Postgres.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/canlidar/internal/catalog"
	"github.com/sells-group/canlidar/internal/query"
	"github.com/sells-group/canlidar/internal/resolver"
)

// ErrNotFound is returned when a query id is unknown.
var ErrNotFound = eris.New("store: query not found")

// Record is one saved query and its result.
type Record struct {
	ID         string               `json:"id" yaml:"id"`
	CreatedAt  time.Time            `json:"created_at" yaml:"created_at"`
	Request    query.Request        `json:"request" yaml:"request"`
	TargetYear *int                 `json:"target_year,omitempty" yaml:"target_year,omitempty"`
	Result     resolver.QueryResult `json:"result" yaml:"result"`
}

// Filter narrows ListQueries. Zero values match everything.
type Filter struct {
	Project string `json:"project,omitempty"`
	Year    int    `json:"year,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// Store persists query history.
type Store interface {
	SaveQuery(ctx context.Context, req query.Request, targetYear *int, res *resolver.QueryResult) (*Record, error)
	GetQuery(ctx context.Context, id string) (*Record, error)
	ListQueries(ctx context.Context, filter Filter) ([]Record, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the store selected by driver ("sqlite" or "postgres")
// and applies migrations. poolCfg only applies to postgres and may be nil.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case "", "sqlite":
		s, err = NewSQLite(dsn)
	case "postgres":
		s, err = NewPostgres(ctx, dsn, poolCfg)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

var tileColumns = []string{"query_id", "tile_id", "project", "url", "provider", "year"}

// tileRows flattens the matched tiles of a result for the query_tiles table.
func tileRows(queryID string, res *resolver.QueryResult) [][]any {
	rows := make([][]any, 0, len(res.Tiles))
	for _, t := range res.Tiles {
		var y any
		if t.Year != nil {
			y = *t.Year
		}
		rows = append(rows, []any{queryID, t.TileID, t.Project, t.URL, t.Provider, y})
	}
	return rows
}

type scannable interface {
	Scan(dest ...any) error
}

// scanTile reads one query_tiles row. Geometries and the per-signal years
// are not stored, so only the resolved year comes back.
func scanTile(row scannable) (catalog.TileRecord, error) {
	var (
		t    catalog.TileRecord
		year *int64
	)
	if err := row.Scan(&t.TileID, &t.Project, &t.URL, &t.Provider, &year); err != nil {
		return t, err
	}
	if year != nil {
		y := int(*year)
		t.Year = &y
	}
	return t, nil
}

const selectTiles = `SELECT tile_id, project, url, provider, year FROM query_tiles WHERE query_id = `

func encode(req query.Request, res *resolver.QueryResult) (reqJSON, resJSON []byte, err error) {
	reqJSON, err = json.Marshal(req)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal request")
	}
	resJSON, err = json.Marshal(res)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal result")
	}
	return reqJSON, resJSON, nil
}

func decode(r *Record, reqJSON, resJSON []byte) error {
	if err := json.Unmarshal(reqJSON, &r.Request); err != nil {
		return eris.Wrap(err, "store: unmarshal request")
	}
	if err := json.Unmarshal(resJSON, &r.Result); err != nil {
		return eris.Wrap(err, "store: unmarshal result")
	}
	return nil
}

func limitOf(f Filter) int {
	if f.Limit <= 0 {
		return 50
	}
	return f.Limit
}
