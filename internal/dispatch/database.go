package dispatch

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/lib/pq"          // postgres driver
	_ "modernc.org/sqlite"         // pure-Go sqlite driver, no cgo

	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
	"github.com/MagicBeansAI/magictunnel/internal/routing"
	"github.com/MagicBeansAI/magictunnel/internal/substitution"
)

// DatabaseAgent executes a rendered SQL statement against a pooled
// connection (spec §4.A Database), supporting the Postgres and SQLite
// drivers the teacher already depends on transitively.
type DatabaseAgent struct {
	mu    sync.Mutex
	pools map[string]*sql.DB // (driver, dsn) -> pool
}

func NewDatabaseAgent() *DatabaseAgent {
	return &DatabaseAgent{pools: map[string]*sql.DB{}}
}

func driverName(configured string) (string, error) {
	switch configured {
	case "postgres", "postgresql":
		return "postgres", nil
	case "sqlite", "sqlite3":
		return "sqlite", nil
	default:
		return "", mcperr.New(mcperr.KindConfig, "unsupported database driver "+configured)
	}
}

func (a *DatabaseAgent) poolFor(driver, dsn string) (*sql.DB, error) {
	key := driver + "|" + dsn
	a.mu.Lock()
	defer a.mu.Unlock()
	if db, ok := a.pools[key]; ok {
		return db, nil
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	a.pools[key] = db
	return db, nil
}

func (a *DatabaseAgent) Execute(ctx context.Context, d *routing.Descriptor, params substitution.Params) (Result, error) {
	cfg := d.Database
	if cfg == nil {
		return Result{}, mcperr.New(mcperr.KindConfig, "database routing missing database config")
	}
	driver, err := driverName(cfg.Driver)
	if err != nil {
		return Result{}, err
	}

	dsn, err := substitution.Render(cfg.DSN, params)
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering dsn", err)
	}
	stmt, err := substitution.Render(cfg.Statement, params)
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering sql statement", err)
	}

	db, err := a.poolFor(driver, dsn)
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindConfig, "opening database pool", err)
	}

	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, mcperr.Wrap(mcperr.KindTimeout, "database query timed out", ctx.Err())
		}
		return Result{}, mcperr.Wrap(mcperr.KindBackend, "database query failed", err)
	}
	defer rows.Close()

	out, err := rowsToJSON(rows)
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindBackend, "decoding result rows", err)
	}

	return Result{Success: true, Output: map[string]interface{}{"rows": out}}, nil
}

func rowsToJSON(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			row[c] = normalizeSQLValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func normalizeSQLValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
