// Package sqlitecap implements the SQLite HRE capability seam (spec §1 —
// "the embedded... SQLite binding" is out of scope beyond this seam). Each
// application gets its own database file under the state directory;
// --serialize-sqlite (spec §5) wraps every call engine-wide in one mutex,
// grounded on the teacher's quotaEnforcer/rateLimiter serialization pattern
// in system/runtime/runtime.go.
package sqlitecap

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hermes-engine/hermes/internal/hre"
)

// Provider is the process-wide SQLite singleton, opening one database file
// per application on first use.
type Provider struct {
	stateDir  string
	serialize bool

	mu   sync.Mutex // guards dbs; also the engine-wide serialization lock when serialize is set
	dbs  map[string]*sql.DB
}

var _ hre.SQLiteProvider = (*Provider)(nil)

// New builds a Provider rooted at stateDir. serialize forces every call
// (across every application) onto a single mutex, the --serialize-sqlite
// debugging aid.
func New(stateDir string, serialize bool) *Provider {
	return &Provider{stateDir: stateDir, serialize: serialize, dbs: make(map[string]*sql.DB)}
}

func (p *Provider) dbFor(appName string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.dbs[appName]; ok {
		return db, nil
	}

	path := filepath.Join(p.stateDir, appName+".sqlite3")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database for %q: %w", appName, err)
	}
	p.dbs[appName] = db
	return db, nil
}

func (p *Provider) withLock(fn func() error) error {
	if p.serialize {
		p.mu.Lock()
		defer p.mu.Unlock()
	}
	return fn()
}

// Exec runs a statement with no result set.
func (p *Provider) Exec(ctx context.Context, appName, query string, args ...any) error {
	db, err := p.dbFor(appName)
	if err != nil {
		return err
	}
	return p.withLock(func() error {
		_, err := db.ExecContext(ctx, query, args...)
		return err
	})
}

// Query runs a statement and returns its rows as a slice of column maps.
func (p *Provider) Query(ctx context.Context, appName, query string, args ...any) ([]map[string]any, error) {
	db, err := p.dbFor(appName)
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	err = p.withLock(func() error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return err
		}

		for rows.Next() {
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return err
			}
			row := make(map[string]any, len(cols))
			for i, c := range cols {
				row[c] = values[i]
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes every opened per-app database.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, db := range p.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
