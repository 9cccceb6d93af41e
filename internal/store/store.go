// Package store wires the three DB pools the request pipeline shares
//: a write pool, a randomly-selected read-replica
// pool, and an isolated sandbox pool for arbitrary SQL passthrough.
package store

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"regexp"
	"strings"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/mapbox/hecate-go/internal/errs"
	"github.com/mapbox/hecate-go/internal/stream"
)

// Pools holds every DB handle the process needs, opened once at startup
// and shared across requests.
type Pools struct {
	Write   *sql.DB
	Reads   []*sql.DB
	Sandbox *sql.DB
	rand    *rand.Rand
}

// Open connects the write pool, one pool per read-replica host, and the
// sandbox pool, pinging each before returning.
func Open(writeDSN string, readDSNs []string, sandboxDSN string) (*Pools, error) {
	write, err := openAndPing(writeDSN)
	if err != nil {
		return nil, fmt.Errorf("write pool: %w", err)
	}

	var reads []*sql.DB
	for _, dsn := range readDSNs {
		db, err := openAndPing(dsn)
		if err != nil {
			return nil, fmt.Errorf("read pool %q: %w", dsn, err)
		}
		reads = append(reads, db)
	}
	if len(reads) == 0 {
		reads = []*sql.DB{write}
	}

	sandbox, err := openAndPing(sandboxDSN)
	if err != nil {
		return nil, fmt.Errorf("sandbox pool: %w", err)
	}

	return &Pools{Write: write, Reads: reads, Sandbox: sandbox, rand: rand.New(rand.NewSource(1))}, nil
}

func openAndPing(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// Read returns a randomly chosen replica pool "DB read pool
// (randomly chosen from the replica list per request)".
func (p *Pools) Read() *sql.DB {
	if len(p.Reads) == 1 {
		return p.Reads[0]
	}
	return p.Reads[p.rand.Intn(len(p.Reads))]
}

// Close closes every pool, ignoring duplicate handles (the fallback
// where Reads == []*sql.DB{Write}).
func (p *Pools) Close() {
	seen := map[*sql.DB]bool{}
	for _, db := range append([]*sql.DB{p.Write, p.Sandbox}, p.Reads...) {
		if db == nil || seen[db] {
			continue
		}
		seen[db] = true
		_ = db.Close()
	}
}

var allowedTables = map[string]bool{
	"geo": true, "geo_tombstone": true, "deltas": true, "bounds": true, "tiles": true,
}

// SandboxQuery implements the `GET /api/data/clone` / `?query=`
// contract: a read-only, full-table export when no query is supplied,
// otherwise the raw SQL run against the sandbox pool, streamed as
// newline-delimited JSON terminated by EOT. Each call gets a fresh
// uuid-named cursor so concurrent clone requests never collide.
func (p *Pools) SandboxQuery(ctx context.Context, w *bufio.Writer, rawQuery string) error {
	query := strings.TrimSpace(rawQuery)
	if query == "" {
		query = `SELECT id, key, version, ST_AsGeoJSON(geom) AS geometry, props FROM geo`
	} else if !allowedVerb(query) {
		return errs.New(errs.BadRequest, "Only read-only SELECT queries are permitted")
	} else if err := checkAllowedTables(query); err != nil {
		return err
	}

	cursorName := "sandbox_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	c, err := stream.Open(ctx, p.Sandbox, cursorName, query, scanGenericRow)
	if err != nil {
		return errs.Database(err)
	}
	return c.WriteTo(w)
}

func allowedVerb(query string) bool {
	upper := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

// checkAllowedTables rejects any FROM/JOIN target outside allowedTables,
// so a sandbox query can read the feature store but not information_schema
// or any table a future migration might add without updating this list.
func checkAllowedTables(query string) error {
	matches := tableRefPattern.FindAllStringSubmatch(query, -1)
	for _, m := range matches {
		table := strings.ToLower(m[1])
		if !allowedTables[table] {
			return errs.New(errs.BadRequest, "Query references a table that is not allowed: "+table)
		}
	}
	return nil
}

var tableRefPattern = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([a-zA-Z_][a-zA-Z0-9_]*)`)

func scanGenericRow(rows *sql.Rows) (any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(cols))
	for i, c := range cols {
		if b, ok := vals[i].([]byte); ok {
			out[c] = string(b)
		} else {
			out[c] = vals[i]
		}
	}
	return out, nil
}

// MetaStore is the arbitrary key/value store backing `GET/POST/DELETE
// /api/meta/{key}` and `GET /api/meta`.
type MetaStore struct {
	DB *sql.DB
}

func NewMetaStore(db *sql.DB) *MetaStore { return &MetaStore{DB: db} }

func (m *MetaStore) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := m.DB.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = $1`, key).Scan(&val)
	if err == sql.ErrNoRows {
		return "", errs.New(errs.NotFound, "Key not found")
	}
	if err != nil {
		return "", errs.Database(err)
	}
	return val, nil
}

func (m *MetaStore) Set(ctx context.Context, key, value string) error {
	_, err := m.DB.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return errs.Database(err)
	}
	return nil
}

func (m *MetaStore) Delete(ctx context.Context, key string) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM meta WHERE key = $1`, key)
	if err != nil {
		return errs.Database(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.NotFound, "Key not found")
	}
	return nil
}

func (m *MetaStore) List(ctx context.Context) (map[string]string, error) {
	rows, err := m.DB.QueryContext(ctx, `SELECT key, value FROM meta ORDER BY key`)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errs.Database(err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
