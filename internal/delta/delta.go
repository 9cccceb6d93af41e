// Package delta implements the delta engine: grouping feature
// mutations into atomic, numbered changesets, tracking affected ids, and
// computing the invalidated tile set for the worker dispatcher.
package delta

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"

	"github.com/mapbox/hecate-go/internal/errs"
)

// InvalidationZoom is the z=14 tile-cover zoom used to seed the worker's
// tile invalidation hints.
const InvalidationZoom maptile.Zoom = 14

// Delta is the data-model row.
type Delta struct {
	ID        int64             `json:"id"`
	UID       int64             `json:"uid"`
	Username  string            `json:"username,omitempty"`
	Created   time.Time         `json:"created"`
	Props     map[string]string `json:"props"`
	Affected  []int64           `json:"affected,omitempty"`
	Finalized bool              `json:"finalized"`
}

// Engine manages the open → finalized → committed delta lifecycle.
type Engine struct{}

func New() *Engine { return &Engine{} }

// Open allocates an id from the monotonic deltas_id_seq sequence and
// inserts a row with finalized=false.
func (e *Engine) Open(ctx context.Context, tx *sql.Tx, uid int64, props map[string]string) (*Delta, error) {
	if props == nil || props["message"] == "" {
		return nil, errs.New(errs.BadRequest, "props.message is required")
	}
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return nil, errs.Wrap(errs.BadRequest, "Invalid props", err)
	}

	d := &Delta{UID: uid, Props: props, Created: time.Now().UTC()}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO deltas (id, uid, created, props, finalized)
		VALUES (nextval('deltas_id_seq'), $1, $2, $3, false)
		RETURNING id`,
		uid, d.Created, propsJSON,
	).Scan(&d.ID)
	if err != nil {
		return nil, errs.Database(err)
	}
	return d, nil
}

// IsOpen reports whether further modification of deltaID is allowed,
// "is_open".
func (e *Engine) IsOpen(ctx context.Context, tx *sql.Tx, deltaID int64) (bool, error) {
	var finalized bool
	err := tx.QueryRowContext(ctx, `SELECT finalized FROM deltas WHERE id = $1`, deltaID).Scan(&finalized)
	if err == sql.ErrNoRows {
		return false, errs.New(errs.NotFound, "Delta not found")
	}
	if err != nil {
		return false, errs.Database(err)
	}
	return !finalized, nil
}

// ensureOpen is the gate every mutating method runs through: a finalized
// (or nonexistent) delta observes "changeset closed".
func (e *Engine) ensureOpen(ctx context.Context, tx *sql.Tx, deltaID int64) error {
	open, err := e.IsOpen(ctx, tx, deltaID)
	if err != nil {
		return err
	}
	if !open {
		return errs.New(errs.Conflict, "changeset closed")
	}
	return nil
}

// ModifyProps replaces a delta's props map (must still contain
// "message") while it remains open.
func (e *Engine) ModifyProps(ctx context.Context, tx *sql.Tx, deltaID int64, props map[string]string) error {
	if err := e.ensureOpen(ctx, tx, deltaID); err != nil {
		return err
	}
	if props["message"] == "" {
		return errs.New(errs.BadRequest, "props.message is required")
	}
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return errs.Wrap(errs.BadRequest, "Invalid props", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE deltas SET props = $1 WHERE id = $2`, propsJSON, deltaID)
	if err != nil {
		return errs.Database(err)
	}
	return nil
}

// RecordAffected appends feature ids to the delta's affected[] set,
// de-duplicating against ids already recorded by an earlier mutation in
// the same delta.
func (e *Engine) RecordAffected(ctx context.Context, tx *sql.Tx, deltaID int64, ids []int64) error {
	if err := e.ensureOpen(ctx, tx, deltaID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE deltas SET affected = (
			SELECT array_agg(DISTINCT x) FROM unnest(coalesce(affected, '{}') || $1::bigint[]) AS x
		) WHERE id = $2`, pq.Int64Array(ids), deltaID)
	if err != nil {
		return errs.Database(err)
	}
	return nil
}

// Finalize flips the delta's finalized flag, closing it to further
// modification.
func (e *Engine) Finalize(ctx context.Context, tx *sql.Tx, deltaID int64) error {
	if err := e.ensureOpen(ctx, tx, deltaID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `UPDATE deltas SET finalized = true WHERE id = $1`, deltaID)
	if err != nil {
		return errs.Database(err)
	}
	return nil
}

// Get fetches a single delta by id.
func (e *Engine) Get(ctx context.Context, db *sql.DB, id int64) (*Delta, error) {
	var d Delta
	var propsJSON []byte
	var affected pq.Int64Array
	err := db.QueryRowContext(ctx, `
		SELECT d.id, d.uid, u.username, d.created, d.props, d.affected, d.finalized
		FROM deltas d LEFT JOIN users u ON u.id = d.uid
		WHERE d.id = $1`, id).
		Scan(&d.ID, &d.UID, &d.Username, &d.Created, &propsJSON, &affected, &d.Finalized)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "Delta not found")
	}
	if err != nil {
		return nil, errs.Database(err)
	}
	if err := json.Unmarshal(propsJSON, &d.Props); err != nil {
		return nil, errs.Database(err)
	}
	d.Affected = affected
	return &d, nil
}

// ListOptions configures Engine.List's two mutually-exclusive modes:
// offset-based paging or a date-range window.
type ListOptions struct {
	Offset *int64
	Limit  int64
	Start  *time.Time
	End    *time.Time
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Validate enforces: mixing offset with start/end is an input
// error, and limit is capped at 100.
func (o *ListOptions) Validate() error {
	if o.Offset != nil && (o.Start != nil || o.End != nil) {
		return errs.New(errs.BadRequest, "Cannot mix offset with start/end")
	}
	if o.Limit <= 0 {
		o.Limit = defaultListLimit
	}
	if o.Limit > maxListLimit {
		o.Limit = maxListLimit
	}
	return nil
}

// Projection is the lightweight listing row: never the full
// feature snapshot.
type Projection struct {
	ID       int64             `json:"id"`
	UID      int64             `json:"uid"`
	Username string            `json:"username,omitempty"`
	Created  time.Time         `json:"created"`
	Props    map[string]string `json:"props"`
}

// List returns the offset or date-window projection.
func (e *Engine) List(ctx context.Context, db *sql.DB, opts ListOptions) ([]Projection, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var rows *sql.Rows
	var err error
	switch {
	case opts.Start != nil && opts.End != nil:
		rows, err = db.QueryContext(ctx, `
			SELECT d.id, d.uid, u.username, d.created, d.props
			FROM deltas d LEFT JOIN users u ON u.id = d.uid
			WHERE d.created BETWEEN $1 AND $2 AND d.finalized = true
			ORDER BY d.id DESC LIMIT $3`, *opts.Start, *opts.End, opts.Limit)
	case opts.Offset != nil:
		rows, err = db.QueryContext(ctx, `
			SELECT d.id, d.uid, u.username, d.created, d.props
			FROM deltas d LEFT JOIN users u ON u.id = d.uid
			WHERE d.finalized = true AND d.id <= (SELECT max(id) FROM deltas) - $1
			ORDER BY d.id DESC LIMIT $2`, *opts.Offset, opts.Limit)
	default:
		rows, err = db.QueryContext(ctx, `
			SELECT d.id, d.uid, u.username, d.created, d.props
			FROM deltas d LEFT JOIN users u ON u.id = d.uid
			WHERE d.finalized = true
			ORDER BY d.id DESC LIMIT $1`, opts.Limit)
	}
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()

	var out []Projection
	for rows.Next() {
		var p Projection
		var propsJSON []byte
		if err := rows.Scan(&p.ID, &p.UID, &p.Username, &p.Created, &propsJSON); err != nil {
			return nil, errs.Database(err)
		}
		if err := json.Unmarshal(propsJSON, &p.Props); err != nil {
			return nil, errs.Database(err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AffectedTiles computes the z=14 tile cover of the union of geoms
// (projected internally from WGS84 to the tile grid by tilecover). The
// result seeds the worker's tile-invalidation hint; the tile cache
// itself is lazy, so this is advisory only.
func AffectedTiles(geoms []orb.Geometry) []maptile.Tile {
	seen := make(map[maptile.Tile]struct{})
	var out []maptile.Tile
	for _, g := range geoms {
		cover, err := tilecover.Geometry(g, InvalidationZoom)
		if err != nil {
			continue
		}
		for t := range cover {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}
	return out
}
