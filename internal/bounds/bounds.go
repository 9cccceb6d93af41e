// Package bounds implements the bounds engine: named spatial
// partitions used for filtered feature extraction and per-bounds stats.
// Bounds are never intersected with feature writes — features may exist
// outside any bounds.
package bounds

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"

	"github.com/mapbox/hecate-go/internal/errs"
	"github.com/mapbox/hecate-go/internal/stream"
)

const (
	defaultListLimit = 100
	maxListLimit     = 100
)

// Stats is the stats_json(name) response shape.
type Stats struct {
	Total    int64      `json:"total"`
	BBox     orb.Bound  `json:"bbox"`
	LastCalc *time.Time `json:"last_calc,omitempty"`
}

// Engine manages named MultiPolygon partitions.
type Engine struct {
	DB *sql.DB
}

func New(db *sql.DB) *Engine { return &Engine{DB: db} }

// Set upserts a MultiPolygon by name, coercing single Polygon input to
// multi and forcing SRID 4326.
func (e *Engine) Set(ctx context.Context, name string, geom orb.Geometry) error {
	if name == "" {
		return errs.New(errs.BadRequest, "bounds name is required")
	}
	mp, err := toMultiPolygon(geom)
	if err != nil {
		return err
	}
	wkbGeom, err := wkb.Marshal(mp)
	if err != nil {
		return errs.Wrap(errs.BadRequest, "Invalid geometry", err)
	}
	_, err = e.DB.ExecContext(ctx, `
		INSERT INTO bounds (name, geom) VALUES ($1, ST_SetSRID(ST_GeomFromWKB($2), 4326))
		ON CONFLICT (name) DO UPDATE SET geom = EXCLUDED.geom`,
		name, wkbGeom)
	if err != nil {
		return errs.Database(err)
	}
	return nil
}

func toMultiPolygon(geom orb.Geometry) (orb.MultiPolygon, error) {
	switch g := geom.(type) {
	case orb.MultiPolygon:
		return g, nil
	case orb.Polygon:
		return orb.MultiPolygon{g}, nil
	default:
		return nil, errs.New(errs.BadRequest, "bounds geometry must be a Polygon or MultiPolygon")
	}
}

// Delete removes a named bounds partition.
func (e *Engine) Delete(ctx context.Context, name string) error {
	res, err := e.DB.ExecContext(ctx, `DELETE FROM bounds WHERE name = $1`, name)
	if err != nil {
		return errs.Database(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.NotFound, "Bounds not found")
	}
	return nil
}

// List enumerates up to limit bounds names (default/cap 100).
func (e *Engine) List(ctx context.Context, limit int) ([]string, error) {
	return e.Filter(ctx, "", limit)
}

// Filter enumerates names with the given prefix, default/cap 100.
func (e *Engine) Filter(ctx context.Context, prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := e.DB.QueryContext(ctx, `
		SELECT name FROM bounds WHERE name LIKE $1 ORDER BY name LIMIT $2`,
		prefix+"%", limit)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, errs.Database(err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Get streams a FeatureCollection of every live feature intersecting the
// named bounds: the bounds geometry is subdivided first to
// accelerate the spatial join against large partitions.
func (e *Engine) Get(ctx context.Context, w *bufio.Writer, name string) error {
	var exists bool
	if err := e.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bounds WHERE name = $1)`, name).Scan(&exists); err != nil {
		return errs.Database(err)
	}
	if !exists {
		return errs.New(errs.NotFound, "Bounds not found")
	}

	c, err := stream.Open(ctx, e.DB, "bounds_feature_cursor", `
		SELECT g.id, g.key, g.version, ST_AsBinary(g.geom), g.props
		FROM geo g, (
			SELECT (ST_Dump(ST_Subdivide(geom, 128))).geom AS part FROM bounds WHERE name = $1
		) AS b
		WHERE ST_Intersects(g.geom, b.part)`,
		scanBoundsFeature, name)
	if err != nil {
		return errs.Database(err)
	}
	return c.WriteTo(w)
}

func scanBoundsFeature(rows *sql.Rows) (any, error) {
	var id int64
	var key sql.NullString
	var version int64
	var geomWKB []byte
	var propsJSON []byte
	if err := rows.Scan(&id, &key, &version, &geomWKB, &propsJSON); err != nil {
		return nil, err
	}
	geom, err := wkb.Unmarshal(geomWKB)
	if err != nil {
		return nil, err
	}
	f := geojson.NewFeature(geom)
	f.ID = id
	var props geojson.Properties
	if len(propsJSON) > 0 {
		_ = json.Unmarshal(propsJSON, &props)
	}
	f.Properties = props
	out := map[string]any{
		"type":       "Feature",
		"id":         f.ID,
		"geometry":   f.Geometry,
		"properties": f.Properties,
		"version":    version,
	}
	if key.Valid {
		out["key"] = key.String
	}
	return out, nil
}

// StatsJSON computes {total, bbox, last_calc} for a bounds partition.
func (e *Engine) StatsJSON(ctx context.Context, name string) (*Stats, error) {
	var stats Stats
	var minX, minY, maxX, maxY sql.NullFloat64
	err := e.DB.QueryRowContext(ctx, `
		SELECT count(g.id),
		       ST_XMin(ST_Extent(g.geom)), ST_YMin(ST_Extent(g.geom)),
		       ST_XMax(ST_Extent(g.geom)), ST_YMax(ST_Extent(g.geom))
		FROM geo g, bounds b
		WHERE b.name = $1 AND ST_Intersects(g.geom, b.geom)`, name).
		Scan(&stats.Total, &minX, &minY, &maxX, &maxY)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("Bounds %q not found", name))
	}
	if err != nil {
		return nil, errs.Database(err)
	}
	if minX.Valid {
		stats.BBox = orb.Bound{Min: orb.Point{minX.Float64, minY.Float64}, Max: orb.Point{maxX.Float64, maxY.Float64}}
	}
	now := time.Now().UTC()
	stats.LastCalc = &now
	return &stats, nil
}
