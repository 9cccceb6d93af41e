// Package history implements point-in-feature lookup, bbox history
// windows, and per-feature history replay, reading across both the
// live and tombstone partitions.
package history

import (
	"bufio"
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/mapbox/hecate-go/internal/errs"
	"github.com/mapbox/hecate-go/internal/feature"
	"github.com/mapbox/hecate-go/internal/stream"
	"github.com/mapbox/hecate-go/internal/validate"
)

// Engine reads historical feature state across geo and geo_tombstone.
type Engine struct {
	DB *sql.DB
}

func New(db *sql.DB) *Engine { return &Engine{DB: db} }

// Replay returns every version of feature id, oldest first, each paired
// with the delta that produced it (the last entry of that row's deltas
// array) history(id).
func (e *Engine) Replay(ctx context.Context, id int64) ([]feature.HistoryEntry, error) {
	rows, err := e.DB.QueryContext(ctx, `
		SELECT id, key, version, ST_AsBinary(geom), props, deltas FROM geo WHERE id = $1
		UNION ALL
		SELECT id, key, version, ST_AsBinary(geom), props, deltas FROM geo_tombstone WHERE id = $1
		ORDER BY version ASC`, id)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()

	var out []feature.HistoryEntry
	for rows.Next() {
		entry, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Database(err)
	}
	if len(out) == 0 {
		return nil, errs.New(errs.NotFound, "Feature not found")
	}
	return out, nil
}

func scanHistoryEntry(rows *sql.Rows) (*feature.HistoryEntry, error) {
	var f feature.Feature
	var key sql.NullString
	var geomWKB []byte
	var deltas pq.Int64Array
	if err := rows.Scan(&f.ID, &key, &f.Version, &geomWKB, &f.Properties, &deltas); err != nil {
		return nil, errs.Database(err)
	}
	if key.Valid {
		f.Key = &key.String
	}
	geom, err := wkb.Unmarshal(geomWKB)
	if err != nil {
		return nil, errs.Database(err)
	}
	f.Geometry = geom
	f.Deltas = []int64(deltas)

	var deltaID int64
	if len(deltas) > 0 {
		deltaID = deltas[len(deltas)-1]
	}
	return &feature.HistoryEntry{DeltaID: deltaID, Feature: f}, nil
}

// PointWindow streams every historical version (live and tombstoned)
// whose geometry contains lng/lat, newest first per feature id.
func (e *Engine) PointWindow(ctx context.Context, w *bufio.Writer, lng, lat float64) error {
	if err := validate.Lng(lng); err != nil {
		return err
	}
	if err := validate.Lat(lat); err != nil {
		return err
	}
	c, err := stream.Open(ctx, e.DB, "history_point_cursor", `
		SELECT id, key, version, ST_AsBinary(geom), props, deltas FROM (
			SELECT id, key, version, geom, props, deltas FROM geo
			UNION ALL
			SELECT id, key, version, geom, props, deltas FROM geo_tombstone
		) h
		WHERE ST_Intersects(geom, ST_SetSRID(ST_MakePoint($1, $2), 4326))
		ORDER BY id, version DESC`,
		rowToHistoryJSON, lng, lat)
	if err != nil {
		return errs.Database(err)
	}
	return c.WriteTo(w)
}

// BBoxWindow streams every historical version intersecting bbox.
func (e *Engine) BBoxWindow(ctx context.Context, w *bufio.Writer, minLng, minLat, maxLng, maxLat float64) error {
	if _, err := validate.BBox(minLng, minLat, maxLng, maxLat); err != nil {
		return err
	}
	c, err := stream.Open(ctx, e.DB, "history_bbox_cursor", `
		SELECT id, key, version, ST_AsBinary(geom), props, deltas FROM (
			SELECT id, key, version, geom, props, deltas FROM geo
			UNION ALL
			SELECT id, key, version, geom, props, deltas FROM geo_tombstone
		) h
		WHERE geom && ST_MakeEnvelope($1, $2, $3, $4, 4326)
		AND ST_Intersects(geom, ST_MakeEnvelope($1, $2, $3, $4, 4326))
		ORDER BY id, version DESC`,
		rowToHistoryJSON, minLng, minLat, maxLng, maxLat)
	if err != nil {
		return errs.Database(err)
	}
	return c.WriteTo(w)
}

func rowToHistoryJSON(rows *sql.Rows) (any, error) {
	return scanHistoryEntry(rows)
}
