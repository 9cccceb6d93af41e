// Package tile implements the vector-tile cache: lazy MVT
// generation, idempotent upsert, forced regeneration, and global wipe.
package tile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
	"github.com/rs/zerolog/log"

	"github.com/mapbox/hecate-go/internal/errs"
)

// MaxZoom is the highest zoom the cache serves; higher fails with 404.
const MaxZoom = 17

// FreshWindow is how long a cached tile is considered fresh before a
// non-forced get triggers regeneration.
const FreshWindow = 4 * time.Hour

// Extent is the MVT layer extent used when encoding tiles.
const Extent = 4096

// LayerName is the single MVT layer name tiles are encoded into.
const LayerName = "data"

// Meta is the {created} projection returned by Cache.Meta.
type Meta struct {
	Created time.Time `json:"created"`
}

// Cache is the z/x/y keyed MVT tile cache. ReadDB is used for lookups and
// feature queries; WriteDB is the read-write connection tile upserts go
// through. A failing write is logged but never fails the read.
type Cache struct {
	ReadDB  *sql.DB
	WriteDB *sql.DB
}

func New(readDB, writeDB *sql.DB) *Cache {
	return &Cache{ReadDB: readDB, WriteDB: writeDB}
}

func ref(z maptile.Zoom, x, y uint32) string {
	return fmt.Sprintf("%d/%d/%d", z, x, y)
}

// Get returns the cached tile for z/x/y, regenerating it first when
// regen is true or the cached copy has gone stale.
func (c *Cache) Get(ctx context.Context, z maptile.Zoom, x, y uint32, regen bool) ([]byte, error) {
	if int(z) > MaxZoom {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("zoom %d exceeds max zoom %d", z, MaxZoom))
	}

	if !regen {
		data, created, err := c.lookup(ctx, z, x, y)
		if err != nil {
			return nil, err
		}
		if data != nil && time.Since(created) < FreshWindow {
			return data, nil
		}
	}

	return c.Regen(ctx, z, x, y)
}

// Regen forces a fresh render of (z,x,y) and upserts it.
func (c *Cache) Regen(ctx context.Context, z maptile.Zoom, x, y uint32) ([]byte, error) {
	if int(z) > MaxZoom {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("zoom %d exceeds max zoom %d", z, MaxZoom))
	}

	data, err := c.render(ctx, z, x, y)
	if err != nil {
		return nil, err
	}

	if err := c.upsert(ctx, z, x, y, data); err != nil {
		log.Error().Err(err).Str("ref", ref(z, x, y)).Msg("tile cache write failed")
	}
	return data, nil
}

func (c *Cache) lookup(ctx context.Context, z maptile.Zoom, x, y uint32) ([]byte, time.Time, error) {
	var data []byte
	var created time.Time
	err := c.ReadDB.QueryRowContext(ctx, `SELECT tile, created FROM tiles WHERE ref = $1`, ref(z, x, y)).Scan(&data, &created)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, errs.Database(err)
	}
	return data, created, nil
}

func (c *Cache) upsert(ctx context.Context, z maptile.Zoom, x, y uint32, data []byte) error {
	_, err := c.WriteDB.ExecContext(ctx, `
		INSERT INTO tiles (ref, tile, created) VALUES ($1, $2, now())
		ON CONFLICT (ref) DO UPDATE SET tile = EXCLUDED.tile, created = EXCLUDED.created`,
		ref(z, x, y), data)
	return err
}

// rowLimit implements tiered row caps by zoom.
func rowLimit(z maptile.Zoom) int {
	switch {
	case z < 10:
		return 10
	case z < 14:
		return 100
	default:
		return 0 // unlimited
	}
}

// render selects features intersecting the tile's envelope (reprojected
// to EPSG:3857) and encodes them as a single MVT layer named "data"
// with Extent 4096.
func (c *Cache) render(ctx context.Context, z maptile.Zoom, x, y uint32) ([]byte, error) {
	tile := maptile.New(x, y, z)
	bound := tile.Bound()

	limit := rowLimit(z)
	query := `
		SELECT ST_AsBinary(geom), props FROM geo
		WHERE geom && ST_MakeEnvelope($1, $2, $3, $4, 4326)
		AND ST_Intersects(geom, ST_MakeEnvelope($1, $2, $3, $4, 4326))`
	args := []any{bound.Min.X(), bound.Min.Y(), bound.Max.X(), bound.Max.Y()}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := c.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()

	fc := geojson.NewFeatureCollection()
	for rows.Next() {
		var geomWKB []byte
		var propsJSON []byte
		if err := rows.Scan(&geomWKB, &propsJSON); err != nil {
			return nil, errs.Database(err)
		}
		geom, gerr := decodeWKB(geomWKB)
		if gerr != nil {
			return nil, errs.Database(gerr)
		}
		f := geojson.NewFeature(project.Geometry(geom, project.WGS84ToMercator))
		var props geojson.Properties
		if err := json.Unmarshal(propsJSON, &props); err == nil {
			f.Properties = props
		}
		fc.Append(f)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Database(err)
	}

	layers := mvt.NewLayers(map[string]*geojson.FeatureCollection{LayerName: fc})
	layers.ProjectToTile(tile)
	layers.Simplify(nil)

	data, err := mvt.MarshalGzipped(layers)
	if err != nil {
		return nil, errs.Database(err)
	}
	return data, nil
}

// Meta returns {created} for a cached entry, or NotFound.
func (c *Cache) Meta(ctx context.Context, z maptile.Zoom, x, y uint32) (*Meta, error) {
	_, created, err := c.lookup(ctx, z, x, y)
	if err != nil {
		return nil, err
	}
	if created.IsZero() {
		return nil, errs.New(errs.NotFound, "Tile not cached")
	}
	return &Meta{Created: created}, nil
}

// Wipe truncates the tile cache, admin-gated at the handler layer.
func (c *Cache) Wipe(ctx context.Context) error {
	_, err := c.WriteDB.ExecContext(ctx, `TRUNCATE TABLE tiles`)
	if err != nil {
		return errs.Database(err)
	}
	return nil
}

func decodeWKB(b []byte) (orb.Geometry, error) {
	return wkb.Unmarshal(b)
}
