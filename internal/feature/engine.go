package feature

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/mapbox/hecate-go/internal/errs"
	"github.com/mapbox/hecate-go/internal/stream"
	"github.com/mapbox/hecate-go/internal/validate"
)

// SchemaValidator validates a feature's properties against a
// process-configured JSON-Schema.
type SchemaValidator interface {
	Validate(props json.RawMessage) error
}

// Engine is the feature CRUD/restore engine. All mutating methods
// take the open *sql.Tx for the enclosing delta so a batch of feature
// mutations commits or rolls back atomically ("Transactional
// boundaries").
type Engine struct {
	Schema SchemaValidator
}

func New(schema SchemaValidator) *Engine {
	return &Engine{Schema: schema}
}

// Action dispatches a single feature mutation within deltaID's
// transaction and routes it to the matching unexported operation.
func (e *Engine) Action(ctx context.Context, tx *sql.Tx, f *Feature, deltaID int64, canForce bool) (*MutationResult, error) {
	switch f.Action {
	case ActionCreate:
		return e.create(ctx, tx, f, deltaID, canForce)
	case ActionModify:
		return e.modify(ctx, tx, f, deltaID)
	case ActionDelete:
		return e.delete(ctx, tx, f, deltaID)
	case ActionRestore:
		return e.restore(ctx, tx, f, deltaID)
	default:
		return nil, errs.New(errs.BadRequest, fmt.Sprintf("Unknown action %q", f.Action)).WithPayload(payload(f, "Unknown action"))
	}
}

func payload(f *Feature, message string) map[string]any {
	return map[string]any{"id": f.ID, "message": message, "feature": f}
}

func (e *Engine) validateProps(props json.RawMessage) error {
	if e.Schema == nil {
		return nil
	}
	return e.Schema.Validate(props)
}

// create handles a plain insert, including the force-upsert branch.
func (e *Engine) create(ctx context.Context, tx *sql.Tx, f *Feature, deltaID int64, canForce bool) (*MutationResult, error) {
	if f.Version != 0 {
		return nil, errs.New(errs.BadRequest, "Create cannot specify a version").WithPayload(payload(f, "Create cannot specify a version"))
	}
	if f.Properties == nil {
		return nil, errs.New(errs.BadRequest, "properties is required").WithPayload(payload(f, "properties is required"))
	}
	if err := validate.Geometry(f.Geometry); err != nil {
		return nil, errs.Wrap(errs.BadRequest, "Invalid geometry", err).WithPayload(payload(f, "Invalid geometry"))
	}
	if err := e.validateProps(f.Properties); err != nil {
		return nil, errs.Wrap(errs.UnprocessableEntity, "Schema validation failed", err).WithPayload(payload(f, "Schema validation failed"))
	}

	if f.Force && f.Key != nil {
		if !canForce {
			return nil, errs.New(errs.Forbidden, "force requires feature.force authorization").WithPayload(payload(f, "force requires feature.force authorization"))
		}
		return e.forceUpsert(ctx, tx, f, deltaID)
	}

	wkbGeom, err := wkb.Marshal(f.Geometry)
	if err != nil {
		return nil, errs.Wrap(errs.BadRequest, "Invalid geometry", err)
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO geo (key, version, geom, props, deltas)
		VALUES ($1, 1, ST_SetSRID(ST_GeomFromWKB($2), 4326), $3, $4)
		RETURNING id`,
		f.Key, wkbGeom, []byte(f.Properties), pq.Int64Array{deltaID},
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errs.New(errs.Conflict, "Duplicate Key Value").WithPayload(payload(f, "Duplicate Key Value"))
		}
		return nil, errs.Database(err)
	}

	f.ID = id
	f.Version = 1
	newID := id
	version := int64(1)
	return &MutationResult{NewID: &newID, Version: &version}, nil
}

// forceUpsert implements force-create: an ordinary create unless key
// already has a live row, in which case it's an increment-in-place
// keyed by key.
func (e *Engine) forceUpsert(ctx context.Context, tx *sql.Tx, f *Feature, deltaID int64) (*MutationResult, error) {
	var existingID, existingVersion int64
	err := tx.QueryRowContext(ctx, `SELECT id, version FROM geo WHERE key = $1`, *f.Key).Scan(&existingID, &existingVersion)
	switch {
	case err == sql.ErrNoRows:
		wkbGeom, merr := wkb.Marshal(f.Geometry)
		if merr != nil {
			return nil, errs.Wrap(errs.BadRequest, "Invalid geometry", merr)
		}
		var id int64
		ierr := tx.QueryRowContext(ctx, `
			INSERT INTO geo (key, version, geom, props, deltas)
			VALUES ($1, 1, ST_SetSRID(ST_GeomFromWKB($2), 4326), $3, $4)
			RETURNING id`,
			f.Key, wkbGeom, []byte(f.Properties), pq.Int64Array{deltaID},
		).Scan(&id)
		if ierr != nil {
			return nil, errs.Database(ierr)
		}
		f.ID = id
		f.Version = 1
		v := int64(1)
		return &MutationResult{NewID: &id, Version: &v}, nil
	case err != nil:
		return nil, errs.Database(err)
	}

	wkbGeom, merr := wkb.Marshal(f.Geometry)
	if merr != nil {
		return nil, errs.Wrap(errs.BadRequest, "Invalid geometry", merr)
	}
	newVersion := existingVersion + 1
	_, uerr := tx.ExecContext(ctx, `
		UPDATE geo SET version = $1, geom = ST_SetSRID(ST_GeomFromWKB($2), 4326), props = $3,
		deltas = array_append(deltas, $4)
		WHERE id = $5`,
		newVersion, wkbGeom, []byte(f.Properties), deltaID, existingID)
	if uerr != nil {
		return nil, errs.Database(uerr)
	}
	f.ID = existingID
	f.Version = newVersion
	return &MutationResult{NewID: &existingID, Version: &newVersion}, nil
}

// modify handles an in-place update: optimistic concurrency via the
// (id, version) compare-and-move.
func (e *Engine) modify(ctx context.Context, tx *sql.Tx, f *Feature, deltaID int64) (*MutationResult, error) {
	if f.ID == 0 || f.Version == 0 {
		return nil, errs.New(errs.BadRequest, "Modify requires id and version").WithPayload(payload(f, "Modify requires id and version"))
	}
	if err := validate.Geometry(f.Geometry); err != nil {
		return nil, errs.Wrap(errs.BadRequest, "Invalid geometry", err).WithPayload(payload(f, "Invalid geometry"))
	}
	if err := e.validateProps(f.Properties); err != nil {
		return nil, errs.Wrap(errs.UnprocessableEntity, "Schema validation failed", err).WithPayload(payload(f, "Schema validation failed"))
	}

	var oldKey sql.NullString
	var deltas pq.Int64Array
	err := tx.QueryRowContext(ctx, `SELECT key, deltas FROM geo WHERE id = $1 AND version = $2`, f.ID, f.Version).Scan(&oldKey, &deltas)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.Conflict, "Modify Version Mismatch").WithPayload(payload(f, "Modify Version Mismatch"))
	}
	if err != nil {
		return nil, errs.Database(err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO geo_tombstone (id, key, version, geom, props, deltas)
		SELECT id, key, version, geom, props, deltas FROM geo WHERE id = $1 AND version = $2`,
		f.ID, f.Version); err != nil {
		return nil, errs.Database(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM geo WHERE id = $1 AND version = $2`, f.ID, f.Version); err != nil {
		return nil, errs.Database(err)
	}

	wkbGeom, merr := wkb.Marshal(f.Geometry)
	if merr != nil {
		return nil, errs.Wrap(errs.BadRequest, "Invalid geometry", merr)
	}
	newVersion := f.Version + 1
	newDeltas := append(append(pq.Int64Array{}, deltas...), deltaID)

	key := f.Key
	if key == nil && oldKey.Valid {
		key = &oldKey.String
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO geo (id, key, version, geom, props, deltas)
		VALUES ($1, $2, $3, ST_SetSRID(ST_GeomFromWKB($4), 4326), $5, $6)`,
		f.ID, key, newVersion, wkbGeom, []byte(f.Properties), newDeltas)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errs.New(errs.Conflict, "Duplicate Key Value").WithPayload(payload(f, "Duplicate Key Value"))
		}
		return nil, errs.Database(err)
	}

	f.Version = newVersion
	id := f.ID
	return &MutationResult{NewID: &id, Version: &newVersion}, nil
}

// delete handles: moves live → tombstone with a version
// check, preserving full history.
func (e *Engine) delete(ctx context.Context, tx *sql.Tx, f *Feature, deltaID int64) (*MutationResult, error) {
	if f.ID == 0 || f.Version == 0 {
		return nil, errs.New(errs.BadRequest, "Delete requires id and version").WithPayload(payload(f, "Delete requires id and version"))
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO geo_tombstone (id, key, version, geom, props, deltas)
		SELECT id, key, version, geom, props, array_append(deltas, $3) FROM geo WHERE id = $1 AND version = $2`,
		f.ID, f.Version, deltaID)
	if err != nil {
		return nil, errs.Database(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errs.New(errs.Conflict, "Delete Version Mismatch").WithPayload(payload(f, "Delete Version Mismatch"))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM geo WHERE id = $1 AND version = $2`, f.ID, f.Version); err != nil {
		return nil, errs.Database(err)
	}

	id := f.ID
	return &MutationResult{OldID: &id}, nil
}

// restore handles: reconstructs the highest prior version
// from tombstone history and reinserts it with version+1.
func (e *Engine) restore(ctx context.Context, tx *sql.Tx, f *Feature, deltaID int64) (*MutationResult, error) {
	if f.ID == 0 || f.Version == 0 {
		return nil, errs.New(errs.BadRequest, "Restore requires id and version").WithPayload(payload(f, "Restore requires id and version"))
	}

	var liveExists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM geo WHERE id = $1)`, f.ID).Scan(&liveExists); err != nil {
		return nil, errs.Database(err)
	}
	if liveExists {
		return nil, errs.New(errs.Conflict, "FeatureExists").WithPayload(payload(f, "FeatureExists"))
	}

	var key sql.NullString
	var geomWKB []byte
	var props json.RawMessage
	var deltas pq.Int64Array
	var maxVersion int64
	err := tx.QueryRowContext(ctx, `
		SELECT key, ST_AsBinary(geom), props, deltas, version
		FROM geo_tombstone WHERE id = $1 ORDER BY version DESC LIMIT 1`, f.ID).
		Scan(&key, &geomWKB, &props, &deltas, &maxVersion)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "No prior version to restore").WithPayload(payload(f, "No prior version to restore"))
	}
	if err != nil {
		return nil, errs.Database(err)
	}
	newVersion := maxVersion + 1
	if f.Version != newVersion {
		return nil, errs.New(errs.Conflict, "Restore Version Mismatch").WithPayload(payload(f, "Restore Version Mismatch"))
	}
	newDeltas := append(append(pq.Int64Array{}, deltas...), deltaID)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO geo (id, key, version, geom, props, deltas)
		VALUES ($1, $2, $3, ST_SetSRID(ST_GeomFromWKB($4), 4326), $5, $6)`,
		f.ID, key, newVersion, geomWKB, []byte(props), newDeltas)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errs.New(errs.Conflict, "Duplicate Key Value").WithPayload(payload(f, "Duplicate Key Value"))
		}
		return nil, errs.Database(err)
	}

	f.Version = newVersion
	f.Properties = props
	id := f.ID
	return &MutationResult{NewID: &id, Version: &newVersion}, nil
}

// Get returns the live feature by id, or a *errs.Error(NotFound) if it
// has been deleted or never existed.
func (e *Engine) Get(ctx context.Context, db *sql.DB, id int64) (*Feature, error) {
	row := db.QueryRowContext(ctx, `SELECT id, key, version, ST_AsBinary(geom), props, deltas FROM geo WHERE id = $1`, id)
	return scanFeature(row)
}

// QueryByKey looks up a live feature by its natural key.
func (e *Engine) QueryByKey(ctx context.Context, db *sql.DB, key string) (*Feature, error) {
	row := db.QueryRowContext(ctx, `SELECT id, key, version, ST_AsBinary(geom), props, deltas FROM geo WHERE key = $1`, key)
	return scanFeature(row)
}

// QueryByPoint returns the live feature containing lng/lat, if any.
func (e *Engine) QueryByPoint(ctx context.Context, db *sql.DB, lng, lat float64) (*Feature, error) {
	if err := validate.Lng(lng); err != nil {
		return nil, err
	}
	if err := validate.Lat(lat); err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, `
		SELECT id, key, version, ST_AsBinary(geom), props, deltas
		FROM geo WHERE ST_Intersects(geom, ST_SetSRID(ST_MakePoint($1, $2), 4326)) LIMIT 1`, lng, lat)
	return scanFeature(row)
}

// GetBBox returns every live feature intersecting bbox as a materialized
// slice, for small result sets (non-streaming callers).
func (e *Engine) GetBBox(ctx context.Context, db *sql.DB, minLng, minLat, maxLng, maxLat float64) ([]Feature, error) {
	if _, err := validate.BBox(minLng, minLat, maxLng, maxLat); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, key, version, ST_AsBinary(geom), props, deltas FROM geo
		WHERE geom && ST_MakeEnvelope($1, $2, $3, $4, 4326)
		AND ST_Intersects(geom, ST_MakeEnvelope($1, $2, $3, $4, 4326))`,
		minLng, minLat, maxLng, maxLat)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()

	var out []Feature
	for rows.Next() {
		f, err := scanFeatureRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// GetBBoxStream declares a server-side cursor over the bbox window and
// streams matches as newline-delimited JSON terminated by EOT.
func (e *Engine) GetBBoxStream(ctx context.Context, db *sql.DB, w *bufio.Writer, minLng, minLat, maxLng, maxLat float64) error {
	if _, err := validate.BBox(minLng, minLat, maxLng, maxLat); err != nil {
		return err
	}
	c, err := stream.Open(ctx, db, "feature_bbox_cursor", `
		SELECT id, key, version, ST_AsBinary(geom), props, deltas FROM geo
		WHERE geom && ST_MakeEnvelope($1, $2, $3, $4, 4326)
		AND ST_Intersects(geom, ST_MakeEnvelope($1, $2, $3, $4, 4326))`,
		rowToFeatureJSON, minLng, minLat, maxLng, maxLat)
	if err != nil {
		return errs.Database(err)
	}
	return c.WriteTo(w)
}

func rowToFeatureJSON(rows *sql.Rows) (any, error) {
	f, err := scanFeatureRows(rows)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func scanFeature(row *sql.Row) (*Feature, error) {
	var f Feature
	var key sql.NullString
	var geomWKB []byte
	err := row.Scan(&f.ID, &key, &f.Version, &geomWKB, &f.Properties, (*pq.Int64Array)(&f.Deltas))
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "Feature not found")
	}
	if err != nil {
		return nil, errs.Database(err)
	}
	if key.Valid {
		f.Key = &key.String
	}
	geom, gerr := unmarshalWKB(geomWKB)
	if gerr != nil {
		return nil, errs.Database(gerr)
	}
	f.Geometry = geom
	return &f, nil
}

func scanFeatureRows(rows *sql.Rows) (*Feature, error) {
	var f Feature
	var key sql.NullString
	var geomWKB []byte
	if err := rows.Scan(&f.ID, &key, &f.Version, &geomWKB, &f.Properties, (*pq.Int64Array)(&f.Deltas)); err != nil {
		return nil, errs.Database(err)
	}
	if key.Valid {
		f.Key = &key.String
	}
	geom, gerr := unmarshalWKB(geomWKB)
	if gerr != nil {
		return nil, errs.Database(gerr)
	}
	f.Geometry = geom
	return &f, nil
}

func unmarshalWKB(b []byte) (orb.Geometry, error) {
	return wkb.Unmarshal(b)
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

