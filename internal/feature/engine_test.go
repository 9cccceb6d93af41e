package feature

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/stretchr/testify/require"
)

func newFeature(action Action) *Feature {
	return &Feature{
		Action:     action,
		Geometry:   orb.Point{0, 0},
		Properties: json.RawMessage(`{"number":"123"}`),
	}
}

// TestCreateAssignsVersionOne exercises seed scenario 1: a plain create
// gets id/version 1.
func TestCreateAssignsVersionOne(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO geo").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	e := New(nil)
	f := newFeature(ActionCreate)
	res, err := e.Action(context.Background(), tx, f, 10, false)
	require.NoError(t, err)
	require.NotNil(t, res.NewID)
	require.EqualValues(t, 1, *res.NewID)
	require.EqualValues(t, 1, *res.Version)
	require.EqualValues(t, 1, f.Version)
}

// TestCreateRejectsVersion exercises "Create... Rejects features
// carrying version".
func TestCreateRejectsVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	e := New(nil)
	f := newFeature(ActionCreate)
	f.Version = 2
	_, err = e.Action(context.Background(), tx, f, 10, false)
	require.Error(t, err)
}

// TestModifyVersionMismatch exercises seed scenario 3: stale version
// modify fails with Modify Version Mismatch.
func TestModifyVersionMismatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	mock.ExpectQuery("SELECT key, deltas FROM geo").
		WillReturnError(sql.ErrNoRows)

	e := New(nil)
	f := newFeature(ActionModify)
	f.ID = 1
	f.Version = 1
	_, err = e.Action(context.Background(), tx, f, 11, false)
	require.Error(t, err)
}

// TestForceCreateRequiresAuth exercises /: force is only honoured
// with a key present and a separate authorization check.
func TestForceCreateRequiresAuth(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	key := "Q1233"
	e := New(nil)
	f := newFeature(ActionCreate)
	f.Force = true
	f.Key = &key
	_, err = e.Action(context.Background(), tx, f, 10, false)
	require.Error(t, err)
}

// TestDeleteMovesLiveToTombstone exercises a plain delete: the matching
// (id, version) row moves from geo into geo_tombstone and is removed
// from the live table.
func TestDeleteMovesLiveToTombstone(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO geo_tombstone").
		WithArgs(int64(1), int64(2), int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM geo").
		WithArgs(int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := New(nil)
	f := newFeature(ActionDelete)
	f.ID = 1
	f.Version = 2
	res, err := e.Action(context.Background(), tx, f, 10, false)
	require.NoError(t, err)
	require.NotNil(t, res.OldID)
	require.EqualValues(t, 1, *res.OldID)
}

// TestDeleteVersionMismatch exercises delete against a stale version:
// the tombstone insert affects zero rows, so the mutation fails with
// Delete Version Mismatch rather than silently no-op deleting nothing.
func TestDeleteVersionMismatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO geo_tombstone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	e := New(nil)
	f := newFeature(ActionDelete)
	f.ID = 1
	f.Version = 1
	_, err = e.Action(context.Background(), tx, f, 10, false)
	require.Error(t, err)
}

// TestRestoreRequiresDeletedVersionPlusOne exercises seed scenario 4: a
// feature tombstoned at version 2 is only restored by a caller supplying
// version 3 (the version after which the feature was deleted) — not the
// raw tombstone version.
func TestRestoreRequiresDeletedVersionPlusOne(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	geomWKB, err := wkb.Marshal(orb.Point{0, 0})
	require.NoError(t, err)

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT key, ST_AsBinary").
		WillReturnRows(sqlmock.NewRows([]string{"key", "geom", "props", "deltas", "version"}).
			AddRow(nil, geomWKB, json.RawMessage(`{"number":"123"}`), pq.Int64Array{5}, int64(2)))
	mock.ExpectExec("INSERT INTO geo").
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := New(nil)
	f := newFeature(ActionRestore)
	f.ID = 1
	f.Version = 3
	res, err := e.Action(context.Background(), tx, f, 11, false)
	require.NoError(t, err)
	require.NotNil(t, res.Version)
	require.EqualValues(t, 3, *res.Version)
}

// TestRestoreRawTombstoneVersionRejected is the mirror of the above: the
// raw tombstone version (2, not version+1) must fail with Restore
// Version Mismatch.
func TestRestoreRawTombstoneVersionRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	geomWKB, err := wkb.Marshal(orb.Point{0, 0})
	require.NoError(t, err)

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT key, ST_AsBinary").
		WillReturnRows(sqlmock.NewRows([]string{"key", "geom", "props", "deltas", "version"}).
			AddRow(nil, geomWKB, json.RawMessage(`{"number":"123"}`), pq.Int64Array{5}, int64(2)))

	e := New(nil)
	f := newFeature(ActionRestore)
	f.ID = 1
	f.Version = 2
	_, err = e.Action(context.Background(), tx, f, 11, false)
	require.Error(t, err)
}

// TestForceUpsertInsertsWhenKeyAbsent exercises the force-create branch
// when no live row currently carries the key: an ordinary insert at
// version 1.
func TestForceUpsertInsertsWhenKeyAbsent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, version FROM geo WHERE key").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO geo").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))

	key := "Q1233"
	e := New(nil)
	f := newFeature(ActionCreate)
	f.Force = true
	f.Key = &key
	res, err := e.Action(context.Background(), tx, f, 10, true)
	require.NoError(t, err)
	require.NotNil(t, res.NewID)
	require.EqualValues(t, 5, *res.NewID)
	require.EqualValues(t, 1, *res.Version)
}

// TestForceUpsertIncrementsWhenKeyPresent exercises the force-create
// branch when a live row already carries the key: an increment-in-place
// update rather than a second insert.
func TestForceUpsertIncrementsWhenKeyPresent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, version FROM geo WHERE key").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version"}).AddRow(int64(7), int64(3)))
	mock.ExpectExec("UPDATE geo SET version").
		WillReturnResult(sqlmock.NewResult(0, 1))

	key := "Q1233"
	e := New(nil)
	f := newFeature(ActionCreate)
	f.Force = true
	f.Key = &key
	res, err := e.Action(context.Background(), tx, f, 10, true)
	require.NoError(t, err)
	require.NotNil(t, res.NewID)
	require.EqualValues(t, 7, *res.NewID)
	require.EqualValues(t, 4, *res.Version)
}

