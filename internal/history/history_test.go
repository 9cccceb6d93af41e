package history

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayOrdersVersionsAscendingAndTakesLastDelta(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	geomWKB, err := wkb.Marshal(orb.Point{1, 2})
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "key", "version", "geom", "props", "deltas"}).
		AddRow(int64(5), nil, int64(1), geomWKB, []byte(`{"a":1}`), "{10}").
		AddRow(int64(5), nil, int64(2), geomWKB, []byte(`{"a":2}`), "{10,11}")
	mock.ExpectQuery(`SELECT id, key, version, ST_AsBinary\(geom\), props, deltas FROM geo WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(rows)

	e := New(db)
	entries, err := e.Replay(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.EqualValues(t, 1, entries[0].Feature.Version)
	assert.EqualValues(t, 10, entries[0].DeltaID)
	assert.EqualValues(t, 2, entries[1].Feature.Version)
	assert.EqualValues(t, 11, entries[1].DeltaID)
}

func TestReplayNotFoundWhenNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, key, version, ST_AsBinary\(geom\), props, deltas FROM geo WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "key", "version", "geom", "props", "deltas"}))

	e := New(db)
	_, err = e.Replay(context.Background(), 99)
	require.Error(t, err)
}
