package store

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowedVerbRejectsWrites(t *testing.T) {
	assert.True(t, allowedVerb("SELECT 1"))
	assert.True(t, allowedVerb("  with x as (select 1) select * from x"))
	assert.False(t, allowedVerb("DELETE FROM geo"))
	assert.False(t, allowedVerb("DROP TABLE geo"))
}

func TestMetaStoreGetMissingKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT value FROM meta WHERE key = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	m := NewMetaStore(db)
	_, err = m.Get(context.Background(), "missing")
	require.Error(t, err)
}

func TestMetaStoreSetUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO meta`).WithArgs("k", "v").WillReturnResult(sqlmock.NewResult(0, 1))

	m := NewMetaStore(db)
	require.NoError(t, m.Set(context.Background(), "k", "v"))
}

func TestReadPicksSingleReplicaDeterministically(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	p := &Pools{Write: db, Reads: []*sql.DB{db}}
	assert.Same(t, db, p.Read())
}
