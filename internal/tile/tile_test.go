package tile

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowLimitTiers(t *testing.T) {
	assert.Equal(t, 10, rowLimit(5))
	assert.Equal(t, 100, rowLimit(12))
	assert.Equal(t, 0, rowLimit(16))
}

func TestRefFormat(t *testing.T) {
	assert.Equal(t, "14/100/200", ref(14, 100, 200))
}

func TestGetRejectsZoomAboveMax(t *testing.T) {
	readDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer readDB.Close()

	c := New(readDB, readDB)
	_, err = c.Get(context.Background(), MaxZoom+1, 0, 0, false)
	require.Error(t, err)
}
