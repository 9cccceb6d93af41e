package delta

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListOptionsValidate(t *testing.T) {
	start := time.Now()
	end := start.Add(time.Hour)
	offset := int64(5)

	mixed := ListOptions{Offset: &offset, Start: &start, End: &end}
	require.Error(t, mixed.Validate())

	defaults := ListOptions{}
	require.NoError(t, defaults.Validate())
	assert.EqualValues(t, defaultListLimit, defaults.Limit)

	capped := ListOptions{Limit: 1000}
	require.NoError(t, capped.Validate())
	assert.EqualValues(t, maxListLimit, capped.Limit)
}

func TestAffectedTilesDedups(t *testing.T) {
	tiles := AffectedTiles(nil)
	assert.Empty(t, tiles)

	p := orb.Point{-77.03, 38.89}
	assert.Len(t, AffectedTiles([]orb.Geometry{p, p}), 1)
}
