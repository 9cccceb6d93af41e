package bounds

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMultiPolygonCoercesSingle(t *testing.T) {
	ring := orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 0}}
	poly := orb.Polygon{ring}

	mp, err := toMultiPolygon(poly)
	require.NoError(t, err)
	assert.Len(t, mp, 1)

	_, err = toMultiPolygon(orb.Point{0, 0})
	require.Error(t, err)
}
