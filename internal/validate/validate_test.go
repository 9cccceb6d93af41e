package validate

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLngLat(t *testing.T) {
	tests := []struct {
		name    string
		lng     float64
		lat     float64
		wantErr bool
	}{
		{"origin", 0, 0, false},
		{"max bounds", 180, 90, false},
		{"min bounds", -180, -90, false},
		{"lng too high", 180.1, 0, true},
		{"lat too low", 0, -90.1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Point(orb.Point{tt.lng, tt.lat})
			if tt.wantErr {
				require.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGeometryPolygon(t *testing.T) {
	ring := orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 0}}
	poly := orb.Polygon{ring}
	assert.NoError(t, Geometry(poly))

	bad := orb.Polygon{orb.Ring{{0, 0}, {200, 0}, {1, 1}, {0, 0}}}
	assert.Error(t, Geometry(bad))
}

func TestBBox(t *testing.T) {
	_, err := BBox(-10, -10, 10, 10)
	assert.NoError(t, err)

	_, err = BBox(10, -10, -10, 10)
	assert.Error(t, err)

	_, err = BBox(-200, -10, 10, 10)
	assert.Error(t, err)
}

func TestPassword(t *testing.T) {
	assert.Error(t, Password("short"))
	assert.NoError(t, Password("longenough"))
}
