package loader

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func TestValidator_Validate_Valid(t *testing.T) {
	key := "poi-1"
	rec := Record{Key: &key, Geometry: orb.Point{-73.98, 40.75}, Properties: json.RawMessage(`{"name":"Library"}`)}

	err := NewValidator().Validate(rec)
	assert.NoError(t, err)
}

func TestValidator_Validate_MissingGeometry(t *testing.T) {
	rec := Record{Properties: json.RawMessage(`{}`)}

	err := NewValidator().Validate(rec)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "geometry")
}

func TestValidator_Validate_PropertiesMustBeObject(t *testing.T) {
	rec := Record{Geometry: orb.Point{-73.98, 40.75}, Properties: json.RawMessage(`[1,2,3]`)}

	err := NewValidator().Validate(rec)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "properties")
}

func TestValidator_Validate_BlankKeyRejected(t *testing.T) {
	key := "   "
	rec := Record{Key: &key, Geometry: orb.Point{-73.98, 40.75}, Properties: json.RawMessage(`{}`)}

	err := NewValidator().Validate(rec)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "key")
}
