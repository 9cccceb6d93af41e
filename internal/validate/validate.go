// Package validate holds the coordinate/bbox range checks and password
// policy shared by the feature and user layers.
package validate

import (
	"fmt"

	"github.com/mapbox/hecate-go/internal/errs"
	"github.com/paulmach/orb"
)

// MinPasswordLength is the password policy floor returned in the
// "Password must be at least 8 characters" error message.
const MinPasswordLength = 8

// Lng checks a single longitude value is within [-180, 180].
func Lng(lng float64) error {
	if lng < -180 || lng > 180 {
		return errs.New(errs.BadRequest, fmt.Sprintf("Longitude %f out of range [-180,180]", lng))
	}
	return nil
}

// Lat checks a single latitude value is within [-90, 90].
func Lat(lat float64) error {
	if lat < -90 || lat > 90 {
		return errs.New(errs.BadRequest, fmt.Sprintf("Latitude %f out of range [-90,90]", lat))
	}
	return nil
}

// Point checks a single [lng, lat] pair.
func Point(pt orb.Point) error {
	if err := Lng(pt.Lon()); err != nil {
		return err
	}
	return Lat(pt.Lat())
}

// Geometry walks every coordinate of geom and validates it against 
// SRID-4326 bound, regardless of geometry type.
func Geometry(geom orb.Geometry) error {
	if geom == nil {
		return errs.New(errs.BadRequest, "Geometry is required")
	}
	switch g := geom.(type) {
	case orb.Point:
		return Point(g)
	case orb.MultiPoint:
		for _, pt := range g {
			if err := Point(pt); err != nil {
				return err
			}
		}
	case orb.LineString:
		for _, pt := range g {
			if err := Point(pt); err != nil {
				return err
			}
		}
	case orb.MultiLineString:
		for _, ls := range g {
			if err := Geometry(ls); err != nil {
				return err
			}
		}
	case orb.Ring:
		for _, pt := range g {
			if err := Point(pt); err != nil {
				return err
			}
		}
	case orb.Polygon:
		for _, ring := range g {
			if err := Geometry(ring); err != nil {
				return err
			}
		}
	case orb.MultiPolygon:
		for _, poly := range g {
			if err := Geometry(poly); err != nil {
				return err
			}
		}
	case orb.Collection:
		for _, sub := range g {
			if err := Geometry(sub); err != nil {
				return err
			}
		}
	default:
		return errs.New(errs.BadRequest, fmt.Sprintf("Unsupported geometry type %T", geom))
	}
	return nil
}

// BBox validates the four bbox bounds (minLng, minLat, maxLng, maxLat)
// and returns them as an orb.Bound, rejecting invalid input with the verbatim message
// from the seed scenarios ("Invalid BBOX").
func BBox(minLng, minLat, maxLng, maxLat float64) (orb.Bound, error) {
	b := orb.Bound{Min: orb.Point{minLng, minLat}, Max: orb.Point{maxLng, maxLat}}
	if err := Lng(minLng); err != nil {
		return b, invalidBBox()
	}
	if err := Lng(maxLng); err != nil {
		return b, invalidBBox()
	}
	if err := Lat(minLat); err != nil {
		return b, invalidBBox()
	}
	if err := Lat(maxLat); err != nil {
		return b, invalidBBox()
	}
	if minLng > maxLng || minLat > maxLat {
		return b, invalidBBox()
	}
	return b, nil
}

func invalidBBox() *errs.Error {
	return errs.New(errs.BadRequest, "Invalid BBOX")
}

// Password enforces the minimum-length policy; callers that need stronger
// checks (entropy, dictionary) layer them on top in the user-account
// component, which is out of scope here.
func Password(pw string) error {
	if len(pw) < MinPasswordLength {
		return errs.New(errs.BadRequest, fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}
	return nil
}
