// Package geo encodes entity coordinates for spatial columns.
package geo

import (
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/JakeFAU/scanfleet/internal/scan"
)

// PointEWKB encodes (lat, lng) as a little-endian EWKB point with SRID 4326.
func PointEWKB(lat, lng float64) ([]byte, error) {
	p := geom.NewPointFlat(geom.XY, []float64{lng, lat}).SetSRID(scan.SRID)
	data, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, fmt.Errorf("geo: encode point: %w", err)
	}
	return data, nil
}

// LocationEWKB encodes a scan origin including altitude.
func LocationEWKB(loc scan.Location) ([]byte, error) {
	data, err := ewkb.Marshal(loc.Point(), ewkb.NDR)
	if err != nil {
		return nil, fmt.Errorf("geo: encode location: %w", err)
	}
	return data, nil
}

// DecodePoint returns (lat, lng) from an EWKB point.
func DecodePoint(data []byte) (float64, float64, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return 0, 0, fmt.Errorf("geo: decode point: %w", err)
	}
	p, ok := g.(*geom.Point)
	if !ok {
		return 0, 0, fmt.Errorf("geo: expected point, got %T", g)
	}
	return p.Y(), p.X(), nil
}
