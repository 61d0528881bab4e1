package geo

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/JakeFAU/scanfleet/internal/scan"
)

func TestPointEWKBCarriesSRID(t *testing.T) {
	t.Parallel()

	data, err := PointEWKB(40.7128, -74.006)
	require.NoError(t, err)

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, scan.SRID, g.SRID())

	lat, lng, err := DecodePoint(data)
	require.NoError(t, err)
	require.InDelta(t, 40.7128, lat, 1e-9)
	require.InDelta(t, -74.006, lng, 1e-9)
}

func TestLocationEWKBKeepsAltitude(t *testing.T) {
	t.Parallel()

	data, err := LocationEWKB(scan.Location{Latitude: 1, Longitude: 2, Altitude: 30})
	require.NoError(t, err)
	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	p, ok := g.(*geom.Point)
	require.True(t, ok)
	require.Equal(t, geom.XYZ, p.Layout())
	require.InDelta(t, 30.0, p.Z(), 1e-9)
}

func TestDecodePointRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, _, err := DecodePoint([]byte{0x01, 0x02})
	require.Error(t, err)
}
