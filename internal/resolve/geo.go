package resolve

import (
	"math"

	"github.com/twpayne/go-geom"
)

const earthRadiusKM = 6371.0

// Location builds a WGS84 point from optional lat/lon values. Facilities
// without coordinates on both axes have no location.
func Location(lat, lon *float64) *geom.Point {
	if lat == nil || lon == nil {
		return nil
	}
	return geom.NewPointFlat(geom.XY, []float64{*lon, *lat}).SetSRID(4326)
}

// distanceKM returns the great-circle distance between two WGS84 points.
// go-geom's xy helpers are planar, so the spherical part lives here.
func distanceKM(a, b *geom.Point) float64 {
	lon1, lat1 := radians(a.X()), radians(a.Y())
	lon2, lat2 := radians(b.X()), radians(b.Y())

	dLat := lat2 - lat1
	dLon := lon2 - lon1
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(h))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
