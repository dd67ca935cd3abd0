package geo

import "math"

// earthRadiusMeters is the Earth mean radius used by the haversine formula.
const earthRadiusMeters = 6371000.0

// Coordinate is a WGS 84 point. Latitude is in [-90, 90], longitude in [-180, 180].
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Distance returns the great-circle distance between a and b in meters,
// computed with the haversine formula. It is symmetric, always finite and
// non-negative, and zero when the points coincide.
func Distance(a, b Coordinate) float64 {
	phi1 := radians(a.Latitude)
	phi2 := radians(b.Latitude)
	dPhi := radians(b.Latitude - a.Latitude)
	dLambda := radians(b.Longitude - a.Longitude)

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)
	h := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
