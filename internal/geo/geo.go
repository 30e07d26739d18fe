package geo

import "math"

const (
	earthRadiusM = 6371000.0

	// Rough metres per degree of latitude, used for bbox padding.
	metersPerDegree = 111000.0
)

// Haversine returns the great-circle distance in metres between two
// WGS84 coordinates.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// PointToSegment returns the distance in metres from point p to the
// segment (a, b). The segment is projected onto a local Cartesian plane
// centred at p; adequate for the sub-10km spans road geometry produces.
func PointToSegment(pLat, pLon, aLat, aLon, bLat, bLon float64) float64 {
	cosLat := math.Cos(pLat * math.Pi / 180)

	ax := (aLon - pLon) * cosLat
	ay := aLat - pLat
	bx := (bLon - pLon) * cosLat
	by := bLat - pLat

	dx := bx - ax
	dy := by - ay

	segLenSq := dx*dx + dy*dy
	if segLenSq == 0 {
		return Haversine(pLat, pLon, aLat, aLon)
	}

	// Projection parameter clamped to the segment.
	t := (-(ax*dx + ay*dy)) / segLenSq
	t = math.Max(0, math.Min(1, t))

	nearLat := aLat + t*(bLat-aLat)
	nearLon := aLon + t*(bLon-aLon)
	return Haversine(pLat, pLon, nearLat, nearLon)
}

// MinDistanceToPath returns the minimum distance in metres from a point
// to a polyline given as ordered (lat, lon) nodes. A single-node path
// degenerates to a point distance. Returns +Inf for an empty path.
func MinDistanceToPath(lat, lon float64, nodes [][2]float64) float64 {
	if len(nodes) == 0 {
		return math.Inf(1)
	}
	if len(nodes) == 1 {
		return Haversine(lat, lon, nodes[0][0], nodes[0][1])
	}

	min := math.Inf(1)
	for i := 0; i < len(nodes)-1; i++ {
		d := PointToSegment(lat, lon, nodes[i][0], nodes[i][1], nodes[i+1][0], nodes[i+1][1])
		if d < min {
			min = d
		}
	}
	return min
}

// BBox is a geographic bounding box. West may exceed East for boxes
// spanning the antimeridian; none of our regions do, so no special
// handling is applied.
type BBox struct {
	West  float64
	South float64
	East  float64
	North float64
}

// FromPoints returns the tightest box containing all points.
// ok is false when points is empty.
func FromPoints(points [][2]float64) (box BBox, ok bool) {
	if len(points) == 0 {
		return BBox{}, false
	}
	box = BBox{
		West:  points[0][1],
		South: points[0][0],
		East:  points[0][1],
		North: points[0][0],
	}
	for _, p := range points[1:] {
		box.South = math.Min(box.South, p[0])
		box.North = math.Max(box.North, p[0])
		box.West = math.Min(box.West, p[1])
		box.East = math.Max(box.East, p[1])
	}
	return box, true
}

// Pad expands the box on all sides by roughly meters, using the
// ~111km/degree latitude estimate with a 1.5x safety factor so the
// padded box never under-covers at mid latitudes.
func (b BBox) Pad(meters float64) BBox {
	pad := meters / metersPerDegree * 1.5
	return BBox{
		West:  b.West - pad,
		South: b.South - pad,
		East:  b.East + pad,
		North: b.North + pad,
	}
}

// Contains reports whether the point lies inside the box (inclusive).
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.South && lat <= b.North && lon >= b.West && lon <= b.East
}
