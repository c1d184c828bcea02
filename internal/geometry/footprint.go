package geometry

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Footprint builds a GeoJSON feature outlining a set of postal-code
// centroids: a single point, a line between two points, or the convex hull of
// three or more. It returns nil when there are no points.
func Footprint(name string, points []orb.Point) *geojson.Feature {
	unique := dedupe(points)

	var geom orb.Geometry
	switch len(unique) {
	case 0:
		return nil
	case 1:
		geom = unique[0]
	case 2:
		geom = orb.LineString(unique)
	default:
		hull := ConvexHull(unique)
		if len(hull) < 4 {
			// All points are collinear.
			geom = orb.LineString{hull[0], hull[len(hull)/2]}
		} else {
			geom = orb.Polygon{hull}
		}
	}

	bound := orb.MultiPoint(unique).Bound()
	center := bound.Center()

	feature := geojson.NewFeature(geom)
	feature.BBox = geojson.NewBBox(bound)
	feature.Properties = geojson.Properties{
		"market":      name,
		"point_count": len(unique),
		"center":      []float64{center.Lon(), center.Lat()},
	}
	return feature
}

// ConvexHull returns the closed, counter-clockwise hull of points using the
// monotone chain algorithm. Collinear points on the boundary are dropped.
func ConvexHull(points []orb.Point) orb.Ring {
	pts := dedupe(points)
	if len(pts) < 3 {
		return orb.Ring(pts)
	}

	sort.Slice(pts, func(i, j int) bool {
		if pts[i][0] != pts[j][0] {
			return pts[i][0] < pts[j][0]
		}
		return pts[i][1] < pts[j][1]
	})

	hull := make([]orb.Point, 0, 2*len(pts))
	// Lower hull
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	// Upper hull
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	// The last point repeats the first, closing the ring.
	return orb.Ring(hull)
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

func dedupe(points []orb.Point) []orb.Point {
	seen := make(map[orb.Point]bool, len(points))
	out := make([]orb.Point, 0, len(points))
	for _, p := range points {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
