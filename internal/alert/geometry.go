// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package alert

import (
	"math"

	"github.com/ssrniv42/fleetbridge/internal/models"
)

const earthRadiusM = 6371000.0

// insideGeofence reports whether the point lies within the fence geometry.
// Circle fences use great-circle distance against the radius on the first
// coordinate; polygon and rectangle use ray-casting; path fences are a
// corridor of the configured width around the polyline.
func insideGeofence(g *models.Geofence, lat, lon float64) bool {
	if len(g.Coordinates) == 0 {
		return false
	}
	switch g.Shape {
	case models.ShapeCircle:
		center := g.Coordinates[0]
		return haversineM(lat, lon, center.Latitude, center.Longitude) <= center.Radius
	case models.ShapePolygon, models.ShapeRectangle:
		return pointInPolygon(g.Coordinates, lat, lon)
	case models.ShapePath:
		return distanceToPathM(g.Coordinates, lat, lon) <= g.Width/2
	default:
		return false
	}
}

// violatesGeofence applies the inclusive/exclusive flag: inclusive fences
// are violated from outside, exclusive fences from inside. Inactive fences
// are never violated.
func violatesGeofence(g *models.Geofence, lat, lon float64) bool {
	if !g.Active {
		return false
	}
	inside := insideGeofence(g, lat, lon)
	if g.Inclusive {
		return !inside
	}
	return inside
}

// haversineM returns the great-circle distance between two points in meters.
func haversineM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// pointInPolygon is standard ray casting over the vertex list.
func pointInPolygon(vertices []models.Coordinate, lat, lon float64) bool {
	inside := false
	n := len(vertices)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := vertices[i], vertices[j]
		if (vi.Longitude > lon) != (vj.Longitude > lon) &&
			lat < (vj.Latitude-vi.Latitude)*(lon-vi.Longitude)/(vj.Longitude-vi.Longitude)+vi.Latitude {
			inside = !inside
		}
	}
	return inside
}

// distanceToPathM returns the minimum perpendicular distance in meters from
// the point to any segment of the polyline. Segments are projected onto a
// local flat plane, accurate at corridor scale.
func distanceToPathM(path []models.Coordinate, lat, lon float64) float64 {
	if len(path) == 1 {
		return haversineM(lat, lon, path[0].Latitude, path[0].Longitude)
	}

	min := math.MaxFloat64
	for i := 0; i < len(path)-1; i++ {
		d := distanceToSegmentM(path[i], path[i+1], lat, lon)
		if d < min {
			min = d
		}
	}
	return min
}

func distanceToSegmentM(a, b models.Coordinate, lat, lon float64) float64 {
	// Equirectangular projection around the segment midpoint.
	midLat := (a.Latitude + b.Latitude) / 2 * math.Pi / 180
	scale := math.Cos(midLat)

	ax, ay := a.Longitude*scale, a.Latitude
	bx, by := b.Longitude*scale, b.Latitude
	px, py := lon*scale, lat

	dx, dy := bx-ax, by-ay
	lengthSq := dx*dx + dy*dy
	t := 0.0
	if lengthSq > 0 {
		t = ((px-ax)*dx + (py-ay)*dy) / lengthSq
		t = math.Max(0, math.Min(1, t))
	}
	nearX, nearY := ax+t*dx, ay+t*dy

	// Back to meters via degrees-to-meters at the equatorial scale.
	const metersPerDegree = math.Pi / 180 * earthRadiusM
	ddx, ddy := px-nearX, py-nearY
	return math.Sqrt(ddx*ddx+ddy*ddy) * metersPerDegree
}
