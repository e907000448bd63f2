// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package alert

import (
	"math"
	"testing"

	"github.com/ssrniv42/fleetbridge/internal/models"
)

func circleFence(lat, lon, radius float64, inclusive bool) *models.Geofence {
	return &models.Geofence{
		Shape:     models.ShapeCircle,
		Active:    true,
		Inclusive: inclusive,
		Coordinates: []models.Coordinate{
			{Latitude: lat, Longitude: lon, Radius: radius},
		},
	}
}

func TestInsideGeofenceCircle(t *testing.T) {
	fence := circleFence(45.5, -73.6, 1000, true)

	if !insideGeofence(fence, 45.5, -73.6) {
		t.Fatal("center must be inside")
	}
	// ~780 m east of center.
	if !insideGeofence(fence, 45.5, -73.59) {
		t.Fatal("point within radius must be inside")
	}
	// ~2.2 km north.
	if insideGeofence(fence, 45.52, -73.6) {
		t.Fatal("point beyond radius must be outside")
	}
}

func TestInsideGeofencePolygon(t *testing.T) {
	fence := &models.Geofence{
		Shape:     models.ShapePolygon,
		Active:    true,
		Inclusive: true,
		Coordinates: []models.Coordinate{
			{Latitude: 45.0, Longitude: -74.0},
			{Latitude: 45.0, Longitude: -73.0},
			{Latitude: 46.0, Longitude: -73.0},
			{Latitude: 46.0, Longitude: -74.0},
		},
	}

	if !insideGeofence(fence, 45.5, -73.5) {
		t.Fatal("interior point must be inside")
	}
	if insideGeofence(fence, 44.9, -73.5) {
		t.Fatal("point south of the polygon must be outside")
	}
	if insideGeofence(fence, 45.5, -72.9) {
		t.Fatal("point east of the polygon must be outside")
	}
}

func TestInsideGeofencePathCorridor(t *testing.T) {
	// Roughly west-east polyline along latitude 45.5 with a 2 km corridor.
	fence := &models.Geofence{
		Shape:     models.ShapePath,
		Active:    true,
		Inclusive: true,
		Width:     2000,
		Coordinates: []models.Coordinate{
			{Latitude: 45.5, Longitude: -74.0},
			{Latitude: 45.5, Longitude: -73.0},
		},
	}

	if !insideGeofence(fence, 45.5, -73.5) {
		t.Fatal("point on the path must be inside")
	}
	// ~550 m north of the line, inside the 1 km half-width.
	if !insideGeofence(fence, 45.505, -73.5) {
		t.Fatal("point within corridor must be inside")
	}
	// ~2.2 km north of the line.
	if insideGeofence(fence, 45.52, -73.5) {
		t.Fatal("point beyond corridor must be outside")
	}
	// Past the endpoint: distance is measured to the end vertex.
	if insideGeofence(fence, 45.5, -72.9) {
		t.Fatal("point past the endpoint and beyond half-width must be outside")
	}
}

func TestViolatesGeofenceDirection(t *testing.T) {
	inclusive := circleFence(45.5, -73.6, 1000, true)
	exclusive := circleFence(45.5, -73.6, 1000, false)

	// Inclusive: violated from outside only.
	if violatesGeofence(inclusive, 45.5, -73.6) {
		t.Fatal("inside an inclusive fence is not a violation")
	}
	if !violatesGeofence(inclusive, 45.52, -73.6) {
		t.Fatal("outside an inclusive fence is a violation")
	}

	// Exclusive: violated from inside only.
	if !violatesGeofence(exclusive, 45.5, -73.6) {
		t.Fatal("inside an exclusive fence is a violation")
	}
	if violatesGeofence(exclusive, 45.52, -73.6) {
		t.Fatal("outside an exclusive fence is not a violation")
	}

	inactive := circleFence(45.5, -73.6, 1000, false)
	inactive.Active = false
	if violatesGeofence(inactive, 45.5, -73.6) {
		t.Fatal("inactive fences are never violated")
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// Montreal to Ottawa, roughly 160 km.
	d := haversineM(45.5019, -73.5674, 45.4215, -75.6972)
	if math.Abs(d-166000) > 5000 {
		t.Fatalf("unexpected distance %.0f m", d)
	}
}
