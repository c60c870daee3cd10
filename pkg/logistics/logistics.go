// Package logistics provides distance and transport cost estimation helpers.
package logistics

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Coordinate is a WGS84 latitude/longitude pair.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinate lies within WGS84 bounds.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// DistanceKm calculates the great-circle distance between two coordinates
// in kilometers.
func DistanceKm(from, to Coordinate) float64 {
	a := orb.Point{from.Longitude, from.Latitude}
	b := orb.Point{to.Longitude, to.Latitude}
	return geo.DistanceHaversine(a, b) / 1000
}

// TransportCost estimates the cost of moving a quantity of produce over a
// route, as distance times quantity times the per-quintal-kilometer rate.
// The result is rounded to whole currency units.
func TransportCost(distanceKm, quantityQuintals, ratePerQuintalKm float64) float64 {
	if distanceKm < 0 || quantityQuintals <= 0 || ratePerQuintalKm < 0 {
		return 0
	}
	return math.Round(distanceKm * quantityQuintals * ratePerQuintalKm)
}

// RouteEstimate bundles the distance and cost for a single route.
type RouteEstimate struct {
	DistanceKm float64 `json:"distance_km"`
	Cost       float64 `json:"cost"`
}

// EstimateRoute computes the great-circle distance between two points plus
// the transport cost for the given quantity and rate.
func EstimateRoute(from, to Coordinate, quantityQuintals, ratePerQuintalKm float64) RouteEstimate {
	dist := DistanceKm(from, to)
	return RouteEstimate{
		DistanceKm: dist,
		Cost:       TransportCost(dist, quantityQuintals, ratePerQuintalKm),
	}
}
