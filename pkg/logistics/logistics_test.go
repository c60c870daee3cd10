package logistics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Nagpur to Mumbai is roughly 700 km as the crow flies.
var (
	nagpur = Coordinate{Latitude: 21.1458, Longitude: 79.0882}
	mumbai = Coordinate{Latitude: 19.0760, Longitude: 72.8777}
)

func TestDistanceKm(t *testing.T) {
	dist := DistanceKm(nagpur, mumbai)
	assert.InDelta(t, 690, dist, 30)

	assert.Zero(t, DistanceKm(nagpur, nagpur))
}

func TestTransportCost(t *testing.T) {
	// 100 km, 10 quintals, 3.5 per quintal-km.
	assert.Equal(t, 3500.0, TransportCost(100, 10, 3.5))

	assert.Zero(t, TransportCost(-1, 10, 3.5))
	assert.Zero(t, TransportCost(100, 0, 3.5))
}

func TestEstimateRoute(t *testing.T) {
	est := EstimateRoute(nagpur, mumbai, 10, 2)
	assert.Equal(t, est.DistanceKm, DistanceKm(nagpur, mumbai))
	assert.Equal(t, TransportCost(est.DistanceKm, 10, 2), est.Cost)
}

func TestCoordinateValid(t *testing.T) {
	assert.True(t, nagpur.Valid())
	assert.False(t, Coordinate{Latitude: 91}.Valid())
	assert.False(t, Coordinate{Longitude: -181}.Valid())
}
