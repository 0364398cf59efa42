package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDistance(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "under 1"},
		{0.42, "under 1"},
		{0.999, "under 1"},
		{1, "~1"},
		{1.49, "~1"},
		{4.6, "~5"},
		{12.5, "~13"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDistance(tt.in), "%v", tt.in)
	}
}

func TestDistanceKm(t *testing.T) {
	centralPark := Point{Latitude: 40.7829, Longitude: -73.9654}
	timesSquare := Point{Latitude: 40.7580, Longitude: -73.9855}

	d := DistanceKm(centralPark, timesSquare)
	assert.InDelta(t, 3.24, d, 0.05)
	assert.InDelta(t, d, DistanceKm(timesSquare, centralPark), 1e-9)
	assert.Zero(t, DistanceKm(centralPark, centralPark))

	london := Point{Latitude: 51.5074, Longitude: -0.1278}
	paris := Point{Latitude: 48.8566, Longitude: 2.3522}
	assert.InDelta(t, 343.5, DistanceKm(london, paris), 1.5)
}

func TestNewDistanceMiles(t *testing.T) {
	d := NewDistance(8.0467, UnitMiles)
	assert.InDelta(t, 5.0, d.Value, 0.001)
	assert.Equal(t, "~5", d.Display)
	assert.Equal(t, UnitMiles, d.Unit)
}

func TestParseUnit(t *testing.T) {
	u, err := ParseUnit("")
	require.NoError(t, err)
	assert.Equal(t, UnitKilometers, u)
	u, err = ParseUnit("MI")
	require.NoError(t, err)
	assert.Equal(t, UnitMiles, u)
	_, err = ParseUnit("furlong")
	assert.Error(t, err)
}

func TestPointValidate(t *testing.T) {
	assert.NoError(t, Point{Latitude: 10, Longitude: 10}.Validate())
	assert.Error(t, Point{Latitude: -91, Longitude: 10}.Validate())
	assert.Error(t, Point{Latitude: 0, Longitude: 200}.Validate())
}
