package tracking

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/swapmeet/swapmeet/internal/domain/validation"
)

const earthRadiusKm = 6371.0088

const kmPerMile = 1.609344

// Unit is the display unit for distances.
type Unit string

const (
	UnitKilometers Unit = "km"
	UnitMiles      Unit = "mi"
)

func ParseUnit(raw string) (Unit, error) {
	switch Unit(strings.ToLower(strings.TrimSpace(raw))) {
	case "", UnitKilometers:
		return UnitKilometers, nil
	case UnitMiles:
		return UnitMiles, nil
	default:
		return "", validation.Errorf("unknown distance unit %q", raw)
	}
}

// Point is a coordinate pair in degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (p Point) Validate() error {
	if math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return validation.New("latitude must be between -90 and 90")
	}
	if math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return validation.New("longitude must be between -180 and 180")
	}
	return nil
}

// Update is the position push message.
type Update struct {
	ProposalID string    `json:"proposalId"`
	SessionID  uuid.UUID `json:"sessionId"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
}

func (u Update) Point() Point {
	return Point{Latitude: u.Latitude, Longitude: u.Longitude}
}

// LivePosition is a party's most recent coordinate during tracking.
type LivePosition struct {
	SessionID  uuid.UUID `json:"sessionId"`
	PartyID    string    `json:"partyId"`
	ProposalID string    `json:"proposalId"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	CapturedAt time.Time `json:"capturedAt"`
}

func (p LivePosition) Point() Point {
	return Point{Latitude: p.Latitude, Longitude: p.Longitude}
}

// DistanceKm returns the great-circle distance between a and b.
func DistanceKm(a, b Point) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Convert expresses km in unit.
func Convert(km float64, unit Unit) float64 {
	if unit == UnitMiles {
		return km / kmPerMile
	}
	return km
}

// FormatDistance renders a distance for display: below one unit is "under 1",
// anything else is "~N" rounded to the nearest integer.
func FormatDistance(value float64) string {
	if value < 1 {
		return "under 1"
	}
	return fmt.Sprintf("~%d", int64(math.Round(value)))
}

// Distance is a derived distance with its display form.
type Distance struct {
	Value   float64 `json:"value"`
	Display string  `json:"display"`
	Unit    Unit    `json:"unit"`
}

func NewDistance(km float64, unit Unit) Distance {
	v := Convert(km, unit)
	return Distance{Value: v, Display: FormatDistance(v), Unit: unit}
}
