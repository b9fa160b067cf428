package orders

import "math"

// Fare pricing: flat base plus a per-kilometer rate, in cents.
const (
	baseFareCents = 250
	perKmCents    = 120
)

// FareForDistance prices a delivery of the given length.
func FareForDistance(meters float64) int64 {
	if meters < 0 {
		meters = 0
	}
	return baseFareCents + int64(math.Round(meters/1000*perKmCents))
}
