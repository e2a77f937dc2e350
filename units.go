package dashboard

import (
	"fmt"
	"math"
)

// metersPerMile matches the conversion factor the charts were built
// against, not the survey-exact 1609.344.
const metersPerMile = 1609.34

// MetersToMiles converts a distance in meters to miles.
func MetersToMiles(m float64) float64 {
	return m / metersPerMile
}

// MetersToKilometers converts a distance in meters to kilometers.
func MetersToKilometers(m float64) float64 {
	return m / 1000
}

// MilesToKilometers converts a distance in miles to kilometers.
func MilesToKilometers(mi float64) float64 {
	return mi * metersPerMile / 1000
}

// KilometersToMiles converts a distance in kilometers to miles.
func KilometersToMiles(km float64) float64 {
	return km * 1000 / metersPerMile
}

// SpeedToPace converts a speed in m/s to a pace in minutes per mile.
// Returns 0 for non-positive speeds.
func SpeedToPace(speed float64) float64 {
	if speed <= 0 {
		return 0
	}
	return metersPerMile / speed / 60
}

// PaceString formats a pace in minutes per mile as "M:SS".
func PaceString(pace float64) string {
	if pace <= 0 {
		return "-"
	}
	minutes := int(pace)
	seconds := int(math.Round((pace - float64(minutes)) * 60))
	if seconds == 60 {
		minutes++
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
