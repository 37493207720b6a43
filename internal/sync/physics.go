// Package sync implements the reconciliation engine that keeps the local
// spool inventory (Inv) and the cloud filament catalog (Cloud) consistent.
package sync

import (
	"math"
	"strings"
)

// FallbackGPM is the grams-per-meter substituted when density or diameter
// is unknown. Empirically correct for PLA at 1.75 mm.
const FallbackGPM = 2.98

// Canonical full-spool net weights in grams.
var standardWeights = []float64{250, 500, 1000, 2000, 5000, 10000}

// Snap tolerance for standard-weight rounding.
const standardWeightTolerance = 0.12

// GramsPerMeter returns the weight of one meter of filament, rounded to two
// decimals, given its density in g/cm3 and diameter in mm. Returns 0 when
// either input is missing; callers substitute FallbackGPM.
func GramsPerMeter(densityGCM3, diameterMM float64) float64 {
	if densityGCM3 == 0 || diameterMM == 0 {
		return 0
	}
	rCM := diameterMM / 20
	volCM3PerMeter := math.Pi * rCM * rCM * 100
	return round2(volCM3PerMeter * densityGCM3)
}

// WeightFromLength converts a length in millimetres to grams.
func WeightFromLength(lengthMM, gpm float64) float64 {
	return lengthMM / 1000 * gpm
}

// LengthFromWeight converts grams back to millimetres.
func LengthFromWeight(weightG, gpm float64) float64 {
	if gpm == 0 {
		return 0
	}
	return weightG / gpm * 1000
}

// RoundToStandardWeight snaps a computed full-spool weight to the nearest
// canonical value, but only when the nearest value is within ±12% of w.
// JAYO sells 1100 g spools, so that value joins the candidates for weights
// in (1000, 1200).
func RoundToStandardWeight(w float64, brand string) float64 {
	if w <= 0 {
		return w
	}

	candidates := standardWeights
	if strings.EqualFold(brand, "JAYO") && w > 1000 && w < 1200 {
		candidates = append(append([]float64{}, standardWeights...), 1100)
	}

	nearest := candidates[0]
	for _, c := range candidates[1:] {
		if math.Abs(c-w) < math.Abs(nearest-w) {
			nearest = c
		}
	}

	if math.Abs(nearest-w) <= standardWeightTolerance*w {
		return nearest
	}
	return w
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
