package domain

import "math"

// All amounts are carried internally as integer cents. Dollars appear only at
// JSON boundaries, converted through these helpers.

func Cents(dollars float64) int64 {
	return int64(math.Round(dollars * 100))
}

func Dollars(cents int64) float64 {
	return float64(cents) / 100
}
