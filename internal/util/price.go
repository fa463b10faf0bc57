// Package util provides common utility functions for price and strike calculations.
package util

import "math"

// tickEpsilon absorbs float noise in x/tick so exact multiples stay put.
const tickEpsilon = 1e-9

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.05, 1.27 becomes 1.25.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return math.Round(x/tick) * tick
}

// FloorToTick rounds x down to a tick multiple.
func FloorToTick(x, tick float64) float64 {
	if tick <= 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return math.Floor(x/tick+tickEpsilon) * tick
}

// CeilToTick rounds x up to a tick multiple.
func CeilToTick(x, tick float64) float64 {
	if tick <= 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return math.Ceil(x/tick-tickEpsilon) * tick
}

// AlmostEqual compares two prices within a fixed tolerance.
func AlmostEqual(a, b float64) bool {
	return math.Abs(a-b) < tickEpsilon
}
