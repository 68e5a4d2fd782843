package aritext

import (
	"math"
	"time"
)

func nanValue() float64   { return math.NaN() }
func infValue(sign int) float64 {
	if sign < 0 {
		return math.Inf(-1)
	}
	return math.Inf(1)
}

// dtnEpochTime mirrors package ari's unexported epoch constant so the
// text codec can compute TP literals without reaching into ari
// internals.
func dtnEpochTime() time.Time { return time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC) }

func secToDuration(n int64) time.Duration { return time.Duration(n) * time.Second }
