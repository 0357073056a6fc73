package utils

import (
	"math"
	"time"
)

// ExponentialJitter returns base*2^(attempt-1) capped at max, with +/- 20%
// jitter so retrying workers don't stampede.
func ExponentialJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	mul := math.Pow(2, float64(attempt-1))
	d := time.Duration(float64(base) * mul)
	if d > max {
		d = max
	}

	j := time.Duration(float64(d) * 0.2)
	if j <= 0 {
		return d
	}
	return d - j + time.Duration(time.Now().UnixNano()%int64(2*j))
}
