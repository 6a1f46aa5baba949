package tether

import (
	"math"
	"math/rand/v2"
	"time"
)

// backoffDelay returns the delay before reconnection attempt following tryIndex failed ones.
func backoffDelay(config BackoffConfig, tryIndex int) time.Duration {
	if tryIndex <= 1 || config.InitialDelay <= 0 {
		return jitter(config, float64(config.InitialDelay))
	}

	multiplier := max(config.Multiplier, 1.0)
	delay := float64(config.InitialDelay) * math.Pow(multiplier, float64(tryIndex-1))
	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return jitter(config, delay)
}

func jitter(config BackoffConfig, delay float64) time.Duration {
	if config.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	return time.Duration(delay)
}
