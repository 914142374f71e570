package agentloop

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// newDefaultBackoff builds the exponential backoff the specification's
// C6 names verbatim: 1s -> 60s, multiplier 2x, +/-25% jitter.
func newDefaultBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 60 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.25
	b.Reset()
	return b
}
