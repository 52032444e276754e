package messaging

import (
	"math/rand"
	"time"
)

// HumanDelay draws randomized pauses between outbound messages so the
// traffic does not look automated to the channel. The delay is uniform
// in [Base-Variation, Base+Variation] and never zero.
type HumanDelay struct {
	Base      time.Duration
	Variation time.Duration
}

// Next returns the next pause. rng may be nil, in which case the
// shared source is used.
func (d HumanDelay) Next(rng *rand.Rand) time.Duration {
	spread := int64(2 * d.Variation)
	var jitter time.Duration
	if spread > 0 {
		if rng != nil {
			jitter = time.Duration(rng.Int63n(spread))
		} else {
			jitter = time.Duration(rand.Int63n(spread))
		}
	}
	delay := d.Base - d.Variation + jitter
	if delay < time.Second {
		delay = time.Second
	}
	return delay
}
