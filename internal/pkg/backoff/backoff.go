package backoff

import (
	"math/rand"
	"time"
)

// Policy is an exponential backoff: Base doubling per attempt, capped at Max,
// with +/-20% jitter so a herd of retries does not line up.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

var Default = Policy{Base: 10 * time.Second, Max: 10 * time.Minute}

// Delay returns the wait before the given attempt runs again. attempt is
// 1-based (the attempt that just failed).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.Base
	if base <= 0 {
		base = Default.Base
	}
	max := p.Max
	if max <= 0 {
		max = Default.Max
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	return jitter(d)
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	j := 0.2
	delta := base.Seconds() * j
	low := base.Seconds() - delta
	high := base.Seconds() + delta
	if low < 0 {
		low = 0
	}
	v := low + rand.Float64()*(high-low)
	return time.Duration(v * float64(time.Second))
}
