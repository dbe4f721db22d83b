package sdk

import (
	"errors"
	"time"
)

// ErrNotStable is returned by WaitStable when the timeout elapses first.
var ErrNotStable = errors.New("sdk: page did not stabilise")

// WaitOptions bounds the stability poll.
type WaitOptions struct {
	Poll    time.Duration // default 100ms
	Stable  time.Duration // unchanged node count for this long; default 800ms
	Timeout time.Duration // default 5s
}

func (o WaitOptions) withDefaults() WaitOptions {
	if o.Poll <= 0 {
		o.Poll = 100 * time.Millisecond
	}
	if o.Stable <= 0 {
		o.Stable = 800 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	return o
}

// WaitStable polls the number of nodes matching selector until it stops
// changing for the stable period. An empty selector counts every element.
// It returns ErrNotStable once the timeout elapses.
func WaitStable(p *Page, selector string) error {
	if selector == "" {
		selector = "*"
	}
	o := p.wait
	deadline := time.Now().Add(o.Timeout)
	last := -1
	var since time.Time

	for {
		n, err := p.d.NodeCount(selector)
		if err != nil {
			return err
		}
		now := time.Now()
		if n != last {
			last = n
			since = now
		} else if now.Sub(since) >= o.Stable {
			return nil
		}
		if now.After(deadline) {
			return ErrNotStable
		}
		time.Sleep(o.Poll)
	}
}
