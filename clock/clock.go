// Package clock owns the two periodic timers of spec.md §4.9: a 10-minute
// reap of the response-id dedup window and an hourly rewind of the
// subscription's since and the event-id dedup window.
package clock

import (
	"context"
	"time"

	"orly.dev/noxy/ingress"
	"orly.dev/noxy/log"
	"orly.dev/noxy/relay"
)

const (
	reapInterval   = 10 * time.Minute
	rewindInterval = 1 * time.Hour
	replayWindow   = 48 * time.Hour
	reapGraceSecs  = 60
)

// Clock drives Ingress's dedup-window reaping and the relay pool's
// subscription rewind on the two fixed schedules spec.md §4.9 names.
type Clock struct {
	ingress        *ingress.Ingress
	pool           *relay.Pool
	proxyPublicKey string // hex
}

// New constructs a Clock bound to in and pool.
func New(in *ingress.Ingress, pool *relay.Pool, proxyPublicKeyHex string) *Clock {
	return &Clock{ingress: in, pool: pool, proxyPublicKey: proxyPublicKeyHex}
}

// Run blocks, firing the two tickers until ctx is cancelled.
func (c *Clock) Run(ctx context.Context) {
	reapTicker := time.NewTicker(reapInterval)
	rewindTicker := time.NewTicker(rewindInterval)
	defer reapTicker.Stop()
	defer rewindTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reapTicker.C:
			c.reap()
		case <-rewindTicker.C:
			c.rewind()
		}
	}
}

// reap implements §4.9's 10-minute tick: advance oldestTime = now-60s and
// reap handled-response-ids older than it.
func (c *Clock) reap() {
	cutoff := time.Now().Unix() - reapGraceSecs
	c.ingress.SetOldestTime(cutoff)
	c.ingress.ReapResponseIDs(cutoff)
	log.D.F("clock: reaped response-id window, oldestTime=%d", cutoff)
}

// rewind implements §4.9's 1-hour tick: recompute since, reopen every
// subscription with the new since, and reap handled-event-times.
func (c *Clock) rewind() {
	since := time.Now().Add(-replayWindow).Unix()
	filter := map[string]any{
		"since": since,
		"kinds": []int{21059},
		"#p":    []string{c.proxyPublicKey},
	}
	c.pool.Rewind(filter)
	c.ingress.ReapEventTimes(since)
	log.D.F("clock: rewound subscriptions, since=%d", since)
}
