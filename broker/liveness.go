package broker

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/woozar/prophecy-sub003/internal/consts"
)

var pingFrame = []byte(consts.SSEPingFrame)

func (b *Broker) runMonitor() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.sweep(b.now())
		}
	}
}

// sweep runs one heartbeat pass. Streams without a successful write for longer
// than staleAfter are evicted before any ping is attempted; the rest are
// pinged and evicted if the ping fails.
func (b *Broker) sweep(now time.Time) (pinged, evicted int) {
	for _, c := range b.clients.snapshot() {
		if now.Sub(c.lastActive()) > b.staleAfter {
			if b.evict(c, "stale", nil) {
				evicted++
			}
			continue
		}
		if err := c.write(pingFrame, b.now); err != nil {
			if b.evict(c, "ping failed", err) {
				evicted++
			}
			continue
		}
		pinged++
	}
	b.logger.WithFields(log.Fields{
		"pinged":  pinged,
		"evicted": evicted,
		"clients": b.clients.count(),
	}).Debug("heartbeat")
	return pinged, evicted
}
