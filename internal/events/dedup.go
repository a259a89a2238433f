package events

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Dedup suppresses repeated motion notifications. ONVIF cameras often
// re-send the same event several times within a short window.
type Dedup struct {
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
}

func NewDedup(maxKeys int, ttl time.Duration) *Dedup {
	c, _ := lru.New[string, time.Time](maxKeys)
	return &Dedup{
		cache: c,
		ttl:   ttl,
	}
}

// IsDuplicate reports whether the key was seen within the TTL window and
// records it either way.
func (d *Dedup) IsDuplicate(key string) bool {
	if addedAt, ok := d.cache.Get(key); ok {
		if time.Since(addedAt) < d.ttl {
			return true
		}
	}
	d.cache.Add(key, time.Now())
	return false
}

// BuildDedupKey buckets the event timestamp to 1 second so micro-timing
// differences between retransmissions collapse to one key.
func BuildDedupKey(streamName, eventType string, active bool, occurredAt time.Time) string {
	ts := occurredAt.Truncate(time.Second).Unix()
	return fmt.Sprintf("%s|%s|%t|%d", streamName, eventType, active, ts)
}
