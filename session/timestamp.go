package session

import (
	"sync/atomic"
	"time"
)

var lastTimestamp int64

// nextTimestamp returns a strictly increasing nanosecond timestamp so
// replayed command envelopes keep their relative order server-side.
func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}
