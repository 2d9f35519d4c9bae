package session

import (
	"sync"
	"time"
)

// flushScheduler runs a function on a fixed interval. It is owned by the
// session lifecycle; Stop is guaranteed on teardown so no timer leaks
// across session boundaries.
type flushScheduler struct {
	mu     sync.Mutex
	ticker *time.Ticker
	done   chan struct{}
}

func (s *flushScheduler) Start(interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(interval)
	s.done = make(chan struct{})
	go func(ticker *time.Ticker, done chan struct{}) {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}(s.ticker, s.done)
}

func (s *flushScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.done)
	s.ticker = nil
	s.done = nil
}
