// Package feed maintains the single live subscription to the remote
// store's change stream and hands normalized events to the collection.
package feed

import (
	"context"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"nextup/domain"
)

// State of the subscription. An explicit machine rather than a bare flag so
// the double-subscribe guard is testable in isolation.
type State string

const (
	StateUnsubscribed State = "unsubscribed"
	StateSubscribing  State = "subscribing"
	StateSubscribed   State = "subscribed"
)

func channelName(scope string) string {
	return "task-changes:" + scope
}

// Subscriber owns at most one live registration per session. Subscribe is
// idempotent; the state moves to subscribing before the handshake resolves,
// which closes the race where two near-simultaneous mounts both observe
// "not yet subscribed".
type Subscriber struct {
	client *redis.Client
	logger *log.Logger

	mu     sync.Mutex
	state  State
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewSubscriber creates an unsubscribed subscriber.
func NewSubscriber(client *redis.Client, logger *log.Logger) *Subscriber {
	if client == nil {
		panic("feed.NewSubscriber: redis client is required")
	}
	if logger == nil {
		panic("feed.NewSubscriber: logger is required")
	}
	return &Subscriber{client: client, logger: logger, state: StateUnsubscribed}
}

// State returns the current subscription state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers for the user's change stream and applies events in
// receipt order through the given callback. Calling it while a
// registration is live (or in flight) is a no-op. Transport reconnection
// after the handshake is the client library's job.
func (s *Subscriber) Subscribe(ctx context.Context, userScope string, apply func(domain.ChangeEvent)) error {
	s.mu.Lock()
	if s.state != StateUnsubscribed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateSubscribing
	s.mu.Unlock()

	pubsub := s.client.Subscribe(ctx, channelName(userScope))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		s.mu.Lock()
		s.state = StateUnsubscribed
		s.mu.Unlock()
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.state = StateSubscribed
	s.pubsub = pubsub
	s.done = done
	s.mu.Unlock()

	// Single reader goroutine: events reach the collection strictly in
	// receipt order, no batching or reordering.
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			var ev domain.ChangeEvent
			if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
				s.logger.WithError(err).Warn("unparseable change event, skipping")
				continue
			}
			switch ev.Type {
			case domain.EventInsert, domain.EventUpdate, domain.EventDelete:
				apply(ev)
			default:
				s.logger.WithField("event_type", string(ev.Type)).Warn("unknown change event type, skipping")
			}
		}
	}()
	return nil
}

// Unsubscribe tears down the live registration, if any, and waits for the
// reader to drain.
func (s *Subscriber) Unsubscribe() {
	s.mu.Lock()
	pubsub := s.pubsub
	done := s.done
	s.pubsub = nil
	s.done = nil
	s.state = StateUnsubscribed
	s.mu.Unlock()

	if pubsub == nil {
		return
	}
	if err := pubsub.Close(); err != nil {
		s.logger.WithError(err).Warn("closing change feed subscription")
	}
	if done != nil {
		<-done
	}
}
