package session

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"nextup/storage"
)

// Manager hands out one live session per user, starting it on first use.
// Sessions stay warm for the process lifetime; Close tears them all down.
type Manager struct {
	remote     Remote
	kv         storage.KV
	feedClient *redis.Client
	logger     *log.Logger
	template   Config

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager. template carries the per-session tuning;
// its UserID field is ignored.
func NewManager(template Config, remote Remote, kv storage.KV, feedClient *redis.Client, logger *log.Logger) *Manager {
	return &Manager{
		remote:     remote,
		kv:         kv,
		feedClient: feedClient,
		logger:     logger,
		template:   template,
		sessions:   make(map[string]*Session),
	}
}

// For returns the user's session, creating and starting it on first call.
// A hydration failure inside Start degrades the session to offline; it does
// not fail For.
func (m *Manager) For(ctx context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	cfg := m.template
	cfg.UserID = userID
	s := New(cfg, m.remote, m.kv, m.feedClient, m.logger)
	m.sessions[userID] = s
	m.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		m.mu.Lock()
		delete(m.sessions, userID)
		m.mu.Unlock()
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close stops every live session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
