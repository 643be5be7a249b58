package remote

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
)

// Sessions caches Service handles keyed by account id so that consecutive
// blocks for the same account reuse one handle. A Sessions value belongs to
// a single run and is passed explicitly to the builders.
type Sessions struct {
	connector Connector
	logger    *slog.Logger

	mu    gosync.Mutex
	cache map[string]Service
}

// NewSessions creates an empty cache backed by connector.
func NewSessions(connector Connector, logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}

	return &Sessions{
		connector: connector,
		logger:    logger,
		cache:     make(map[string]Service),
	}
}

// Service returns the cached handle for accountID, connecting on a miss.
func (s *Sessions) Service(ctx context.Context, accountID string) (Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if svc, ok := s.cache[accountID]; ok {
		return svc, nil
	}

	if s.connector == nil {
		return nil, fmt.Errorf("remote: no connector configured for account %s", accountID)
	}

	svc, err := s.connector.Connect(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("remote: connecting account %s: %w", accountID, err)
	}

	s.cache[accountID] = svc

	s.logger.Debug("session created", slog.String("account", accountID))

	return svc, nil
}

// Len returns the number of cached sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.cache)
}
