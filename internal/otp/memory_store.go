package otp

import (
	"context"
	"sync"
	"time"

	univote_errors "univote/pkg/errors"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu         sync.Mutex
	challenges map[string]Challenge
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{challenges: make(map[string]Challenge)}
}

func (s *MemoryStore) Put(_ context.Context, key string, c Challenge) error {
	s.mu.Lock()
	s.challenges[key] = c
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[key]
	if !ok {
		return Challenge{}, univote_errors.ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) Consume(_ context.Context, key, code string, pollID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[key]
	if !ok {
		return univote_errors.ErrNotFound
	}
	err := c.check(code, pollID, now)
	switch err {
	case nil, univote_errors.ErrExpired:
		delete(s.challenges, key)
	case univote_errors.ErrInvalidCode:
		c.Attempts++
		if c.Attempts >= MaxAttempts {
			delete(s.challenges, key)
			return errAttemptsExhausted
		}
		s.challenges[key] = c
	}
	return err
}

func (s *MemoryStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, c := range s.challenges {
		if c.Expired(now) {
			delete(s.challenges, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}
