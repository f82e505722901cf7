// Package users keeps registered credentials in memory.
package users

import (
	"errors"
	"fmt"
	"sync"

	"github.com/apex/log"
	"golang.org/x/crypto/bcrypt"
)

// HashCost is the bcrypt work factor used for new passwords.
const HashCost = 10

const (
	demoUsername = "admin"
	demoPassword = "12345"
)

var (
	// ErrExists is returned when registering a username that is taken.
	ErrExists = errors.New("user already exists")
	// ErrInvalidCredentials is returned for an unknown user or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Record is a stored credential. It is never modified after registration.
type Record struct {
	Username     string
	PasswordHash string
}

// Store is a process-local username to Record map safe for concurrent access.
type Store struct {
	mu    sync.RWMutex
	users map[string]Record
	demo  bool
}

// Option configures a Store.
type Option func(*Store)

// WithDemoAccount accepts admin/12345 as long as no user named admin has
// registered.
func WithDemoAccount(enabled bool) Option {
	return func(s *Store) { s.demo = enabled }
}

// NewStore constructs an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{users: make(map[string]Record)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register hashes password and stores it under username.
func (s *Store) Register(username, password string) (Record, error) {
	s.mu.RLock()
	_, taken := s.users[username]
	s.mu.RUnlock()
	if taken {
		return Record{}, ErrExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), HashCost)
	if err != nil {
		return Record{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check: another registration may have won while we were hashing.
	if _, taken := s.users[username]; taken {
		return Record{}, ErrExists
	}
	rec := Record{Username: username, PasswordHash: string(hash)}
	s.users[username] = rec
	return rec, nil
}

// Authenticate checks password against the stored hash for username.
func (s *Store) Authenticate(username, password string) error {
	s.mu.RLock()
	rec, ok := s.users[username]
	s.mu.RUnlock()

	if !ok {
		if s.demo && username == demoUsername && password == demoPassword {
			log.WithField("user", username).Warn("demo account login")
			return nil
		}
		return ErrInvalidCredentials
	}

	err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrInvalidCredentials
	default:
		return fmt.Errorf("compare password: %w", err)
	}
}

// Lookup returns the record for username.
func (s *Store) Lookup(username string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[username]
	return rec, ok
}

// DemoEnabled reports whether the demo account is accepted.
func (s *Store) DemoEnabled() bool { return s.demo }
