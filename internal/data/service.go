// Package data produces the protected payload, reading through the file
// cache and regenerating it when the cached entry is missing or stale.
package data

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"

	"authcache/internal/cache"
)

// TimestampLayout renders the human-readable "generated at" string.
const TimestampLayout = "1/2/2006, 3:04:05 PM"

const (
	payloadPrefix = "Your data: "
	tokenLen      = 13
	alphabet      = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// Cache is the single-slot store the Service reads through.
type Cache interface {
	Read() (*cache.Entry, error)
	Write(cache.Entry) error
}

// Result is what the data endpoint returns.
type Result struct {
	Payload   string
	Timestamp string
	FromCache bool
}

// Service serves the cached payload or regenerates it.
type Service struct {
	cache    Cache
	now      func() time.Time
	generate func() string
	observe  func(hit bool)
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithGenerator overrides the payload generator.
func WithGenerator(gen func() string) Option {
	return func(s *Service) { s.generate = gen }
}

// WithObserver registers fn to be told whether each Get was a cache hit.
func WithObserver(fn func(hit bool)) Option {
	return func(s *Service) { s.observe = fn }
}

// NewService constructs a Service around c.
func NewService(c Cache, opts ...Option) *Service {
	s := &Service{cache: c, now: time.Now, generate: RandomPayload, observe: func(bool) {}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the fresh cached payload, or generates, stores and returns a
// new one.
func (s *Service) Get(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	e, err := s.cache.Read()
	if err != nil {
		return Result{}, fmt.Errorf("read cache: %w", err)
	}
	if e != nil {
		log.WithField("age", humanize.RelTime(e.Created(), s.now(), "old", "from now")).Debug("data cache hit")
		s.observe(true)
		return Result{Payload: e.Payload, Timestamp: e.DisplayTimestamp, FromCache: true}, nil
	}

	now := s.now()
	fresh := cache.Entry{
		Payload:          s.generate(),
		DisplayTimestamp: now.Format(TimestampLayout),
		CreatedAt:        now.UnixMilli(),
	}
	if err := s.cache.Write(fresh); err != nil {
		return Result{}, fmt.Errorf("write cache: %w", err)
	}
	log.Debug("data cache miss, payload regenerated")
	s.observe(false)
	return Result{Payload: fresh.Payload, Timestamp: fresh.DisplayTimestamp, FromCache: false}, nil
}

// RandomPayload returns "Your data: " followed by 13 random base-36 chars.
func RandomPayload() string {
	b := make([]byte, tokenLen)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return payloadPrefix + string(b)
}
