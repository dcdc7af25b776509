package service

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// TokenGenerator produces the random token embedded in staged and durable names.
type TokenGenerator interface {
	New() string
}

// UUIDTokens produces random UUIDs without dashes.
type UUIDTokens struct{}

func (UUIDTokens) New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Option customizes the clock and token source of a service.
type Option func(*options)

type options struct {
	clock  Clock
	tokens TokenGenerator
}

func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithTokenGenerator(g TokenGenerator) Option {
	return func(o *options) { o.tokens = g }
}

func buildOptions(opts []Option) options {
	o := options{clock: RealClock{}, tokens: UUIDTokens{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
