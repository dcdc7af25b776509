package storage

import (
	"context"
	"errors"
	"strings"
)

// ErrNotConfigured means the durable store was never given the settings it
// needs. It is a deployment problem rather than a transient failure.
var ErrNotConfigured = errors.New("object store not configured")

// ErrObjectNotFound is returned by reads of missing keys. Delete never
// returns it.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the durable, publicly served home of approved assets.
type ObjectStore interface {
	// Put stores data under key and returns the public URL.
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	// Delete removes key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error
	IsConfigured() bool
	PublicURL(key string) string
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

// unconfiguredStore stands in for a driver that is missing required settings
// so the rest of the system can start and report the problem per request.
type unconfiguredStore struct {
	reason string
}

// NewUnconfiguredStore returns a store whose Put always fails with ErrNotConfigured.
func NewUnconfiguredStore(reason string) ObjectStore {
	return unconfiguredStore{reason: reason}
}

func (u unconfiguredStore) Put(context.Context, string, string, []byte) (string, error) {
	return "", errors.Join(ErrNotConfigured, errors.New(u.reason))
}

func (u unconfiguredStore) Delete(context.Context, string) error {
	return ErrNotConfigured
}

func (unconfiguredStore) IsConfigured() bool    { return false }
func (unconfiguredStore) PublicURL(string) string { return "" }
