// Package testutil provides shared test doubles and fixtures for backend tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"time"

	"fanvault/internal/models"
)

// TinyPNG returns an in-memory PNG byte slice with the requested dimensions.
func TinyPNG(t interface {
	Helper()
	Fatalf(string, ...any)
}, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// TinyJPEG returns an in-memory JPEG filled with c.
func TinyJPEG(t interface {
	Helper()
	Fatalf(string, ...any)
}, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, c)
		}
	}
	buf := bytes.NewBuffer(nil)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// StubClock returns a settable time. Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *StubClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SequenceTokens yields tok1, tok2, ... Safe for concurrent use.
type SequenceTokens struct {
	mu sync.Mutex
	n  int
}

func (s *SequenceTokens) New() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("tok%d", s.n)
}

// Notification is one call captured by RecordingNotifier.
type Notification struct {
	Kind         string
	UserID       uint
	SubmissionID uint
	Title        string
	Reason       string
}

// RecordingNotifier captures moderation notifications in memory.
type RecordingNotifier struct {
	mu    sync.Mutex
	calls []Notification
	Err   error
}

func (r *RecordingNotifier) NotifyApproved(_ context.Context, sub *models.PendingSubmission) error {
	r.record(Notification{Kind: "approved", UserID: sub.SubmitterID, SubmissionID: sub.ID, Title: sub.Title})
	return r.Err
}

func (r *RecordingNotifier) NotifyRejected(_ context.Context, sub *models.PendingSubmission, reason string) error {
	r.record(Notification{Kind: "rejected", UserID: sub.SubmitterID, SubmissionID: sub.ID, Title: sub.Title, Reason: reason})
	return r.Err
}

func (r *RecordingNotifier) record(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, n)
}

// Calls returns a copy of everything recorded so far.
func (r *RecordingNotifier) Calls() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.calls...)
}
