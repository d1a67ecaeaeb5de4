package testutil

import (
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

// CaptureTransport keeps the events sentry would have sent
type CaptureTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (t *CaptureTransport) Flush(time.Duration) bool { return true }

func (t *CaptureTransport) Configure(sentry.ClientOptions) {}

func (t *CaptureTransport) SendEvent(event *sentry.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

// Events returns the captured events in send order
func (t *CaptureTransport) Events() []*sentry.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*sentry.Event(nil), t.events...)
}
