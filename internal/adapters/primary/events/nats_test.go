package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

type fakeJanitor struct {
	mu      sync.Mutex
	authors []string
}

func (f *fakeJanitor) InvalidateContent(_ context.Context, authorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authors = append(f.authors, authorID)
	return nil
}

func (f *fakeJanitor) invalidated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.authors...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 1s")
}

func TestContentCreatedTriggersInvalidation(t *testing.T) {
	janitor := &fakeJanitor{}
	handler := NewEventHandler(janitor)

	handler.HandleContentCreated(&nats.Msg{
		Subject: "content.created",
		Data:    []byte(`{"id":"c1","author_id":"author-7","type":"post","created_at":"2026-03-01T12:00:00Z"}`),
	})

	waitFor(t, func() bool { return len(janitor.invalidated()) == 1 })
	if got := janitor.invalidated()[0]; got != "author-7" {
		t.Errorf("invalidated author = %q, want author-7", got)
	}
}

func TestContentDeletedTriggersInvalidation(t *testing.T) {
	janitor := &fakeJanitor{}
	handler := NewEventHandler(janitor)

	handler.HandleContentDeleted(&nats.Msg{
		Subject: "content.deleted",
		Data:    []byte(`{"id":"c1","author_id":"author-7"}`),
	})

	waitFor(t, func() bool { return len(janitor.invalidated()) == 1 })
}

// Un payload illisible ou sans auteur se loggue et s'ignore : jamais de panic,
// jamais d'invalidation partielle.
func TestMalformedEventsAreSkipped(t *testing.T) {
	janitor := &fakeJanitor{}
	handler := NewEventHandler(janitor)

	handler.HandleContentCreated(&nats.Msg{Subject: "content.created", Data: []byte(`{not json`)})
	handler.HandleContentCreated(&nats.Msg{Subject: "content.created", Data: []byte(`{"id":"c1"}`)})

	time.Sleep(20 * time.Millisecond)
	if got := janitor.invalidated(); len(got) != 0 {
		t.Errorf("malformed events should not invalidate, got %v", got)
	}
}
