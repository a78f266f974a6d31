package listeners

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/soochol/inflow/internal/inbound"
)

type feedServer struct {
	mu     sync.Mutex
	items  []string
	broken bool
}

func (s *feedServer) add(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append([]string{title}, s.items...)
}

func (s *feedServer) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Releases</title><link>https://example.com</link>`)
	for _, title := range s.items {
		fmt.Fprintf(&b, `<item><title>%s</title><link>https://example.com/%s</link><guid>%s</guid></item>`, title, title, title)
	}
	b.WriteString(`</channel></rss>`)
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(b.String()))
}

func TestFeedListener_OnlyNewItemsCorrelate(t *testing.T) {
	fs := &feedServer{items: []string{"v1.0"}}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	lc := newFakeContext(TypeFeed, map[string]any{"url": srv.URL, "interval": "20ms"})
	l := NewFeedListener()
	if err := l.Activate(context.Background(), lc); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer l.Deactivate(context.Background())

	if !eventually(func() bool {
		h, ok := lc.lastHealth()
		return ok && h.Status == inbound.HealthStatusUp
	}) {
		t.Fatal("feed never reported up")
	}

	fs.add("v1.1")
	fs.add("v1.2")
	if !eventually(func() bool {
		payloads, _ := lc.snapshot()
		return len(payloads) == 2
	}) {
		payloads, _ := lc.snapshot()
		t.Fatalf("expected 2 correlations, got %d", len(payloads))
	}

	payloads, _ := lc.snapshot()
	first := payloads[0]["item"].(map[string]any)
	second := payloads[1]["item"].(map[string]any)
	if first["title"] != "v1.1" || second["title"] != "v1.2" {
		t.Fatalf("items out of order: %v, %v", first["title"], second["title"])
	}
	if payloads[0]["feed"].(map[string]any)["title"] != "Releases" {
		t.Fatalf("feed title missing: %v", payloads[0]["feed"])
	}
}

func TestFeedListener_CancelsAfterFailures(t *testing.T) {
	fs := &feedServer{broken: true}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	lc := newFakeContext(TypeFeed, map[string]any{"url": srv.URL, "interval": "10ms", "max_failures": 2})
	l := NewFeedListener()
	if err := l.Activate(context.Background(), lc); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer l.Deactivate(context.Background())

	if !eventually(func() bool {
		_, cancelled := lc.snapshot()
		return len(cancelled) == 1
	}) {
		t.Fatal("listener did not cancel itself")
	}
	_, cancelled := lc.snapshot()
	if _, ok := inbound.AsRetryable(cancelled[0]); !ok {
		t.Fatalf("expected retryable cancellation, got %v", cancelled[0])
	}
	if h, _ := lc.lastHealth(); h.Status != inbound.HealthStatusDown {
		t.Fatalf("expected down health, got %s", h.Status)
	}
}

func TestFeedListener_InvalidProperties(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]any
	}{
		{"missing url", nil},
		{"bad interval", map[string]any{"url": "http://localhost", "interval": "often"}},
		{"bad max_failures", map[string]any{"url": "http://localhost", "max_failures": "many"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewFeedListener().Activate(context.Background(), newFakeContext(TypeFeed, tt.props)); err == nil {
				t.Fatal("expected activation error")
			}
		})
	}
}
