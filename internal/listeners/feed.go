package listeners

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/soochol/inflow/internal/inbound"
	"github.com/soochol/inflow/internal/inbound/ports"
)

const (
	defaultFeedInterval    = 5 * time.Minute
	defaultFeedMaxFailures = 3
	feedFetchTimeout       = 30 * time.Second
)

// FeedListener polls an RSS, Atom or JSON feed and starts a process for every
// item that appears after activation. Items present on the first poll are
// treated as already seen.
//
// Properties: url (required), interval (default 5m) and max_failures
// (consecutive failed polls before the listener asks to be restarted,
// default 3).
type FeedListener struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewFeedListener() *FeedListener {
	return &FeedListener{}
}

func (l *FeedListener) Activate(_ context.Context, lc ports.ListenerContext) error {
	def := lc.Definition()
	url := def.StringProperty("url", "")
	if url == "" {
		return errors.New("feed: url property is required")
	}
	interval, err := durationProperty(def, "interval", defaultFeedInterval)
	if err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	maxFailures, err := intProperty(def, "max_failures", defaultFeedMaxFailures)
	if err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	if maxFailures < 1 {
		maxFailures = 1
	}

	fp := gofeed.NewParser()
	fp.Client = &http.Client{Timeout: feedFetchTimeout}

	p := &feedPoller{
		lc:          lc,
		parser:      fp,
		url:         url,
		interval:    interval,
		maxFailures: maxFailures,
		seen:        make(map[string]struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.mu.Lock()
	l.cancel, l.done = cancel, done
	l.mu.Unlock()

	go func() {
		defer close(done)
		p.run(ctx)
	}()
	return nil
}

func (l *FeedListener) Deactivate(ctx context.Context) error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type feedPoller struct {
	lc          ports.ListenerContext
	parser      *gofeed.Parser
	url         string
	interval    time.Duration
	maxFailures int

	seen     map[string]struct{}
	seeded   bool
	failures int
}

func (p *feedPoller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if !p.poll(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll fetches the feed once. It returns false when the poller must stop.
func (p *feedPoller) poll(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, feedFetchTimeout)
	feed, err := p.parser.ParseURLWithContext(p.url, reqCtx)
	cancel()
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		p.failures++
		p.lc.ReportHealth(inbound.HealthDown(err))
		p.lc.Log(inbound.NewActivity(inbound.SeverityWarn, "feed",
			fmt.Sprintf("poll failed (%d/%d): %v", p.failures, p.maxFailures, err)))
		if p.failures >= p.maxFailures {
			p.lc.Cancel(inbound.Retryable(
				fmt.Errorf("feed %s unreachable after %d attempts: %w", p.url, p.failures, err),
				inbound.DefaultRetryPolicy()))
			return false
		}
		return true
	}
	p.failures = 0

	var fresh []*gofeed.Item
	for _, item := range feed.Items {
		id := itemID(item)
		if id == "" {
			continue
		}
		if _, ok := p.seen[id]; ok {
			continue
		}
		p.seen[id] = struct{}{}
		if p.seeded {
			fresh = append(fresh, item)
		}
	}
	p.seeded = true

	// feeds list newest first; start processes in publication order
	for i := len(fresh) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			return false
		}
		if _, err := p.lc.Correlate(ctx, itemPayload(feed, fresh[i])); err != nil {
			p.lc.Log(inbound.NewActivity(inbound.SeverityError, "feed", "correlation failed: "+err.Error()))
		}
	}

	p.lc.ReportHealth(inbound.HealthUp(map[string]any{
		"feed_title": feed.Title,
		"items_seen": len(p.seen),
		"last_poll":  time.Now().UTC(),
	}))
	return true
}

func itemID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	return item.Link
}

func itemPayload(feed *gofeed.Feed, item *gofeed.Item) map[string]any {
	published := item.Published
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.Format(time.RFC3339)
	}
	author := ""
	if item.Author != nil {
		author = item.Author.Name
	}
	return map[string]any{
		"feed": map[string]any{
			"title": feed.Title,
			"link":  feed.Link,
		},
		"item": map[string]any{
			"id":        itemID(item),
			"title":     item.Title,
			"link":      item.Link,
			"published": published,
			"summary":   item.Description,
			"author":    author,
		},
	}
}
