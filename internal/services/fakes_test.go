package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soochol/inflow/internal/inbound"
	"github.com/soochol/inflow/internal/inbound/ports"
)

// fakeListener records its lifecycle and exposes the context it was given.
type fakeListener struct {
	activateErr   error
	deactivateErr error
	block         chan struct{} // when set, Activate waits on it

	mu          sync.Mutex
	lc          ports.ListenerContext
	activated   int
	deactivated int
}

func (f *fakeListener) Activate(_ context.Context, lc ports.ListenerContext) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lc = lc
	f.activated++
	return f.activateErr
}

func (f *fakeListener) Deactivate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated++
	return f.deactivateErr
}

func (f *fakeListener) context() ports.ListenerContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lc
}

func (f *fakeListener) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activated, f.deactivated
}

type fakeWebhookListener struct {
	fakeListener
	path string
}

func (f *fakeWebhookListener) WebhookPath() string { return f.path }

func (f *fakeWebhookListener) Handle(context.Context, ports.WebhookRequest) (ports.WebhookResponse, error) {
	return ports.WebhookResponse{StatusCode: 202}, nil
}

// fakeFactory hands out instances built by per-type constructors and keeps
// every instance it created.
type fakeFactory struct {
	mu        sync.Mutex
	builders  map[string]func() ports.Listener
	instances []ports.Listener
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{builders: make(map[string]func() ports.Listener)}
}

func (f *fakeFactory) register(typ string, build func() ports.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[typ] = build
}

func (f *fakeFactory) CreateInstance(typ string) (ports.Listener, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	build, ok := f.builders[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", inbound.ErrUnknownListenerType, typ)
	}
	l := build()
	f.instances = append(f.instances, l)
	return l, nil
}

func (f *fakeFactory) created() []ports.Listener {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ports.Listener, len(f.instances))
	copy(out, f.instances)
	return out
}

type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counts: make(map[string]int)}
}

func (m *recordingMetrics) Increment(category, action, typ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[category+"/"+action+"/"+typ]++
}

func (m *recordingMetrics) get(action, typ string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[inbound.MetricCategoryInbound+"/"+action+"/"+typ]
}

type stubCorrelator struct {
	err error
}

func (s stubCorrelator) Correlate(_ context.Context, def inbound.ConnectorDefinition, _ map[string]any) (ports.CorrelationResult, error) {
	if s.err != nil {
		return ports.CorrelationResult{}, s.err
	}
	return ports.CorrelationResult{Activated: true, ProcessInstanceID: "pi-" + def.ElementID, CorrelationID: "c-1"}, nil
}

var errBoom = errors.New("boom")

func connector(id inbound.ProcessIdentity, version int64, element, typ string) inbound.ConnectorDefinition {
	return inbound.ConnectorDefinition{Identity: id, Version: version, ElementID: element, Type: typ}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
