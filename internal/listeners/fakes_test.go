package listeners

import (
	"context"
	"sync"
	"time"

	"github.com/soochol/inflow/internal/inbound"
	"github.com/soochol/inflow/internal/inbound/ports"
)

type fakeContext struct {
	def inbound.ConnectorDefinition

	mu         sync.Mutex
	payloads   []map[string]any
	health     []inbound.Health
	activities []inbound.Activity
	cancelled  []error
	result     ports.CorrelationResult
	err        error
}

func newFakeContext(typ string, props map[string]any) *fakeContext {
	return &fakeContext{
		def: inbound.ConnectorDefinition{
			Identity:   inbound.ProcessIdentity{ProcessKey: "orders", TenantID: "acme"},
			Version:    1,
			ElementID:  "start",
			Type:       typ,
			Properties: props,
		},
		result: ports.CorrelationResult{Activated: true, ProcessInstanceID: "pi-1", CorrelationID: "c-1"},
	}
}

func (c *fakeContext) Definition() inbound.ConnectorDefinition { return c.def }

func (c *fakeContext) Correlate(_ context.Context, payload map[string]any) (ports.CorrelationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return c.result, c.err
}

func (c *fakeContext) ReportHealth(h inbound.Health) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health = append(c.health, h)
}

func (c *fakeContext) Log(a inbound.Activity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activities = append(c.activities, a)
}

func (c *fakeContext) Cancel(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, err)
}

func (c *fakeContext) snapshot() (payloads []map[string]any, cancelled []error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.payloads...), append([]error(nil), c.cancelled...)
}

func (c *fakeContext) lastHealth() (inbound.Health, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.health) == 0 {
		return inbound.Health{}, false
	}
	return c.health[len(c.health)-1], true
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
