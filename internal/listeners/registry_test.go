package listeners

import (
	"errors"
	"testing"
	"time"

	"github.com/soochol/inflow/internal/inbound"
	"github.com/soochol/inflow/internal/inbound/ports"
)

func TestRegistry_DefaultTypes(t *testing.T) {
	r := NewDefaultRegistry()

	got := r.Types()
	want := []string{TypeFeed, TypeTimer, TypeWebhook}
	if len(got) != len(want) {
		t.Fatalf("Types() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Types() = %v, want %v", got, want)
		}
	}

	l, err := r.CreateInstance(TypeWebhook)
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if _, ok := l.(ports.WebhookListener); !ok {
		t.Fatalf("webhook listener should implement WebhookListener, got %T", l)
	}
	if _, ok := mustCreate(t, r, TypeTimer).(ports.WebhookListener); ok {
		t.Fatal("timer listener should not be a webhook listener")
	}
}

func TestRegistry_FreshInstances(t *testing.T) {
	r := NewDefaultRegistry()
	if mustCreate(t, r, TypeFeed) == mustCreate(t, r, TypeFeed) {
		t.Fatal("each CreateInstance call should return a new listener")
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	_, err := NewRegistry().CreateInstance("carrier-pigeon")
	if !errors.Is(err, inbound.ErrUnknownListenerType) {
		t.Fatalf("expected ErrUnknownListenerType, got %v", err)
	}
}

func TestIntProperty(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    int
		wantErr bool
	}{
		{"absent", nil, 7, false},
		{"yaml int", 3, 3, false},
		{"json float", float64(4), 4, false},
		{"string", "5", 5, false},
		{"bad string", "five", 0, true},
		{"bool", true, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := inbound.ConnectorDefinition{Properties: map[string]any{}}
			if tt.value != nil {
				def.Properties["n"] = tt.value
			}
			got, err := intProperty(def, "n", 7)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDurationProperty(t *testing.T) {
	def := inbound.ConnectorDefinition{Properties: map[string]any{"interval": "90s", "bad": "soon", "neg": "-1s"}}

	if d, err := durationProperty(def, "interval", time.Minute); err != nil || d != 90*time.Second {
		t.Fatalf("interval = %v, %v", d, err)
	}
	if d, err := durationProperty(def, "missing", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("missing = %v, %v", d, err)
	}
	if _, err := durationProperty(def, "bad", time.Minute); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := durationProperty(def, "neg", time.Minute); err == nil {
		t.Fatal("expected error for negative duration")
	}
}

func mustCreate(t *testing.T, r *Registry, typ string) ports.Listener {
	t.Helper()
	l, err := r.CreateInstance(typ)
	if err != nil {
		t.Fatalf("CreateInstance(%s): %v", typ, err)
	}
	return l
}
