package services

import (
	"context"
	"testing"

	"github.com/soochol/inflow/internal/inbound"
	"github.com/soochol/inflow/internal/inbound/ports"
	"github.com/soochol/inflow/internal/liveness"
	"github.com/soochol/inflow/internal/repository"
	"github.com/soochol/inflow/internal/services/scheduler"
)

const shippingV1 = `process: shipping
tenant: acme
elements:
  - id: label-printed
    connector:
      type: timer
      properties:
        cron: "@every 1h"
  - id: review
`

const shippingV2 = `process: shipping
tenant: acme
elements:
  - id: parcel-scanned
    connector:
      type: timer
`

var shipping = inbound.ProcessIdentity{ProcessKey: "shipping", TenantID: "acme"}

type importFixture struct {
	importer *ImportService
	subs     *repository.MemorySubscriptionRepository
	registry *ListenerRegistry
	// service stores documents without notifying the coordinator, so only
	// the importer drives activation.
	service *DefinitionService
}

func newImportFixture() *importFixture {
	f := newFakeFactory()
	f.register("timer", func() ports.Listener { return &fakeListener{} })

	defs := repository.NewMemoryDefinitionRepository()
	subs := repository.NewMemorySubscriptionRepository()
	registry := NewListenerRegistry(f, stubCorrelator{}, nil, nil)
	coord := NewLifecycleCoordinator(
		liveness.NewStore(), registry, NewDocumentInspector(defs),
		NewConcurrencyLimiter(inbound.ConcurrencyLimits{}), 2)

	return &importFixture{
		importer: NewImportService(scheduler.New(), defs, subs, coord, "@every 1h", "@every 1h"),
		subs:     subs,
		registry: registry,
		service:  NewDefinitionService(defs, nil, nil),
	}
}

func (fx *importFixture) deploy(t *testing.T, doc string) *inbound.ProcessDefinition {
	t.Helper()
	def, err := fx.service.Deploy(context.Background(), []byte(doc))
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	return def
}

func TestImporter_ImportActivatesLatest(t *testing.T) {
	fx := newImportFixture()
	ctx := context.Background()

	fx.deploy(t, shippingV1)
	fx.deploy(t, shippingV2)

	if err := fx.importer.ImportDeployments(ctx); err != nil {
		t.Fatalf("import: %v", err)
	}
	assertKeys(t, activeKeys(fx.registry, shipping), "v2/parcel-scanned")
}

func TestImporter_SubscriptionKeepsOldVersion(t *testing.T) {
	fx := newImportFixture()
	ctx := context.Background()

	fx.deploy(t, shippingV1)
	fx.deploy(t, shippingV2)
	fx.subs.Put(ctx, &inbound.Subscription{ProcessInstanceID: "pi-9", Identity: shipping, Version: 1, ElementID: "label-printed"})

	fx.importer.ImportDeployments(ctx)
	if err := fx.importer.ScanSubscriptions(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	assertKeys(t, activeKeys(fx.registry, shipping), "v1/label-printed", "v2/parcel-scanned")

	// instance completes; the next scan publishes an empty set
	fx.subs.Delete(ctx, "pi-9")
	if err := fx.importer.ScanSubscriptions(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	assertKeys(t, activeKeys(fx.registry, shipping), "v2/parcel-scanned")
}

func TestImporter_RemovedProcessIsForgotten(t *testing.T) {
	fx := newImportFixture()
	ctx := context.Background()

	fx.deploy(t, shippingV1)
	fx.importer.ImportDeployments(ctx)
	assertKeys(t, activeKeys(fx.registry, shipping), "v1/label-printed")

	if err := fx.service.Delete(ctx, shipping); err != nil {
		t.Fatalf("delete: %v", err)
	}
	fx.importer.ImportDeployments(ctx)
	assertKeys(t, activeKeys(fx.registry, shipping))
}

func TestImporter_StartStop(t *testing.T) {
	fx := newImportFixture()
	fx.deploy(t, shippingV1)

	if err := fx.importer.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	assertKeys(t, activeKeys(fx.registry, shipping), "v1/label-printed")
	if n := fx.importer.scheduler.Len(); n != 2 {
		t.Fatalf("expected 2 cron jobs, got %d", n)
	}

	fx.importer.Stop()
	if n := fx.importer.scheduler.Len(); n != 0 {
		t.Fatalf("expected cron jobs removed, got %d", n)
	}
}

func TestImporter_InvalidSchedule(t *testing.T) {
	fx := newImportFixture()
	fx.importer.importSchedule = "every now and then"

	if err := fx.importer.Start(context.Background()); err == nil {
		t.Fatal("expected schedule error")
	}
}
