package ports

import (
	"context"

	"github.com/soochol/inflow/internal/inbound"
)

// DefinitionInspector lists the connector definitions a process version declares.
type DefinitionInspector interface {
	FindConnectorDefinitions(ctx context.Context, id inbound.ProcessIdentity, version int64) ([]inbound.ConnectorDefinition, error)
}

// MetricsSink counts lifecycle events. Implementations must not block.
type MetricsSink interface {
	Increment(category, action, typ string)
}

// HealthSink receives listener health transitions. Implementations must not block.
type HealthSink interface {
	ReportHealth(key inbound.ListenerKey, h inbound.Health)
}

// ListenerQuery is the read-only view of the active listeners.
type ListenerQuery interface {
	Query(filter inbound.ListenerFilter) []inbound.ActiveListenerView
}

// DeploymentHandler consumes batches of newly observed deployments.
type DeploymentHandler interface {
	OnNewDeployments(ctx context.Context, batch []inbound.ProcessVersionDescriptor)
}

// LivenessHandler consumes liveness snapshots.
type LivenessHandler interface {
	OnLivenessObservation(ctx context.Context, obs inbound.LivenessObservation)
}

// ProcessForgetter handles processes whose definitions were deleted.
type ProcessForgetter interface {
	Forget(ctx context.Context, id inbound.ProcessIdentity)
}
