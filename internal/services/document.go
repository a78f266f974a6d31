package services

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/soochol/inflow/internal/inbound"
)

// ErrInvalidDocument is returned for process documents that cannot be deployed.
var ErrInvalidDocument = errors.New("invalid process document")

// ProcessDocument is the YAML form of a deployable process definition.
// Only the elements that declare a connector matter to the inbound runtime.
//
//	process: order-intake
//	tenant: acme
//	name: Order intake
//	elements:
//	  - id: new-order
//	    connector:
//	      type: webhook
//	      properties:
//	        path: orders
type ProcessDocument struct {
	Process  string            `yaml:"process"`
	Tenant   string            `yaml:"tenant"`
	Name     string            `yaml:"name"`
	Version  int64             `yaml:"version"`
	Elements []DocumentElement `yaml:"elements"`
}

// DocumentElement is one element of a process document.
type DocumentElement struct {
	ID        string             `yaml:"id"`
	Connector *DocumentConnector `yaml:"connector"`
}

// DocumentConnector declares an inbound connector on an element.
type DocumentConnector struct {
	Type       string         `yaml:"type"`
	Properties map[string]any `yaml:"properties"`
}

// ParseDocument decodes and validates a process document.
func ParseDocument(data []byte) (*ProcessDocument, error) {
	var doc ProcessDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc.Process == "" {
		return nil, fmt.Errorf("%w: process key is required", ErrInvalidDocument)
	}
	if doc.Version < 0 {
		return nil, fmt.Errorf("%w: version must be positive", ErrInvalidDocument)
	}

	seen := make(map[string]bool)
	for i, el := range doc.Elements {
		if el.ID == "" {
			return nil, fmt.Errorf("%w: element %d has no id", ErrInvalidDocument, i)
		}
		if seen[el.ID] {
			return nil, fmt.Errorf("%w: duplicate element id %q", ErrInvalidDocument, el.ID)
		}
		seen[el.ID] = true
		if el.Connector != nil && el.Connector.Type == "" {
			return nil, fmt.Errorf("%w: connector on element %q has no type", ErrInvalidDocument, el.ID)
		}
	}
	return &doc, nil
}

// Identity returns the process identity the document declares.
func (d *ProcessDocument) Identity() inbound.ProcessIdentity {
	tenant := d.Tenant
	if tenant == "" {
		tenant = inbound.DefaultTenantID
	}
	return inbound.ProcessIdentity{ProcessKey: d.Process, TenantID: tenant}
}

// ConnectorDefinitions lists the inbound connectors of the document for the
// given version, in document order.
func (d *ProcessDocument) ConnectorDefinitions(version int64) []inbound.ConnectorDefinition {
	id := d.Identity()
	var out []inbound.ConnectorDefinition
	for _, el := range d.Elements {
		if el.Connector == nil {
			continue
		}
		out = append(out, inbound.ConnectorDefinition{
			Identity:   id,
			Version:    version,
			ElementID:  el.ID,
			Type:       el.Connector.Type,
			Properties: el.Connector.Properties,
		})
	}
	return out
}
