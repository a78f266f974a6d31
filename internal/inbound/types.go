package inbound

import (
	"errors"
	"fmt"
	"time"
)

// --- Process Definition ---

// ProcessDefinition is one deployed version of a process. Document holds the
// YAML source the definition inspector reads connector elements from.
type ProcessDefinition struct {
	Identity   ProcessIdentity `json:"identity"`
	Version    int64           `json:"version"`
	Name       string          `json:"name,omitempty"`
	Document   string          `json:"document"`
	DeployedAt time.Time       `json:"deployed_at"`
}

// Descriptor returns the deployment announcement for the definition.
func (d *ProcessDefinition) Descriptor() ProcessVersionDescriptor {
	return ProcessVersionDescriptor{Identity: d.Identity, Version: d.Version}
}

// --- Subscription ---

// Subscription is a running process instance that still waits on an inbound
// element of a specific process version.
type Subscription struct {
	ProcessInstanceID string          `json:"process_instance_id"`
	Identity          ProcessIdentity `json:"identity"`
	Version           int64           `json:"version"`
	ElementID         string          `json:"element_id"`
	CreatedAt         time.Time       `json:"created_at"`
}

// --- Concurrency ---

// ConcurrencyLimits bounds how many processes are reconciled at once.
type ConcurrencyLimits struct {
	GlobalMax  int `json:"global_max"  yaml:"global_max"`
	PerProcess int `json:"per_process" yaml:"per_process"`
}

// DefaultConcurrencyLimits serializes work per process.
func DefaultConcurrencyLimits() ConcurrencyLimits {
	return ConcurrencyLimits{
		GlobalMax:  10,
		PerProcess: 1,
	}
}

// --- Retry Policy ---

// RetryPolicy defines how a cancelled listener is restarted.
type RetryPolicy struct {
	MaxRetries    int           `json:"max_retries"    yaml:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay"  yaml:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"      yaml:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"`
}

// DefaultRetryPolicy returns a sensible default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      5 * time.Minute,
		BackoffFactor: 2.0,
	}
}

// RetryableError is passed to ListenerContext.Cancel by a listener that asks
// to be restarted instead of being torn down.
type RetryableError struct {
	Err    error
	Policy RetryPolicy
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err so that cancellation restarts the listener under policy.
func Retryable(err error, policy RetryPolicy) error {
	return &RetryableError{Err: err, Policy: policy}
}

// AsRetryable extracts a RetryableError from err's chain.
func AsRetryable(err error) (*RetryableError, bool) {
	var re *RetryableError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
