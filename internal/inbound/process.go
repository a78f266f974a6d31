package inbound

import (
	"fmt"
	"sort"
)

// --- Process Identity ---

// DefaultTenantID is used for processes deployed without a tenant.
const DefaultTenantID = "<default>"

// ProcessIdentity identifies one logical process across all of its versions.
type ProcessIdentity struct {
	ProcessKey string `json:"process_key" yaml:"process_key"`
	TenantID   string `json:"tenant_id"   yaml:"tenant_id"`
}

// String renders the identity as key@tenant.
func (p ProcessIdentity) String() string {
	return fmt.Sprintf("%s@%s", p.ProcessKey, p.TenantID)
}

// ProcessVersionDescriptor announces that a version of a process was deployed.
type ProcessVersionDescriptor struct {
	Identity ProcessIdentity `json:"identity"`
	Version  int64           `json:"version"`
}

// --- Version Set ---

// VersionSet is an unordered set of process versions.
type VersionSet map[int64]struct{}

// NewVersionSet returns a set holding the given versions.
func NewVersionSet(versions ...int64) VersionSet {
	s := make(VersionSet, len(versions))
	for _, v := range versions {
		s[v] = struct{}{}
	}
	return s
}

// Add inserts v into the set.
func (s VersionSet) Add(v int64) {
	s[v] = struct{}{}
}

// Has reports whether v is in the set. A nil set contains nothing.
func (s VersionSet) Has(v int64) bool {
	_, ok := s[v]
	return ok
}

// Len returns the number of versions in the set.
func (s VersionSet) Len() int {
	return len(s)
}

// Clone returns an independent copy. Cloning nil yields an empty set.
func (s VersionSet) Clone() VersionSet {
	out := make(VersionSet, len(s))
	for v := range s {
		out[v] = struct{}{}
	}
	return out
}

// Union returns a new set containing the versions of s and o.
func (s VersionSet) Union(o VersionSet) VersionSet {
	out := s.Clone()
	for v := range o {
		out[v] = struct{}{}
	}
	return out
}

// Equal reports whether both sets hold the same versions.
func (s VersionSet) Equal(o VersionSet) bool {
	if len(s) != len(o) {
		return false
	}
	for v := range s {
		if _, ok := o[v]; !ok {
			return false
		}
	}
	return true
}

// Sorted returns the versions in ascending order.
func (s VersionSet) Sorted() []int64 {
	out := make([]int64, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Max returns the highest version and false when the set is empty.
func (s VersionSet) Max() (int64, bool) {
	var (
		max   int64
		found bool
	)
	for v := range s {
		if !found || v > max {
			max = v
			found = true
		}
	}
	return max, found
}

// --- Liveness ---

// LivenessKind tags which source of truth produced an observation.
type LivenessKind string

const (
	// LivenessPrimary marks the version currently considered the latest deployment.
	LivenessPrimary LivenessKind = "primary"
	// LivenessReferenced marks versions that still hold at least one live subscription.
	LivenessReferenced LivenessKind = "referenced"
)

// LivenessObservation is an authoritative snapshot of one kind of liveness for
// every process it mentions. Processes that are not mentioned are untouched.
type LivenessObservation struct {
	Affected map[ProcessIdentity]VersionSet
	Kind     LivenessKind
}

// ReconciliationResult lists the processes whose effective version set changed,
// mapped to the new effective set (which may be empty).
type ReconciliationResult struct {
	AffectedProcesses map[ProcessIdentity]VersionSet
}

// IsEmpty reports whether no process changed.
func (r ReconciliationResult) IsEmpty() bool {
	return len(r.AffectedProcesses) == 0
}
