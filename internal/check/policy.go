package check

import (
	"errors"
	"fmt"
	"sort"
)

// Policy decides whether a check whose last run happened at revision should
// run again, given the revision each monitor object was last stamped with.
type Policy func(names []string, revision uint32, revisions map[string]uint32) bool

const (
	PolicyOnAny            = "OnAny"
	PolicyOnAnyNonZero     = "OnAnyNonZero"
	PolicyOnAll            = "OnAll"
	PolicyOnEachSeparately = "OnEachSeparately"

	// PolicyOnGlobalAny is forced on checks reading every object of a task.
	PolicyOnGlobalAny = "_OnGlobalAny"
)

var ErrUnknownPolicy = errors.New("unknown readiness policy")

var policies = map[string]Policy{
	PolicyOnAny:            onAny,
	PolicyOnAnyNonZero:     onAnyNonZero,
	PolicyOnAll:            onAll,
	PolicyOnEachSeparately: onAny,
	PolicyOnGlobalAny:      onGlobalAny,
}

// LookupPolicy resolves a policy identifier. An empty name selects OnAny.
func LookupPolicy(name string) (Policy, error) {
	if name == "" {
		name = PolicyOnAny
	}
	p, ok := policies[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownPolicy, name)
	}
	return p, nil
}

// Policies lists the known policy identifiers.
func Policies() []string {
	out := make([]string, 0, len(policies))
	for name := range policies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// onAny: at least one declared object changed since the last run.
func onAny(names []string, revision uint32, revisions map[string]uint32) bool {
	for _, name := range names {
		if revisions[name] > revision {
			return true
		}
	}
	return false
}

// onAnyNonZero is onAny once every declared object has been seen.
func onAnyNonZero(names []string, revision uint32, revisions map[string]uint32) bool {
	for _, name := range names {
		if revisions[name] == 0 {
			return false
		}
	}
	return onAny(names, revision, revisions)
}

// onAll: every declared object changed since the last run.
func onAll(names []string, revision uint32, revisions map[string]uint32) bool {
	if len(names) == 0 {
		return false
	}
	for _, name := range names {
		if revisions[name] <= revision {
			return false
		}
	}
	return true
}

func onGlobalAny([]string, uint32, map[string]uint32) bool {
	return true
}
