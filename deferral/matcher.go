// Package deferral decides which inbound API calls are converted into
// asynchronous deferred requests, and dispatches the ones that are.
package deferral

import (
	"fmt"
	"strings"
)

// Request headers of the deferral protocol.
const (
	// HeaderDefer is the client opt-in for non-forced endpoints.
	HeaderDefer = "X-Blafast-Defer"
	// HeaderDeferredExecution marks the worker's internal replay; requests
	// carrying it are never deferred again.
	HeaderDeferredExecution = "X-Deferred-Execution"
	// HeaderOrganization carries tenant selection.
	HeaderOrganization = "X-Organization-Id"
)

// splitSegments normalizes a pattern or path into /-delimited segments.
func splitSegments(s string) []string {
	s = strings.Trim(strings.TrimSpace(s), "/")
	if s == "" {
		return nil
	}
	return strings.Split(s, "/")
}

// ValidatePattern rejects malformed endpoint patterns at rule-load/write
// time, never per-request. A `*` is only valid as a whole segment; empty
// segments (double slashes) are invalid.
func ValidatePattern(pattern string) error {
	segs := splitSegments(pattern)
	if len(segs) == 0 {
		return fmt.Errorf("empty endpoint pattern")
	}
	for _, seg := range segs {
		if seg == "" {
			return fmt.Errorf("endpoint pattern %q contains an empty segment", pattern)
		}
		if seg != "*" && strings.Contains(seg, "*") {
			return fmt.Errorf("endpoint pattern %q: wildcard must span a whole segment", pattern)
		}
	}
	return nil
}

// MatchPattern reports whether path matches pattern. `*` matches exactly one
// arbitrary segment; segment counts must match exactly, so there are no
// prefix/suffix wildcard semantics. Matching is a tagged segment comparison,
// deliberately not regex construction from stored strings.
func MatchPattern(pattern, path string) bool {
	ps := splitSegments(pattern)
	ts := splitSegments(path)
	if len(ps) == 0 || len(ps) != len(ts) {
		return false
	}
	for i, seg := range ps {
		if seg == "*" {
			if ts[i] == "" {
				return false
			}
			continue
		}
		if seg != ts[i] {
			return false
		}
	}
	return true
}
