// Package queue implements the Queue Resolver (spec.md 4.3): resolving a
// worker's configured queue list -- which may contain shell-style wildcard
// patterns -- to a concrete, strictly ordered list on each reservation
// cycle.
//
// Wildcard matching is done with github.com/bmatcuk/doublestar/v4, the
// exact glob library alya already depends on and uses in
// jobs/filexfr/infiled.go (there, to glob files on disk; here, to match
// in-memory queue names via doublestar.Match instead of doublestar.Glob).
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrNoQueue is returned by NewResolver when the configured queue list is
// empty -- a configuration error per spec.md 4.3.
var ErrNoQueue = errors.New("queue: no queues configured")

const wildcardChars = "*?{}[]"

// Lister is the subset of the Data Store Adapter the dynamic resolve path
// needs.
type Lister interface {
	Queues(ctx context.Context) ([]string, error)
}

// Resolver holds a worker's configured queue list and resolves it to a
// concrete ordered list on demand.
type Resolver struct {
	configured []string
	dynamic    bool
}

// NewResolver validates and wraps a configured queue list. An empty list is
// a configuration error (spec.md 4.3).
func NewResolver(configured []string) (*Resolver, error) {
	if len(configured) == 0 {
		return nil, ErrNoQueue
	}
	r := &Resolver{configured: append([]string(nil), configured...)}
	for _, q := range r.configured {
		if strings.ContainsAny(q, wildcardChars) {
			r.dynamic = true
			break
		}
	}
	return r, nil
}

// IsDynamic reports whether any configured entry contains a glob wildcard.
func (r *Resolver) IsDynamic() bool { return r.dynamic }

// Resolve returns the concrete, ordered, de-duplicated queue list for this
// cycle. Static configurations are returned verbatim. Dynamic
// configurations are re-matched against the live queue set on every call,
// so queues created at runtime become visible without a worker restart
// (spec.md 4.3).
//
// For each configured pattern, matches are sorted alphabetically before
// being appended, and patterns are processed in configured order; the
// literal pattern "*" therefore resolves to every known queue in ascending
// order (P6).
func (r *Resolver) Resolve(ctx context.Context, store Lister) ([]string, error) {
	if !r.dynamic {
		return append([]string(nil), r.configured...), nil
	}

	live, err := store.Queues(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: resolve: %w", err)
	}
	sort.Strings(live)

	seen := make(map[string]bool, len(live))
	var out []string
	for _, pattern := range r.configured {
		matches, err := matchPattern(pattern, live)
		if err != nil {
			return nil, fmt.Errorf("queue: resolve pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out, nil
}

// matchPattern returns the subset of live matching pattern, sorted
// alphabetically. A literal (non-wildcard) pattern matches itself only if
// it is a member of live.
func matchPattern(pattern string, live []string) ([]string, error) {
	var matches []string
	for _, name := range live {
		ok, err := doublestar.Match(pattern, name)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, name)
		}
	}
	sort.Strings(matches)
	return matches, nil
}
