// Package worker implements the Supervisor (spec.md 4.5), Child Processor
// (spec.md 4.6) and Heartbeat Loop (spec.md 4.7): the multi-process worker
// runtime that reserves, executes, and reports on jobs.
package worker

import (
	"fmt"
	"os"
	"strings"
)

// Identity is a worker's immutable (host, pid, queues) tuple, rendered as
// "host:pid:q1,q2,..." (spec.md 3). Equality is string equality on String().
type Identity struct {
	Host   string
	PID    int
	Queues []string
}

// NewIdentity builds an Identity for the current process and the given
// configured queue list.
func NewIdentity(queues []string) (Identity, error) {
	host, err := os.Hostname()
	if err != nil {
		return Identity{}, fmt.Errorf("worker: resolve hostname: %w", err)
	}
	return Identity{Host: host, PID: os.Getpid(), Queues: append([]string(nil), queues...)}, nil
}

// String renders the identity as host:pid:q1,q2,... .
func (id Identity) String() string {
	return fmt.Sprintf("%s:%d:%s", id.Host, id.PID, strings.Join(id.Queues, ","))
}

// ParseIdentity reverses String(), used by the Pruner to recover host/pid
// from a registered identity string.
func ParseIdentity(s string) (Identity, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Identity{}, fmt.Errorf("worker: malformed identity %q", s)
	}
	var pid int
	if _, err := fmt.Sscanf(parts[1], "%d", &pid); err != nil {
		return Identity{}, fmt.Errorf("worker: malformed identity %q: %w", s, err)
	}
	var queues []string
	if parts[2] != "" {
		queues = strings.Split(parts[2], ",")
	}
	return Identity{Host: parts[0], PID: pid, Queues: queues}, nil
}

// WatchesAll reports whether this identity's configured queue list is the
// literal wildcard "*" -- the pruner's cross-queue skip rule exempts such
// workers (spec.md 4.8).
func (id Identity) WatchesAll() bool {
	return len(id.Queues) == 1 && id.Queues[0] == "*"
}
