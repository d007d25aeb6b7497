// Package runid mints a per-invocation correlation identifier used only
// to tag log lines, so a shared log stream can separate interleaved
// operator runs. It has no bearing on reconciliation outcome.
package runid

import "github.com/oklog/ulid/v2"

// New returns a fresh ULID string, lexicographically sortable by mint
// time.
func New() string {
	return ulid.Make().String()
}
