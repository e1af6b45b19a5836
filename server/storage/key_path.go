// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package storage

import (
	"fmt"
	"math"
	"path"
)

const (
	topologyPrefix = "v1/topology"
	current        = "current"
	history        = "history"
)

// makeCurrentKey returns the key of the latest topology snapshot.
// example:
// v1/topology/current -> topology.Snapshot
func makeCurrentKey() string {
	return path.Join(topologyPrefix, current)
}

// makeHistoryKey returns the key of the snapshot saved at the given version.
// example:
// v1/topology/history/00000000000000000001 -> topology.Snapshot
// v1/topology/history/00000000000000000002 -> topology.Snapshot
func makeHistoryKey(version uint64) string {
	return path.Join(topologyPrefix, history, fmt.Sprintf("%020d", version))
}

func historyEndKey() string {
	return makeHistoryKey(math.MaxUint64)
}
