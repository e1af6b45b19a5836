// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package topology

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MinWeight   = 1
	MaxWeight   = 100
	TotalWeight = 100
)

// EndpointRef names one storage endpoint. A shard's primary and each of its replicas are distinct endpoints.
type EndpointRef string

func PrimaryRef(shardName string) EndpointRef {
	return EndpointRef(shardName + "/primary")
}

func ReplicaRef(shardName string, idx int) EndpointRef {
	return EndpointRef(shardName + "/replica-" + strconv.Itoa(idx))
}

type Shard struct {
	Name       string        `json:"name"`
	Weight     int           `json:"weight"`
	Partitions []string      `json:"partitions"`
	Primary    EndpointRef   `json:"primary"`
	Replicas   []EndpointRef `json:"replicas"`
}

func (s Shard) HasReplica() bool {
	return len(s.Replicas) > 0
}

// Endpoints returns the primary followed by every replica.
func (s Shard) Endpoints() []EndpointRef {
	refs := make([]EndpointRef, 0, len(s.Replicas)+1)
	refs = append(refs, s.Primary)
	return append(refs, s.Replicas...)
}

func (s Shard) clone() Shard {
	c := s
	c.Partitions = append([]string(nil), s.Partitions...)
	c.Replicas = append([]EndpointRef(nil), s.Replicas...)
	return c
}

type Partition struct {
	Name         string  `json:"name"`
	SizeEstimate float64 `json:"sizeEstimate"`
	Owner        string  `json:"owner"`
}

// KeyRange maps keys whose first character falls in [Start, End] to Shard.
// Bounds are single characters, any unicode letter included, compared by code point after upper-casing.
type KeyRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Shard string `json:"shard"`
}

func (r KeyRange) normalize() KeyRange {
	r.Start = strings.ToUpper(r.Start)
	r.End = strings.ToUpper(r.End)
	return r
}

func (r KeyRange) validate() error {
	if utf8.RuneCountInString(r.Start) != 1 || utf8.RuneCountInString(r.End) != 1 {
		return ErrInvalidRange.WithCausef("range bounds must be single characters, start:%q, end:%q", r.Start, r.End)
	}
	if r.Start > r.End {
		return ErrInvalidRange.WithCausef("start after end, start:%s, end:%s", r.Start, r.End)
	}
	return nil
}

// FirstChar returns the upper-cased first character of key, or "" for an empty or invalid key.
func FirstChar(key string) string {
	c, size := utf8.DecodeRuneInString(key)
	if size == 0 || c == utf8.RuneError {
		return ""
	}
	return string(unicode.ToUpper(c))
}

// Contains reports whether the normalized first character c lies in the range.
func (r KeyRange) Contains(c string) bool {
	return c >= r.Start && c <= r.End
}

// Overlaps tests inclusive overlap with [start, end].
func (r KeyRange) Overlaps(start, end string) bool {
	return !(end < r.Start || start > r.End)
}

// Snapshot is the persisted form of the registry.
type Snapshot struct {
	Version    uint64            `json:"version"`
	Shards     []Shard           `json:"shards"`
	Partitions []Partition       `json:"partitions"`
	Ranges     []KeyRange        `json:"ranges"`
	Directory  map[string]string `json:"directory"`
}
