// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.
// The consistent hash ring refers to [groupcache](https://github.com/golang/groupcache/blob/4a4ac3fbac33b83bb138f808c8945a2812023fc4/consistenthash/consistenthash.go)
/*
Copyright 2013 Google Inc.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
     http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package hash

import (
	"sort"
	"strconv"
)

// DefaultTotalVirtualNodes is the number of ring positions a member with weight 100 receives.
const DefaultTotalVirtualNodes = 150

// Member is a weighted participant of the ring.
type Member struct {
	Name   string
	Weight int
}

// ConsistentHashRing is immutable once built, so lookups need no locking.
type ConsistentHashRing struct {
	hash  Func
	ring  []uint64
	nodes map[uint64]string
}

// VirtualNodeCount returns floor(total*weight/100), but never less than one.
func VirtualNodeCount(total, weight int) int {
	n := total * weight / 100
	if n < 1 {
		return 1
	}
	return n
}

// NewConsistentHashRing builds a ring holding VirtualNodeCount positions per member, each one hashed
// from "<name>-<index>". Members are processed in the given order, and when two positions collide the
// earlier member keeps it.
func NewConsistentHashRing(totalVirtualNodes int, fn Func, members ...Member) *ConsistentHashRing {
	if fn == nil {
		fn = Digest64
	}
	if totalVirtualNodes <= 0 {
		totalVirtualNodes = DefaultTotalVirtualNodes
	}

	h := &ConsistentHashRing{
		hash:  fn,
		nodes: make(map[uint64]string),
	}
	for _, m := range members {
		for i := 0; i < VirtualNodeCount(totalVirtualNodes, m.Weight); i++ {
			hash := h.hash([]byte(m.Name + "-" + strconv.Itoa(i)))
			if _, ok := h.nodes[hash]; ok {
				continue
			}
			h.ring = append(h.ring, hash)
			h.nodes[hash] = m.Name
		}
	}
	sort.Slice(h.ring, func(i, j int) bool { return h.ring[i] < h.ring[j] })
	return h
}

// IsEmpty returns true if there are no items available.
func (h *ConsistentHashRing) IsEmpty() bool {
	return len(h.ring) == 0
}

// Len returns the number of virtual nodes on the ring.
func (h *ConsistentHashRing) Len() int {
	return len(h.ring)
}

// Get gets the closest item in the hash to the provided key.
func (h *ConsistentHashRing) Get(key string) string {
	if h.IsEmpty() {
		return ""
	}

	hash := h.hash([]byte(key))

	// Binary search for appropriate replica.
	idx := sort.Search(len(h.ring), func(i int) bool { return h.ring[i] >= hash })

	// Means we have cycled back to the first replica.
	if idx == len(h.ring) {
		idx = 0
	}

	return h.nodes[h.ring[idx]]
}

// Distribution counts the virtual nodes owned by every member.
func (h *ConsistentHashRing) Distribution() map[string]int {
	dist := make(map[string]int)
	for _, name := range h.nodes {
		dist[name]++
	}
	return dist
}
