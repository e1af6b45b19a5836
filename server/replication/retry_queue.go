// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package replication

import (
	"container/heap"
	"sync"
	"time"

	"github.com/CeresDB/shardrouter/server/backend"
	"github.com/CeresDB/shardrouter/server/topology"
)

// replicationJob copies one primary row to one replica.
type replicationJob struct {
	id         uint64
	shard      string
	replica    topology.EndpointRef
	replicaIdx int
	table      string
	row        backend.Record
	// attempt counts from 1.
	attempt int
}

type jobScheduleEntry struct {
	job      *replicationJob
	runAfter time.Time
}

// RetryQueue orders jobs by the time they become due.
type RetryQueue struct {
	maxLen int

	// This lock is used to protect the following fields.
	lock      sync.Mutex
	heapQueue *heapPriorityQueue
	// existingJobs is used to reject a job that is already queued.
	existingJobs map[uint64]struct{}
}

// heapPriorityQueue is no internal lock,
// and its thread safety is guaranteed by the external caller.
type heapPriorityQueue struct {
	entries []*jobScheduleEntry
}

func (q *heapPriorityQueue) Len() int {
	return len(q.entries)
}

// The entry with the earliest runAfter is popped first.
func (q *heapPriorityQueue) Less(i, j int) bool {
	return q.entries[i].runAfter.Before(q.entries[j].runAfter)
}

func (q *heapPriorityQueue) Swap(i, j int) {
	q.entries[i], q.entries[j] = q.entries[j], q.entries[i]
}

func (q *heapPriorityQueue) Push(x any) {
	q.entries = append(q.entries, x.(*jobScheduleEntry))
}

func (q *heapPriorityQueue) Pop() any {
	length := len(q.entries)
	if length == 0 {
		return nil
	}
	item := q.entries[length-1]
	q.entries[length-1] = nil
	q.entries = q.entries[:length-1]
	return item
}

func (q *heapPriorityQueue) Peek() *jobScheduleEntry {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0]
}

func NewRetryQueue(maxLen int) *RetryQueue {
	return &RetryQueue{
		maxLen:       maxLen,
		heapQueue:    &heapPriorityQueue{entries: []*jobScheduleEntry{}},
		existingJobs: map[uint64]struct{}{},
	}
}

func (q *RetryQueue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.heapQueue.Len()
}

func (q *RetryQueue) Push(job *replicationJob, delay time.Duration) error {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.heapQueue.Len() >= q.maxLen {
		return ErrQueueFull.WithCausef("queue max length is %d", q.maxLen)
	}
	if _, exists := q.existingJobs[job.id]; exists {
		return ErrDuplicatedJob.WithCausef("job:%d, replica:%s", job.id, job.replica)
	}

	heap.Push(q.heapQueue, &jobScheduleEntry{
		job:      job,
		runAfter: time.Now().Add(delay),
	})
	q.existingJobs[job.id] = struct{}{}
	return nil
}

// Pop returns the earliest job if it is due, or nil.
func (q *RetryQueue) Pop() *replicationJob {
	q.lock.Lock()
	defer q.lock.Unlock()

	entry := q.heapQueue.Peek()
	if entry == nil || time.Now().Before(entry.runAfter) {
		return nil
	}

	heap.Pop(q.heapQueue)
	delete(q.existingJobs, entry.job.id)
	return entry.job
}
