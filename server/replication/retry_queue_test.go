// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package replication

import (
	"testing"
	"time"

	"github.com/CeresDB/shardrouter/pkg/coderr"
	"github.com/stretchr/testify/require"
)

func TestRetryQueue(t *testing.T) {
	re := require.New(t)

	job0 := &replicationJob{id: 0, replica: "shard-1/replica-0"}
	job1 := &replicationJob{id: 1, replica: "shard-1/replica-1"}
	job2 := &replicationJob{id: 2, replica: "shard-2/replica-0"}
	job3 := &replicationJob{id: 3, replica: "shard-3/replica-0"}

	queue := NewRetryQueue(3)
	re.NoError(queue.Push(job0, time.Millisecond*40))
	err := queue.Push(job0, time.Millisecond*30)
	re.True(coderr.IsKind(err, ErrDuplicatedJob))
	re.NoError(queue.Push(job1, time.Millisecond*10))
	re.NoError(queue.Push(job2, time.Millisecond*20))
	err = queue.Push(job3, time.Millisecond*20)
	re.True(coderr.IsKind(err, ErrQueueFull))
	re.Equal(3, queue.Len())

	re.Nil(queue.Pop())

	time.Sleep(time.Millisecond * 100)

	re.Equal(uint64(1), queue.Pop().id)
	re.Equal(uint64(2), queue.Pop().id)
	re.Equal(uint64(0), queue.Pop().id)
	re.Nil(queue.Pop())

	re.NoError(queue.Push(job0, time.Millisecond*50))
	re.Nil(queue.Pop())

	time.Sleep(time.Millisecond * 60)
	re.Equal(uint64(0), queue.Pop().id)
	re.Equal(0, queue.Len())
}
