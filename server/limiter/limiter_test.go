// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package limiter

import (
	"testing"
	"time"

	"github.com/CeresDB/shardrouter/pkg/coderr"
	"github.com/CeresDB/shardrouter/server/config"
	"github.com/stretchr/testify/require"
)

const (
	defaultInitialLimiterRate     = 10 * 1000
	defaultInitialLimiterCapacity = 1000
	defaultEnableLimiter          = true
	defaultUpdateLimiterRate      = 100 * 1000
	defaultUpdateLimiterCapacity  = 100 * 1000
)

func TestFlowLimiter(t *testing.T) {
	re := require.New(t)
	flowLimiter := NewFlowLimiter(config.LimiterConfig{
		Limit:  defaultInitialLimiterRate,
		Burst:  defaultInitialLimiterCapacity,
		Enable: defaultEnableLimiter,
	})

	for i := 0; i < defaultInitialLimiterCapacity; i++ {
		re.True(flowLimiter.Allow())
	}

	time.Sleep(time.Millisecond)
	for i := 0; i < defaultInitialLimiterRate/1000; i++ {
		re.True(flowLimiter.Allow())
	}

	err := flowLimiter.UpdateLimiter(config.LimiterConfig{
		Limit:  defaultUpdateLimiterRate,
		Burst:  defaultUpdateLimiterCapacity,
		Enable: defaultEnableLimiter,
	})
	re.NoError(err)

	cfg := flowLimiter.GetConfig()
	re.Equal(defaultUpdateLimiterRate, cfg.Limit)
	re.Equal(defaultUpdateLimiterCapacity, cfg.Burst)
	re.Equal(defaultEnableLimiter, cfg.Enable)

	time.Sleep(time.Millisecond)
	for i := 0; i < defaultUpdateLimiterRate/1000; i++ {
		re.True(flowLimiter.Allow())
	}
}

func TestFlowLimiterRejects(t *testing.T) {
	re := require.New(t)
	flowLimiter := NewFlowLimiter(config.LimiterConfig{Limit: 1, Burst: 2, Enable: true})

	re.True(flowLimiter.Allow())
	re.True(flowLimiter.Allow())
	re.False(flowLimiter.Allow())

	re.NoError(flowLimiter.UpdateLimiter(config.LimiterConfig{Limit: 1, Burst: 2, Enable: false}))
	for i := 0; i < 10; i++ {
		re.True(flowLimiter.Allow())
	}

	err := flowLimiter.UpdateLimiter(config.LimiterConfig{Limit: -1, Burst: 2, Enable: true})
	re.True(coderr.IsKind(err, ErrInvalidLimiterConfig))
	re.False(flowLimiter.GetConfig().Enable)
}
