// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

// Package limiter throttles the data plane requests of the router.
package limiter

import (
	"sync"

	"github.com/CeresDB/shardrouter/server/config"
	"golang.org/x/time/rate"
)

type FlowLimiter struct {
	l *rate.Limiter
	// RWMutex is used to protect following fields.
	lock sync.RWMutex
	// limit is the updated rate of tokens.
	limit int
	// burst is the maximum number of tokens.
	burst int
	// enable is used to control the switch of the limiter.
	enable bool
}

func NewFlowLimiter(cfg config.LimiterConfig) *FlowLimiter {
	return &FlowLimiter{
		l:      rate.NewLimiter(rate.Limit(cfg.Limit), cfg.Burst),
		limit:  cfg.Limit,
		burst:  cfg.Burst,
		enable: cfg.Enable,
	}
}

// Allow reports whether one more request may be served now. It always holds when the limiter is disabled.
func (f *FlowLimiter) Allow() bool {
	f.lock.RLock()
	enable := f.enable
	f.lock.RUnlock()

	if !enable {
		return true
	}
	return f.l.Allow()
}

func (f *FlowLimiter) UpdateLimiter(cfg config.LimiterConfig) error {
	if cfg.Limit < 0 || cfg.Burst < 0 {
		return ErrInvalidLimiterConfig.WithCausef("limit:%d, burst:%d", cfg.Limit, cfg.Burst)
	}

	f.lock.Lock()
	defer f.lock.Unlock()

	f.l.SetLimit(rate.Limit(cfg.Limit))
	f.l.SetBurst(cfg.Burst)
	f.limit = cfg.Limit
	f.burst = cfg.Burst
	f.enable = cfg.Enable
	return nil
}

func (f *FlowLimiter) GetConfig() config.LimiterConfig {
	f.lock.RLock()
	defer f.lock.RUnlock()

	return config.LimiterConfig{
		Limit:  f.limit,
		Burst:  f.burst,
		Enable: f.enable,
	}
}
