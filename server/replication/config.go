// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package replication

import (
	"strings"
	"time"
)

type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case ModeSync:
		return ModeSync, nil
	case ModeAsync:
		return ModeAsync, nil
	default:
		return "", ErrUnknownMode.WithCausef("mode:%s", s)
	}
}

const (
	DefaultSyncTimeout     = 5 * time.Second
	DefaultSyncMaxAttempts = 10
	DefaultSyncRetryDelay  = 100 * time.Millisecond
	DefaultAsyncMaxRetries = 3
	DefaultAsyncBaseDelay  = time.Second
	DefaultRetryQueueLen   = 10000
	DefaultWorkers         = 16
	DefaultPollInterval    = 10 * time.Millisecond

	DefaultAsyncAttemptTimeout = 5 * time.Second
)

type Config struct {
	Mode Mode

	// SyncTimeout bounds the time every replica has to acknowledge a synchronous write.
	SyncTimeout     time.Duration
	SyncMaxAttempts int
	SyncRetryDelay  time.Duration

	// AsyncMaxRetries bounds the retries that follow the first background attempt, so a replica gets at most
	// AsyncMaxRetries+1 attempts. The n-th failed attempt is retried after 2^n * AsyncBaseDelay.
	AsyncMaxRetries int
	AsyncBaseDelay  time.Duration

	// AsyncAttemptTimeout bounds one background attempt. An attempt running out of it counts as failed.
	AsyncAttemptTimeout time.Duration

	RetryQueueLen int
	Workers       int
	PollInterval  time.Duration
}

func (c *Config) adjust() {
	if c.Mode == "" {
		c.Mode = ModeSync
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = DefaultSyncTimeout
	}
	if c.SyncMaxAttempts <= 0 {
		c.SyncMaxAttempts = DefaultSyncMaxAttempts
	}
	if c.SyncRetryDelay <= 0 {
		c.SyncRetryDelay = DefaultSyncRetryDelay
	}
	if c.AsyncMaxRetries <= 0 {
		c.AsyncMaxRetries = DefaultAsyncMaxRetries
	}
	if c.AsyncBaseDelay <= 0 {
		c.AsyncBaseDelay = DefaultAsyncBaseDelay
	}
	if c.AsyncAttemptTimeout <= 0 {
		c.AsyncAttemptTimeout = DefaultAsyncAttemptTimeout
	}
	if c.RetryQueueLen <= 0 {
		c.RetryQueueLen = DefaultRetryQueueLen
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
}

// BackoffDelay returns 2^attempt * base.
func BackoffDelay(attempt int, base time.Duration) time.Duration {
	return (time.Duration(1) << attempt) * base
}
