// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package status

import "sync/atomic"

type Status int32

const (
	StatusWaiting Status = iota
	StatusRunning
	Terminated
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusRunning:
		return "running"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ServerStatus is read by the health endpoint while the server moves from waiting to running and finally to
// terminated.
type ServerStatus struct {
	status atomic.Int32
}

func NewServerStatus() *ServerStatus {
	s := &ServerStatus{}
	s.Set(StatusWaiting)
	return s
}

func (s *ServerStatus) Set(status Status) {
	s.status.Store(int32(status))
}

func (s *ServerStatus) Get() Status {
	return Status(s.status.Load())
}

func (s *ServerStatus) IsHealthy() bool {
	return s.Get() == StatusRunning
}
