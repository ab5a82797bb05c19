package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/evdnx/gopairs/publish"
	"github.com/evdnx/gopairs/types"
)

// ErrRejected is returned by mocks configured to fail.
var ErrRejected = errors.New("testutils: rejected")

// MockSink records everything published to it.
type MockSink struct {
	mu          sync.Mutex
	signals     []types.Signal
	allocations []publish.Allocation
	// Fail makes every publish return ErrRejected.
	Fail   bool
	closed bool
}

func NewMockSink() *MockSink { return &MockSink{} }

func (s *MockSink) PublishSignals(_ context.Context, sigs []types.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return ErrRejected
	}
	s.signals = append(s.signals, sigs...)
	return nil
}

func (s *MockSink) PublishAllocation(_ context.Context, a publish.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return ErrRejected
	}
	s.allocations = append(s.allocations, a)
	return nil
}

func (s *MockSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Signals returns a copy of every published signal.
func (s *MockSink) Signals() []types.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Signal(nil), s.signals...)
}

// Allocations returns a copy of every published allocation.
func (s *MockSink) Allocations() []publish.Allocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]publish.Allocation(nil), s.allocations...)
}

func (s *MockSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
