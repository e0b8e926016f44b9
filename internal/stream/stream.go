package stream

import (
	"context"
	"errors"
	"sync"
)

// Status is the lifecycle state of a streaming run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Stream is the consumer view of one streaming run plus the producer methods
// the run uses. It is owned by a single run and discarded with it.
type Stream struct {
	RunID string

	q *Queue

	mu     sync.Mutex
	status Status
	err    error
	done   chan struct{}
}

// New creates a running stream with a queue of bufferSize events.
func New(runID string, bufferSize int) *Stream {
	return &Stream{
		RunID:  runID,
		q:      NewQueue(bufferSize),
		status: StatusRunning,
		done:   make(chan struct{}),
	}
}

// Emit queues ev. It is a no-op once the stream has finished.
func (s *Stream) Emit(ev Event) bool {
	s.mu.Lock()
	finished := s.status != StatusRunning
	s.mu.Unlock()
	if finished {
		return false
	}
	return s.q.Push(ev)
}

// Finish records the terminal status and closes the queue. Only the first call
// has an effect.
func (s *Stream) Finish(status Status, err error) {
	s.mu.Lock()
	if s.status != StatusRunning {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.err = err
	s.mu.Unlock()

	s.q.Close()
	close(s.done)
}

// Next returns the next event. It returns ErrClosed after the run finished and
// every retained event was read.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	return s.q.Next(ctx)
}

// Collect reads events until the stream is drained.
func (s *Stream) Collect(ctx context.Context) ([]Event, error) {
	var out []Event
	for {
		ev, err := s.Next(ctx)
		if errors.Is(err, ErrClosed) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

// Status returns the current status.
func (s *Stream) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the error the run failed with, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the run finishes.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Dropped returns the number of events discarded for slow consumption.
func (s *Stream) Dropped() uint64 {
	return s.q.Dropped()
}
