package kernel

import (
	"context"
	"io"
	"sync"
)

// Stream delivers the iopub messages of one submission in arrival order.
// Next returns io.EOF once the submission completed and every queued message has
// been read.
type Stream struct {
	requestID string

	mu       sync.Mutex
	queue    []Message
	finished bool
	err      error
	notify   chan struct{}
	done     chan struct{}
}

func newStream(requestID string) *Stream {
	return &Stream{
		requestID: requestID,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// RequestID is the msg_id of the execute_request that opened the stream.
func (s *Stream) RequestID() string {
	return s.requestID
}

// Next blocks until a message is available, the stream completes, or ctx ends.
func (s *Stream) Next(ctx context.Context) (Message, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			msg := s.queue[0]
			s.queue[0] = Message{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return msg, nil
		}
		if s.finished {
			err := s.err
			s.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return Message{}, err
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Done is closed exactly once when the submission completes.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) push(msg Message) bool {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	s.signal()
	return true
}

func (s *Stream) finish(err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.err = err
	close(s.done)
	s.mu.Unlock()
	s.signal()
}

func (s *Stream) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
