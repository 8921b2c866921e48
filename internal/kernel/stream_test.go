package kernel

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/danmuck/notebookd/internal/testutil/testlog"
)

func TestStreamDeliversQueuedMessagesBeforeEOF(t *testing.T) {
	testlog.Start(t)
	s := newStream("req.1")
	s.push(StreamMessage("stdout", "a"))
	s.push(StreamMessage("stdout", "b"))
	s.finish(nil)
	if s.push(StreamMessage("stdout", "late")) {
		t.Fatalf("push after finish must be rejected")
	}

	ctx := context.Background()
	for _, want := range []string{"a", "b"} {
		msg, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if got := string(msg.Content); got != `{"name":"stdout","text":"`+want+`"}` {
			t.Fatalf("unexpected content: %s", got)
		}
	}
	if _, err := s.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	select {
	case <-s.Done():
	default:
		t.Fatalf("done channel not closed")
	}
}

func TestStreamNextWaitsForPush(t *testing.T) {
	testlog.Start(t)
	s := newStream("req.2")
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.push(StatusMessage("busy"))
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if msg.Type() != MsgStatus {
		t.Fatalf("unexpected type: %q", msg.Type())
	}
}

func TestStreamNextHonorsContext(t *testing.T) {
	testlog.Start(t)
	s := newStream("req.3")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestStreamFinishWithError(t *testing.T) {
	testlog.Start(t)
	s := newStream("req.4")
	s.finish(ErrClosed)
	s.finish(nil)
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
	select {
	case <-s.Done():
	default:
		t.Fatalf("done not closed after finish")
	}
}
