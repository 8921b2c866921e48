package kernel

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Script produces the iopub messages a fake kernel emits for one submission.
// Messages are stamped with the request as parent before delivery.
type Script func(count int, code string) []Message

// Fake is an in-process Kernel that replays scripted output. It is used by tests
// and by the dry-run CLI mode.
type Fake struct {
	id     string
	script Script
	// Delay is applied between scripted messages.
	Delay time.Duration

	inflight *inflight

	mu          sync.Mutex
	count       int
	submissions []string
	closed      bool
}

var _ Kernel = (*Fake)(nil)

func NewFake(id string, script Script) *Fake {
	if script == nil {
		script = EchoScript
	}
	return &Fake{id: id, script: script, inflight: newInflight()}
}

func (f *Fake) ID() string {
	return f.id
}

func (f *Fake) Submit(ctx context.Context, code string) (*Stream, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrEmptyCode
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	f.count++
	count := f.count
	f.submissions = append(f.submissions, code)
	f.mu.Unlock()

	req, err := NewExecuteRequest("fake", code)
	if err != nil {
		return nil, err
	}
	stream := newStream(req.ID())
	f.inflight.Add(stream, time.Now())
	msgs := f.script(count, code)
	go func() {
		for _, msg := range msgs {
			if f.Delay > 0 {
				timer := time.NewTimer(f.Delay)
				select {
				case <-stream.Done():
					// failed by Close
					timer.Stop()
					return
				case <-ctx.Done():
					timer.Stop()
					f.inflight.Remove(stream.RequestID())
					stream.finish(ctx.Err())
					return
				case <-timer.C:
				}
			}
			msg.ParentHeader = req.Header
			if msg.Channel == "" {
				msg.Channel = ChannelIOPub
			}
			stream.push(msg)
		}
		f.inflight.Remove(stream.RequestID())
		stream.finish(nil)
	}()
	return stream, nil
}

func (f *Fake) Pending() []Pending {
	return f.inflight.List()
}

// Submissions returns the code submitted so far, in order.
func (f *Fake) Submissions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.submissions))
	copy(out, f.submissions)
	return out
}

// Close rejects later submissions and fails the ones still running.
func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.inflight.FailAll(ErrClosed)
	return nil
}

// EchoScript announces the execution count and echoes the code on stdout.
func EchoScript(count int, code string) []Message {
	return []Message{
		StatusMessage("busy"),
		ExecuteInputMessage(count, code),
		StreamMessage("stdout", code),
		StatusMessage("idle"),
	}
}

// StatusMessage builds an iopub status message.
func StatusMessage(state string) Message {
	return iopub(MsgStatus, map[string]any{"execution_state": state})
}

// ExecuteInputMessage builds the iopub message that announces the execution count.
func ExecuteInputMessage(count int, code string) Message {
	return iopub(MsgExecuteInput, map[string]any{"code": code, "execution_count": count})
}

// StreamMessage builds an iopub stream chunk.
func StreamMessage(name, text string) Message {
	return iopub(MsgStream, map[string]any{"name": name, "text": text})
}

// DisplayDataMessage builds an iopub display_data message with the given MIME bundle.
func DisplayDataMessage(data map[string]string) Message {
	return iopub(MsgDisplayData, map[string]any{"data": data, "metadata": map[string]any{}})
}

func iopub(msgType string, content any) Message {
	msg, err := NewMessage(ChannelIOPub, msgType, "", content)
	if err != nil {
		panic(err)
	}
	return msg
}
