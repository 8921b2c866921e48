package kernel

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Pending describes one execute_request still waiting for completion.
type Pending struct {
	RequestID string    `json:"request_id"`
	QueuedAt  time.Time `json:"queued_at"`
	ReplyAt   time.Time `json:"reply_at"`
	IdleAt    time.Time `json:"idle_at"`
	Messages  int       `json:"messages"`
}

// Complete reports whether both the execute_reply and the idle status arrived.
func (p Pending) Complete() bool {
	return !p.ReplyAt.IsZero() && !p.IdleAt.IsZero()
}

type inflightEntry struct {
	Pending
	stream *Stream
}

// inflight tracks submissions by request msg_id until they complete.
type inflight struct {
	mu    sync.RWMutex
	items map[string]*inflightEntry
}

func newInflight() *inflight {
	return &inflight{
		items: make(map[string]*inflightEntry),
	}
}

func (f *inflight) Add(stream *Stream, at time.Time) {
	key := strings.TrimSpace(stream.RequestID())
	if key == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[key] = &inflightEntry{
		Pending: Pending{RequestID: key, QueuedAt: at},
		stream:  stream,
	}
}

// Deliver routes msg to the stream owning its parent request. It returns the
// stream when the message completed the request, after removing it.
func (f *inflight) Deliver(msg Message, at time.Time) (*Stream, bool) {
	key := strings.TrimSpace(msg.ParentHeader.MsgID)
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.items[key]
	if !ok {
		return nil, false
	}
	switch msg.Channel {
	case ChannelIOPub:
		if entry.stream.push(msg) {
			entry.Messages++
		}
		if isIdleStatus(msg) {
			entry.IdleAt = at
		}
	case ChannelShell:
		if msg.Type() == MsgExecuteReply {
			entry.ReplyAt = at
		}
	}
	if !entry.Complete() {
		return nil, false
	}
	delete(f.items, key)
	return entry.stream, true
}

func (f *inflight) Remove(requestID string) {
	key := strings.TrimSpace(requestID)
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, key)
}

// List returns the pending submissions, oldest first.
func (f *inflight) List() []Pending {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Pending, 0, len(f.items))
	for _, entry := range f.items {
		out = append(out, entry.Pending)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QueuedAt.Before(out[j].QueuedAt)
	})
	return out
}

// FailAll ends every pending stream with err and clears the table.
func (f *inflight) FailAll(err error) {
	f.mu.Lock()
	entries := f.items
	f.items = make(map[string]*inflightEntry)
	f.mu.Unlock()
	for _, entry := range entries {
		entry.stream.finish(err)
	}
}
