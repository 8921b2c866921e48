package reconcile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/notebookd/internal/kernel"
)

var ErrMalformed = errors.New("reconcile: malformed message")

// Well-known display_data content keys.
const (
	MimeTextPlain = "text/plain"
	MimeImagePNG  = "image/png"
)

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	EventUnrecognized EventKind = iota
	EventRunCount
	EventStdout
	EventDisplay
)

func (k EventKind) String() string {
	switch k {
	case EventRunCount:
		return "run-count"
	case EventStdout:
		return "stdout-chunk"
	case EventDisplay:
		return "display-data"
	default:
		return "unrecognized"
	}
}

// Event is a classified kernel message.
type Event struct {
	Kind EventKind
	// ID is the msg_id of the originating kernel message.
	ID    string
	Count int
	Text  string
	Data  MimeBundle
}

// MimeBundle maps MIME types to their textual payload.
type MimeBundle map[string]string

// Lookup returns the payload for mime and whether it was present.
func (b MimeBundle) Lookup(mime string) (string, bool) {
	if b == nil {
		return "", false
	}
	v, ok := b[mime]
	return v, ok
}

// Classify interprets one raw kernel message. Rules are applied in order:
// an execution_count field makes a run-count event, a stdout stream chunk makes a
// stdout event, display_data makes a display event, and anything else is
// unrecognized. An error means the message was malformed and must be skipped.
func Classify(msg kernel.Message) (Event, error) {
	ev := Event{Kind: EventUnrecognized, ID: msg.ID()}

	content, err := decodeObject(msg.Content)
	if err != nil {
		return ev, fmt.Errorf("%w: content: %v", ErrMalformed, err)
	}

	if raw, ok := content["execution_count"]; ok && !isNull(raw) {
		var count int
		if err := json.Unmarshal(raw, &count); err != nil {
			return ev, fmt.Errorf("%w: execution_count: %v", ErrMalformed, err)
		}
		ev.Kind = EventRunCount
		ev.Count = count
		return ev, nil
	}

	switch msg.Type() {
	case kernel.MsgStream:
		var name string
		if raw, ok := content["name"]; ok {
			if isNull(raw) {
				return ev, fmt.Errorf("%w: stream name is null", ErrMalformed)
			}
			if err := json.Unmarshal(raw, &name); err != nil {
				return ev, fmt.Errorf("%w: stream name: %v", ErrMalformed, err)
			}
		}
		if name != "stdout" {
			return ev, nil
		}
		raw, ok := content["text"]
		if !ok {
			return ev, fmt.Errorf("%w: stream without text", ErrMalformed)
		}
		text, err := decodeText(raw)
		if err != nil {
			return ev, fmt.Errorf("%w: stream text: %v", ErrMalformed, err)
		}
		ev.Kind = EventStdout
		ev.Text = text
		return ev, nil

	case kernel.MsgDisplayData:
		raw, ok := content["data"]
		if !ok || isNull(raw) {
			return ev, fmt.Errorf("%w: display_data without data", ErrMalformed)
		}
		data, err := decodeObject(raw)
		if err != nil {
			return ev, fmt.Errorf("%w: display_data data: %v", ErrMalformed, err)
		}
		bundle := make(MimeBundle, len(data))
		for mime, value := range data {
			text, err := decodeText(value)
			if err != nil {
				// Structured payloads (application/json, widgets) keep their JSON form.
				text = string(value)
			}
			bundle[mime] = text
		}
		ev.Kind = EventDisplay
		ev.Data = bundle
		return ev, nil
	}
	return ev, nil
}

func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("empty")
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("not an object")
	}
	return out, nil
}

// decodeText accepts a JSON string or a list of strings (nbformat multiline form).
func decodeText(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", errors.New("null")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		return "", errors.New("not a string")
	}
	return strings.Join(lines, ""), nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
