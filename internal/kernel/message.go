package kernel

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const protocolVersion = "5.3"

// Channel names used on the multiplexed kernel websocket.
const (
	ChannelShell = "shell"
	ChannelIOPub = "iopub"
)

// Message types this package reacts to. Everything else is passed through untouched.
const (
	MsgExecuteRequest = "execute_request"
	MsgExecuteReply   = "execute_reply"
	MsgExecuteInput   = "execute_input"
	MsgExecuteResult  = "execute_result"
	MsgStream         = "stream"
	MsgDisplayData    = "display_data"
	MsgStatus         = "status"
	MsgError          = "error"
)

// Header is the Jupyter message header (also used for parent_header).
type Header struct {
	MsgID    string `json:"msg_id,omitempty"`
	MsgType  string `json:"msg_type,omitempty"`
	Session  string `json:"session,omitempty"`
	Username string `json:"username,omitempty"`
	Date     string `json:"date,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Message is one raw kernel message as carried on the websocket.
// Content is left undecoded; interpreting it belongs to the consumer.
type Message struct {
	Header       Header          `json:"header"`
	ParentHeader Header          `json:"parent_header"`
	Metadata     map[string]any  `json:"metadata"`
	Content      json.RawMessage `json:"content"`
	Channel      string          `json:"channel,omitempty"`
	Buffers      []any           `json:"buffers,omitempty"`
}

// ID returns the message id from the header.
func (m Message) ID() string {
	return m.Header.MsgID
}

// Type returns the message type from the header.
func (m Message) Type() string {
	return m.Header.MsgType
}

// ExecuteRequest is the content of an execute_request.
type ExecuteRequest struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
	StopOnError     bool           `json:"stop_on_error"`
}

type statusContent struct {
	ExecutionState string `json:"execution_state"`
}

// NewMessage builds a message with a fresh id. content is marshaled as-is; a nil
// content becomes an empty object.
func NewMessage(channel, msgType, session string, content any) (Message, error) {
	raw := json.RawMessage("{}")
	if content != nil {
		b, err := json.Marshal(content)
		if err != nil {
			return Message{}, err
		}
		raw = b
	}
	return Message{
		Header: Header{
			MsgID:    uuid.NewString(),
			MsgType:  msgType,
			Session:  session,
			Username: "notebookd",
			Date:     time.Now().UTC().Format(time.RFC3339Nano),
			Version:  protocolVersion,
		},
		Metadata: map[string]any{},
		Content:  raw,
		Channel:  channel,
	}, nil
}

// NewExecuteRequest builds the shell message that submits code for execution.
func NewExecuteRequest(session, code string) (Message, error) {
	return NewMessage(ChannelShell, MsgExecuteRequest, session, ExecuteRequest{
		Code:            code,
		StoreHistory:    true,
		UserExpressions: map[string]any{},
		StopOnError:     true,
	})
}

// Reply builds an iopub message in response to parent. It panics only if content
// cannot be marshaled, which callers control.
func Reply(parent Message, channel, msgType string, content any) Message {
	msg, err := NewMessage(channel, msgType, parent.Header.Session, content)
	if err != nil {
		panic(err)
	}
	msg.ParentHeader = parent.Header
	return msg
}

func isIdleStatus(msg Message) bool {
	if msg.Type() != MsgStatus {
		return false
	}
	var st statusContent
	if err := json.Unmarshal(msg.Content, &st); err != nil {
		return false
	}
	return st.ExecutionState == "idle"
}
