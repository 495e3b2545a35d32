// Package message defines the JSON-RPC envelope exchanged with the remote application.
//
// Message is the "envelope" for every request, notification and response.
// Both sides may initiate requests, so a single type carries all three:
//
//   - Request:      Method and ID are set, Params holds the encoded arguments.
//   - Notification: Method is set, ID is empty; no reply is expected.
//   - Response:     ID is set, and exactly one of Result or Error.
package message

import (
	"encoding/json"
	"strconv"
)

// Version is the JSON-RPC version stamped on outgoing messages.
const Version = "2.0"

// Message carries a single request, notification or response.
type Message struct {
	JSONRPC string            `json:"jsonrpc,omitempty"`
	ID      json.RawMessage   `json:"id,omitempty"`     // Correlates a response with its request
	Method  string            `json:"method,omitempty"` // Empty on responses
	Params  []json.RawMessage `json:"params,omitempty"` // Positional arguments, already encoded
	Result  json.RawMessage   `json:"result,omitempty"`
	Error   *Error            `json:"error,omitempty"`
}

// IsRequest reports whether the message was initiated by the sender,
// either as a request or as a notification.
func (m *Message) IsRequest() bool {
	return m.Method != ""
}

// IsNotification reports whether the message is a request that expects no reply.
func (m *Message) IsNotification() bool {
	return m.IsRequest() && len(m.ID) == 0
}

// MarshalJSON always writes params on requests, as an empty array when
// there are none: the peer expects "getRootObject" with "params":[].
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	if !m.IsRequest() {
		return json.Marshal(plain(m))
	}
	params := m.Params
	if params == nil {
		params = []json.RawMessage{}
	}
	return json.Marshal(struct {
		plain
		Params []json.RawMessage `json:"params"`
	}{plain(m), params})
}

// NewRequest builds a request with a numeric id and already-encoded params.
func NewRequest(id uint64, method string, params []json.RawMessage) *Message {
	return &Message{
		JSONRPC: Version,
		ID:      json.RawMessage(strconv.FormatUint(id, 10)),
		Method:  method,
		Params:  params,
	}
}

// NewResult builds a successful response to the request with the given id.
func NewResult(id json.RawMessage, result json.RawMessage) *Message {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return &Message{JSONRPC: Version, ID: id, Result: result}
}

// NewError builds an error response to the request with the given id.
func NewError(id json.RawMessage, err *Error) *Message {
	return &Message{JSONRPC: Version, ID: id, Error: err}
}

// NumericID returns the id as an unsigned integer, the form this side
// allocates for its own requests.
func (m *Message) NumericID() (uint64, bool) {
	if len(m.ID) == 0 {
		return 0, false
	}
	id, err := strconv.ParseUint(string(m.ID), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
