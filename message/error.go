package message

import (
	"encoding/json"
	"fmt"
)

// Error codes used in error responses. The -32xxx range below -32000
// follows JSON-RPC 2.0; the rest are specific to callbacks.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeApplication      = -32000 // the invoked callback returned an error
	CodeUnresolvedHandle = -32001 // the callback handle is not reachable
	CodeRateLimited      = -32002
)

// Error is the error object of a response.
//
// The remote application reports some failures as a bare string
// ("Access denied.") rather than an object; both forms unmarshal into Error.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Errorf builds an Error with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
	}
	return e.Message
}

// ErrorCode returns the error code associated with the error.
func (e *Error) ErrorCode() int {
	return e.Code
}

// UnmarshalJSON accepts either an error object or a bare string.
func (e *Error) UnmarshalJSON(data []byte) error {
	var msg string
	if err := json.Unmarshal(data, &msg); err == nil {
		*e = Error{Message: msg}
		return nil
	}
	type plain Error
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Error(p)
	return nil
}
