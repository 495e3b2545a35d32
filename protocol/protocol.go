// Package protocol defines the vocabulary of the remote object protocol.
//
// The remote application exposes its object graph through integer handles.
// Every value that crosses the boundary is either a JSON scalar or a tagged
// object:
//
//	scalar       true, 42, "text"           passed through unchanged
//	empty        {"type":"empty"}           the absence of a value
//	reference    {"type":"scriptObject",    an object or function handle;
//	              "scriptObject":123}       handle 0 means null
//
// The same tagged form names objects living on either side: handles the
// peer hands out are materialized into proxies, handles this side hands out
// name local objects and callbacks the peer may invoke.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Handle names an object instance shared across the connection.
type Handle int64

// InvalidHandle is reserved for null. It is never assigned to a live reference.
const InvalidHandle Handle = 0

// Value type tags.
const (
	TypeEmpty        = "empty"
	TypeScriptObject = "scriptObject"
)

// Outbound methods issued to the remote application.
const (
	MethodAuthenticate   = "authenticate"   // [token] -> bool
	MethodGetRootObject  = "getRootObject"  // [] -> value
	MethodGet            = "get"            // [handle, property] -> value
	MethodSet            = "set"            // [handle, property, value] -> value
	MethodExecute        = "execute"        // [handle, method, args...] -> value
	MethodListProperties = "listProperties" // [handle] -> []string
	MethodListMethods    = "listMethods"    // [handle] -> []string
)

// MethodCallback is the only method the remote application invokes on us:
// [handle, args...] -> value.
const MethodCallback = "callback"

// RegisterCallbackMethod is the root object method used to install a
// session-wide named callback.
const RegisterCallbackMethod = "registerCallback"

// Value is the tagged wire form of non-scalar values.
type Value struct {
	Type         string  `json:"type"`
	ScriptObject *Handle `json:"scriptObject,omitempty"`
}

// Empty returns the wire form of an absent value.
func Empty() Value {
	return Value{Type: TypeEmpty}
}

// Reference returns the wire form of a handle.
func Reference(h Handle) Value {
	return Value{Type: TypeScriptObject, ScriptObject: &h}
}

// Null returns the wire form of null, the reference to InvalidHandle.
func Null() Value {
	return Reference(InvalidHandle)
}

// IsEmpty reports whether v is the empty marker.
func (v Value) IsEmpty() bool {
	return v.Type == TypeEmpty
}

// Handle returns the handle carried by a reference value.
func (v Value) Handle() (Handle, error) {
	if v.Type != TypeScriptObject {
		return InvalidHandle, fmt.Errorf("value of type %q carries no handle", v.Type)
	}
	if v.ScriptObject == nil {
		return InvalidHandle, nil
	}
	if *v.ScriptObject < 0 {
		return InvalidHandle, fmt.Errorf("negative handle %d", *v.ScriptObject)
	}
	return *v.ScriptObject, nil
}

// ParseHandle decodes a handle sent as a bare JSON number or as a tagged
// reference. The callback method receives its target either way depending on
// the peer version.
func ParseHandle(raw json.RawMessage) (Handle, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		h, err := n.Int64()
		if err != nil {
			return InvalidHandle, fmt.Errorf("handle %s is not an integer", n)
		}
		if h < 0 {
			return InvalidHandle, fmt.Errorf("negative handle %d", h)
		}
		return Handle(h), nil
	}
	var v Value
	if err := json.Unmarshal(raw, &v); err != nil {
		return InvalidHandle, fmt.Errorf("invalid handle %s: %w", raw, err)
	}
	return v.Handle()
}
