package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/juju/errors"

	"zoiper-rpc/protocol"
	"zoiper-rpc/registry"
)

// Undefined is the absence of a value, as opposed to nil (null). It travels
// as {"type":"empty"}.
var Undefined = undefined{}

type undefined struct{}

func (undefined) String() string { return "undefined" }

// Materializer turns a remote handle into a local proxy.
type Materializer interface {
	Materialize(h protocol.Handle) (any, error)
}

// RemoteObject is implemented by local stand-ins of remote objects. They
// serialize as their own remote handle.
type RemoteObject interface {
	RemoteHandle() protocol.Handle
}

// SerializationError reports a value that cannot cross the boundary: a
// reference that is not currently registered, or a value with no wire form.
type SerializationError struct {
	Value  any
	Reason string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("cannot serialize %T: %s", e.Value, e.Reason)
}

// ValueCodec converts values between their local and wire forms.
type ValueCodec struct {
	registry     *registry.Registry
	materializer Materializer
}

// NewValueCodec creates a codec that resolves local references through reg
// and remote handles through m.
func NewValueCodec(reg *registry.Registry, m Materializer) *ValueCodec {
	return &ValueCodec{registry: reg, materializer: m}
}

// Serialize returns the wire form of v, ready to be marshalled as JSON.
func (c *ValueCodec) Serialize(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return protocol.Null(), nil
	case undefined:
		return protocol.Empty(), nil
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return val, nil
	case RemoteObject:
		if isNilPointer(v) {
			return protocol.Null(), nil
		}
		return protocol.Reference(val.RemoteHandle()), nil
	}
	if isNilPointer(v) {
		return protocol.Null(), nil
	}
	if isScalarKind(v) {
		// Named scalar types such as protocol.Handle.
		return v, nil
	}
	if !registry.IsReference(v) {
		return nil, &SerializationError{Value: v, Reason: "no wire representation"}
	}
	h, ok := c.registry.Lookup(v)
	if !ok {
		return nil, &SerializationError{Value: v, Reason: "reference is not reachable"}
	}
	return protocol.Reference(h), nil
}

// SerializeAll serializes each value and marshals it, producing positional
// params for a request.
func (c *ValueCodec) SerializeAll(values ...any) ([]json.RawMessage, error) {
	params := make([]json.RawMessage, 0, len(values))
	for i, v := range values {
		wire, err := c.Serialize(v)
		if err != nil {
			return nil, errors.Annotatef(err, "argument %d", i)
		}
		data, err := json.Marshal(wire)
		if err != nil {
			return nil, errors.Trace(err)
		}
		params = append(params, data)
	}
	return params, nil
}

// Deserialize decodes a wire value. A non-null handle is materialized into a
// new proxy every time it is seen.
func (c *ValueCodec) Deserialize(raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	switch raw[0] {
	case '{':
		var v protocol.Value
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, errors.Annotatef(err, "decoding value %s", raw)
		}
		return c.fromTagged(v)
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, errors.Annotatef(err, "decoding array %s", raw)
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := c.Deserialize(item)
			if err != nil {
				return nil, errors.Annotatef(err, "element %d", i)
			}
			out[i] = v
		}
		return out, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Annotatef(err, "decoding value %s", raw)
	}
	if f, ok := v.(float64); ok && !exactInteger(f, raw) {
		return json.Number(raw), nil
	}
	return v, nil
}

// maxExact bounds the integers that survive decoding as float64. 2^53 itself
// is excluded: 2^53+1 rounds to it.
const maxExact = 1 << 53

// exactInteger reports whether f represents the number literal raw without
// loss. Only integer literals beyond 2^53 can fail; fractions and exponents
// are floating point on both sides.
func exactInteger(f float64, raw []byte) bool {
	if bytes.ContainsAny(raw, ".eE") {
		return true
	}
	return math.Abs(f) < maxExact
}

func (c *ValueCodec) fromTagged(v protocol.Value) (any, error) {
	switch v.Type {
	case protocol.TypeEmpty:
		return Undefined, nil
	case protocol.TypeScriptObject:
		h, err := v.Handle()
		if err != nil {
			return nil, errors.Trace(err)
		}
		if h == protocol.InvalidHandle {
			return nil, nil
		}
		if c.materializer == nil {
			return nil, errors.Errorf("no materializer for handle %d", h)
		}
		obj, err := c.materializer.Materialize(h)
		return obj, errors.Annotatef(err, "materializing handle %d", h)
	}
	return nil, errors.NotSupportedf("value type %q", v.Type)
}

func isScalarKind(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
