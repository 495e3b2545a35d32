// Package client builds local proxies for objects living in the remote application.
//
// A proxy's shape is not known at compile time: when a handle is first
// decoded the materializer asks the peer which properties and methods the
// object has, and builds one accessor or invoker per name.
//
//	Materialize(123)
//	  ├── listProperties [123] ──┐ concurrently
//	  └── listMethods    [123] ──┘
//	        ↓
//	  Proxy{handle: 123, properties: {n}, methods: {foo}}   sealed
package client

import (
	"encoding/json"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"golang.org/x/sync/errgroup"

	"zoiper-rpc/codec"
	"zoiper-rpc/protocol"
	"zoiper-rpc/registry"
)

var logger = loggo.GetLogger("zoiper.client")

// Caller sends one request to the remote application and waits for its
// result. A reply carrying an error is returned as a non-nil error.
type Caller interface {
	Call(method string, params []json.RawMessage) (json.RawMessage, error)
}

// Materializer turns remote handles into proxies. It is the
// codec.Materializer used when decoding results.
type Materializer struct {
	caller   Caller
	registry *registry.Registry
	codec    *codec.ValueCodec
}

// NewMaterializer creates a materializer issuing calls through caller and
// resolving local references through reg.
func NewMaterializer(caller Caller, reg *registry.Registry) *Materializer {
	m := &Materializer{caller: caller, registry: reg}
	m.codec = codec.NewValueCodec(reg, m)
	return m
}

// Codec returns the value codec bound to this materializer.
func (m *Materializer) Codec() *codec.ValueCodec {
	return m.codec
}

// Materialize describes h and builds a new proxy for it. No caching is done:
// every call re-describes the object.
func (m *Materializer) Materialize(h protocol.Handle) (any, error) {
	return m.Proxy(h)
}

// Proxy is Materialize with a concrete result type.
func (m *Materializer) Proxy(h protocol.Handle) (*Proxy, error) {
	if h == protocol.InvalidHandle {
		return nil, errors.NotValidf("handle %d", h)
	}
	var properties, methods []string
	g := new(errgroup.Group)
	g.Go(func() error {
		names, err := m.describe(protocol.MethodListProperties, h)
		properties = names
		return err
	})
	g.Go(func() error {
		names, err := m.describe(protocol.MethodListMethods, h)
		methods = names
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, errors.Annotatef(err, "describing handle %d", h)
	}
	logger.Debugf("materialized handle %d: properties %v, methods %v", h, properties, methods)
	return newProxy(m, h, properties, methods), nil
}

func (m *Materializer) describe(method string, h protocol.Handle) ([]string, error) {
	params, err := m.codec.SerializeAll(h)
	if err != nil {
		return nil, errors.Trace(err)
	}
	raw, err := m.caller.Call(method, params)
	if err != nil {
		return nil, errors.Annotate(err, method)
	}
	var names []string
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &names); err != nil {
			return nil, errors.Annotatef(err, "%s reply %s", method, raw)
		}
	}
	return names, nil
}

// call sends method with already-serialized params and decodes the result.
func (m *Materializer) call(method string, params []json.RawMessage) (any, error) {
	raw, err := m.caller.Call(method, params)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return m.codec.Deserialize(raw)
}
