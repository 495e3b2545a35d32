package client

import (
	"fmt"
	"sort"

	"github.com/juju/errors"

	"zoiper-rpc/codec"
	"zoiper-rpc/protocol"
	"zoiper-rpc/registry"
)

// NoSuchMemberError is returned when a proxy is asked for a property or
// method its remote object did not declare.
type NoSuchMemberError struct {
	Handle protocol.Handle
	Name   string
}

func (e *NoSuchMemberError) Error() string {
	return fmt.Sprintf("object %d has no member %q", e.Handle, e.Name)
}

// IsNoSuchMember reports whether err is a *NoSuchMemberError.
func IsNoSuchMember(err error) bool {
	var target *NoSuchMemberError
	return errors.As(err, &target)
}

// Property is a read/write accessor for one remote property. Each operation
// is a round trip.
type Property struct {
	Get func() (any, error)
	Set func(value any) (any, error)
}

// Method invokes one remote method.
type Method func(args ...any) (any, error)

// Proxy stands in for a remote object. Its member set is fixed when it is
// built and never changes.
type Proxy struct {
	handle     protocol.Handle
	properties map[string]Property
	methods    map[string]Method
	propNames  []string
	methNames  []string
}

func newProxy(m *Materializer, h protocol.Handle, properties, methods []string) *Proxy {
	p := &Proxy{
		handle:     h,
		properties: make(map[string]Property, len(properties)),
		methods:    make(map[string]Method, len(methods)),
	}
	for _, name := range properties {
		if _, dup := p.properties[name]; dup {
			continue
		}
		name := name
		p.properties[name] = Property{
			Get: func() (any, error) { return m.get(h, name) },
			Set: func(value any) (any, error) { return m.set(h, name, value) },
		}
		p.propNames = append(p.propNames, name)
	}
	for _, name := range methods {
		if _, dup := p.methods[name]; dup {
			continue
		}
		name := name
		p.methods[name] = func(args ...any) (any, error) { return m.execute(h, name, args) }
		p.methNames = append(p.methNames, name)
	}
	return p
}

// RemoteHandle returns the handle of the remote object. Passing a proxy as an
// argument sends this handle back to the peer.
func (p *Proxy) RemoteHandle() protocol.Handle {
	return p.handle
}

// Properties returns the declared property names in declaration order.
func (p *Proxy) Properties() []string {
	return append([]string(nil), p.propNames...)
}

// Methods returns the declared method names in declaration order.
func (p *Proxy) Methods() []string {
	return append([]string(nil), p.methNames...)
}

// Members returns every member name, sorted.
func (p *Proxy) Members() []string {
	seen := make(map[string]bool)
	var names []string
	for _, n := range append(p.Properties(), p.methNames...) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is a declared property or method.
func (p *Proxy) Has(name string) bool {
	_, isProp := p.properties[name]
	_, isMethod := p.methods[name]
	return isProp || isMethod
}

// Property returns the accessor for name.
func (p *Proxy) Property(name string) (Property, bool) {
	prop, ok := p.properties[name]
	return prop, ok
}

// Method returns the invoker for name.
func (p *Proxy) Method(name string) (Method, bool) {
	method, ok := p.methods[name]
	return method, ok
}

// Get reads a property.
func (p *Proxy) Get(name string) (any, error) {
	prop, ok := p.properties[name]
	if !ok {
		return nil, &NoSuchMemberError{Handle: p.handle, Name: name}
	}
	return prop.Get()
}

// Set writes a property and returns the value the peer acknowledged.
func (p *Proxy) Set(name string, value any) (any, error) {
	prop, ok := p.properties[name]
	if !ok {
		return nil, &NoSuchMemberError{Handle: p.handle, Name: name}
	}
	return prop.Set(value)
}

// Call invokes a method. Local objects and functions among args are reachable
// by the peer until the call settles.
func (p *Proxy) Call(name string, args ...any) (any, error) {
	method, ok := p.methods[name]
	if !ok {
		return nil, &NoSuchMemberError{Handle: p.handle, Name: name}
	}
	return method(args...)
}

func (p *Proxy) String() string {
	return fmt.Sprintf("proxy(%d)", p.handle)
}

func (m *Materializer) get(h protocol.Handle, name string) (any, error) {
	params, err := m.codec.SerializeAll(h, name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	v, err := m.call(protocol.MethodGet, params)
	return v, errors.Annotatef(err, "getting %q of %d", name, h)
}

func (m *Materializer) set(h protocol.Handle, name string, value any) (any, error) {
	params, err := m.codec.SerializeAll(h, name, value)
	if err != nil {
		return nil, errors.Annotatef(err, "setting %q of %d", name, h)
	}
	v, err := m.call(protocol.MethodSet, params)
	return v, errors.Annotatef(err, "setting %q of %d", name, h)
}

// execute runs one method call:
//
//	register args → push frame → send → await → decode → pop frame
//
// The frame is popped whatever the outcome.
func (m *Materializer) execute(h protocol.Handle, name string, args []any) (any, error) {
	args = append([]any(nil), args...)
	var refs []any
	for i, arg := range args {
		if _, remote := arg.(codec.RemoteObject); remote {
			continue
		}
		if ref, ok := registry.AsReference(arg); ok {
			args[i] = ref
			refs = append(refs, ref)
		}
	}

	frame, err := m.registry.PushFrame(refs...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer m.registry.PopFrame(frame)

	head, err := m.codec.SerializeAll(h, name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	tail, err := m.codec.SerializeAll(args...)
	if err != nil {
		return nil, errors.Annotatef(err, "calling %q of %d", name, h)
	}
	params := append(head, tail...)
	logger.Tracef("execute %d.%s with %d args, %d reachable", h, name, len(args), len(refs))

	v, err := m.call(protocol.MethodExecute, params)
	return v, errors.Annotatef(err, "calling %q of %d", name, h)
}
