// Package registry tracks the local references visible to the remote application.
//
// A local object or function becomes visible to the peer by being assigned a
// handle. Handles are only resolvable while the reference is listed in a
// scope frame: the permanent bottom frame holds the session-wide callbacks,
// and every outbound call pushes a frame holding the references passed as its
// arguments for as long as the call is in flight.
//
//	      ┌───────────────┐
//	top → │ call C frame  │  {f}        popped when C settles
//	      ├───────────────┤
//	      │ call B frame  │  {obj, g}
//	      ├───────────────┤
//	      │ global frame  │  {onEvent}  never popped
//	      └───────────────┘
//
// The handle table is keyed by the reference itself: pointers are stable,
// comparable identity tokens. An entry is dropped when the last frame listing
// its reference is popped, so the registry never keeps an unreachable object
// alive.
package registry

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"zoiper-rpc/protocol"
)

var logger = loggo.GetLogger("zoiper.registry")

// Registry is the bidirectional mapping between local references and handles,
// plus the stack of reachable reference sets. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	next    protocol.Handle         // Last allocated handle; only grows
	handles map[any]protocol.Handle // Reference → handle
	frames  []*Frame                // frames[0] is the permanent frame
}

// New creates a registry whose permanent frame holds the given references.
// Their handles are assigned eagerly, in order.
func New(global ...any) (*Registry, error) {
	r := &Registry{
		handles: make(map[any]protocol.Handle),
	}
	permanent := &Frame{permanent: true}
	for _, ref := range global {
		if _, err := r.assign(ref); err != nil {
			return nil, errors.Annotate(err, "registering global reference")
		}
		permanent.refs = append(permanent.refs, ref)
	}
	r.frames = []*Frame{permanent}
	return r, nil
}

// Assign returns the handle of ref, allocating the next one if ref has none.
// Assigning an already registered reference is a no-op.
func (r *Registry) Assign(ref any) (protocol.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assign(ref)
}

func (r *Registry) assign(ref any) (protocol.Handle, error) {
	if !IsReference(ref) {
		return protocol.InvalidHandle, errors.NotValidf("reference of type %T", ref)
	}
	if h, ok := r.handles[ref]; ok {
		return h, nil
	}
	r.next++
	r.handles[ref] = r.next
	logger.Tracef("assigned handle %d to %T", r.next, ref)
	return r.next, nil
}

// Lookup returns the handle of ref without allocating one.
func (r *Registry) Lookup(ref any) (protocol.Handle, bool) {
	if !IsReference(ref) {
		return protocol.InvalidHandle, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[ref]
	return h, ok
}

// Resolve finds the reference with the given handle among the references of
// the currently pushed frames, most recent frame first.
func (r *Registry) Resolve(h protocol.Handle) (any, bool) {
	if h == protocol.InvalidHandle {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		for _, ref := range r.frames[i].refs {
			if r.handles[ref] == h {
				return ref, true
			}
		}
	}
	return nil, false
}

// PushFrame assigns a handle to every reference and pushes a frame listing
// them. Both happen under one lock, so a concurrent PopFrame cannot drop a
// handle between assignment and push.
func (r *Registry) PushFrame(refs ...any) (*Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ref := range refs {
		if _, err := r.assign(ref); err != nil {
			return nil, errors.Trace(err)
		}
	}
	f := &Frame{refs: append([]any(nil), refs...)}
	r.frames = append(r.frames, f)
	return f, nil
}

// PopFrame removes f from the stack. Handles of references no longer listed
// in any remaining frame are forgotten. Popping the permanent frame or a frame
// that is no longer on the stack does nothing.
//
// Frames normally settle in LIFO order, but overlapping calls may settle in
// any order, so f is looked up rather than assumed to be on top.
func (r *Registry) PopFrame(f *Frame) {
	if f == nil || f.permanent {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := -1
	for i := len(r.frames) - 1; i > 0; i-- {
		if r.frames[i] == f {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	r.frames = append(r.frames[:idx], r.frames[idx+1:]...)
	for _, ref := range f.refs {
		if !r.listed(ref) {
			delete(r.handles, ref)
		}
	}
}

func (r *Registry) listed(ref any) bool {
	for _, f := range r.frames {
		for _, other := range f.refs {
			if other == ref {
				return true
			}
		}
	}
	return false
}

// Depth returns the number of frames on the stack, including the permanent one.
func (r *Registry) Depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Frame is the set of references reachable during one outbound call.
type Frame struct {
	refs      []any
	permanent bool
}

// Refs returns a copy of the references listed in the frame.
func (f *Frame) Refs() []any {
	return append([]any(nil), f.refs...)
}

func (f *Frame) String() string {
	if f.permanent {
		return fmt.Sprintf("permanent frame (%d refs)", len(f.refs))
	}
	return fmt.Sprintf("frame (%d refs)", len(f.refs))
}

// IsReference reports whether v can be given a handle: a *Func or a non-nil
// pointer or channel. Other values either have no identity (scalars,
// structs) or cannot be used as a map key (maps, slices, funcs).
func IsReference(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Chan, reflect.UnsafePointer:
		return !rv.IsNil()
	}
	return false
}
