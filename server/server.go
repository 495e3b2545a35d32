// Package server handles the requests the remote application sends to this side.
//
// The only inbound method is "callback": the peer invokes a local function
// it was handed earlier, naming it by handle.
//
//	callback [handle, args...]
//	  → resolve handle against the pushed frames   (Bind, on arrival)
//	  → decode args → invoke → encode result → reply (on its own goroutine)
//
// The handle is resolved when the request arrives rather than when it is
// served: the reply to the outbound call that lent the function may arrive
// right behind the callback and pop its frame.
//
// Every request passes through the middleware chain before reaching the
// dispatcher: decode → middleware → handler → encode.
package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"zoiper-rpc/codec"
	"zoiper-rpc/message"
	"zoiper-rpc/middleware"
	"zoiper-rpc/protocol"
	"zoiper-rpc/registry"
)

var logger = loggo.GetLogger("zoiper.server")

// UnresolvedHandleError reports a callback naming a handle that is not
// reachable, or that names something that cannot be called. It is only ever
// sent back to the peer.
type UnresolvedHandleError struct {
	Handle protocol.Handle
}

func (e *UnresolvedHandleError) Error() string {
	return fmt.Sprintf("unresolved function handle %d", e.Handle)
}

// Dispatcher routes inbound callback invocations to local functions.
type Dispatcher struct {
	registry    *registry.Registry
	codec       *codec.ValueCodec
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(dispatch)))
}

// NewDispatcher creates a dispatcher resolving handles in reg and decoding
// values with cdc. The middlewares are applied in order, the first outermost.
func NewDispatcher(reg *registry.Registry, cdc *codec.ValueCodec, mws ...middleware.Middleware) *Dispatcher {
	d := &Dispatcher{
		registry:    reg,
		codec:       cdc,
		middlewares: mws,
	}
	d.handler = middleware.Chain(d.middlewares...)(d.dispatch)
	return d
}

// PanicError reports a callback that panicked instead of returning.
type PanicError struct {
	Handle protocol.Handle
	Value  any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("callback %d panicked: %v", e.Handle, e.Value)
}

type boundKey struct{}

// binding is the target of a callback, resolved when the request arrived.
type binding struct {
	handle protocol.Handle
	fn     *registry.Func
	err    error
}

// Bind resolves the target of req against the frames pushed right now and
// returns the function that serves it later. It has the shape of a
// transport.Handler.
func (d *Dispatcher) Bind(ctx context.Context, req *message.Message) func() *message.Message {
	if b := d.bind(req); b != nil {
		ctx = context.WithValue(ctx, boundKey{}, b)
	}
	return func() *message.Message {
		resp := d.handler(ctx, req)
		if req.IsNotification() {
			return nil
		}
		return resp
	}
}

// Handle processes one inbound request and returns the reply to send, or nil
// when the request is a notification.
func (d *Dispatcher) Handle(ctx context.Context, req *message.Message) *message.Message {
	return d.Bind(ctx, req)()
}

func (d *Dispatcher) bind(req *message.Message) *binding {
	if req.Method != protocol.MethodCallback || len(req.Params) == 0 {
		return nil
	}
	h, err := protocol.ParseHandle(req.Params[0])
	if err != nil {
		return nil
	}
	fn, err := d.resolve(h)
	return &binding{handle: h, fn: fn, err: err}
}

func (d *Dispatcher) dispatch(ctx context.Context, req *message.Message) *message.Message {
	if req.Method != protocol.MethodCallback {
		return message.NewError(req.ID, message.Errorf(message.CodeMethodNotFound, "no such method %q", req.Method))
	}
	if len(req.Params) == 0 {
		return message.NewError(req.ID, message.Errorf(message.CodeInvalidParams, "callback without a function handle"))
	}
	h, err := protocol.ParseHandle(req.Params[0])
	if err != nil {
		return message.NewError(req.ID, message.Errorf(message.CodeInvalidParams, "callback target: %v", err))
	}

	fn, err := d.target(ctx, h)
	if err != nil {
		logger.Debugf("callback rejected: %v", err)
		return message.NewError(req.ID, message.Errorf(message.CodeUnresolvedHandle, "%v", err))
	}

	args := make([]any, 0, len(req.Params)-1)
	for i, raw := range req.Params[1:] {
		arg, err := d.codec.Deserialize(raw)
		if err != nil {
			return message.NewError(req.ID, message.Errorf(message.CodeInvalidParams, "argument %d: %v", i, err))
		}
		args = append(args, arg)
	}

	result, err := invoke(h, fn, args)
	if perr, ok := err.(*PanicError); ok {
		logger.Errorf("%v", perr)
		return message.NewError(req.ID, message.Errorf(message.CodeInternalError, "%v", perr))
	}
	if err != nil {
		logger.Debugf("callback %d failed: %v", h, err)
		return message.NewError(req.ID, message.Errorf(message.CodeApplication, "%v", err))
	}

	wire, err := d.codec.Serialize(result)
	if err != nil {
		return message.NewError(req.ID, message.Errorf(message.CodeInternalError, "callback %d result: %v", h, err))
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return message.NewError(req.ID, message.Errorf(message.CodeInternalError, "%v", errors.Trace(err)))
	}
	return message.NewResult(req.ID, data)
}

// invoke calls fn, turning a panic into a *PanicError.
func invoke(h protocol.Handle, fn *registry.Func, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &PanicError{Handle: h, Value: r}
		}
	}()
	return fn.Invoke(args...)
}

// target returns the callable bound to h when the request arrived, falling
// back to resolving it now.
func (d *Dispatcher) target(ctx context.Context, h protocol.Handle) (*registry.Func, error) {
	if b, ok := ctx.Value(boundKey{}).(*binding); ok && b.handle == h {
		return b.fn, b.err
	}
	return d.resolve(h)
}

// resolve finds the callable with handle h among the currently pushed frames.
func (d *Dispatcher) resolve(h protocol.Handle) (*registry.Func, error) {
	ref, ok := d.registry.Resolve(h)
	if !ok {
		return nil, &UnresolvedHandleError{Handle: h}
	}
	fn, ok := ref.(*registry.Func)
	if !ok {
		return nil, &UnresolvedHandleError{Handle: h}
	}
	return fn, nil
}
