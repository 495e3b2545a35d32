// Package transport correlates requests with replies and moves messages over
// a websocket.
//
// Engine lets many goroutines share one message channel. Every outbound
// request gets a unique id, and replies are routed back to the waiting
// caller through a per-call channel:
//
//	goroutine-1 ──Call(id=1)──┐
//	goroutine-2 ──Call(id=2)──┼──→ send ──→ peer
//	goroutine-3 ──Call(id=3)──┘
//
//	Process: ←── reply(id=2) → pending[2] ← reply → goroutine-2 wakes up
//
// The channel is bidirectional: a message carrying a method is a request
// from the peer and goes to the handler instead.
package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"zoiper-rpc/codec"
	"zoiper-rpc/message"
)

var logger = loggo.GetLogger("zoiper.transport")

// ErrClosed is returned by calls made after the engine was closed without a
// more specific reason.
var ErrClosed = errors.New("engine closed")

// Handler binds one inbound request and returns the function that serves
// it. Binding runs inside Process, in the order messages arrive, so it sees
// the state at the moment the request was received. Serving runs on its own
// goroutine and returns the reply, or nil for a notification.
type Handler func(ctx context.Context, req *message.Message) func() *message.Message

// Deferred turns a plain request handler into a Handler with no binding
// step: all of its work happens when the request is served.
func Deferred(h func(ctx context.Context, req *message.Message) *message.Message) Handler {
	return func(ctx context.Context, req *message.Message) func() *message.Message {
		return func() *message.Message { return h(ctx, req) }
	}
}

type reply struct {
	msg *message.Message
	err error
}

// Engine matches outbound requests with their replies and hands inbound
// requests to a Handler.
type Engine struct {
	send    func([]byte) error
	handler Handler
	codec   codec.Codec

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	seq     uint64                // last id handed out
	pending map[uint64]chan reply // each call waits on its own buffered channel
	closed  error

	serving sync.WaitGroup // inbound handlers still running
}

// NewEngine creates an engine that writes encoded messages with send and
// serves inbound requests with handler. A nil handler answers every request
// with CodeMethodNotFound.
func NewEngine(send func([]byte) error, handler Handler) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		send:    send,
		handler: handler,
		codec:   codec.GetCodec(codec.CodecTypeJSON),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[uint64]chan reply),
	}
}

// Call sends a request and blocks until its reply arrives or the engine is
// closed. An error reply is returned as a *message.Error.
func (e *Engine) Call(method string, params []json.RawMessage) (json.RawMessage, error) {
	e.mu.Lock()
	if e.closed != nil {
		err := e.closed
		e.mu.Unlock()
		return nil, errors.Trace(err)
	}
	e.seq++
	id := e.seq
	// Register before sending: the reply may be processed before send returns.
	ch := make(chan reply, 1)
	e.pending[id] = ch
	e.mu.Unlock()

	data, err := e.codec.Encode(message.NewRequest(id, method, params))
	if err != nil {
		e.forget(id)
		return nil, errors.Trace(err)
	}
	logger.Tracef("-> %s", data)
	if err := e.send(data); err != nil {
		e.forget(id)
		return nil, errors.Annotatef(err, "sending %s", method)
	}

	r := <-ch
	if r.err != nil {
		return nil, r.err
	}
	if r.msg.Error != nil {
		return nil, r.msg.Error
	}
	return r.msg.Result, nil
}

// Process handles one message received from the peer. Replies complete the
// matching pending call. Requests are bound before Process returns and then
// served on their own goroutine, so the handler is free to make calls of its
// own.
func (e *Engine) Process(raw []byte) error {
	logger.Tracef("<- %s", raw)
	var msg message.Message
	if err := e.codec.Decode(raw, &msg); err != nil {
		return errors.Trace(err)
	}
	if msg.IsRequest() {
		serve := e.bind(&msg)
		e.serving.Add(1)
		go e.serve(&msg, serve)
		return nil
	}

	id, ok := msg.NumericID()
	if !ok {
		logger.Warningf("dropping reply with unexpected id %s", msg.ID)
		return nil
	}
	e.mu.Lock()
	ch, ok := e.pending[id]
	delete(e.pending, id)
	e.mu.Unlock()
	if !ok {
		logger.Warningf("dropping reply for unknown call %d", id)
		return nil
	}
	ch <- reply{msg: &msg}
	return nil
}

func (e *Engine) bind(req *message.Message) func() *message.Message {
	if e.handler == nil {
		return func() *message.Message {
			return message.NewError(req.ID, message.Errorf(message.CodeMethodNotFound, "no such method %q", req.Method))
		}
	}
	return e.handler(e.ctx, req)
}

func (e *Engine) serve(req *message.Message, serve func() *message.Message) {
	defer e.serving.Done()

	resp := serve()
	if resp == nil || req.IsNotification() {
		return
	}
	data, err := e.codec.Encode(resp)
	if err != nil {
		logger.Errorf("cannot encode reply to %s: %v", req.Method, err)
		return
	}
	logger.Tracef("-> %s", data)
	if err := e.send(data); err != nil {
		logger.Errorf("cannot send reply to %s: %v", req.Method, err)
	}
}

// Close fails every pending call with err, or ErrClosed when err is nil.
// Later calls fail immediately with the same error. Closing twice keeps the
// first error.
func (e *Engine) Close(err error) {
	if err == nil {
		err = ErrClosed
	}
	e.mu.Lock()
	if e.closed != nil {
		e.mu.Unlock()
		return
	}
	e.closed = err
	pending := e.pending
	e.pending = make(map[uint64]chan reply)
	e.mu.Unlock()

	e.cancel()
	for _, ch := range pending {
		ch <- reply{err: err}
	}
}

// Wait blocks until every inbound handler started by Process has returned.
func (e *Engine) Wait() {
	e.serving.Wait()
}

// Pending returns the number of calls waiting for a reply.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *Engine) forget(id uint64) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}
