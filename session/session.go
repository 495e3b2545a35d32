// Package session is the entry point: one Session per connection to the
// remote application.
//
//	Initialize(token)
//	  → authenticate     [token]         an error reply stops here
//	  → getRootObject    []              decoded into the root proxy
//	  → registerCallback [name, fn]      once per global callback, in order
//
// The session does not own the connection. Messages from the peer are fed in
// with ProcessMessage, and outgoing messages leave through the function set
// with SetSendMessage. Attach wires both to a websocket.
package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"zoiper-rpc/client"
	"zoiper-rpc/message"
	"zoiper-rpc/protocol"
	"zoiper-rpc/registry"
	"zoiper-rpc/server"
	"zoiper-rpc/transport"
)

var logger = loggo.GetLogger("zoiper.session")

// AuthenticationError is returned by Initialize when the peer rejects the
// token.
type AuthenticationError struct {
	Err *message.Error
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Err.Message
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Session is one authenticated conversation with the remote application.
type Session struct {
	config       Config
	globals      []*registry.Func // parallel to config.Callbacks
	engine       *transport.Engine
	materializer *client.Materializer
	dispatcher   *server.Dispatcher

	mu          sync.RWMutex
	sendMessage func([]byte) error
}

// New creates a session. The global callbacks get their handles here, before
// anything is sent.
func New(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Annotate(err, "invalid config")
	}
	s := &Session{config: cfg}
	refs := make([]any, 0, len(cfg.Callbacks))
	for _, cb := range cfg.Callbacks {
		fn, err := toFunc(cb.Func)
		if err != nil {
			return nil, errors.Annotatef(err, "callback %q", cb.Name)
		}
		s.globals = append(s.globals, fn)
		refs = append(refs, fn)
	}
	reg, err := registry.New(refs...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	s.engine = transport.NewEngine(s.SendMessage, s.handle)
	s.materializer = client.NewMaterializer(s.engine, reg)
	s.dispatcher = server.NewDispatcher(reg, s.materializer.Codec(), cfg.middlewares()...)
	return s, nil
}

// Initialize authenticates with token, fetches the root object and registers
// the global callbacks. It returns the root proxy.
func (s *Session) Initialize(token string) (*client.Proxy, error) {
	param, err := json.Marshal(token)
	if err != nil {
		return nil, errors.Trace(err)
	}
	// Only an error reply counts as a rejection; the result itself is ignored.
	if _, err := s.engine.Call(protocol.MethodAuthenticate, []json.RawMessage{param}); err != nil {
		var rpcErr *message.Error
		if errors.As(err, &rpcErr) {
			logger.Errorf("authentication rejected: %v", rpcErr)
			return nil, &AuthenticationError{Err: rpcErr}
		}
		return nil, errors.Annotate(err, "authenticating")
	}

	raw, err := s.engine.Call(protocol.MethodGetRootObject, nil)
	if err != nil {
		return nil, errors.Annotate(err, "getting root object")
	}
	v, err := s.materializer.Codec().Deserialize(raw)
	if err != nil {
		return nil, errors.Annotate(err, "decoding root object")
	}
	root, ok := v.(*client.Proxy)
	if !ok {
		return nil, errors.NotValidf("root object %s", raw)
	}

	for i, cb := range s.config.Callbacks {
		if _, err := root.Call(protocol.RegisterCallbackMethod, cb.Name, s.globals[i]); err != nil {
			return nil, errors.Annotatef(err, "registering callback %q", cb.Name)
		}
		logger.Debugf("registered callback %q", cb.Name)
	}
	logger.Infof("session initialized, root object %d", root.RemoteHandle())
	return root, nil
}

// ProcessMessage hands one message received from the peer to the session.
func (s *Session) ProcessMessage(raw []byte) error {
	return errors.Trace(s.engine.Process(raw))
}

// SetSendMessage sets the function used to send messages to the peer.
func (s *Session) SetSendMessage(fn func([]byte) error) {
	s.mu.Lock()
	s.sendMessage = fn
	s.mu.Unlock()
}

// SendMessage sends raw to the peer. It panics if SetSendMessage was never
// called: there is nowhere to send to.
func (s *Session) SendMessage(raw []byte) error {
	s.mu.RLock()
	fn := s.sendMessage
	s.mu.RUnlock()
	if fn == nil {
		panic("session: SendMessage called before SetSendMessage")
	}
	return fn(raw)
}

// Close fails every call still waiting for a reply with err.
func (s *Session) Close(err error) {
	s.engine.Close(err)
}

// Attach makes conn the session's message channel and starts reading from
// it. When the connection ends the session is closed with the read error,
// which is also delivered on the returned channel (nil after a normal close).
func (s *Session) Attach(conn *transport.Conn) <-chan error {
	s.SetSendMessage(conn.Send)
	done := make(chan error, 1)
	go func() {
		err := conn.Run(s.ProcessMessage)
		if err != nil {
			logger.Warningf("connection lost: %v", err)
			s.Close(err)
		} else {
			s.Close(transport.ErrClosed)
		}
		done <- err
	}()
	return done
}

// handle binds inbound requests as they arrive, so a callback followed by
// the reply that pops its frame still reaches the function.
func (s *Session) handle(ctx context.Context, req *message.Message) func() *message.Message {
	return s.dispatcher.Bind(ctx, req)
}
