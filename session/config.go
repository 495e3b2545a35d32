package session

import (
	"github.com/juju/errors"

	"zoiper-rpc/middleware"
	"zoiper-rpc/registry"
	"zoiper-rpc/server"
)

// Callback is a global callback registered with the remote application
// during Initialize. Func is a registry.Callable, a *registry.Func, or any
// function server.Adapt accepts.
type Callback struct {
	Name string
	Func any
}

// Config holds everything a Session needs besides its message channel.
type Config struct {
	// Callbacks are registered in this order, one at a time.
	Callbacks []Callback

	// Middlewares wrap inbound callback dispatch, the first outermost.
	Middlewares []middleware.Middleware

	// CallbackRate limits inbound callbacks per second, with bursts of
	// CallbackBurst. Zero disables the limit.
	CallbackRate  float64
	CallbackBurst int
}

// DefaultConfig logs inbound callbacks and sets no limit.
var DefaultConfig = Config{
	Middlewares: []middleware.Middleware{middleware.LoggingMiddleware()},
}

// Validate checks the config and returns the first problem found.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Callbacks))
	for i, cb := range c.Callbacks {
		if cb.Name == "" {
			return errors.NotValidf("callback %d without a name", i)
		}
		if seen[cb.Name] {
			return errors.AlreadyExistsf("callback %q", cb.Name)
		}
		seen[cb.Name] = true
		if _, err := toFunc(cb.Func); err != nil {
			return errors.Annotatef(err, "callback %q", cb.Name)
		}
	}
	if c.CallbackRate < 0 || c.CallbackBurst < 0 {
		return errors.NotValidf("negative callback rate limit")
	}
	if c.CallbackRate > 0 && c.CallbackBurst == 0 {
		return errors.NotValidf("callback rate without a burst")
	}
	return nil
}

func (c *Config) middlewares() []middleware.Middleware {
	mws := append([]middleware.Middleware(nil), c.Middlewares...)
	if c.CallbackRate > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(c.CallbackRate, c.CallbackBurst))
	}
	return mws
}

func toFunc(fn any) (*registry.Func, error) {
	if f, ok := fn.(*registry.Func); ok {
		if f == nil {
			return nil, errors.NotValidf("nil function")
		}
		return f, nil
	}
	callable, err := server.Adapt(fn)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return registry.NewFunc(callable), nil
}
