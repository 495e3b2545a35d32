// Package middleware wraps the handling of inbound requests from the remote application.
//
// Middlewares follow the onion model:
//
//	Chain(A, B)(handler) → A(B(handler))
//	A.before → B.before → handler → B.after → A.after
package middleware

import (
	"context"

	"zoiper-rpc/message"
)

// HandlerFunc handles one inbound request. It returns the response to send,
// or nil for notifications.
type HandlerFunc func(ctx context.Context, req *message.Message) *message.Message

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines several middlewares into one, the first being outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
