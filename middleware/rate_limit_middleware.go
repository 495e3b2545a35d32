package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"zoiper-rpc/message"
)

// RateLimitMiddleware bounds how fast the remote application may invoke local
// callbacks, using a token bucket of r tokens per second and the given burst.
// Rejected requests get a CodeRateLimited error and never reach the handler.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			if !limiter.Allow() {
				if req.IsNotification() {
					logger.Warningf("dropping %s notification: rate limit exceeded", req.Method)
					return nil
				}
				return message.NewError(req.ID, message.Errorf(message.CodeRateLimited, "rate limit exceeded"))
			}
			return next(ctx, req)
		}
	}
}
