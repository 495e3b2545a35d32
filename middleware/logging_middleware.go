package middleware

import (
	"context"
	"time"

	"github.com/juju/loggo"

	"zoiper-rpc/message"
)

var logger = loggo.GetLogger("zoiper.middleware")

func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			start := time.Now()
			resp := next(ctx, req)
			logger.Debugf("inbound %s id=%s params=%d duration=%s", req.Method, req.ID, len(req.Params), time.Since(start))
			if resp != nil && resp.Error != nil {
				logger.Warningf("inbound %s failed: %v", req.Method, resp.Error)
			}
			return resp
		}
	}
}
