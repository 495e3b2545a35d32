package middleware

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/juju/loggo"

	"zoiper-rpc/message"
)

// echoHandler replies true to every request.
func echoHandler(ctx context.Context, req *message.Message) *message.Message {
	if req.IsNotification() {
		return nil
	}
	return message.NewResult(req.ID, json.RawMessage("true"))
}

func failingHandler(ctx context.Context, req *message.Message) *message.Message {
	return message.NewError(req.ID, message.Errorf(message.CodeApplication, "callback failed"))
}

func callbackRequest() *message.Message {
	return message.NewRequest(1, "callback", []json.RawMessage{json.RawMessage("3")})
}

func captureLogs(t *testing.T) *loggo.TestWriter {
	writer := &loggo.TestWriter{}
	if err := loggo.RegisterWriter("middleware-test", writer); err != nil {
		t.Fatal(err)
	}
	previous := logger.LogLevel()
	logger.SetLogLevel(loggo.DEBUG)
	t.Cleanup(func() {
		logger.SetLogLevel(previous)
		loggo.RemoveWriter("middleware-test")
	})
	return writer
}

func TestLogging(t *testing.T) {
	writer := captureLogs(t)
	handler := LoggingMiddleware()(echoHandler)

	resp := handler(context.Background(), callbackRequest())
	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if string(resp.Result) != "true" {
		t.Fatalf("expect result true, got '%s'", resp.Result)
	}

	entries := writer.Log()
	if len(entries) != 1 {
		t.Fatalf("expect one log entry, got %d", len(entries))
	}
	if !strings.Contains(entries[0].Message, "inbound callback id=1") {
		t.Fatalf("unexpected log message %q", entries[0].Message)
	}
}

func TestLoggingError(t *testing.T) {
	writer := captureLogs(t)
	handler := LoggingMiddleware()(failingHandler)

	resp := handler(context.Background(), callbackRequest())
	if resp.Error == nil {
		t.Fatal("expect error response")
	}
	entries := writer.Log()
	if len(entries) != 2 || entries[1].Level != loggo.WARNING {
		t.Fatalf("expect a warning after the debug entry, got %+v", entries)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first two pass, the third is rejected
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	req := callbackRequest()

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), req)
		if resp.Error != nil {
			t.Fatalf("request %d should pass, got error: %v", i, resp.Error)
		}
	}

	resp := handler(context.Background(), req)
	if resp.Error == nil || resp.Error.Code != message.CodeRateLimited {
		t.Fatalf("request 3 should be rate limited, got: %+v", resp)
	}
	if string(resp.ID) != "1" {
		t.Fatalf("rejection must answer the request id, got %s", resp.ID)
	}

	notification := &message.Message{Method: "callback", Params: req.Params}
	if resp := handler(context.Background(), notification); resp != nil {
		t.Fatalf("rate limited notification must get no reply, got %+v", resp)
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Message) *message.Message {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	chained := Chain(mark("a"), LoggingMiddleware(), mark("b"))
	handler := chained(echoHandler)

	resp := handler(context.Background(), callbackRequest())
	if resp == nil || resp.Error != nil {
		t.Fatalf("expect success, got %+v", resp)
	}
	if strings.Join(order, ",") != "a,b" {
		t.Fatalf("expect outermost first, got %v", order)
	}
}
