package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"zoiper-rpc/message"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newServer starts a websocket server running handler for every connection.
func newServer(t *testing.T, handler func(ws *websocket.Conn)) string {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func echo(ws *websocket.Conn) {
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if err := ws.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

func runConn(c *Conn) (<-chan []byte, <-chan error) {
	received := make(chan []byte, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.Run(func(data []byte) error {
			received <- data
			return nil
		})
	}()
	return received, done
}

func TestConnSendAndReceive(t *testing.T) {
	conn, err := Dial(newServer(t, echo), DialOptions{HandshakeTimeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	received, done := runConn(conn)

	if err := conn.Send([]byte(`{"id":1,"method":"getRootObject"}`)); err != nil {
		t.Fatal(err)
	}
	select {
	case data := <-received:
		if string(data) != `{"id":1,"method":"getRootObject"}` {
			t.Fatalf("unexpected echo %s", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for echo")
	}

	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatalf("expect Run to end cleanly after Close, got %v", err)
	}
}

func TestConnPeerClose(t *testing.T) {
	url := newServer(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.TextMessage, []byte(`{"id":1,"result":true}`))
		ws.WriteMessage(websocket.BinaryMessage, []byte{0x1})
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		// Wait for the client to hang up.
		ws.ReadMessage()
	})
	conn, err := Dial(url, DialOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	received, done := runConn(conn)
	if err := <-done; err != nil {
		t.Fatalf("expect normal close, got %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("expect only the text message, got %d messages", len(received))
	}
}

func TestDialRejected(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := Dial("ws"+strings.TrimPrefix(srv.URL, "http"), DialOptions{})
	if err == nil {
		t.Fatal("expect dial to fail without an upgrade")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Fatalf("expect the status in the error, got %v", err)
	}
}

func TestEngineOverWebsocket(t *testing.T) {
	// The server plays the remote application: it answers getRootObject and
	// then invokes callback 1 on the client.
	url := newServer(t, func(ws *websocket.Conn) {
		for {
			var msg message.Message
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			switch {
			case msg.Method == "getRootObject":
				ws.WriteJSON(message.NewResult(msg.ID, json.RawMessage(`{"type":"scriptObject","scriptObject":1}`)))
				ws.WriteJSON(message.NewRequest(100, "callback", []json.RawMessage{json.RawMessage("1")}))
			case string(msg.ID) == "100":
				ws.WriteJSON(message.NewRequest(101, "done", nil))
			}
		}
	})
	conn, err := Dial(url, DialOptions{})
	if err != nil {
		t.Fatal(err)
	}

	finished := make(chan struct{})
	e := NewEngine(conn.Send, Deferred(func(_ context.Context, req *message.Message) *message.Message {
		if req.Method == "done" {
			close(finished)
			return nil
		}
		return message.NewResult(req.ID, json.RawMessage("null"))
	}))
	done := make(chan error, 1)
	go func() { done <- conn.Run(e.Process) }()

	root, err := e.Call("getRootObject", nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(root) != `{"type":"scriptObject","scriptObject":1}` {
		t.Fatalf("unexpected root %s", root)
	}
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the callback round trip")
	}

	conn.Close()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	e.Close(nil)
	e.Wait()
}
