package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"

	"zoiper-rpc/message"
	"zoiper-rpc/transport"
)

// phone answers just enough of the protocol to initialize a session.
func phone(ws *websocket.Conn) {
	for {
		var msg message.Message
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		var result string
		switch msg.Method {
		case "authenticate":
			result = "true"
		case "getRootObject":
			result = `{"type":"scriptObject","scriptObject":77}`
		case "listProperties":
			result = `["version"]`
		case "listMethods":
			result = `[]`
		case "get":
			result = `"5.6"`
		default:
			continue
		}
		if err := ws.WriteJSON(message.NewResult(msg.ID, json.RawMessage(result))); err != nil {
			return
		}
	}
}

func TestAttachWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		phone(ws)
	}))
	defer srv.Close()

	conn, err := transport.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), transport.DialOptions{})
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(DefaultConfig)
	if err != nil {
		t.Fatal(err)
	}
	done := s.Attach(conn)

	root, err := s.Initialize("token")
	if err != nil {
		t.Fatal(err)
	}
	version, err := root.Get("version")
	if err != nil {
		t.Fatal(err)
	}
	if version != "5.6" {
		t.Fatalf("expect version 5.6, got %v", version)
	}

	conn.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expect clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the connection to close")
	}
	if _, err := root.Get("version"); errors.Cause(err) != transport.ErrClosed {
		t.Fatalf("expect calls after close to fail, got %v", err)
	}
}
