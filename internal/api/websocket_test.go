package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmuc-msm/onpass-socket/internal/access"
)

// wsTestServer serves srv's router and returns a connected client.
func wsTestServer(t *testing.T, srv *Server) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)
	t.Cleanup(srv.hub.closeAll)
	return ts, dialWS(t, ts, "/api/v1/ws")
}

func dialWS(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type testFrame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

func send(t *testing.T, conn *websocket.Conn, msgType, id string, payload any) {
	t.Helper()
	msg := map[string]any{"type": msgType, "id": id}
	if payload != nil {
		msg["payload"] = payload
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func read(t *testing.T, conn *websocket.Conn) testFrame {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f testFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

// waitClients blocks until the hub has n registered clients.
func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocket_PingPong(t *testing.T) {
	srv := testServer(t, Deps{})
	_, conn := wsTestServer(t, srv)

	send(t, conn, WSTypePing, "p1", nil)
	f := read(t, conn)
	if f.Type != WSTypePong || f.ID != "p1" {
		t.Errorf("frame = %+v, want pong p1", f)
	}
}

func TestWebSocket_SubscribeAndBroadcast(t *testing.T) {
	srv := testServer(t, Deps{})
	ts, named := wsTestServer(t, srv)
	wildcard := dialWS(t, ts, "/ws")
	silent := dialWS(t, ts, "/api/v1/ws")
	waitClients(t, srv.hub, 3)

	send(t, named, WSTypeSubscribe, "s1", WSSubscribePayload{Channels: []string{"user_7_access"}})
	if f := read(t, named); f.Type != WSTypeResponse || f.ID != "s1" {
		t.Fatalf("subscribe reply = %+v", f)
	}
	send(t, wildcard, WSTypeSubscribe, "s2", WSSubscribePayload{Channels: []string{ChannelAll}})
	read(t, wildcard)

	srv.hub.Broadcast("user_7_access", map[string]int{"doors": 2})

	for name, conn := range map[string]*websocket.Conn{"named": named, "wildcard": wildcard} {
		f := read(t, conn)
		if f.Type != WSTypeEvent || f.EventType != "user_7_access" {
			t.Errorf("%s got %+v", name, f)
		}
	}

	// The unsubscribed client only sees its own ping reply.
	send(t, silent, WSTypePing, "p", nil)
	if f := read(t, silent); f.Type != WSTypePong {
		t.Errorf("silent client got %+v before its pong", f)
	}

	send(t, named, WSTypeUnsubscribe, "u1", WSSubscribePayload{Channels: []string{"user_7_access"}})
	read(t, named)
	srv.hub.Broadcast("user_7_access", nil)
	send(t, named, WSTypePing, "p2", nil)
	if f := read(t, named); f.Type != WSTypePong {
		t.Errorf("unsubscribed client got %+v", f)
	}
}

func TestWebSocket_ScanEvent(t *testing.T) {
	svc := &mockAccess{}
	srv := testServer(t, Deps{Access: svc})
	_, conn := wsTestServer(t, srv)

	raw := `{"msgType":"on_uart_receive","msgArg":{"sData":"QR1","sEUI64":"EUI-9"}}`
	// Readers send the event as a JSON string.
	send(t, conn, WSTypeScanEvent, "e1", raw)
	f := read(t, conn)
	if f.Type != WSTypeResponse || !strings.Contains(string(f.Payload), "accepted") {
		t.Fatalf("reply = %+v payload %s", f, f.Payload)
	}
	if evs := svc.submittedEvents(); len(evs) != 1 || evs[0].DeviceID != "EUI-9" {
		t.Errorf("submitted = %+v", evs)
	}

	send(t, conn, WSTypeScanEvent, "e2", json.RawMessage(`{"msgType":"on_boot"}`))
	if f := read(t, conn); !strings.Contains(string(f.Payload), "ignored") {
		t.Errorf("non-scan reply = %+v payload %s", f, f.Payload)
	}

	send(t, conn, WSTypeScanEvent, "e3", "not json")
	if f := read(t, conn); f.Type != WSTypeError || f.ID != "e3" {
		t.Errorf("malformed reply = %+v", f)
	}
}

func TestWebSocket_ScanEventBusy(t *testing.T) {
	srv := testServer(t, Deps{Access: &mockAccess{submitErr: access.ErrScanInProgress}})
	_, conn := wsTestServer(t, srv)

	send(t, conn, WSTypeScanEvent, "e1", json.RawMessage(`{"msgType":"on_uart_receive","msgArg":{"sData":"Q","sEUI64":"D"}}`))
	f := read(t, conn)
	if f.Type != WSTypeError || !strings.Contains(string(f.Payload), "already in progress") {
		t.Errorf("reply = %+v payload %s", f, f.Payload)
	}
}

func TestWebSocket_UserAccessNotifiesRequesterOnly(t *testing.T) {
	svc := &mockAccess{notice: map[string]string{"message": "welcome"}}
	srv := testServer(t, Deps{Access: svc})
	ts, requester := wsTestServer(t, srv)
	other := dialWS(t, ts, "/api/v1/ws")
	waitClients(t, srv.hub, 2)

	send(t, other, WSTypeSubscribe, "s", WSSubscribePayload{Channels: []string{ChannelAll}})
	read(t, other)

	send(t, requester, WSTypeUserAccess, "a1", map[string]any{"door_id": 3, "qr_code": "QR1"})
	f := read(t, requester)
	if f.Type != WSTypeEvent || f.EventType != "access_user-1_success" {
		t.Fatalf("requester got %+v", f)
	}

	send(t, other, WSTypePing, "p", nil)
	if f := read(t, other); f.Type != WSTypePong {
		t.Errorf("other client got %+v", f)
	}
}

func TestWebSocket_UserAccessInvalid(t *testing.T) {
	srv := testServer(t, Deps{})
	_, conn := wsTestServer(t, srv)

	send(t, conn, WSTypeUserAccess, "a1", map[string]any{"qr_code": "QR1"})
	if f := read(t, conn); f.Type != WSTypeError || f.ID != "a1" {
		t.Errorf("reply = %+v", f)
	}
}

func TestWebSocket_UnknownAndMalformed(t *testing.T) {
	srv := testServer(t, Deps{})
	_, conn := wsTestServer(t, srv)

	send(t, conn, "teleport", "x1", nil)
	if f := read(t, conn); f.Type != WSTypeError || f.ID != "x1" {
		t.Errorf("unknown type reply = %+v", f)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatal(err)
	}
	if f := read(t, conn); f.Type != WSTypeError {
		t.Errorf("malformed reply = %+v", f)
	}

	send(t, conn, WSTypeSubscribe, "s1", nil)
	if f := read(t, conn); f.Type != WSTypeError || f.ID != "s1" {
		t.Errorf("subscribe without payload reply = %+v", f)
	}
}

func TestHub_UnregisterIdempotent(t *testing.T) {
	h := testServer(t, Deps{}).Hub()
	c := &WSClient{hub: h, send: make(chan []byte, 1), subscriptions: map[string]struct{}{}}

	h.Register(c)
	h.Unregister(c)
	h.Unregister(c)
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d", h.ClientCount())
	}
	// Sending to a removed client must not panic.
	c.trySend([]byte("late"))
}
