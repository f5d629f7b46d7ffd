package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"github.com/studyhall/studyhall/internal/services/chat/identity"
)

type wsTestEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func sessionResolver() *fakeResolver {
	return &fakeResolver{
		identities: map[int64]identity.Identity{
			7: {ID: 7, Name: "Ana", Avatar: "a.png"},
			9: {ID: 9, Name: "Bea"},
		},
		sessions: map[string]identity.Identity{
			"sess-ana": {ID: 7, Name: "Ana", Avatar: "a.png"},
			"sess-bea": {ID: 9, Name: "Bea"},
		},
	}
}

func newWSTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server, cookie string) *websocket.Conn {
	t.Helper()
	conn, err := dialWSErr(srv, cookie)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func dialWSErr(srv *httptest.Server, cookie string) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	cfg, err := websocket.NewConfig(wsURL, srv.URL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cookie) != "" {
		cfg.Header = make(http.Header)
		cfg.Header.Set("Cookie", cookie)
	}
	return websocket.DialConfig(cfg)
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	if err := json.NewEncoder(conn).Encode(frame); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) wsTestEvent {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var got wsTestEvent
	if err := json.NewDecoder(conn).Decode(&got); err != nil {
		t.Fatalf("decode server event: %v", err)
	}
	return got
}

func subscribe(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeFrame(t, conn, map[string]any{"type": "subscribe"})
}

func TestWebSocketSubscribeAnnouncesJoinAndRoster(t *testing.T) {
	srv := newWSTestServer(t, NewHandler(sessionResolver(), &fakeMessageStore{}))
	conn := dialWS(t, srv, "sh_session=sess-ana")

	subscribe(t, conn)

	joined := readEvent(t, conn)
	if joined.Type != eventTypeUserJoined {
		t.Fatalf("first event type = %q, want %q", joined.Type, eventTypeUserJoined)
	}
	var payload UserEventPayload
	if err := json.Unmarshal(joined.Payload, &payload); err != nil {
		t.Fatalf("decode user_joined payload: %v", err)
	}
	if payload.UserID != 7 || payload.Username != "Ana" {
		t.Fatalf("user_joined payload = %+v", payload)
	}

	roster := readEvent(t, conn)
	if roster.Type != eventTypeOnlineUsers {
		t.Fatalf("second event type = %q, want %q", roster.Type, eventTypeOnlineUsers)
	}
	var users []UserInfo
	if err := json.Unmarshal(roster.Payload, &users); err != nil {
		t.Fatalf("decode online_users payload: %v", err)
	}
	if len(users) != 1 || users[0].ID != 7 || users[0].Username != "Ana" {
		t.Fatalf("online_users payload = %+v", users)
	}
}

func TestWebSocketMessageBroadcastsToAllSubscribers(t *testing.T) {
	srv := newWSTestServer(t, NewHandler(sessionResolver(), &fakeMessageStore{}))

	connA := dialWS(t, srv, "sh_session=sess-ana")
	subscribe(t, connA)
	_ = readEvent(t, connA) // user_joined Ana
	_ = readEvent(t, connA) // online_users

	connB := dialWS(t, srv, "sh_session=sess-bea")
	subscribe(t, connB)
	_ = readEvent(t, connA) // user_joined Bea
	_ = readEvent(t, connA) // online_users
	_ = readEvent(t, connB) // user_joined Bea
	_ = readEvent(t, connB) // online_users

	writeFrame(t, connA, map[string]any{
		"type":    "message",
		"payload": map[string]any{"content": "hello room"},
	})

	for _, conn := range []*websocket.Conn{connA, connB} {
		got := readEvent(t, conn)
		if got.Type != eventTypeMessage {
			t.Fatalf("event type = %q, want %q", got.Type, eventTypeMessage)
		}
		var payload MessagePayload
		if err := json.Unmarshal(got.Payload, &payload); err != nil {
			t.Fatalf("decode message payload: %v", err)
		}
		if payload.UserID != 7 || payload.Username != "Ana" || payload.Content != "hello room" {
			t.Fatalf("message payload = %+v", payload)
		}
		if payload.ID != 1 {
			t.Fatalf("message id = %d, want 1", payload.ID)
		}
	}
}

func TestWebSocketDisconnectAnnouncesUserLeft(t *testing.T) {
	srv := newWSTestServer(t, NewHandler(sessionResolver(), &fakeMessageStore{}))

	connA := dialWS(t, srv, "sh_session=sess-ana")
	subscribe(t, connA)
	_ = readEvent(t, connA)
	_ = readEvent(t, connA)

	connB := dialWS(t, srv, "sh_session=sess-bea")
	subscribe(t, connB)
	_ = readEvent(t, connA)
	_ = readEvent(t, connA)

	if err := connB.Close(); err != nil {
		t.Fatalf("close websocket: %v", err)
	}

	left := readEvent(t, connA)
	if left.Type != eventTypeUserLeft {
		t.Fatalf("event type = %q, want %q", left.Type, eventTypeUserLeft)
	}
	var payload UserEventPayload
	if err := json.Unmarshal(left.Payload, &payload); err != nil {
		t.Fatalf("decode user_left payload: %v", err)
	}
	if payload.UserID != 9 || payload.Username != "Bea" {
		t.Fatalf("user_left payload = %+v", payload)
	}
	if len(payload.Users) != 1 || payload.Users[0].ID != 7 {
		t.Fatalf("user_left roster = %+v, want Ana only", payload.Users)
	}
}

func TestWebSocketMessageBeforeSubscribeReturnsError(t *testing.T) {
	srv := newWSTestServer(t, NewHandler(sessionResolver(), &fakeMessageStore{}))
	conn := dialWS(t, srv, "sh_session=sess-ana")

	writeFrame(t, conn, map[string]any{
		"type":    "message",
		"payload": map[string]any{"content": "too soon"},
	})

	got := readEvent(t, conn)
	if got.Type != eventTypeError {
		t.Fatalf("event type = %q, want %q", got.Type, eventTypeError)
	}
}

func TestWebSocketUnknownFrameTypeIsIgnored(t *testing.T) {
	srv := newWSTestServer(t, NewHandler(sessionResolver(), &fakeMessageStore{}))
	conn := dialWS(t, srv, "sh_session=sess-ana")

	writeFrame(t, conn, map[string]any{"type": "typing", "payload": map[string]any{}})
	subscribe(t, conn)

	got := readEvent(t, conn)
	if got.Type != eventTypeUserJoined {
		t.Fatalf("event type = %q, want %q after ignored frame", got.Type, eventTypeUserJoined)
	}
}

func TestWebSocketUnidentifiedSubscriberReceivesRosterOnly(t *testing.T) {
	srv := newWSTestServer(t, NewHandler(sessionResolver(), &fakeMessageStore{}))
	conn := dialWS(t, srv, "")

	subscribe(t, conn)

	got := readEvent(t, conn)
	if got.Type != eventTypeOnlineUsers {
		t.Fatalf("event type = %q, want %q", got.Type, eventTypeOnlineUsers)
	}
}

func TestWebSocketRequireAuthRejectsAnonymousHandshake(t *testing.T) {
	srv := newWSTestServer(t, NewHandlerWithAuth(sessionResolver(), &fakeMessageStore{}))

	conn, err := dialWSErr(srv, "")
	if conn != nil {
		_ = conn.Close()
	}
	if err == nil {
		t.Fatal("expected websocket dial error")
	}
	if !strings.Contains(err.Error(), "bad status") {
		t.Fatalf("dial error = %v, expected bad status", err)
	}
}

func TestWebSocketTokenHandshake(t *testing.T) {
	resolver := sessionResolver()
	srv := newWSTestServer(t, NewHandler(tokenQueryResolver{resolver}, &fakeMessageStore{}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=tok-ana"
	cfg, err := websocket.NewConfig(wsURL, srv.URL)
	if err != nil {
		t.Fatalf("new websocket config: %v", err)
	}
	conn, err := websocket.DialConfig(cfg)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})

	subscribe(t, conn)
	got := readEvent(t, conn)
	if got.Type != eventTypeUserJoined {
		t.Fatalf("event type = %q, want %q", got.Type, eventTypeUserJoined)
	}
}

// tokenQueryResolver authenticates the advisory token parameter the way the
// production resolver chain does with a verification key configured.
type tokenQueryResolver struct {
	*fakeResolver
}

func (r tokenQueryResolver) Authenticate(ctx context.Context, creds identity.Credentials) (identity.Identity, error) {
	if creds.Token == "tok-ana" {
		return identity.Identity{ID: 7, Name: "Ana", Avatar: "a.png"}, nil
	}
	return r.fakeResolver.Authenticate(ctx, creds)
}
