package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/studyhall/studyhall/internal/services/chat/identity"
	"github.com/studyhall/studyhall/internal/services/chat/storage"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	maxMessageContentRunes = 2000
)

type wsIdentityContextKey struct{}

// NewHandler creates chat routes with a permissive handshake. Intended for
// tests and local development.
func NewHandler(resolver identity.Resolver, store storage.MessageStore) http.Handler {
	return newHandler(newCoordinator(resolver, store), resolver, false)
}

// NewHandlerWithAuth creates chat routes that reject websocket upgrades
// without a resolvable identity.
func NewHandlerWithAuth(resolver identity.Resolver, store storage.MessageStore) http.Handler {
	return newHandler(newCoordinator(resolver, store), resolver, true)
}

func newHandler(coord *coordinator, resolver identity.Resolver, requireAuth bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	registerChatAPI(mux, coord)

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, coord)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if requireAuth && resolver == nil {
			http.Error(w, "websocket auth is not configured", http.StatusServiceUnavailable)
			return
		}

		if resolver != nil {
			creds := credentialsFromRequest(r)
			ident, err := resolver.Authenticate(r.Context(), creds)
			switch {
			case err == nil:
				r = r.WithContext(context.WithValue(r.Context(), wsIdentityContextKey{}, ident))
			case requireAuth:
				if errors.Is(err, identity.ErrUnresolved) {
					log.Printf("chat: websocket unauthorized: no resolvable identity for host=%q remote=%s", r.Host, r.RemoteAddr)
				} else {
					log.Printf("chat: websocket unauthorized: identity resolution failed for host=%q remote=%s err=%v", r.Host, r.RemoteAddr, err)
				}
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			default:
				// Permissive handshake: the connection proceeds without an
				// identity and cannot subscribe or send.
				if !errors.Is(err, identity.ErrUnresolved) {
					log.Printf("chat: websocket identity resolution failed, continuing unidentified: %v", err)
				}
			}
		}

		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

// credentialsFromRequest gathers the session cookie and the advisory token
// query parameter from the upgrade request.
func credentialsFromRequest(r *http.Request) identity.Credentials {
	if r == nil {
		return identity.Credentials{}
	}
	creds := identity.Credentials{
		Token: strings.TrimSpace(r.URL.Query().Get("token")),
	}
	if cookie, err := r.Cookie(identity.SessionCookie); err == nil {
		creds.SessionID = strings.TrimSpace(cookie.Value)
	}
	return creds
}

func handleWSConn(conn *websocket.Conn, coord *coordinator) {
	defer func() {
		_ = conn.Close()
	}()

	sessionID := uuid.NewString()
	decoder := json.NewDecoder(conn)
	peer := newWSPeer(json.NewEncoder(conn), conn)

	var ident identity.Identity
	ctx := context.Background()
	if request := conn.Request(); request != nil {
		ctx = request.Context()
		if resolved, ok := request.Context().Value(wsIdentityContextKey{}).(identity.Identity); ok {
			ident = resolved
		}
	}

	subscribed := false
	defer func() {
		if !subscribed {
			return
		}
		coord.dispatcher.unsubscribe(peer)
		if ident.ID > 0 {
			// Teardown must not block the accept loop on broadcast fan-out.
			go coord.handleDisconnected(ident.ID)
		}
	}()

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame inboundFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			writeErrorEvent(peer, "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				log.Printf("chat: closing session %s after repeated decode errors", sessionID)
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			writeErrorEvent(peer, "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			log.Printf("chat: closing session %s after exceeding frame rate limit", sessionID)
			writeErrorEvent(peer, "rate limit exceeded")
			return
		}

		switch frame.Type {
		case "subscribe":
			if subscribed {
				continue
			}
			subscribed = true
			coord.dispatcher.subscribe(peer, ident.ID)
			if ident.ID > 0 {
				coord.handleSubscribed(ctx, ident)
			} else {
				// Unidentified viewers still receive the roster.
				coord.sendRosterTo(peer)
			}
		case "message":
			if !subscribed {
				writeErrorEvent(peer, "subscribe before sending messages")
				continue
			}
			handleMessageFrame(ctx, coord, peer, ident, frame)
		default:
			// Unknown frame types are ignored so old clients keep working
			// against newer servers.
		}
	}
}

func handleMessageFrame(ctx context.Context, coord *coordinator, peer *wsPeer, ident identity.Identity, frame inboundFrame) {
	var submission messageSubmission
	if err := json.Unmarshal(frame.Payload, &submission); err != nil {
		writeErrorEvent(peer, "invalid message payload")
		return
	}
	if utf8.RuneCountInString(submission.Content) > maxMessageContentRunes {
		writeErrorEvent(peer, "message must be at most 2000 characters")
		return
	}
	coord.submitMessage(ctx, ident.ID, submission.Content)
}

func writeErrorEvent(peer *wsPeer, message string) {
	if err := peer.send(Event{Type: eventTypeError, Payload: ErrorPayload{Message: message}}); err != nil {
		log.Printf("chat: send error event failed: %v", err)
	}
}
