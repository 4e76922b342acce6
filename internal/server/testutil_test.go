package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"groupgames/internal/auth"
	"groupgames/internal/game"
	"groupgames/internal/game/catalog"
	"groupgames/internal/notify"
	"groupgames/internal/session"
	"groupgames/internal/storage"
)

const (
	testSecret = "test-secret"
	testGroup  = "grp-1"
)

// --- Test environment ---

type testEnv struct {
	ts    *httptest.Server
	store *storage.Store
	hub   *notify.Hub
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	for _, u := range []string{"alice", "bob", "carol"} {
		if err := store.AddMember(context.Background(), testGroup, u); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}

	hub := notify.NewHub(16)
	mgr := session.NewManager(store, store, catalog.Registry(), session.WithPublisher(hub))
	srv := New(mgr, auth.NewJWTVerifier(testSecret), hub, Options{Logger: zerolog.Nop()})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: store, hub: hub}
}

// --- Context helpers ---

func timeoutCtx(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// --- REST API helpers ---

func token(t *testing.T, user string) string {
	t.Helper()
	tok, err := auth.Sign(testSecret, user, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

// do sends an authenticated request as user (unauthenticated when user is empty) and
// returns the status code and body.
func (e *testEnv) do(t *testing.T, method, path, user, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

// expect performs a request and fails unless it returns status. The body is decoded into
// out when out is non-nil.
func (e *testEnv) expect(t *testing.T, status int, method, path, user, body string, out any) {
	t.Helper()
	code, data := e.do(t, method, path, user, body)
	if code != status {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, status, code, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
	}
}

// expectError performs a request and checks the error status and code.
func (e *testEnv) expectError(t *testing.T, status int, code, method, path, user, body string) {
	t.Helper()
	var eb errorBody
	e.expect(t, status, method, path, user, body, &eb)
	if string(eb.Error.Code) != code {
		t.Fatalf("%s %s: expected code %q, got %+v", method, path, code, eb.Error)
	}
}

func (e *testEnv) createGame(t *testing.T, user string, typ game.Type, metadata string) game.Game {
	t.Helper()
	var buf bytes.Buffer
	req := map[string]any{"group_id": testGroup, "type": typ, "title": "Test " + string(typ)}
	if metadata != "" {
		req["metadata"] = json.RawMessage(metadata)
	}
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var res struct {
		Game game.Game `json:"game"`
	}
	e.expect(t, http.StatusCreated, http.MethodPost, "/games", user, buf.String(), &res)
	return res.Game
}

func moveBody(cell int) string {
	return `{"event_type":"move","payload":{"cell":` + strconv.Itoa(cell) + `}}`
}

// --- WebSocket helpers ---

func wsURL(ts *httptest.Server, gameID, tok string) string {
	return strings.Replace(ts.URL, "http://", "ws://", 1) + "/games/" + gameID + "/ws?token=" + tok
}

// wsConnect dials the change feed of gameID as user. The caller closes the connection.
func wsConnect(t *testing.T, e *testEnv, gameID, user string) *websocket.Conn {
	t.Helper()
	ctx, cancel := timeoutCtx(t)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(e.ts, gameID, token(t, user)), nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	return conn
}

// wsRead reads and unmarshals a websocket message, calling t.Fatal on error.
func wsRead(ctx context.Context, t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal ws message: %v", err)
	}
	return msg
}

// readChange reads a message and expects it to be a change notification.
func readChange(ctx context.Context, t *testing.T, conn *websocket.Conn) notify.Change {
	t.Helper()
	msg := wsRead(ctx, t, conn)
	if msg.Type != msgChange {
		t.Fatalf("expected change message, got %q: %s", msg.Type, msg.Payload)
	}
	var c notify.Change
	if err := json.Unmarshal(msg.Payload, &c); err != nil {
		t.Fatalf("unmarshal change: %v", err)
	}
	return c
}

// waitSubscribers blocks until gameID has n feed subscribers.
func waitSubscribers(t *testing.T, hub *notify.Hub, gameID string, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.Subscribers(gameID) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", n, hub.Subscribers(gameID))
		}
		time.Sleep(5 * time.Millisecond)
	}
}
