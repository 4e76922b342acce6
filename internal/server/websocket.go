package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// WSMessage is the JSON envelope for websocket messages.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Message types sent on the change feed.
const (
	msgState  = "state"
	msgChange = "change"
)

// handleWatch streams change notifications for one game. The first message is the game as
// it is now; the feed closes once the game is over.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	changes, unsubscribe := s.hub.Subscribe(id)
	defer unsubscribe()

	d, err := s.manager.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger := hlog.FromRequest(r)
	conn, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		logger.Warn().Err(err).Str("game_id", id).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	// Client messages are not expected; CloseRead handles control frames.
	ctx := conn.CloseRead(r.Context())

	if err := send(ctx, conn, msgState, d.Game); err != nil {
		return
	}
	if d.Game.Status.Terminal() {
		conn.Close(websocket.StatusNormalClosure, "game over")
		return
	}
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Str("game_id", id).Msg("watcher disconnected")
			return
		case c, ok := <-changes:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			if err := send(ctx, conn, msgChange, c); err != nil {
				return
			}
			if c.Status.Terminal() {
				conn.Close(websocket.StatusNormalClosure, "game over")
				return
			}
		}
	}
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	if len(s.origins) == 0 || slices.Contains(s.origins, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	patterns := make([]string, 0, len(s.origins))
	for _, o := range s.origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			o = u.Host
		}
		patterns = append(patterns, o)
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}

func send(ctx context.Context, conn *websocket.Conn, msgType string, payload any) error {
	p, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, WSMessage{Type: msgType, Payload: p})
}
