// Package server exposes the session manager over HTTP and a websocket change feed.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"groupgames/internal/apperr"
	"groupgames/internal/auth"
	"groupgames/internal/game"
	"groupgames/internal/notify"
	"groupgames/internal/session"
)

const maxBody = 1 << 20

// Options configures a Server.
type Options struct {
	Logger         zerolog.Logger
	RequestTimeout time.Duration
	CORSOrigins    []string
}

// Server is the HTTP server.
type Server struct {
	r        *chi.Mux
	manager  *session.Manager
	verifier auth.Verifier
	hub      *notify.Hub
	origins  []string
}

// New creates a server with all routes. hub must be the publisher the manager was built with.
func New(manager *session.Manager, verifier auth.Verifier, hub *notify.Hub, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	s := &Server{
		r:        chi.NewRouter(),
		manager:  manager,
		verifier: verifier,
		hub:      hub,
		origins:  opts.CORSOrigins,
	}

	s.r.Use(chimw.RequestID)
	s.r.Use(chimw.RealIP)
	s.r.Use(hlog.NewHandler(opts.Logger))
	s.r.Use(requestLogger)
	s.r.Use(hlog.AccessHandler(accessLog))
	s.r.Use(chimw.Recoverer)
	s.r.Use(cors(opts.CORSOrigins))

	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, apperr.New(apperr.KindNotFound, "route_not_found", "no route for "+r.URL.Path))
	})
	s.r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: errorDetail{
			Kind: apperr.KindValidation, Code: "method_not_allowed", Message: r.Method + " is not allowed on " + r.URL.Path,
		}})
	})

	s.r.Get("/health", s.handleHealth)

	s.r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		// The change feed outlives the request timeout.
		r.Get("/games/{id}/ws", s.handleWatch)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(opts.RequestTimeout))
			r.Get("/types", s.handleTypes)
			r.Get("/games", s.handleListGames)
			r.Post("/games", s.handleCreateGame)
			r.Get("/games/{id}", s.handleGetGame)
			r.Post("/games/{id}/join", s.handleJoin)
			r.Post("/games/{id}/action", s.handleAction)
			r.Get("/games/{id}/replay", s.handleReplay)
		})
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.r.ServeHTTP(w, r)
}

// requestLogger tags the request logger with the chi request id.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimw.GetReqID(r.Context()); id != "" {
			hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}

func accessLog(r *http.Request, status, size int, d time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", d).
		Msg("request")
}

// requireAuth resolves the bearer token to a user id.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.Token(r)
		if token == "" {
			writeError(w, r, apperr.ErrUnauthenticated)
			return
		}
		userID, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			writeError(w, r, err)
			return
		}
		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("user_id", userID)
		})
		next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]game.Info{"types": s.manager.Registry().List()})
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.manager.List(r.Context(), r.URL.Query().Get("group_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]game.Game{"games": games})
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := s.manager.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]game.Game{"game": g})
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	d, err := s.manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type joinRequest struct {
	Role game.Role `json:"role"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.manager.Join(r.Context(), chi.URLParam(r, "id"), req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]game.Participant{"participant": p})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req session.ActionRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.manager.Action(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	rep, err := s.manager.Replay(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// decodeJSON reads a single JSON value into v. An empty body is accepted when optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidRequest, "invalid request body", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apperr.Validation(apperr.CodeInvalidRequest, "request body must hold a single JSON value")
	}
	return nil
}

type errorDetail struct {
	Kind    apperr.Kind `json:"kind"`
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// writeError renders err as the JSON error body. Errors outside the taxonomy are logged
// and reported as opaque internal errors.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal {
		hlog.FromRequest(r).Error().Err(err).Msg("internal error")
		e = apperr.New(apperr.KindInternal, apperr.CodeInternal, "internal error")
	}
	writeJSON(w, e.Kind.HTTPStatus(), errorBody{Error: errorDetail{Kind: e.Kind, Code: e.Code, Message: e.Message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
