package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"groupgames/internal/ai"
	"groupgames/internal/apperr"
	"groupgames/internal/auth"
	"groupgames/internal/eventlog"
	"groupgames/internal/game"
	"groupgames/internal/notify"
	"groupgames/internal/storage"
)

const (
	maxTitle       = 120
	maxDescription = 2000
)

// Store is the persistence the manager needs.
type Store interface {
	eventlog.Store
	CreateGame(ctx context.Context, g game.Game, parts []game.Participant, genesis game.Event) error
	ListGames(ctx context.Context, groupIDs []string) ([]game.Game, error)
	Participants(ctx context.Context, gameID string) ([]game.Participant, error)
	ListStale(ctx context.Context, status game.Status, cutoff time.Time) ([]game.Game, error)
}

// Manager orchestrates game lifecycles. It holds no game state between calls; every
// mutation reloads the game and commits under its version.
type Manager struct {
	store   Store
	members auth.Membership
	machine *game.Machine
	events  *eventlog.Log
	engine  *ai.Engine
	bus     notify.Publisher
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithPublisher sets where change notifications go.
func WithPublisher(p notify.Publisher) Option {
	return func(m *Manager) { m.bus = p }
}

// WithEngine sets the AI engine.
func WithEngine(e *ai.Engine) Option {
	return func(m *Manager) { m.engine = e }
}

// NewManager creates a session manager.
func NewManager(store Store, members auth.Membership, registry *game.Registry, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		members: members,
		machine: game.NewMachine(registry),
		bus:     notify.Discard,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.engine == nil {
		m.engine = ai.NewEngine(nil)
	}
	m.events = eventlog.New(store, m.machine, m.now)
	return m
}

// Registry returns the game type registry.
func (m *Manager) Registry() *game.Registry {
	return m.machine.Registry()
}

// Create starts a new game in a group the caller belongs to.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (game.Game, error) {
	user, err := caller(ctx)
	if err != nil {
		return game.Game{}, err
	}
	if strings.TrimSpace(req.GroupID) == "" {
		return game.Game{}, apperr.Validation(apperr.CodeInvalidRequest, "group_id is required")
	}
	title, description := strings.TrimSpace(req.Title), strings.TrimSpace(req.Description)
	if utf8.RuneCountInString(title) > maxTitle {
		return game.Game{}, apperr.Validation(apperr.CodeInvalidRequest, fmt.Sprintf("title exceeds %d characters", maxTitle))
	}
	if utf8.RuneCountInString(description) > maxDescription {
		return game.Game{}, apperr.Validation(apperr.CodeInvalidRequest, fmt.Sprintf("description exceeds %d characters", maxDescription))
	}
	if err := m.requireMember(ctx, req.GroupID, user); err != nil {
		return game.Game{}, err
	}

	cp := game.CreatePayload{CreatedBy: user, Metadata: req.Metadata, Status: req.Status}
	gen, err := m.machine.Start(req.Type, cp)
	if err != nil {
		return game.Game{}, err
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return game.Game{}, fmt.Errorf("encode genesis: %w", err)
	}

	now := m.now().UTC()
	g := game.Game{
		ID:          uuid.NewString(),
		GroupID:     req.GroupID,
		Type:        req.Type,
		Status:      gen.Status,
		CreatedBy:   user,
		Title:       title,
		Description: description,
		Metadata:    gen.Metadata,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	parts := make([]game.Participant, 0, len(gen.Seats))
	for _, s := range gen.Seats {
		parts = append(parts, game.Participant{ID: uuid.NewString(), GameID: g.ID, UserID: s.UserID, Role: s.Role, JoinedAt: now})
	}
	genesis := game.Event{
		ID:        uuid.NewString(),
		GameID:    g.ID,
		Seq:       1,
		UserID:    &user,
		EventType: game.EventCreate,
		Payload:   payload,
		CreatedAt: now,
	}
	if err := m.store.CreateGame(ctx, g, parts, genesis); err != nil {
		return game.Game{}, fmt.Errorf("create game: %w", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("game_id", g.ID).
		Str("type", string(g.Type)).
		Str("status", string(g.Status)).
		Msg("game created")
	m.publish(g, genesis)
	return g, nil
}

// List returns games in groupID, or in every group the caller belongs to when groupID is
// empty. A group the caller is not in yields no games.
func (m *Manager) List(ctx context.Context, groupID string) ([]game.Game, error) {
	user, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	var groups []string
	if groupID != "" {
		ok, err := m.members.IsMember(ctx, groupID, user)
		if err != nil {
			return nil, fmt.Errorf("check membership: %w", err)
		}
		if ok {
			groups = []string{groupID}
		}
	} else if groups, err = m.members.Groups(ctx, user); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	games, err := m.store.ListGames(ctx, groups)
	if err != nil {
		return nil, err
	}
	if games == nil {
		games = []game.Game{}
	}
	return games, nil
}

// Get returns a game with its participants and events. Games outside the caller's
// groups are reported as not found.
func (m *Manager) Get(ctx context.Context, id string) (Detail, error) {
	g, err := m.visible(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	parts, err := m.store.Participants(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	events, err := m.events.Events(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	if parts == nil {
		parts = []game.Participant{}
	}
	if events == nil {
		events = []game.Event{}
	}
	return Detail{Game: g, Participants: parts, Events: events}, nil
}

// Join adds the caller to a game. An empty role joins as a player.
func (m *Manager) Join(ctx context.Context, id string, role game.Role) (game.Participant, error) {
	user, g, parts, err := m.load(ctx, id)
	if err != nil {
		return game.Participant{}, err
	}
	if role == "" {
		role = game.RolePlayer
	}
	tr, err := m.machine.Join(g, parts, user, role)
	if err != nil {
		return game.Participant{}, err
	}
	now := m.now().UTC()
	p := game.Participant{ID: uuid.NewString(), GameID: g.ID, UserID: user, Role: role, JoinedAt: now}
	payload, err := json.Marshal(game.JoinPayload{UserID: user, Role: role})
	if err != nil {
		return game.Participant{}, fmt.Errorf("encode join: %w", err)
	}
	ev, g, err := m.events.Append(ctx, eventlog.Entry{
		Game:        g,
		UserID:      &user,
		EventType:   game.EventJoin,
		Payload:     payload,
		Next:        tr,
		Participant: &p,
	})
	if err != nil {
		return game.Participant{}, err
	}
	zerolog.Ctx(ctx).Info().
		Str("game_id", g.ID).
		Str("user_id", user).
		Str("role", string(role)).
		Str("status", string(g.Status)).
		Msg("joined game")
	m.publish(g, ev)
	return p, nil
}

// Action validates and records one action by the caller. When the turn passes to an AI
// opponent, its reply is computed and recorded before returning.
func (m *Manager) Action(ctx context.Context, id string, req ActionRequest) (ActionResult, error) {
	a, err := normalize(req)
	if err != nil {
		return ActionResult{}, err
	}
	user, g, parts, err := m.load(ctx, id)
	if err != nil {
		return ActionResult{}, err
	}
	// An AI turn left pending by an earlier failed follow-up is played first.
	if _, g, err = m.aiTurn(ctx, g, parts); err != nil {
		return ActionResult{}, err
	}
	tr, err := m.machine.Apply(g, parts, a, user)
	if err != nil {
		return ActionResult{}, err
	}
	ev, g, err := m.events.Append(ctx, eventlog.Entry{
		Game:      g,
		UserID:    &user,
		EventType: a.Type,
		Payload:   a.Payload,
		Next:      tr,
	})
	if err != nil {
		return ActionResult{}, err
	}
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("game_id", g.ID).
		Str("user_id", user).
		Str("event_type", a.Type).
		Int64("seq", ev.Seq).
		Str("status", string(g.Status)).
		Msg("action applied")
	m.publish(g, ev)

	res := ActionResult{Event: ev, Game: g}
	aiEv, next, err := m.aiTurn(ctx, g, parts)
	if errors.Is(err, apperr.ErrVersionConflict) {
		aiEv, next, err = m.retryAITurn(ctx, g.ID)
	}
	if err != nil {
		// The caller's action is committed; the AI turn stays pending.
		logger.Error().Err(err).Str("game_id", g.ID).Msg("ai follow-up failed")
		return res, nil
	}
	if aiEv != nil {
		res.AIEvent, res.Game = aiEv, next
	}
	return res, nil
}

// retryAITurn reloads a game that changed under the AI's reply and plays the reply again.
func (m *Manager) retryAITurn(ctx context.Context, id string) (*game.Event, game.Game, error) {
	g, err := m.getGame(ctx, id)
	if err != nil {
		return nil, game.Game{}, err
	}
	parts, err := m.store.Participants(ctx, id)
	if err != nil {
		return nil, g, err
	}
	return m.aiTurn(ctx, g, parts)
}

// aiTurn plays the AI opponent's move when it is the AI's turn in g.
func (m *Manager) aiTurn(ctx context.Context, g game.Game, parts []game.Participant) (*game.Event, game.Game, error) {
	if g.Status != game.StatusInProgress {
		return nil, g, nil
	}
	def, err := m.Registry().Describe(g.Type)
	if err != nil {
		return nil, g, err
	}
	next, err := def.NextTurn(g.Metadata)
	if err != nil {
		return nil, g, err
	}
	d, ok := game.AIDifficulty(next)
	if !ok || !m.engine.Supports(g.Type, d) || !seated(parts, next) {
		return nil, g, nil
	}
	a, err := m.engine.ComputeMove(g.Type, g.Metadata, d)
	if err != nil {
		return nil, g, fmt.Errorf("compute %s move: %w", d, err)
	}
	tr, err := m.machine.Apply(g, parts, a, next)
	if err != nil {
		return nil, g, fmt.Errorf("apply %s move: %w", d, err)
	}
	ev, g, err := m.events.Append(ctx, eventlog.Entry{
		Game:      g,
		EventType: a.Type,
		Payload:   a.Payload,
		Next:      tr,
	})
	if err != nil {
		return nil, g, err
	}
	zerolog.Ctx(ctx).Info().
		Str("game_id", g.ID).
		Str("user_id", next).
		Str("event_type", a.Type).
		Int64("seq", ev.Seq).
		Msg("ai move applied")
	m.publish(g, ev)
	return &ev, g, nil
}

// Replay rebuilds a game's metadata from its events and reports whether it matches the
// stored row.
func (m *Manager) Replay(ctx context.Context, id string) (eventlog.Replayed, error) {
	if _, err := m.visible(ctx, id); err != nil {
		return eventlog.Replayed{}, err
	}
	return m.events.Replay(ctx, id)
}

// SweepStale cancels waiting games with no change for longer than olderThan and returns
// how many it cancelled. Games changed concurrently are skipped. A game that fails to
// commit does not stop the rest of the batch; the failures are returned joined.
func (m *Manager) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	logger := zerolog.Ctx(ctx)
	stale, err := m.store.ListStale(ctx, game.StatusWaiting, m.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("list stale games: %w", err)
	}
	cancelled := 0
	var errs []error
	for _, g := range stale {
		tr, err := m.machine.Expire(g)
		if err != nil {
			continue
		}
		ev, next, err := m.events.Append(ctx, eventlog.Entry{
			Game:      g,
			EventType: game.EventCancel,
			Payload:   json.RawMessage(`{"reason":"expired"}`),
			Next:      tr,
		})
		if errors.Is(err, apperr.ErrVersionConflict) {
			continue
		}
		if err != nil {
			logger.Error().Err(err).Str("game_id", g.ID).Msg("expire stale game")
			errs = append(errs, fmt.Errorf("expire game %s: %w", g.ID, err))
			continue
		}
		cancelled++
		logger.Info().Str("game_id", g.ID).Msg("stale game cancelled")
		m.publish(next, ev)
	}
	return cancelled, errors.Join(errs...)
}

// SweepLoop runs SweepStale every interval until ctx is done.
func (m *Manager) SweepLoop(ctx context.Context, interval, olderThan time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.SweepStale(ctx, olderThan); err != nil && ctx.Err() == nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("sweep stale games")
			}
		}
	}
}

// visible loads a game the caller may see, hiding games outside the caller's groups.
func (m *Manager) visible(ctx context.Context, id string) (game.Game, error) {
	user, err := caller(ctx)
	if err != nil {
		return game.Game{}, err
	}
	g, err := m.getGame(ctx, id)
	if err != nil {
		return game.Game{}, err
	}
	ok, err := m.members.IsMember(ctx, g.GroupID, user)
	if err != nil {
		return game.Game{}, fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return game.Game{}, apperr.ErrGameNotFound
	}
	return g, nil
}

// load reads a game and its participants for a mutation by the caller.
func (m *Manager) load(ctx context.Context, id string) (string, game.Game, []game.Participant, error) {
	user, err := caller(ctx)
	if err != nil {
		return "", game.Game{}, nil, err
	}
	g, err := m.getGame(ctx, id)
	if err != nil {
		return "", game.Game{}, nil, err
	}
	if err := m.requireMember(ctx, g.GroupID, user); err != nil {
		return "", game.Game{}, nil, err
	}
	parts, err := m.store.Participants(ctx, id)
	if err != nil {
		return "", game.Game{}, nil, err
	}
	return user, g, parts, nil
}

func (m *Manager) getGame(ctx context.Context, id string) (game.Game, error) {
	g, err := m.store.GetGame(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return game.Game{}, apperr.ErrGameNotFound
	}
	return g, err
}

func (m *Manager) requireMember(ctx context.Context, groupID, user string) error {
	ok, err := m.members.IsMember(ctx, groupID, user)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return apperr.ErrNotAMember
	}
	return nil
}

func (m *Manager) publish(g game.Game, ev game.Event) {
	m.bus.Publish(notify.Change{
		GameID:    g.ID,
		GroupID:   g.GroupID,
		Seq:       ev.Seq,
		EventType: ev.EventType,
		Status:    g.Status,
		Version:   g.Version,
	})
}

// normalize turns a request into an action. Clients may not write status or metadata
// directly; the only status they may ask for is cancelled, which becomes a cancel.
func normalize(req ActionRequest) (game.Action, error) {
	if len(bytes.TrimSpace(req.MetadataPatch)) > 0 && !bytes.Equal(bytes.TrimSpace(req.MetadataPatch), []byte("null")) {
		return game.Action{}, apperr.Validation(apperr.CodeServerOwned, "metadata is computed by the server and cannot be patched")
	}
	a := game.Action{Type: strings.TrimSpace(req.EventType), Payload: req.Payload}
	switch req.Status {
	case "":
	case game.StatusCancelled:
		if a.Type != "" && a.Type != game.EventCancel {
			return game.Action{}, apperr.Validation(apperr.CodeInvalidStatus, "status cancelled cannot be combined with "+a.Type)
		}
		a.Type = game.EventCancel
	default:
		return game.Action{}, apperr.Validation(apperr.CodeInvalidStatus, fmt.Sprintf("status %q is computed by the server", req.Status))
	}
	if a.Type == "" {
		return game.Action{}, apperr.Validation(apperr.CodeInvalidRequest, "event_type is required")
	}
	return a, nil
}

func seated(parts []game.Participant, userID string) bool {
	for _, p := range parts {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func caller(ctx context.Context) (string, error) {
	id, ok := auth.UserID(ctx)
	if !ok {
		return "", apperr.ErrUnauthenticated
	}
	return id, nil
}
