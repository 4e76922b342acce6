// Package eventlog appends game events under the version guard and replays them.
package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"groupgames/internal/game"
	"groupgames/internal/storage"
)

// Store is the persistence the log needs.
type Store interface {
	GetGame(ctx context.Context, id string) (game.Game, error)
	Events(ctx context.Context, gameID string) ([]game.Event, error)
	Commit(ctx context.Context, c storage.Commit) error
}

// Log is the append-only event log.
type Log struct {
	store   Store
	machine *game.Machine
	now     func() time.Time
}

// New creates a log over store. now defaults to time.Now.
func New(store Store, machine *game.Machine, now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{store: store, machine: machine, now: now}
}

// Entry is a validated transition ready to be recorded against Game as it was read.
type Entry struct {
	Game        game.Game
	UserID      *string
	EventType   string
	Payload     json.RawMessage
	Next        game.Transition
	Participant *game.Participant
}

// Append records e and moves the game to e.Next in one step. It fails with
// apperr.ErrVersionConflict when the game changed after e.Game was read.
func (l *Log) Append(ctx context.Context, e Entry) (game.Event, game.Game, error) {
	now := l.now().UTC()
	ev := game.Event{
		ID:        uuid.NewString(),
		GameID:    e.Game.ID,
		Seq:       e.Game.Version + 1,
		UserID:    e.UserID,
		EventType: e.EventType,
		Payload:   e.Payload,
		CreatedAt: now,
	}
	if len(bytes.TrimSpace(ev.Payload)) == 0 {
		ev.Payload = json.RawMessage(`{}`)
	}
	if err := l.store.Commit(ctx, storage.Commit{
		GameID:        e.Game.ID,
		ExpectVersion: e.Game.Version,
		Status:        e.Next.Status,
		Metadata:      e.Next.Metadata,
		UpdatedAt:     now,
		Event:         ev,
		Participant:   e.Participant,
	}); err != nil {
		return game.Event{}, game.Game{}, err
	}
	g := e.Game
	g.Status, g.Metadata, g.Version, g.UpdatedAt = e.Next.Status, e.Next.Metadata, ev.Seq, now
	return ev, g, nil
}

// Events returns the events of a game in order.
func (l *Log) Events(ctx context.Context, gameID string) ([]game.Event, error) {
	return l.store.Events(ctx, gameID)
}

// Replayed is the state rebuilt from a game's events.
type Replayed struct {
	Metadata json.RawMessage `json:"metadata"`
	Status   game.Status     `json:"status"`
	// Consistent reports whether the rebuilt state matches the stored row.
	Consistent bool `json:"consistent"`
}

// Replay folds every event of gameID and compares the result with the stored game.
func (l *Log) Replay(ctx context.Context, gameID string) (Replayed, error) {
	g, err := l.store.GetGame(ctx, gameID)
	if err != nil {
		return Replayed{}, err
	}
	events, err := l.store.Events(ctx, gameID)
	if err != nil {
		return Replayed{}, err
	}
	tr, err := l.machine.Replay(g.Type, events)
	if err != nil {
		return Replayed{}, fmt.Errorf("replay game %s: %w", gameID, err)
	}
	return Replayed{
		Metadata:   tr.Metadata,
		Status:     tr.Status,
		Consistent: bytes.Equal(tr.Metadata, g.Metadata) && tr.Status == g.Status && int64(len(events)) == g.Version,
	}, nil
}
