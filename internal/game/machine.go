package game

import (
	"encoding/json"
	"fmt"

	"groupgames/internal/apperr"
)

// System event types shared by every game type.
const (
	EventCreate = "create"
	EventJoin   = "join"
	EventStart  = "start"
	EventCancel = "cancel"
)

// CreatePayload is the payload of the genesis event.
type CreatePayload struct {
	CreatedBy string          `json:"created_by"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Status    Status          `json:"status,omitempty"`
}

// JoinPayload is the payload of a join event.
type JoinPayload struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// Seat is a participant created together with a new game.
type Seat struct {
	UserID string
	Role   Role
}

// Transition is the state a validated change moves a game to.
type Transition struct {
	Metadata json.RawMessage
	Status   Status
	Outcome  Outcome
}

// Genesis is the initial state of a new game plus the seats created with it.
type Genesis struct {
	Transition
	Seats []Seat
}

// Machine validates changes against the registry. It performs no I/O.
type Machine struct {
	registry *Registry
}

// NewMachine creates a machine over r.
func NewMachine(r *Registry) *Machine {
	return &Machine{registry: r}
}

// Registry returns the registry the machine validates against.
func (m *Machine) Registry() *Registry {
	return m.registry
}

// Start builds a new game of type t.
func (m *Machine) Start(t Type, p CreatePayload) (Genesis, error) {
	def, err := m.registry.Describe(t)
	if err != nil {
		return Genesis{}, err
	}
	if p.CreatedBy == "" {
		return Genesis{}, apperr.Validation(apperr.CodeInvalidRequest, "creator is required")
	}
	info := def.Info()

	meta, err := def.Start(Config{CreatorID: p.CreatedBy, Metadata: p.Metadata})
	if err != nil {
		return Genesis{}, err
	}
	seats := []Seat{{UserID: p.CreatedBy, Role: RoleOwner}}
	count := 0
	if info.OwnerActs {
		if meta, err = def.Seat(meta, p.CreatedBy); err != nil {
			return Genesis{}, err
		}
		count++
	}
	opp, err := def.Opponent(meta)
	if err != nil {
		return Genesis{}, err
	}
	if opp != "" {
		if opp == p.CreatedBy {
			return Genesis{}, apperr.Validation(apperr.CodeInvalidMetadata, "opponent must differ from creator")
		}
		if meta, err = def.Seat(meta, opp); err != nil {
			return Genesis{}, err
		}
		seats = append(seats, Seat{UserID: opp, Role: RolePlayer})
		count++
	}

	var status Status
	switch p.Status {
	case "":
		status = StatusWaiting
		if count >= info.MinPlayers {
			status = StatusInProgress
		}
	case StatusWaiting:
		status = StatusWaiting
	case StatusInProgress:
		if count < info.MinPlayers {
			return Genesis{}, apperr.Validation(apperr.CodeInvalidStatus,
				fmt.Sprintf("%s needs %d players to start", t, info.MinPlayers))
		}
		status = StatusInProgress
	default:
		return Genesis{}, apperr.Validation(apperr.CodeInvalidStatus,
			fmt.Sprintf("a game cannot be created as %q", p.Status))
	}

	out, err := def.Outcome(meta)
	if err != nil {
		return Genesis{}, err
	}
	return Genesis{
		Transition: Transition{Metadata: meta, Status: status, Outcome: out},
		Seats:      seats,
	}, nil
}

// Join seats userID in g. An empty role joins as a player.
func (m *Machine) Join(g Game, parts []Participant, userID string, role Role) (Transition, error) {
	def, err := m.registry.Describe(g.Type)
	if err != nil {
		return Transition{}, err
	}
	info := def.Info()
	if g.Status.Terminal() {
		return Transition{}, apperr.ErrGameAlreadyTerminal
	}
	if find(parts, userID) != nil {
		return Transition{}, apperr.ErrAlreadyJoined
	}
	switch role {
	case "":
		role = RolePlayer
	case RolePlayer, RoleViewer:
	default:
		return Transition{}, apperr.Validation(apperr.CodeInvalidRole, fmt.Sprintf("cannot join as %q", role))
	}

	t := Transition{Metadata: g.Metadata, Status: g.Status}
	if role == RoleViewer {
		return t, nil
	}
	count := acting(info, parts)
	if info.MaxPlayers > 0 && count >= info.MaxPlayers {
		return Transition{}, apperr.ErrGameFull
	}
	if t.Metadata, err = def.Seat(g.Metadata, userID); err != nil {
		return Transition{}, err
	}
	if g.Status == StatusWaiting && info.MaxPlayers > 0 && count+1 == info.MaxPlayers {
		t.Status = StatusInProgress
	}
	return t, nil
}

// Apply validates action a by actor against g and returns the resulting state.
func (m *Machine) Apply(g Game, parts []Participant, a Action, actor string) (Transition, error) {
	def, err := m.registry.Describe(g.Type)
	if err != nil {
		return Transition{}, err
	}
	info := def.Info()

	switch a.Type {
	case EventStart:
		return m.start(def, g, parts, actor)
	case EventCancel:
		return m.cancel(g, parts, actor)
	case EventCreate, EventJoin:
		return Transition{}, apperr.Validation(apperr.CodeUnknownAction, a.Type+" cannot be submitted as an action")
	}
	if !info.Supports(a.Type) {
		return Transition{}, UnknownAction(g.Type, a.Type)
	}

	p := find(parts, actor)
	if p == nil {
		return Transition{}, apperr.ErrNotAParticipant
	}
	if info.OwnerOnly(a.Type) {
		if p.Role != RoleOwner {
			return Transition{}, apperr.ErrOwnerOnly
		}
	} else if !canAct(info, *p) {
		return Transition{}, apperr.New(apperr.KindForbidden, apperr.CodeNotAParticipant,
			fmt.Sprintf("%s participants cannot %s", p.Role, a.Type))
	}
	if g.Status.Terminal() {
		return Transition{}, apperr.ErrGameAlreadyTerminal
	}
	if g.Status == StatusWaiting {
		return Transition{}, apperr.ErrNotStarted
	}
	if info.TakesTurn(a.Type) {
		next, err := def.NextTurn(g.Metadata)
		if err != nil {
			return Transition{}, err
		}
		if next != actor {
			return Transition{}, apperr.ErrNotYourTurn
		}
	}

	meta, err := def.Apply(g.Metadata, a, actor)
	if err != nil {
		return Transition{}, err
	}
	out, err := def.Outcome(meta)
	if err != nil {
		return Transition{}, err
	}
	status := g.Status
	if out.Finished {
		status = StatusFinished
	} else if info.TakesTurn(a.Type) {
		if meta, err = def.Advance(meta, actor); err != nil {
			return Transition{}, err
		}
	}
	return Transition{Metadata: meta, Status: status, Outcome: out}, nil
}

// Expire cancels g on behalf of the system.
func (m *Machine) Expire(g Game) (Transition, error) {
	if g.Status.Terminal() {
		return Transition{}, apperr.ErrGameAlreadyTerminal
	}
	return Transition{Metadata: g.Metadata, Status: StatusCancelled, Outcome: Outcome{Reason: "expired"}}, nil
}

func (m *Machine) start(def Definition, g Game, parts []Participant, actor string) (Transition, error) {
	if err := requireOwner(parts, actor); err != nil {
		return Transition{}, err
	}
	if g.Status.Terminal() {
		return Transition{}, apperr.ErrGameAlreadyTerminal
	}
	if g.Status != StatusWaiting {
		return Transition{}, apperr.Illegal("game already started")
	}
	info := def.Info()
	if n := acting(info, parts); n < info.MinPlayers {
		return Transition{}, apperr.New(apperr.KindIllegalMove, apperr.CodeNotEnoughSeats,
			fmt.Sprintf("%s needs %d players, has %d", g.Type, info.MinPlayers, n))
	}
	out, err := def.Outcome(g.Metadata)
	if err != nil {
		return Transition{}, err
	}
	return Transition{Metadata: g.Metadata, Status: StatusInProgress, Outcome: out}, nil
}

func (m *Machine) cancel(g Game, parts []Participant, actor string) (Transition, error) {
	if err := requireOwner(parts, actor); err != nil {
		return Transition{}, err
	}
	if g.Status.Terminal() {
		return Transition{}, apperr.ErrGameAlreadyTerminal
	}
	return Transition{Metadata: g.Metadata, Status: StatusCancelled, Outcome: Outcome{Reason: "cancelled"}}, nil
}

// Replay folds events from the genesis event onward and returns the final state.
func (m *Machine) Replay(t Type, events []Event) (Transition, error) {
	def, err := m.registry.Describe(t)
	if err != nil {
		return Transition{}, err
	}
	if len(events) == 0 || events[0].EventType != EventCreate {
		return Transition{}, fmt.Errorf("replay %s: first event must be %q", t, EventCreate)
	}
	var cp CreatePayload
	if err := json.Unmarshal(events[0].Payload, &cp); err != nil {
		return Transition{}, fmt.Errorf("replay %s: decode genesis: %w", t, err)
	}
	gen, err := m.Start(t, cp)
	if err != nil {
		return Transition{}, fmt.Errorf("replay %s: genesis: %w", t, err)
	}

	g := Game{Type: t, CreatedBy: cp.CreatedBy, Status: gen.Status, Metadata: gen.Metadata}
	parts := make([]Participant, 0, len(gen.Seats))
	for _, s := range gen.Seats {
		parts = append(parts, Participant{UserID: s.UserID, Role: s.Role})
	}
	last := gen.Transition

	for _, ev := range events[1:] {
		var tr Transition
		switch {
		case ev.EventType == EventJoin:
			var jp JoinPayload
			if err := json.Unmarshal(ev.Payload, &jp); err != nil {
				return Transition{}, fmt.Errorf("replay event %d: decode join: %w", ev.Seq, err)
			}
			if jp.Role == "" {
				jp.Role = RolePlayer
			}
			tr, err = m.Join(g, parts, jp.UserID, jp.Role)
			parts = append(parts, Participant{UserID: jp.UserID, Role: jp.Role})
		case ev.EventType == EventCancel && ev.UserID == nil:
			tr, err = m.Expire(g)
		default:
			actor := ""
			if ev.UserID != nil {
				actor = *ev.UserID
			} else if actor, err = def.NextTurn(g.Metadata); err != nil {
				return Transition{}, err
			}
			tr, err = m.Apply(g, parts, Action{Type: ev.EventType, Payload: ev.Payload}, actor)
		}
		if err != nil {
			return Transition{}, fmt.Errorf("replay event %d (%s): %w", ev.Seq, ev.EventType, err)
		}
		g.Metadata, g.Status = tr.Metadata, tr.Status
		last = tr
	}
	return last, nil
}

func find(parts []Participant, userID string) *Participant {
	for i := range parts {
		if parts[i].UserID == userID {
			return &parts[i]
		}
	}
	return nil
}

func canAct(info Info, p Participant) bool {
	return p.Role == RolePlayer || (p.Role == RoleOwner && info.OwnerActs)
}

func acting(info Info, parts []Participant) int {
	n := 0
	for _, p := range parts {
		if canAct(info, p) {
			n++
		}
	}
	return n
}

func requireOwner(parts []Participant, actor string) error {
	p := find(parts, actor)
	if p == nil {
		return apperr.ErrNotAParticipant
	}
	if p.Role != RoleOwner {
		return apperr.ErrOwnerOnly
	}
	return nil
}
