package game

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"groupgames/internal/apperr"
)

// Info describes a game type.
type Info struct {
	Type       Type   `json:"type"`
	Name       string `json:"name"`
	MinPlayers int    `json:"minPlayers"`
	MaxPlayers int    `json:"maxPlayers"` // 0 means unlimited
	TurnBased  bool   `json:"turnBased"`
	OwnerActs  bool   `json:"ownerActs"`
	// Actions lists the type-specific action names.
	Actions []string `json:"actions"`
	// OwnerActions are reserved for the owner and never consume a turn.
	OwnerActions []string `json:"ownerActions,omitempty"`
	// FreeActions may be taken by any acting participant out of turn.
	FreeActions []string `json:"freeActions,omitempty"`
}

func (i Info) has(list []string, name string) bool {
	for _, a := range list {
		if a == name {
			return true
		}
	}
	return false
}

// Supports reports whether the type accepts action name.
func (i Info) Supports(name string) bool {
	return i.has(i.Actions, name) || i.has(i.OwnerActions, name) || i.has(i.FreeActions, name)
}

// OwnerOnly reports whether name is reserved for the owner.
func (i Info) OwnerOnly(name string) bool {
	return i.has(i.OwnerActions, name)
}

// TakesTurn reports whether name consumes the actor's turn.
func (i Info) TakesTurn(name string) bool {
	return i.TurnBased && !i.has(i.OwnerActions, name) && !i.has(i.FreeActions, name)
}

// Config carries creation input to a type's Start.
type Config struct {
	CreatorID string
	Metadata  json.RawMessage
}

// Rules is implemented by each game type over its own state struct S.
//
// Start builds the initial state, validating caller-supplied configuration against the type's
// schema. Apply returns the state after action, or an apperr describing why it is illegal.
// Outcome must be pure.
type Rules[S any] interface {
	Info() Info
	Start(cfg Config) (S, error)
	Apply(s S, a Action, actor string) (S, error)
	Outcome(s S) Outcome
}

// Definition is a game type bound to its JSON metadata encoding.
type Definition interface {
	Info() Info
	Start(cfg Config) (json.RawMessage, error)
	Seat(metadata json.RawMessage, userID string) (json.RawMessage, error)
	Apply(metadata json.RawMessage, a Action, actor string) (json.RawMessage, error)
	Advance(metadata json.RawMessage, actor string) (json.RawMessage, error)
	Outcome(metadata json.RawMessage) (Outcome, error)
	NextTurn(metadata json.RawMessage) (string, error)
	Opponent(metadata json.RawMessage) (string, error)
}

// Define binds typed rules to a Definition.
func Define[S any](r Rules[S]) Definition {
	return definition[S]{rules: r}
}

// Turns tracks seating order and whose turn it is. Turn-based state structs embed it.
type Turns struct {
	Players        []string `json:"players"`
	NextTurnUserID string   `json:"nextTurnUserId,omitempty"`
}

func (t *Turns) turns() *Turns { return t }

// Index returns the seat index of userID, or -1.
func (t *Turns) Index(userID string) int {
	for i, p := range t.Players {
		if p == userID {
			return i
		}
	}
	return -1
}

func (t *Turns) seat(userID string) {
	if t.Index(userID) >= 0 {
		return
	}
	t.Players = append(t.Players, userID)
	if t.NextTurnUserID == "" {
		t.NextTurnUserID = userID
	}
}

// advance passes the turn to the seat after actor, wrapping around.
func (t *Turns) advance(actor string) {
	if len(t.Players) == 0 {
		return
	}
	i := t.Index(actor)
	t.NextTurnUserID = t.Players[(i+1)%len(t.Players)]
}

type turnHolder interface {
	turns() *Turns
}

// Opponent is implemented by state structs that can seat an AI opponent at creation.
type Opponent interface {
	OpponentID() string
}

type definition[S any] struct {
	rules Rules[S]
}

func (d definition[S]) Info() Info { return d.rules.Info() }

func (d definition[S]) decode(metadata json.RawMessage) (S, error) {
	var s S
	if err := json.Unmarshal(metadata, &s); err != nil {
		return s, fmt.Errorf("decode %s metadata: %w", d.rules.Info().Type, err)
	}
	return s, nil
}

func (d definition[S]) encode(s S) (json.RawMessage, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode %s metadata: %w", d.rules.Info().Type, err)
	}
	return b, nil
}

func (d definition[S]) Start(cfg Config) (json.RawMessage, error) {
	s, err := d.rules.Start(cfg)
	if err != nil {
		return nil, err
	}
	return d.encode(s)
}

func (d definition[S]) Seat(metadata json.RawMessage, userID string) (json.RawMessage, error) {
	s, err := d.decode(metadata)
	if err != nil {
		return nil, err
	}
	th, ok := any(&s).(turnHolder)
	if !ok {
		return metadata, nil
	}
	th.turns().seat(userID)
	return d.encode(s)
}

func (d definition[S]) Apply(metadata json.RawMessage, a Action, actor string) (json.RawMessage, error) {
	s, err := d.decode(metadata)
	if err != nil {
		return nil, err
	}
	next, err := d.rules.Apply(s, a, actor)
	if err != nil {
		return nil, err
	}
	return d.encode(next)
}

func (d definition[S]) Advance(metadata json.RawMessage, actor string) (json.RawMessage, error) {
	s, err := d.decode(metadata)
	if err != nil {
		return nil, err
	}
	th, ok := any(&s).(turnHolder)
	if !ok {
		return metadata, nil
	}
	th.turns().advance(actor)
	return d.encode(s)
}

func (d definition[S]) Outcome(metadata json.RawMessage) (Outcome, error) {
	s, err := d.decode(metadata)
	if err != nil {
		return Outcome{}, err
	}
	return d.rules.Outcome(s), nil
}

func (d definition[S]) NextTurn(metadata json.RawMessage) (string, error) {
	s, err := d.decode(metadata)
	if err != nil {
		return "", err
	}
	if th, ok := any(&s).(turnHolder); ok {
		return th.turns().NextTurnUserID, nil
	}
	return "", nil
}

func (d definition[S]) Opponent(metadata json.RawMessage) (string, error) {
	s, err := d.decode(metadata)
	if err != nil {
		return "", err
	}
	if o, ok := any(&s).(Opponent); ok {
		return o.OpponentID(), nil
	}
	return "", nil
}

// DecodeConfig strictly decodes caller-supplied creation metadata into v. Empty input leaves v
// untouched.
func DecodeConfig(raw json.RawMessage, v any) error {
	if isEmpty(raw) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidMetadata, "invalid metadata", err)
	}
	return nil
}

// DecodePayload decodes an action payload into v.
func DecodePayload(a Action, v any) error {
	if isEmpty(a.Payload) {
		return apperr.Validation(apperr.CodeInvalidPayload, a.Type+" requires a payload")
	}
	if err := json.Unmarshal(a.Payload, v); err != nil {
		return apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidPayload, "invalid "+a.Type+" payload", err)
	}
	return nil
}

// UnknownAction is returned by rules for unsupported action names.
func UnknownAction(t Type, name string) error {
	return apperr.Validation(apperr.CodeUnknownAction, fmt.Sprintf("%s does not support action %q", t, name))
}

func isEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// OpponentConfig is the creation config shared by board games that can seat an AI opponent.
type OpponentConfig struct {
	Opponent   string     `json:"opponent"`
	Difficulty Difficulty `json:"difficulty"`
}

// Resolve validates c and returns the AI user id and difficulty, both empty for a
// human-only game. Difficulty defaults to medium.
func (c OpponentConfig) Resolve() (string, Difficulty, error) {
	switch c.Opponent {
	case "":
		if c.Difficulty != "" {
			return "", "", apperr.Validation(apperr.CodeInvalidMetadata, "difficulty requires an ai opponent")
		}
		return "", "", nil
	case "ai":
		d := c.Difficulty
		if d == "" {
			d = Medium
		}
		if !d.Valid() {
			return "", "", apperr.Validation(apperr.CodeInvalidMetadata, fmt.Sprintf("unknown difficulty %q", d))
		}
		return AIUserID(d), d, nil
	}
	return "", "", apperr.Validation(apperr.CodeInvalidMetadata, fmt.Sprintf("unknown opponent %q", c.Opponent))
}

// Text trims s and checks it is non-empty and at most max runes. field names s in errors.
func Text(field, s string, max int, code apperr.Code) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apperr.Validation(code, field+" is required")
	}
	if utf8.RuneCountInString(s) > max {
		return "", apperr.Validation(code, fmt.Sprintf("%s exceeds %d characters", field, max))
	}
	return s, nil
}
