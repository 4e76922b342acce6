// Package wouldyourather implements a two-option dilemma each member answers once.
package wouldyourather

import (
	"fmt"

	"groupgames/internal/apperr"
	"groupgames/internal/game"
)

const maxText = 280

// Choices.
const (
	A = "a"
	B = "b"
)

type Rules struct{}

// New returns the would-you-rather definition.
func New() game.Definition {
	return game.Define[State](Rules{})
}

func (Rules) Info() game.Info {
	return game.Info{
		Type:         game.WouldYouRather,
		Name:         "Would you rather",
		OwnerActs:    true,
		Actions:      []string{"choose"},
		OwnerActions: []string{"close"},
	}
}

// State is the would-you-rather metadata.
type State struct {
	OptionA string            `json:"optionA"`
	OptionB string            `json:"optionB"`
	Choices map[string]string `json:"choices"`
	CountA  int               `json:"countA"`
	CountB  int               `json:"countB"`
	Closed  bool              `json:"closed,omitempty"`
}

type config struct {
	OptionA string `json:"optionA"`
	OptionB string `json:"optionB"`
}

func (Rules) Start(cfg game.Config) (State, error) {
	var c config
	if err := game.DecodeConfig(cfg.Metadata, &c); err != nil {
		return State{}, err
	}
	a, err := game.Text("optionA", c.OptionA, maxText, apperr.CodeInvalidMetadata)
	if err != nil {
		return State{}, err
	}
	b, err := game.Text("optionB", c.OptionB, maxText, apperr.CodeInvalidMetadata)
	if err != nil {
		return State{}, err
	}
	if a == b {
		return State{}, apperr.Validation(apperr.CodeInvalidMetadata, "options must differ")
	}
	return State{OptionA: a, OptionB: b, Choices: map[string]string{}}, nil
}

type choosePayload struct {
	Choice string `json:"choice"`
}

func (Rules) Apply(s State, a game.Action, actor string) (State, error) {
	switch a.Type {
	case "choose":
		var p choosePayload
		if err := game.DecodePayload(a, &p); err != nil {
			return s, err
		}
		if p.Choice != A && p.Choice != B {
			return s, apperr.Validation(apperr.CodeInvalidPayload, fmt.Sprintf("choice must be %q or %q", A, B))
		}
		if _, ok := s.Choices[actor]; ok {
			return s, apperr.ErrAlreadyActed
		}
		choices := make(map[string]string, len(s.Choices)+1)
		for k, v := range s.Choices {
			choices[k] = v
		}
		choices[actor] = p.Choice
		s.Choices = choices
		if p.Choice == A {
			s.CountA++
		} else {
			s.CountB++
		}
		return s, nil
	case "close":
		s.Closed = true
		return s, nil
	}
	return s, game.UnknownAction(game.WouldYouRather, a.Type)
}

func (Rules) Outcome(s State) game.Outcome {
	if s.Closed {
		return game.Outcome{Finished: true, Reason: "closed"}
	}
	return game.Outcome{}
}
