// Package poll implements a multiple-choice poll closed by its owner.
package poll

import (
	"fmt"

	"groupgames/internal/apperr"
	"groupgames/internal/game"
)

const (
	minOptions = 2
	maxOptions = 10
	maxText    = 280
)

// Rules implements game.Rules for polls.
type Rules struct{}

// New returns the poll definition.
func New() game.Definition {
	return game.Define[State](Rules{})
}

func (Rules) Info() game.Info {
	return game.Info{
		Type:         game.Poll,
		Name:         "Poll",
		OwnerActs:    true,
		Actions:      []string{"vote"},
		OwnerActions: []string{"close"},
	}
}

// State is the poll metadata.
type State struct {
	Question      string           `json:"question"`
	Options       []string         `json:"options"`
	AllowMultiple bool             `json:"allowMultiple"`
	Votes         map[string][]int `json:"votes"`
	Tally         []int            `json:"tally"`
	Closed        bool             `json:"closed,omitempty"`
}

type config struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	AllowMultiple bool     `json:"allowMultiple"`
}

func (Rules) Start(cfg game.Config) (State, error) {
	var c config
	if err := game.DecodeConfig(cfg.Metadata, &c); err != nil {
		return State{}, err
	}
	q, err := game.Text("question", c.Question, maxText, apperr.CodeInvalidMetadata)
	if err != nil {
		return State{}, err
	}
	if len(c.Options) < minOptions || len(c.Options) > maxOptions {
		return State{}, apperr.Validation(apperr.CodeInvalidMetadata,
			fmt.Sprintf("a poll needs %d to %d options, got %d", minOptions, maxOptions, len(c.Options)))
	}
	seen := make(map[string]bool, len(c.Options))
	opts := make([]string, len(c.Options))
	for i, o := range c.Options {
		if opts[i], err = game.Text(fmt.Sprintf("option %d", i), o, maxText, apperr.CodeInvalidMetadata); err != nil {
			return State{}, err
		}
		if seen[opts[i]] {
			return State{}, apperr.Validation(apperr.CodeInvalidMetadata, fmt.Sprintf("duplicate option %q", opts[i]))
		}
		seen[opts[i]] = true
	}
	return State{
		Question:      q,
		Options:       opts,
		AllowMultiple: c.AllowMultiple,
		Votes:         map[string][]int{},
		Tally:         make([]int, len(opts)),
	}, nil
}

type votePayload struct {
	Option *int `json:"option"`
}

func (Rules) Apply(s State, a game.Action, actor string) (State, error) {
	switch a.Type {
	case "vote":
		var p votePayload
		if err := game.DecodePayload(a, &p); err != nil {
			return s, err
		}
		if p.Option == nil {
			return s, apperr.Validation(apperr.CodeInvalidPayload, "vote requires an option")
		}
		opt := *p.Option
		if opt < 0 || opt >= len(s.Options) {
			return s, apperr.Illegal(fmt.Sprintf("option %d out of range", opt))
		}
		prior := s.Votes[actor]
		if len(prior) > 0 && !s.AllowMultiple {
			return s, apperr.ErrAlreadyActed
		}
		for _, v := range prior {
			if v == opt {
				return s, apperr.ErrAlreadyActed
			}
		}
		// Copy so the caller's state is never aliased.
		votes := make(map[string][]int, len(s.Votes)+1)
		for k, v := range s.Votes {
			votes[k] = v
		}
		votes[actor] = append(append([]int(nil), prior...), opt)
		tally := append([]int(nil), s.Tally...)
		tally[opt]++
		s.Votes, s.Tally = votes, tally
		return s, nil
	case "close":
		s.Closed = true
		return s, nil
	}
	return s, game.UnknownAction(game.Poll, a.Type)
}

func (Rules) Outcome(s State) game.Outcome {
	if s.Closed {
		return game.Outcome{Finished: true, Reason: "closed"}
	}
	return game.Outcome{}
}
