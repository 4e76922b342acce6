// Package storychain implements a story written one entry per turn.
package storychain

import (
	"fmt"

	"groupgames/internal/apperr"
	"groupgames/internal/game"
)

const (
	defaultMaxEntries = 10
	maxEntriesLimit   = 100
	maxPrompt         = 280
	maxEntry          = 500
)

type Rules struct{}

// New returns the story-chain definition.
func New() game.Definition {
	return game.Define[State](Rules{})
}

func (Rules) Info() game.Info {
	return game.Info{
		Type:         game.StoryChain,
		Name:         "Story chain",
		MinPlayers:   1,
		TurnBased:    true,
		OwnerActs:    true,
		Actions:      []string{"contribute"},
		OwnerActions: []string{"end"},
	}
}

// Entry is one contribution.
type Entry struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

// State is the story-chain metadata.
type State struct {
	game.Turns
	Prompt     string  `json:"prompt"`
	MaxEntries int     `json:"maxEntries"`
	Entries    []Entry `json:"entries"`
	Ended      bool    `json:"ended,omitempty"`
}

func (Rules) Start(cfg game.Config) (State, error) {
	var c struct {
		Prompt     string `json:"prompt"`
		MaxEntries int    `json:"maxEntries"`
	}
	if err := game.DecodeConfig(cfg.Metadata, &c); err != nil {
		return State{}, err
	}
	prompt, err := game.Text("prompt", c.Prompt, maxPrompt, apperr.CodeInvalidMetadata)
	if err != nil {
		return State{}, err
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = defaultMaxEntries
	}
	if c.MaxEntries < 1 || c.MaxEntries > maxEntriesLimit {
		return State{}, apperr.Validation(apperr.CodeInvalidMetadata,
			fmt.Sprintf("maxEntries must be between 1 and %d", maxEntriesLimit))
	}
	return State{Prompt: prompt, MaxEntries: c.MaxEntries, Entries: []Entry{}}, nil
}

func (Rules) Apply(s State, a game.Action, actor string) (State, error) {
	switch a.Type {
	case "contribute":
		var p struct {
			Text string `json:"text"`
		}
		if err := game.DecodePayload(a, &p); err != nil {
			return s, err
		}
		text, err := game.Text("entry", p.Text, maxEntry, apperr.CodeInvalidPayload)
		if err != nil {
			return s, err
		}
		s.Entries = append(append([]Entry(nil), s.Entries...), Entry{UserID: actor, Text: text})
		return s, nil
	case "end":
		s.Ended = true
		return s, nil
	}
	return s, game.UnknownAction(game.StoryChain, a.Type)
}

func (Rules) Outcome(s State) game.Outcome {
	switch {
	case s.Ended:
		return game.Outcome{Finished: true, Reason: "ended"}
	case len(s.Entries) >= s.MaxEntries:
		return game.Outcome{Finished: true, Reason: "complete"}
	}
	return game.Outcome{}
}
