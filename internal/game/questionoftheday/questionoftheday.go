// Package questionoftheday implements an open question each member answers once.
package questionoftheday

import (
	"groupgames/internal/apperr"
	"groupgames/internal/game"
)

const (
	maxQuestion = 280
	maxAnswer   = 1000
)

type Rules struct{}

// New returns the question-of-the-day definition.
func New() game.Definition {
	return game.Define[State](Rules{})
}

func (Rules) Info() game.Info {
	return game.Info{
		Type:         game.QuestionOfTheDay,
		Name:         "Question of the day",
		OwnerActs:    true,
		Actions:      []string{"answer"},
		OwnerActions: []string{"close"},
	}
}

// Answer is one member's response.
type Answer struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

// State is the question-of-the-day metadata.
type State struct {
	Question string   `json:"question"`
	Answers  []Answer `json:"answers"`
	Closed   bool     `json:"closed,omitempty"`
}

func (Rules) Start(cfg game.Config) (State, error) {
	var c struct {
		Question string `json:"question"`
	}
	if err := game.DecodeConfig(cfg.Metadata, &c); err != nil {
		return State{}, err
	}
	q, err := game.Text("question", c.Question, maxQuestion, apperr.CodeInvalidMetadata)
	if err != nil {
		return State{}, err
	}
	return State{Question: q, Answers: []Answer{}}, nil
}

func (Rules) Apply(s State, a game.Action, actor string) (State, error) {
	switch a.Type {
	case "answer":
		var p struct {
			Text string `json:"text"`
		}
		if err := game.DecodePayload(a, &p); err != nil {
			return s, err
		}
		text, err := game.Text("answer", p.Text, maxAnswer, apperr.CodeInvalidPayload)
		if err != nil {
			return s, err
		}
		for _, ans := range s.Answers {
			if ans.UserID == actor {
				return s, apperr.ErrAlreadyActed
			}
		}
		s.Answers = append(append([]Answer(nil), s.Answers...), Answer{UserID: actor, Text: text})
		return s, nil
	case "close":
		s.Closed = true
		return s, nil
	}
	return s, game.UnknownAction(game.QuestionOfTheDay, a.Type)
}

func (Rules) Outcome(s State) game.Outcome {
	if s.Closed {
		return game.Outcome{Finished: true, Reason: "closed"}
	}
	return game.Outcome{}
}
