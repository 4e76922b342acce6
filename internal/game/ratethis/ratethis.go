// Package ratethis implements rating a subject posted by the game owner.
package ratethis

import (
	"fmt"

	"groupgames/internal/apperr"
	"groupgames/internal/game"
)

const (
	defaultMaxRating = 5
	minScale         = 2
	maxScale         = 10
	maxSubject       = 280
)

type Rules struct{}

// New returns the rate-this definition.
func New() game.Definition {
	return game.Define[State](Rules{})
}

// Info reports that the owner posts the subject and so never rates it.
func (Rules) Info() game.Info {
	return game.Info{
		Type:         game.RateThis,
		Name:         "Rate this",
		Actions:      []string{"rate"},
		OwnerActions: []string{"close"},
	}
}

// State is the rate-this metadata.
type State struct {
	Subject   string         `json:"subject"`
	MaxRating int            `json:"maxRating"`
	Ratings   map[string]int `json:"ratings"`
	Total     int            `json:"total"`
	Count     int            `json:"count"`
	Closed    bool           `json:"closed,omitempty"`
}

// Average returns the mean rating, or 0 when nobody has rated.
func (s State) Average() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Total) / float64(s.Count)
}

func (Rules) Start(cfg game.Config) (State, error) {
	var c struct {
		Subject   string `json:"subject"`
		MaxRating int    `json:"maxRating"`
	}
	if err := game.DecodeConfig(cfg.Metadata, &c); err != nil {
		return State{}, err
	}
	subject, err := game.Text("subject", c.Subject, maxSubject, apperr.CodeInvalidMetadata)
	if err != nil {
		return State{}, err
	}
	if c.MaxRating == 0 {
		c.MaxRating = defaultMaxRating
	}
	if c.MaxRating < minScale || c.MaxRating > maxScale {
		return State{}, apperr.Validation(apperr.CodeInvalidMetadata,
			fmt.Sprintf("maxRating must be between %d and %d", minScale, maxScale))
	}
	return State{Subject: subject, MaxRating: c.MaxRating, Ratings: map[string]int{}}, nil
}

func (Rules) Apply(s State, a game.Action, actor string) (State, error) {
	switch a.Type {
	case "rate":
		var p struct {
			Rating int `json:"rating"`
		}
		if err := game.DecodePayload(a, &p); err != nil {
			return s, err
		}
		if p.Rating < 1 || p.Rating > s.MaxRating {
			return s, apperr.Illegal(fmt.Sprintf("rating must be between 1 and %d", s.MaxRating))
		}
		if _, ok := s.Ratings[actor]; ok {
			return s, apperr.ErrAlreadyActed
		}
		ratings := make(map[string]int, len(s.Ratings)+1)
		for k, v := range s.Ratings {
			ratings[k] = v
		}
		ratings[actor] = p.Rating
		s.Ratings = ratings
		s.Total += p.Rating
		s.Count++
		return s, nil
	case "close":
		s.Closed = true
		return s, nil
	}
	return s, game.UnknownAction(game.RateThis, a.Type)
}

func (Rules) Outcome(s State) game.Outcome {
	if s.Closed {
		return game.Outcome{Finished: true, Reason: "closed"}
	}
	return game.Outcome{}
}
