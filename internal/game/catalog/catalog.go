// Package catalog assembles the registry of every supported game type.
package catalog

import (
	"groupgames/internal/game"
	"groupgames/internal/game/connectfour"
	"groupgames/internal/game/poll"
	"groupgames/internal/game/questionoftheday"
	"groupgames/internal/game/ratethis"
	"groupgames/internal/game/storychain"
	"groupgames/internal/game/tictactoe"
	"groupgames/internal/game/wouldyourather"
)

// Registry returns a registry with all game types registered.
func Registry() *game.Registry {
	r := game.NewRegistry()
	r.Register(tictactoe.New())
	r.Register(connectfour.New())
	r.Register(poll.New())
	r.Register(wouldyourather.New())
	r.Register(questionoftheday.New())
	r.Register(storychain.New())
	r.Register(ratethis.New())
	return r
}
