// Package ai computes moves for automated opponents.
package ai

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"

	"groupgames/internal/game"
	"groupgames/internal/game/connectfour"
	"groupgames/internal/game/tictactoe"
)

// Source supplies randomness. *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// Locked wraps src so it can be shared across goroutines.
func Locked(src Source) Source {
	return &lockedSource{src: src}
}

type lockedSource struct {
	mu  sync.Mutex
	src Source
}

func (l *lockedSource) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.IntN(n)
}

// Strategy picks the next action for the seat whose turn it is in metadata.
type Strategy interface {
	Move(rng Source, metadata json.RawMessage) (game.Action, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(rng Source, metadata json.RawMessage) (game.Action, error)

func (f StrategyFunc) Move(rng Source, metadata json.RawMessage) (game.Action, error) {
	return f(rng, metadata)
}

type key struct {
	typ        game.Type
	difficulty game.Difficulty
}

// Engine dispatches to a strategy per game type and difficulty.
type Engine struct {
	rng        Source
	strategies map[key]Strategy
}

// NewEngine creates an engine with the built-in strategies. A nil rng uses the
// process-wide generator.
func NewEngine(rng Source) *Engine {
	if rng == nil {
		rng = globalSource{}
	}
	e := &Engine{rng: rng, strategies: make(map[key]Strategy)}
	for _, d := range []game.Difficulty{game.Easy, game.Medium, game.Hard} {
		e.Register(game.TicTacToe, d, ticTacToe(d))
		e.Register(game.ConnectFour, d, connectFour(d))
	}
	return e
}

// Register sets the strategy for t at difficulty d.
func (e *Engine) Register(t game.Type, d game.Difficulty, s Strategy) {
	e.strategies[key{t, d}] = s
}

// Supports reports whether a strategy exists for t at difficulty d.
func (e *Engine) Supports(t game.Type, d game.Difficulty) bool {
	_, ok := e.strategies[key{t, d}]
	return ok
}

// ComputeMove returns the AI's action for a non-terminal state of type t.
func (e *Engine) ComputeMove(t game.Type, metadata json.RawMessage, d game.Difficulty) (game.Action, error) {
	s, ok := e.strategies[key{t, d}]
	if !ok {
		return game.Action{}, fmt.Errorf("no %s strategy for %s", d, t)
	}
	return s.Move(e.rng, metadata)
}

func ticTacToe(d game.Difficulty) Strategy {
	return StrategyFunc(func(rng Source, metadata json.RawMessage) (game.Action, error) {
		var s tictactoe.State
		if err := json.Unmarshal(metadata, &s); err != nil {
			return game.Action{}, fmt.Errorf("decode tic_tac_toe metadata: %w", err)
		}
		mark := s.Mark(s.NextTurnUserID)
		if mark == "" {
			return game.Action{}, fmt.Errorf("tic_tac_toe: next turn %q is not seated", s.NextTurnUserID)
		}
		cell, err := TicTacToeMove(rng, s.Board, mark, d)
		if err != nil {
			return game.Action{}, err
		}
		return tictactoe.Move(cell), nil
	})
}

func connectFour(d game.Difficulty) Strategy {
	return StrategyFunc(func(rng Source, metadata json.RawMessage) (game.Action, error) {
		var s connectfour.State
		if err := json.Unmarshal(metadata, &s); err != nil {
			return game.Action{}, fmt.Errorf("decode connect_four metadata: %w", err)
		}
		disc := s.Disc(s.NextTurnUserID)
		if disc == "" {
			return game.Action{}, fmt.Errorf("connect_four: next turn %q is not seated", s.NextTurnUserID)
		}
		col, err := ConnectFourMove(rng, s.Grid, disc, d)
		if err != nil {
			return game.Action{}, err
		}
		return connectfour.Drop(col), nil
	})
}
