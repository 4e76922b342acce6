package tictactoe

import (
	"encoding/json"
	"fmt"

	"groupgames/internal/apperr"
	"groupgames/internal/game"
)

// Marks in seat order: the first seated player is X.
const (
	X = "X"
	O = "O"
)

// Rules implements game.Rules for tic-tac-toe.
type Rules struct{}

// New returns the tic-tac-toe definition.
func New() game.Definition {
	return game.Define[State](Rules{})
}

func (Rules) Info() game.Info {
	return game.Info{
		Type:        game.TicTacToe,
		Name:        "Tic-tac-toe",
		MinPlayers:  2,
		MaxPlayers:  2,
		TurnBased:   true,
		OwnerActs:   true,
		Actions:     []string{"move"},
		FreeActions: []string{"resign"},
	}
}

// State is the tic-tac-toe metadata.
type State struct {
	game.Turns
	Board      [9]string       `json:"board"`
	Opponent   string          `json:"opponent,omitempty"`
	Difficulty game.Difficulty `json:"difficulty,omitempty"`
	Winner     string          `json:"winner,omitempty"`
	Line       []int           `json:"line,omitempty"`
	Draw       bool            `json:"draw,omitempty"`
	Resigned   string          `json:"resigned,omitempty"`
}

// OpponentID returns the AI participant seated at creation, if any.
func (s *State) OpponentID() string { return s.Opponent }

// Mark returns the mark played by userID, or "" when not seated.
func (s *State) Mark(userID string) string {
	switch s.Index(userID) {
	case 0:
		return X
	case 1:
		return O
	}
	return ""
}

func (Rules) Start(cfg game.Config) (State, error) {
	var c game.OpponentConfig
	if err := game.DecodeConfig(cfg.Metadata, &c); err != nil {
		return State{}, err
	}
	opp, d, err := c.Resolve()
	if err != nil {
		return State{}, err
	}
	return State{Opponent: opp, Difficulty: d}, nil
}

type movePayload struct {
	Cell *int `json:"cell"`
}

// Move builds a move action for cell.
func Move(cell int) game.Action {
	payload, _ := json.Marshal(movePayload{Cell: &cell})
	return game.Action{Type: "move", Payload: payload}
}

func (r Rules) Apply(s State, a game.Action, actor string) (State, error) {
	switch a.Type {
	case "move":
		var move movePayload
		if err := game.DecodePayload(a, &move); err != nil {
			return s, err
		}
		if move.Cell == nil {
			return s, apperr.Validation(apperr.CodeInvalidPayload, "move requires a cell")
		}
		cell := *move.Cell
		if cell < 0 || cell > 8 {
			return s, apperr.Illegal(fmt.Sprintf("cell %d out of range", cell))
		}
		if s.Board[cell] != "" {
			return s, apperr.Illegal(fmt.Sprintf("cell %d already occupied", cell))
		}
		mark := s.Mark(actor)
		if mark == "" {
			return s, apperr.ErrNotAParticipant
		}
		s.Board[cell] = mark
		if w, line := Winner(s.Board); w != "" {
			s.Winner = actor
			s.Line = line
		} else if Full(s.Board) {
			s.Draw = true
		}
		return s, nil
	case "resign":
		if s.Index(actor) < 0 {
			return s, apperr.ErrNotAParticipant
		}
		s.Resigned = actor
		for _, p := range s.Players {
			if p != actor {
				s.Winner = p
			}
		}
		return s, nil
	}
	return s, game.UnknownAction(game.TicTacToe, a.Type)
}

func (Rules) Outcome(s State) game.Outcome {
	switch {
	case s.Resigned != "":
		return game.Outcome{Finished: true, Winner: s.Winner, Reason: "resigned"}
	case s.Winner != "":
		return game.Outcome{Finished: true, Winner: s.Winner, Reason: "three_in_a_row"}
	case s.Draw:
		return game.Outcome{Finished: true, Draw: true, Reason: "board_full"}
	}
	return game.Outcome{}
}

// Lines are the 8 winning lines.
var Lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, // rows
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8}, // cols
	{0, 4, 8}, {2, 4, 6}, // diags
}

// Winner returns the mark on the first satisfied line and that line, or "" when none is.
func Winner(board [9]string) (string, []int) {
	for _, line := range Lines {
		m := board[line[0]]
		if m != "" && board[line[1]] == m && board[line[2]] == m {
			return m, line[:]
		}
	}
	return "", nil
}

// Full reports whether no cell is empty.
func Full(board [9]string) bool {
	return len(EmptyCells(board)) == 0
}

// EmptyCells lists the unoccupied cells in index order.
func EmptyCells(board [9]string) []int {
	var cells []int
	for i, v := range board {
		if v == "" {
			cells = append(cells, i)
		}
	}
	return cells
}
