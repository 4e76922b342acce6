// Package connectfour implements gravity-drop four-in-a-row on a 6x7 grid.
package connectfour

import (
	"encoding/json"
	"fmt"

	"groupgames/internal/apperr"
	"groupgames/internal/game"
)

const (
	Rows   = 6
	Cols   = 7
	WinLen = 4
)

// Discs in seat order.
const (
	Red    = "R"
	Yellow = "Y"
)

// Grid is indexed [row][col] with row 0 at the top.
type Grid [Rows][Cols]string

// Rules implements game.Rules for connect-four.
type Rules struct{}

// New returns the connect-four definition.
func New() game.Definition {
	return game.Define[State](Rules{})
}

func (Rules) Info() game.Info {
	return game.Info{
		Type:        game.ConnectFour,
		Name:        "Connect four",
		MinPlayers:  2,
		MaxPlayers:  2,
		TurnBased:   true,
		OwnerActs:   true,
		Actions:     []string{"drop"},
		FreeActions: []string{"resign"},
	}
}

// State is the connect-four metadata.
type State struct {
	game.Turns
	Grid       Grid            `json:"grid"`
	Opponent   string          `json:"opponent,omitempty"`
	Difficulty game.Difficulty `json:"difficulty,omitempty"`
	LastMove   *Cell           `json:"lastMove,omitempty"`
	Winner     string          `json:"winner,omitempty"`
	Draw       bool            `json:"draw,omitempty"`
	Resigned   string          `json:"resigned,omitempty"`
}

// Cell is a grid position.
type Cell struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (s *State) OpponentID() string { return s.Opponent }

// Disc returns the disc dropped by userID, or "" when not seated.
func (s *State) Disc(userID string) string {
	switch s.Index(userID) {
	case 0:
		return Red
	case 1:
		return Yellow
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

type dropPayload struct {
	Column *int `json:"column"`
}

// Drop builds a drop action for column col.
func Drop(col int) game.Action {
	payload, _ := json.Marshal(dropPayload{Column: &col})
	return game.Action{Type: "drop", Payload: payload}
}

func (Rules) Apply(s State, a game.Action, actor string) (State, error) {
	switch a.Type {
	case "drop":
		var p dropPayload
		if err := game.DecodePayload(a, &p); err != nil {
			return s, err
		}
		if p.Column == nil {
			return s, apperr.Validation(apperr.CodeInvalidPayload, "drop requires a column")
		}
		col := *p.Column
		if col < 0 || col >= Cols {
			return s, apperr.Illegal(fmt.Sprintf("column %d out of range", col))
		}
		disc := s.Disc(actor)
		if disc == "" {
			return s, apperr.ErrNotAParticipant
		}
		row := s.Grid.Drop(col, disc)
		if row < 0 {
			return s, apperr.Illegal(fmt.Sprintf("column %d is full", col))
		}
		s.LastMove = &Cell{Row: row, Col: col}
		if s.Grid.Connects(row, col) {
			s.Winner = actor
		} else if s.Grid.Full() {
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
	return s, game.UnknownAction(game.ConnectFour, a.Type)
}

func (Rules) Outcome(s State) game.Outcome {
	switch {
	case s.Resigned != "":
		return game.Outcome{Finished: true, Winner: s.Winner, Reason: "resigned"}
	case s.Winner != "":
		return game.Outcome{Finished: true, Winner: s.Winner, Reason: "four_in_a_row"}
	case s.Draw:
		return game.Outcome{Finished: true, Draw: true, Reason: "board_full"}
	}
	return game.Outcome{}
}

// Drop places disc in the lowest empty row of col and returns that row, or -1 if the
// column is full.
func (g *Grid) Drop(col int, disc string) int {
	for r := Rows - 1; r >= 0; r-- {
		if g[r][col] == "" {
			g[r][col] = disc
			return r
		}
	}
	return -1
}

// ColumnFull reports whether col has no empty row.
func (g *Grid) ColumnFull(col int) bool {
	return g[0][col] != ""
}

// Full reports whether every column is full.
func (g *Grid) Full() bool {
	for c := 0; c < Cols; c++ {
		if !g.ColumnFull(c) {
			return false
		}
	}
	return true
}

// OpenColumns lists the columns that can still take a disc.
func (g *Grid) OpenColumns() []int {
	var cols []int
	for c := 0; c < Cols; c++ {
		if !g.ColumnFull(c) {
			cols = append(cols, c)
		}
	}
	return cols
}

// Connects reports whether the disc at (row, col) completes WinLen in a line.
func (g *Grid) Connects(row, col int) bool {
	disc := g[row][col]
	if disc == "" {
		return false
	}
	dirs := [4][2]int{{1, 0}, {0, 1}, {1, 1}, {1, -1}}
	for _, d := range dirs {
		count := 1 + g.run(row, col, d[0], d[1], disc) + g.run(row, col, -d[0], -d[1], disc)
		if count >= WinLen {
			return true
		}
	}
	return false
}

func (g *Grid) run(row, col, dr, dc int, disc string) int {
	n := 0
	for r, c := row+dr, col+dc; r >= 0 && r < Rows && c >= 0 && c < Cols && g[r][c] == disc; r, c = r+dr, c+dc {
		n++
	}
	return n
}
