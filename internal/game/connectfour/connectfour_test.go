package connectfour

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupgames/internal/apperr"
	"groupgames/internal/game"
)

func newTestState() State {
	s := State{}
	s.Players = []string{"alice", "bob"}
	s.NextTurnUserID = "alice"
	return s
}

func dropAll(t *testing.T, s State, moves ...any) State {
	t.Helper()
	for i := 0; i < len(moves); i += 2 {
		var err error
		s, err = Rules{}.Apply(s, Drop(moves[i+1].(int)), moves[i].(string))
		require.NoError(t, err, "drop %v by %v", moves[i+1], moves[i])
	}
	return s
}

func TestDropStacksFromBottom(t *testing.T) {
	s := dropAll(t, newTestState(), "alice", 3, "bob", 3)
	assert.Equal(t, Red, s.Grid[Rows-1][3])
	assert.Equal(t, Yellow, s.Grid[Rows-2][3])
	require.NotNil(t, s.LastMove)
	assert.Equal(t, Cell{Row: Rows - 2, Col: 3}, *s.LastMove)
}

func TestFullColumnRejected(t *testing.T) {
	s := newTestState()
	for r := 0; r < Rows; r++ {
		s.Grid[r][0] = Yellow
	}
	_, err := Rules{}.Apply(s, Drop(0), "alice")
	assert.Equal(t, apperr.KindIllegalMove, apperr.KindOf(err))

	_, err = Rules{}.Apply(s, Drop(Cols), "alice")
	assert.Equal(t, apperr.KindIllegalMove, apperr.KindOf(err))
}

func TestWinDirections(t *testing.T) {
	cases := map[string][]Cell{
		"horizontal": {{5, 0}, {5, 1}, {5, 2}, {5, 3}},
		"vertical":   {{5, 6}, {4, 6}, {3, 6}, {2, 6}},
		"diagonal":   {{5, 0}, {4, 1}, {3, 2}, {2, 3}},
		"antidiag":   {{2, 3}, {3, 4}, {4, 5}, {5, 6}},
	}
	for name, cells := range cases {
		var g Grid
		for _, c := range cells {
			g[c.Row][c.Col] = Red
		}
		for _, c := range cells {
			assert.True(t, g.Connects(c.Row, c.Col), "%s at %v", name, c)
		}
	}
}

func TestThreeIsNotAWin(t *testing.T) {
	var g Grid
	g[5][0], g[5][1], g[5][2] = Red, Red, Red
	g[5][3] = Yellow
	assert.False(t, g.Connects(5, 2))
	assert.False(t, g.Connects(5, 3))
}

func TestHorizontalWinThroughRules(t *testing.T) {
	s := dropAll(t, newTestState(),
		"alice", 0, "bob", 0,
		"alice", 1, "bob", 1,
		"alice", 2, "bob", 2,
		"alice", 3,
	)
	out := Rules{}.Outcome(s)
	assert.True(t, out.Finished)
	assert.Equal(t, "alice", out.Winner)
}

func TestDrawOnFullGrid(t *testing.T) {
	s := newTestState()
	// Two-row bands of alternating discs never line up four.
	for c := 0; c < Cols; c++ {
		for r := 0; r < Rows; r++ {
			if (r/2+c)%2 == 0 {
				s.Grid[r][c] = Red
			} else {
				s.Grid[r][c] = Yellow
			}
		}
	}
	s.Grid[0][6] = ""
	next, err := Rules{}.Apply(s, Drop(6), "alice")
	require.NoError(t, err)
	assert.Equal(t, game.Outcome{Finished: true, Draw: true, Reason: "board_full"}, Rules{}.Outcome(next))
}

func TestOpenColumns(t *testing.T) {
	var g Grid
	for r := 0; r < Rows; r++ {
		g[r][2] = Red
	}
	assert.Equal(t, []int{0, 1, 3, 4, 5, 6}, g.OpenColumns())
	assert.False(t, g.Full())
}

func TestStartConfig(t *testing.T) {
	s, err := Rules{}.Start(game.Config{Metadata: []byte(`{"opponent":"ai"}`)})
	require.NoError(t, err)
	assert.Equal(t, game.AIUserID(game.Medium), s.OpponentID())

	_, err = Rules{}.Start(game.Config{Metadata: []byte(`{"rows":8}`)})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestResign(t *testing.T) {
	s, err := Rules{}.Apply(newTestState(), game.Action{Type: "resign"}, "bob")
	require.NoError(t, err)
	out := Rules{}.Outcome(s)
	assert.Equal(t, game.Outcome{Finished: true, Winner: "alice", Reason: "resigned"}, out)
}
