package ai

import (
	"groupgames/internal/game"
	"groupgames/internal/game/connectfour"
)

// columnWeight favours the center column and decreases with distance from it.
func columnWeight(col int) int {
	d := col - connectfour.Cols/2
	if d < 0 {
		d = -d
	}
	return connectfour.Cols/2 + 1 - d
}

// ConnectFourMove picks a column for disc on grid. Full columns are never chosen.
func ConnectFourMove(rng Source, grid connectfour.Grid, disc string, d game.Difficulty) (int, error) {
	open := grid.OpenColumns()
	if len(open) == 0 {
		return 0, ErrNoMove
	}
	switch d {
	case game.Easy:
		return open[rng.IntN(len(open))], nil
	case game.Hard:
		if c, ok := connectingColumn(grid, open, disc); ok {
			return c, nil
		}
		if c, ok := connectingColumn(grid, open, otherDisc(disc)); ok {
			return c, nil
		}
	}
	return weighted(rng, open), nil
}

func weighted(rng Source, open []int) int {
	total := 0
	for _, c := range open {
		total += columnWeight(c)
	}
	n := rng.IntN(total)
	for _, c := range open {
		n -= columnWeight(c)
		if n < 0 {
			return c
		}
	}
	return open[len(open)-1]
}

// connectingColumn finds an open column where disc completes four.
func connectingColumn(grid connectfour.Grid, open []int, disc string) (int, bool) {
	for _, c := range open {
		g := grid
		row := g.Drop(c, disc)
		if row >= 0 && g.Connects(row, c) {
			return c, true
		}
	}
	return 0, false
}

func otherDisc(disc string) string {
	if disc == connectfour.Red {
		return connectfour.Yellow
	}
	return connectfour.Red
}
