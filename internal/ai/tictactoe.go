package ai

import (
	"errors"

	"groupgames/internal/game"
	"groupgames/internal/game/tictactoe"
)

// ErrNoMove is returned when the board has no legal move.
var ErrNoMove = errors.New("ai: no legal move")

// priority orders cells center, corners, edges.
var priority = [9]int{4, 0, 2, 6, 8, 1, 3, 5, 7}

// TicTacToeMove picks a cell for mark on board.
func TicTacToeMove(rng Source, board [9]string, mark string, d game.Difficulty) (int, error) {
	if w, _ := tictactoe.Winner(board); w != "" {
		return 0, ErrNoMove
	}
	empty := tictactoe.EmptyCells(board)
	if len(empty) == 0 {
		return 0, ErrNoMove
	}
	switch d {
	case game.Easy:
		return empty[rng.IntN(len(empty))], nil
	case game.Medium:
		if rng.IntN(2) == 0 {
			return bestCell(board, mark), nil
		}
		return empty[rng.IntN(len(empty))], nil
	}
	return bestCell(board, mark), nil
}

// bestCell is the hard strategy: win, block, center on an empty board, then minimax.
func bestCell(board [9]string, mark string) int {
	opp := other(mark)
	if c, ok := winningCell(board, mark); ok {
		return c
	}
	if c, ok := winningCell(board, opp); ok {
		return c
	}
	if len(tictactoe.EmptyCells(board)) == 9 {
		return 4
	}

	best, bestScore := -1, -100
	for _, c := range priority {
		if board[c] != "" {
			continue
		}
		board[c] = mark
		score := -negamax(board, opp, 1, -100, 100)
		board[c] = ""
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

// negamax scores board from the perspective of toMove.
func negamax(board [9]string, toMove string, depth, alpha, beta int) int {
	if w, _ := tictactoe.Winner(board); w != "" {
		// The previous mover won.
		return depth - 10
	}
	if tictactoe.Full(board) {
		return 0
	}
	best := -100
	for _, c := range priority {
		if board[c] != "" {
			continue
		}
		board[c] = toMove
		score := -negamax(board, other(toMove), depth+1, -beta, -alpha)
		board[c] = ""
		if score > best {
			best = score
		}
		if best > alpha {
			alpha = best
		}
		if alpha >= beta {
			break
		}
	}
	return best
}

func winningCell(board [9]string, mark string) (int, bool) {
	for _, c := range tictactoe.EmptyCells(board) {
		board[c] = mark
		w, _ := tictactoe.Winner(board)
		board[c] = ""
		if w == mark {
			return c, true
		}
	}
	return 0, false
}

func other(mark string) string {
	if mark == tictactoe.X {
		return tictactoe.O
	}
	return tictactoe.X
}
