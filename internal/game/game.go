package game

import (
	"encoding/json"
	"strings"
	"time"
)

// Type is the closed set of supported game types.
type Type string

const (
	TicTacToe        Type = "tic_tac_toe"
	ConnectFour      Type = "connect_four"
	Poll             Type = "poll"
	WouldYouRather   Type = "would_you_rather"
	QuestionOfTheDay Type = "question_of_the_day"
	StoryChain       Type = "story_chain"
	RateThis         Type = "rate_this"
)

// Types lists every supported type tag.
var Types = []Type{TicTacToe, ConnectFour, Poll, WouldYouRather, QuestionOfTheDay, StoryChain, RateThis}

// Known reports whether t is one of the supported tags.
func (t Type) Known() bool {
	for _, k := range Types {
		if k == t {
			return true
		}
	}
	return false
}

// Status is the game lifecycle.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further actions are accepted.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusFinished, StatusCancelled:
		return true
	}
	return false
}

// Role is a participant's relation to a game.
type Role string

const (
	RoleOwner  Role = "owner"
	RolePlayer Role = "player"
	RoleViewer Role = "viewer"
)

// Game is one game instance scoped to a group.
type Game struct {
	ID          string          `json:"id"`
	GroupID     string          `json:"group_id"`
	Type        Type            `json:"type"`
	Status      Status          `json:"status"`
	CreatedBy   string          `json:"created_by"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Participant links a user to a game.
type Participant struct {
	ID       string    `json:"id"`
	GameID   string    `json:"game_id"`
	UserID   string    `json:"user_id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// Event is an immutable record of an accepted transition.
type Event struct {
	ID        string          `json:"id"`
	GameID    string          `json:"game_id"`
	Seq       int64           `json:"seq"`
	UserID    *string         `json:"user_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Action is a user's intent to change a game.
type Action struct {
	Type    string          `json:"event_type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outcome is the result of a terminal check.
type Outcome struct {
	Finished bool   `json:"finished"`
	Winner   string `json:"winner,omitempty"`
	Draw     bool   `json:"draw,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Difficulty selects an AI opponent's strength.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// Valid reports whether d is a known difficulty.
func (d Difficulty) Valid() bool {
	return d == Easy || d == Medium || d == Hard
}

const aiPrefix = "ai:"

// AIUserID is the participant id used for an AI opponent of difficulty d.
func AIUserID(d Difficulty) string {
	return aiPrefix + string(d)
}

// AIDifficulty reports whether userID belongs to a registered AI opponent.
func AIDifficulty(userID string) (Difficulty, bool) {
	if !strings.HasPrefix(userID, aiPrefix) {
		return "", false
	}
	d := Difficulty(strings.TrimPrefix(userID, aiPrefix))
	return d, d.Valid()
}
