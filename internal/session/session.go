package session

import (
	"encoding/json"

	"groupgames/internal/game"
)

// CreateRequest is the input to Manager.Create.
type CreateRequest struct {
	GroupID     string          `json:"group_id"`
	Type        game.Type       `json:"type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Status      game.Status     `json:"status,omitempty"`
}

// ActionRequest is the input to Manager.Action. Status and MetadataPatch are accepted
// for compatibility with clients that send them but are never applied directly.
type ActionRequest struct {
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Status        game.Status     `json:"status,omitempty"`
	MetadataPatch json.RawMessage `json:"metadataPatch,omitempty"`
}

// Detail is a game with its participants and event log.
type Detail struct {
	Game         game.Game          `json:"game"`
	Participants []game.Participant `json:"participants"`
	Events       []game.Event       `json:"events"`
}

// ActionResult is the event an action produced, plus the AI's reply when one was made.
type ActionResult struct {
	Event   game.Event  `json:"event"`
	AIEvent *game.Event `json:"ai_event,omitempty"`
	Game    game.Game   `json:"game"`
}
