package session

import "time"

// Message is one narrative log entry, written when a turn resolves.
type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	DisplayName string    `json:"displayName"`
	SceneID     string    `json:"sceneId"`
	ChoiceText  string    `json:"choiceText"`
	Body        string    `json:"body"`
	Timestamp   time.Time `json:"timestamp"`
	Edited      bool      `json:"edited"`
}

// StateRequest is the payload a joining Secondary sends to ask for the
// current state.
type StateRequest struct {
	Ask Role `json:"ask"`
}

// Broadcast event names.
const (
	EventStateUpdate  = "state:update"
	EventStateRequest = "state:request"
	EventMsgAdd       = "msg:add"
	EventMsgUpdate    = "msg:update"
)
