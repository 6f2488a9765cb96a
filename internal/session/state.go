package session

import (
	"time"

	"promptcraft/internal/domain"
	"promptcraft/internal/tokenizer"
)

// State is the pending-operation marker of a session.
type State string

const (
	StateIdle           State = "idle"
	StateRefiningPrompt State = "refining_prompt"
	StateSynthesizing   State = "synthesizing"
	StateCritiquing     State = "critiquing"
	StateRefiningImage  State = "refining_image"
)

// EventType classifies published events.
type EventType string

const (
	EventState     EventType = "state"
	EventPrompt    EventType = "prompt"
	EventImage     EventType = "image"
	EventSelection EventType = "selection"
	EventCritique  EventType = "critique"
	EventElapsed   EventType = "elapsed"
	EventError     EventType = "error"
)

// Event is delivered to observers on every visible change.
type Event struct {
	Type      EventType         `json:"type"`
	SessionID string            `json:"session_id"`
	State     State             `json:"state"`
	Action    string            `json:"action,omitempty"`
	Prompt    string            `json:"prompt,omitempty"`
	Tokens    *tokenizer.Report `json:"tokens,omitempty"`
	Image     *domain.ImageRef  `json:"image,omitempty"`
	Index     int               `json:"index"`
	Text      string            `json:"text,omitempty"`
	ElapsedMS int64             `json:"elapsed_ms,omitempty"`
	Error     string            `json:"error,omitempty"`
	At        time.Time         `json:"at"`
}

// Snapshot is a consistent copy of a session's state.
type Snapshot struct {
	ID        string            `json:"id"`
	State     State             `json:"state"`
	Action    string            `json:"action,omitempty"`
	Seed      string            `json:"seed"`
	Style     domain.Style      `json:"style"`
	Prompt    string            `json:"prompt"`
	Tokens    tokenizer.Report  `json:"tokens"`
	History   []domain.ImageRef `json:"history"`
	Selected  int               `json:"selected"`
	Current   *domain.ImageRef  `json:"current,omitempty"`
	Critique  string            `json:"critique,omitempty"`
	LastError string            `json:"last_error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// TextCheck is the outcome of a rendered-text check.
type TextCheck struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}
