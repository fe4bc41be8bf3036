package domain

import (
	"time"
)

// AgentSession is one logical conversation with the agent host process.
// It is created lazily on the first send and destroyed by an explicit clear.
type AgentSession struct {
	ID           string `json:"id"`
	ProviderID   string `json:"provider_id"`
	ModelID      string `json:"model_id"`
	SystemPrompt string `json:"-"`
}

// SessionPrefs is the persisted per-panel-session configuration, loaded once
// at session start and passed explicitly rather than re-read ambiently.
type SessionPrefs struct {
	SessionID    string
	ProviderID   string
	ModelID      string
	AutoExecute  bool
	SystemPrompt string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
