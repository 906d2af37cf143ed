package domain

import "time"

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in a conversation.
type Turn struct {
	Role        Role      `json:"role"`
	Text        string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	DisplayName string    `json:"profileName,omitempty"`
}

// UserTurn builds a user turn stamped with the current UTC time.
func UserTurn(text, displayName string) Turn {
	return Turn{Role: RoleUser, Text: text, Timestamp: time.Now().UTC(), DisplayName: displayName}
}

// AssistantTurn builds an assistant turn stamped with the current UTC time.
func AssistantTurn(text string) Turn {
	return Turn{Role: RoleAssistant, Text: text, Timestamp: time.Now().UTC()}
}
