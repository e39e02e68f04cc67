package models

// ConversationType is the closed set of conversation kinds.
type ConversationType string

const (
	ConversationDirect    ConversationType = "direct"
	ConversationGroup     ConversationType = "group"
	ConversationBroadcast ConversationType = "broadcast"
	ConversationSystem    ConversationType = "system"
)

// Valid reports whether t is a known conversation type.
func (t ConversationType) Valid() bool {
	switch t {
	case ConversationDirect, ConversationGroup, ConversationBroadcast, ConversationSystem:
		return true
	}
	return false
}

// Conversation is the stored conversation record. Aggregate fields
// (LastMessageTS, LastActivityTS, TotalMessages, Preview) are owned by
// the engine and never taken from client input.
type Conversation struct {
	ID    string           `json:"id"`
	Type  ConversationType `json:"type"`
	Title string           `json:"title,omitempty"`
	// Participants is an ordered set of opaque identity ids; unique per
	// conversation, exactly two for direct conversations.
	Participants []string `json:"participants"`
	CreatedBy    string   `json:"created_by"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts"`

	Archived         bool `json:"is_archived,omitempty"`
	Pinned           bool `json:"is_pinned,omitempty"`
	Private          bool `json:"is_private,omitempty"`
	AllowFileSharing bool `json:"allow_file_sharing,omitempty"`

	LastMessageTS  int64  `json:"last_message_ts,omitempty"`
	LastActivityTS int64  `json:"last_activity_ts,omitempty"`
	TotalMessages  uint64 `json:"total_messages"`
	// Preview holds a truncated copy of the latest message content for
	// list rendering and search.
	Preview string `json:"preview,omitempty"`
}

// HasParticipant reports whether id is a current participant.
func (c *Conversation) HasParticipant(id string) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Recipients returns all participants except sender, preserving order.
func (c *Conversation) Recipients(sender string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != sender {
			out = append(out, p)
		}
	}
	return out
}

// ConversationFlags carries optional flag updates; nil fields are left
// untouched.
type ConversationFlags struct {
	Archived         *bool `json:"is_archived,omitempty"`
	Pinned           *bool `json:"is_pinned,omitempty"`
	Private          *bool `json:"is_private,omitempty"`
	AllowFileSharing *bool `json:"allow_file_sharing,omitempty"`
}
