package utils

import "github.com/google/uuid"

// GenMessageID returns a new unique message identifier.
func GenMessageID() string {
	return "msg_" + uuid.NewString()
}

// GenConversationID returns a new unique conversation identifier.
func GenConversationID() string {
	return "conv_" + uuid.NewString()
}
