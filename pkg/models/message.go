package models

// MessageType is the closed set of message payload kinds.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageFile     MessageType = "file"
	MessageImage    MessageType = "image"
	MessageSystem   MessageType = "system"
	MessageTemplate MessageType = "template"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageFile, MessageImage, MessageSystem, MessageTemplate:
		return true
	}
	return false
}

// MessageStatus is the delivery state of a message:
// sent -> delivered -> read, with sent -> failed as the error path.
// read and failed are terminal.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Valid reports whether s is a known status.
func (s MessageStatus) Valid() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return true
	}
	return false
}

// rank orders the forward path; failed is handled separately because it
// is only reachable from sent.
func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	case StatusFailed:
		return 3
	}
	return -1
}

// CanAdvance reports whether a transition from s to next is legal.
// Redundant transitions (s == next) are not advances.
func (s MessageStatus) CanAdvance(next MessageStatus) bool {
	if s == next {
		return false
	}
	switch {
	case s == StatusFailed || s == StatusRead:
		return false
	case next == StatusFailed:
		// failed is reserved for send-side errors before any recipient
		// interaction; a delivered message can no longer fail.
		return s == StatusSent
	default:
		return next.rank() > s.rank()
	}
}

// Attachment describes a file or image carried by a message.
type Attachment struct {
	FileURL  string `json:"file_url"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size,omitempty"`
	FileType string `json:"file_type,omitempty"`
}

// Message is the stored message record. Content is append-only in
// spirit: edits replace the displayed content but every mutation also
// appends a version record, so history is retained.
type Message struct {
	ID           string        `json:"id"`
	Conversation string        `json:"conversation"`
	Sender       string        `json:"sender"`
	Type         MessageType   `json:"type"`
	Status       MessageStatus `json:"status"`
	Content      string        `json:"content,omitempty"`
	ReplyTo      string        `json:"reply_to,omitempty"`

	Edited  bool `json:"is_edited,omitempty"`
	Deleted bool `json:"is_deleted,omitempty"`
	Pinned  bool `json:"is_pinned,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`
	Mentions    []string     `json:"mentions,omitempty"`

	// Seq is the 1-based position within the conversation, assigned
	// under the conversation lock; it is the ordering and cursor key.
	Seq       uint64 `json:"seq"`
	CreatedTS int64  `json:"created_ts"`
	EditedTS  int64  `json:"edited_ts,omitempty"`
	UpdatedTS int64  `json:"updated_ts"`
}

// Redacted returns a copy suitable for readback: soft-deleted messages
// keep their place in the ordering but expose no content.
func (m Message) Redacted() Message {
	if !m.Deleted {
		return m
	}
	m.Content = ""
	m.Attachments = nil
	m.Mentions = nil
	return m
}

// ReadReceipt records that user observed a message. Receipts exist only
// for participants other than the sender.
type ReadReceipt struct {
	Message string `json:"message"`
	User    string `json:"user"`
	ReadTS  int64  `json:"read_ts"`
}

// DeliveryReceipt records that the delivery channel handed a message to
// a recipient.
type DeliveryReceipt struct {
	Message     string `json:"message"`
	User        string `json:"user"`
	DeliveredTS int64  `json:"delivered_ts"`
}

// Reaction records an emoji attached to a message by a participant. A
// user may attach each emoji at most once per message.
type Reaction struct {
	Message   string `json:"message"`
	User      string `json:"user"`
	Emoji     string `json:"emoji"`
	ReactedTS int64  `json:"reacted_ts"`
}
