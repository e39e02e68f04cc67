package validation

import (
	"strings"
	"testing"

	"converse/pkg/models"
)

func init() { SetRules(DefaultRules()) }

func base() models.Message {
	return models.Message{
		ID:           "msg_1",
		Conversation: "conv_1",
		Sender:       "u1",
		Type:         models.MessageText,
		Content:      "hello",
	}
}

func TestValidateMessageOK(t *testing.T) {
	if err := ValidateMessage(base()); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
}

func TestTextRequiresContent(t *testing.T) {
	m := base()
	m.Content = "  "
	err := ValidateMessage(m)
	if err == nil || !strings.Contains(err.Error(), "content is required") {
		t.Fatalf("expected content error, got %v", err)
	}
}

func TestAttachmentsOnlyOnFileMessages(t *testing.T) {
	m := base()
	m.Attachments = []models.Attachment{{FileURL: "https://x/f.pdf", FileName: "f.pdf"}}
	if err := ValidateMessage(m); err == nil {
		t.Fatalf("attachments on a text message should fail")
	}
	m.Type = models.MessageFile
	m.Content = ""
	if err := ValidateMessage(m); err != nil {
		t.Fatalf("file message with attachment should pass, got %v", err)
	}
}

func TestFileRequiresAttachmentURL(t *testing.T) {
	m := base()
	m.Type = models.MessageFile
	m.Content = ""
	m.Attachments = nil
	if err := ValidateMessage(m); err == nil {
		t.Fatalf("file message without attachment url should fail")
	}
}

func TestUnknownType(t *testing.T) {
	m := base()
	m.Type = "carrier-pigeon"
	if err := ValidateMessage(m); err == nil {
		t.Fatalf("unknown message type should fail")
	}
}

func TestMaxContentLength(t *testing.T) {
	m := base()
	m.Content = strings.Repeat("x", 65537)
	if err := ValidateMessage(m); err == nil {
		t.Fatalf("oversized content should fail")
	}
}
