package engine

import (
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"converse/pkg/logger"
	"converse/pkg/models"
	"converse/pkg/store"
	"converse/pkg/telemetry"
	"converse/pkg/utils"
	"converse/pkg/validation"
)

const previewRunes = 120

// AppendRequest carries the inputs of a send.
type AppendRequest struct {
	Conversation string
	Type         models.MessageType
	Content      string
	ReplyTo      string
	Attachments  []models.Attachment
	Mentions     []string
	// IdempotencyKey deduplicates client retries after a network
	// ambiguity; the same key returns the originally stored message.
	IdempotencyKey string
}

func preview(m models.Message) string {
	switch m.Type {
	case models.MessageFile, models.MessageImage:
		if len(m.Attachments) > 0 && m.Attachments[0].FileName != "" {
			return m.Attachments[0].FileName
		}
		return "[attachment]"
	}
	if utf8.RuneCountInString(m.Content) <= previewRunes {
		return m.Content
	}
	r := []rune(m.Content)
	return string(r[:previewRunes])
}

// Append validates, orders and durably stores a new message, updating
// the conversation aggregates and unread counters in the same batch,
// then hands fan-out to the notifier. Once Commit returns the send has
// succeeded regardless of delivery outcome.
func (e *Engine) Append(sender string, req AppendRequest) (models.Message, error) {
	var m models.Message

	mu := e.locks.lock(req.Conversation)
	defer mu.Unlock()

	c, err := store.GetConversation(req.Conversation)
	if err != nil {
		return m, err
	}
	if !c.HasParticipant(sender) {
		return m, models.ErrForbidden
	}

	if req.IdempotencyKey != "" {
		if msgID, ok, err := store.GetIdempotency(c.ID, sender, req.IdempotencyKey); err != nil {
			return m, err
		} else if ok {
			prev, err := store.GetMessage(msgID)
			if err != nil {
				return m, err
			}
			logger.Debug("append_deduplicated",
				zap.String("conversation", c.ID),
				zap.String("message", msgID),
			)
			return prev, nil
		}
	}

	if len(req.Attachments) > 0 && !c.AllowFileSharing {
		return m, fmt.Errorf("%w: file sharing disabled for conversation", models.ErrForbidden)
	}
	if req.ReplyTo != "" {
		ref, err := store.GetMessage(req.ReplyTo)
		if err != nil || ref.Conversation != c.ID {
			return m, fmt.Errorf("%w: reply_to %q does not resolve in conversation", models.ErrInvalidReference, req.ReplyTo)
		}
	}
	for _, u := range req.Mentions {
		if !c.HasParticipant(u) {
			return m, fmt.Errorf("%w: mentioned user %q is not a participant", models.ErrInvalidReference, u)
		}
	}

	// created_at is strictly increasing inside a conversation even if
	// the wall clock stalls.
	ts := time.Now().UTC().UnixNano()
	if ts <= c.LastMessageTS {
		ts = c.LastMessageTS + 1
	}
	m = models.Message{
		ID:           utils.GenMessageID(),
		Conversation: c.ID,
		Sender:       sender,
		Type:         req.Type,
		Status:       models.StatusSent,
		Content:      req.Content,
		ReplyTo:      req.ReplyTo,
		Attachments:  req.Attachments,
		Mentions:     dedupe(req.Mentions),
		Seq:          c.TotalMessages + 1,
		CreatedTS:    ts,
		UpdatedTS:    ts,
	}
	if err := validation.ValidateMessage(m); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", models.ErrSendFailed, err)
	}

	c.TotalMessages = m.Seq
	c.LastMessageTS = ts
	c.LastActivityTS = ts
	c.Preview = preview(m)

	txn, err := store.NewTxn()
	if err != nil {
		return models.Message{}, err
	}
	commit := func() error {
		if err := txn.SaveMessage(m); err != nil {
			return err
		}
		if err := txn.SaveVersion(m); err != nil {
			return err
		}
		if err := txn.SaveConversation(c); err != nil {
			return err
		}
		for _, p := range c.Recipients(sender) {
			n, err := store.GetUnread(c.ID, p)
			if err != nil {
				return err
			}
			if err := txn.SetUnread(c.ID, p, n+1); err != nil {
				return err
			}
		}
		if req.IdempotencyKey != "" {
			if err := txn.SaveIdempotency(c.ID, sender, req.IdempotencyKey, m.ID); err != nil {
				return err
			}
		}
		return txn.Commit()
	}
	if err := commit(); err != nil {
		txn.Discard()
		return models.Message{}, fmt.Errorf("%w: %v", models.ErrSendFailed, err)
	}

	telemetry.MessagesSent.Inc()
	logger.Info("message_appended",
		zap.String("conversation", c.ID),
		zap.String("message", m.ID),
		zap.Uint64("seq", m.Seq),
	)
	e.notifier.Notify(c.ID, m.ID, c.Recipients(sender))
	return m, nil
}

// Edit replaces the displayed content of the actor's own message.
// Deleted messages cannot be edited and report NotFound so they never
// resurface.
func (e *Engine) Edit(actor, msgID, newContent string) (models.Message, error) {
	var zero models.Message
	probe, err := store.GetMessage(msgID)
	if err != nil {
		return zero, err
	}

	mu := e.locks.lock(probe.Conversation)
	defer mu.Unlock()

	m, err := store.GetMessage(msgID)
	if err != nil {
		return zero, err
	}
	if m.Deleted {
		return zero, models.ErrNotFound
	}
	if m.Sender != actor {
		return zero, models.ErrForbidden
	}
	m.Content = newContent
	m.Edited = true
	now := time.Now().UTC().UnixNano()
	m.EditedTS = now
	m.UpdatedTS = now
	if err := validation.ValidateMessage(m); err != nil {
		return zero, fmt.Errorf("%w: %v", models.ErrSendFailed, err)
	}

	txn, err := store.NewTxn()
	if err != nil {
		return zero, err
	}
	if err := txn.SaveMessage(m); err != nil {
		txn.Discard()
		return zero, err
	}
	if err := txn.SaveVersion(m); err != nil {
		txn.Discard()
		return zero, err
	}
	c, err := store.GetConversation(m.Conversation)
	if err != nil {
		txn.Discard()
		return zero, err
	}
	if m.Seq == c.TotalMessages {
		c.Preview = preview(m)
		if err := txn.SaveConversation(c); err != nil {
			txn.Discard()
			return zero, err
		}
	}
	if err := txn.Commit(); err != nil {
		return zero, err
	}
	telemetry.MessagesEdited.Inc()
	logger.Info("message_edited", zap.String("message", m.ID), zap.String("actor", actor))
	return m, nil
}

// SoftDelete hides a message's content while preserving its place in
// the ordering. Only the sender or the conversation creator may delete.
// Recipients who had not read the message get their unread counter
// decremented; deleting twice is a no-op.
func (e *Engine) SoftDelete(actor, msgID string) error {
	probe, err := store.GetMessage(msgID)
	if err != nil {
		return err
	}

	mu := e.locks.lock(probe.Conversation)
	defer mu.Unlock()

	m, err := store.GetMessage(msgID)
	if err != nil {
		return err
	}
	if m.Deleted {
		return nil
	}
	c, err := store.GetConversation(m.Conversation)
	if err != nil {
		return err
	}
	if actor != m.Sender && actor != c.CreatedBy {
		return models.ErrForbidden
	}

	m.Deleted = true
	m.UpdatedTS = time.Now().UTC().UnixNano()

	txn, err := store.NewTxn()
	if err != nil {
		return err
	}
	commit := func() error {
		if err := txn.SaveMessage(m); err != nil {
			return err
		}
		if err := txn.SaveVersion(m); err != nil {
			return err
		}
		for _, p := range c.Recipients(m.Sender) {
			read, err := store.HasReadReceipt(m.ID, p)
			if err != nil {
				return err
			}
			if read {
				continue
			}
			n, err := store.GetUnread(c.ID, p)
			if err != nil {
				return err
			}
			if n > 0 {
				if err := txn.SetUnread(c.ID, p, n-1); err != nil {
					return err
				}
			}
		}
		if m.Seq == c.TotalMessages {
			c.Preview = ""
			if err := txn.SaveConversation(c); err != nil {
				return err
			}
		}
		return txn.Commit()
	}
	if err := commit(); err != nil {
		txn.Discard()
		return err
	}
	telemetry.MessagesDeleted.Inc()
	logger.Info("message_deleted", zap.String("message", m.ID), zap.String("actor", actor))
	return nil
}

// Pin toggles the pinned flag on a message. Any participant may pin.
func (e *Engine) Pin(actor, msgID string, pinned bool) (models.Message, error) {
	var zero models.Message
	probe, err := store.GetMessage(msgID)
	if err != nil {
		return zero, err
	}

	mu := e.locks.lock(probe.Conversation)
	defer mu.Unlock()

	m, err := store.GetMessage(msgID)
	if err != nil {
		return zero, err
	}
	if m.Deleted {
		return zero, models.ErrNotFound
	}
	c, err := store.GetConversation(m.Conversation)
	if err != nil {
		return zero, err
	}
	if !c.HasParticipant(actor) {
		return zero, models.ErrForbidden
	}
	if m.Pinned == pinned {
		return m, nil
	}
	m.Pinned = pinned
	m.UpdatedTS = time.Now().UTC().UnixNano()

	txn, err := store.NewTxn()
	if err != nil {
		return zero, err
	}
	if err := txn.SaveMessage(m); err != nil {
		txn.Discard()
		return zero, err
	}
	if err := txn.SaveVersion(m); err != nil {
		txn.Discard()
		return zero, err
	}
	if err := txn.Commit(); err != nil {
		return zero, err
	}
	logger.Info("message_pin_toggled", zap.String("message", m.ID), zap.Bool("pinned", pinned))
	return m, nil
}

// ListMessages returns a cursor page of a conversation's messages in
// ascending order. Exactly one of afterID/beforeID may be set; both
// empty starts from the beginning. Deleted messages appear redacted.
func (e *Engine) ListMessages(actor, convID, afterID, beforeID string, limit int) ([]models.Message, error) {
	c, err := store.GetConversation(convID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(actor) {
		return nil, models.ErrForbidden
	}
	if afterID != "" && beforeID != "" {
		return nil, fmt.Errorf("%w: after and before cursors are mutually exclusive", models.ErrInvalidReference)
	}

	cursorSeq := func(id string) (uint64, error) {
		cm, err := store.GetMessage(id)
		if err != nil || cm.Conversation != convID {
			return 0, fmt.Errorf("%w: cursor %q does not resolve in conversation", models.ErrInvalidReference, id)
		}
		return cm.Seq, nil
	}

	var msgs []models.Message
	switch {
	case beforeID != "":
		seq, err := cursorSeq(beforeID)
		if err != nil {
			return nil, err
		}
		msgs, err = store.ListMessagesBefore(convID, seq, limit)
		if err != nil {
			return nil, err
		}
	default:
		var after uint64
		if afterID != "" {
			after, err = cursorSeq(afterID)
			if err != nil {
				return nil, err
			}
		}
		msgs, err = store.ListMessages(convID, after, limit)
		if err != nil {
			return nil, err
		}
	}
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Redacted())
	}
	return out, nil
}

// GetMessage returns a single message visible to the actor.
func (e *Engine) GetMessage(actor, msgID string) (models.Message, error) {
	m, err := store.GetMessage(msgID)
	if err != nil {
		return m, err
	}
	c, err := store.GetConversation(m.Conversation)
	if err != nil {
		return models.Message{}, err
	}
	if !c.HasParticipant(actor) {
		return models.Message{}, models.ErrForbidden
	}
	return m.Redacted(), nil
}

// ListVersions returns the stored mutation history of a message for
// audit display. Participants only.
func (e *Engine) ListVersions(actor, msgID string) ([]models.Message, error) {
	m, err := store.GetMessage(msgID)
	if err != nil {
		return nil, err
	}
	c, err := store.GetConversation(m.Conversation)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(actor) {
		return nil, models.ErrForbidden
	}
	return store.ListVersions(msgID)
}
