package engine

import (
	"time"

	"go.uber.org/zap"

	"converse/pkg/logger"
	"converse/pkg/models"
	"converse/pkg/store"
	"converse/pkg/telemetry"
)

// MarkDelivered records the delivery channel's confirmation that a
// recipient received the message. Redundant confirmations are no-ops.
// The message status advances sent -> delivered on the first
// confirmation; a read or failed message never regresses.
func (e *Engine) MarkDelivered(msgID, recipient string) error {
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
	if recipient == m.Sender || !c.HasParticipant(recipient) {
		return models.ErrForbidden
	}
	already, err := store.HasDeliveryReceipt(m.ID, recipient)
	if err != nil {
		return err
	}
	if already {
		return nil
	}

	txn, err := store.NewTxn()
	if err != nil {
		return err
	}
	r := models.DeliveryReceipt{Message: m.ID, User: recipient, DeliveredTS: time.Now().UTC().UnixNano()}
	if err := txn.SaveDeliveryReceipt(r); err != nil {
		txn.Discard()
		return err
	}
	if m.Status.CanAdvance(models.StatusDelivered) {
		m.Status = models.StatusDelivered
		if err := txn.SaveMessage(m); err != nil {
			txn.Discard()
			return err
		}
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	telemetry.DeliveryConfirmed.Inc()
	logger.Debug("delivery_confirmed", zap.String("message", m.ID), zap.String("user", recipient))
	return nil
}

// readPolicySatisfied reports whether the message counts as read given
// that reader just recorded a receipt. Direct conversations read on any
// recipient; group shapes require every recipient.
func readPolicySatisfied(c models.Conversation, m models.Message, reader string) (bool, error) {
	if c.Type == models.ConversationDirect {
		return true, nil
	}
	for _, p := range c.Recipients(m.Sender) {
		if p == reader {
			continue
		}
		has, err := store.HasReadReceipt(m.ID, p)
		if err != nil {
			return false, err
		}
		if !has {
			return false, nil
		}
	}
	return true, nil
}

// MarkRead records a read receipt for the actor and decrements their
// unread counter in the same batch. The receipt folds the delivered
// step when the channel never confirmed: status may move straight from
// sent to read. Redundant receipts are idempotent no-ops.
func (e *Engine) MarkRead(actor, msgID string) (models.Message, error) {
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
	c, err := store.GetConversation(m.Conversation)
	if err != nil {
		return zero, err
	}
	if actor == m.Sender || !c.HasParticipant(actor) {
		return zero, models.ErrForbidden
	}
	already, err := store.HasReadReceipt(m.ID, actor)
	if err != nil {
		return zero, err
	}
	if already {
		return m.Redacted(), nil
	}

	now := time.Now().UTC().UnixNano()
	txn, err := store.NewTxn()
	if err != nil {
		return zero, err
	}
	commit := func() error {
		if err := txn.SaveReadReceipt(models.ReadReceipt{Message: m.ID, User: actor, ReadTS: now}); err != nil {
			return err
		}
		delivered, err := store.HasDeliveryReceipt(m.ID, actor)
		if err != nil {
			return err
		}
		if !delivered {
			if err := txn.SaveDeliveryReceipt(models.DeliveryReceipt{Message: m.ID, User: actor, DeliveredTS: now}); err != nil {
				return err
			}
		}
		// Deleted messages were already removed from unread accounting
		// when the delete ran.
		if !m.Deleted {
			n, err := store.GetUnread(c.ID, actor)
			if err != nil {
				return err
			}
			if n > 0 {
				if err := txn.SetUnread(c.ID, actor, n-1); err != nil {
					return err
				}
			}
		}
		next := models.StatusDelivered
		done, err := readPolicySatisfied(c, m, actor)
		if err != nil {
			return err
		}
		if done {
			next = models.StatusRead
		}
		if m.Status.CanAdvance(next) {
			m.Status = next
			if err := txn.SaveMessage(m); err != nil {
				return err
			}
		}
		return txn.Commit()
	}
	if err := commit(); err != nil {
		txn.Discard()
		return zero, err
	}
	telemetry.ReadReceipts.Inc()
	logger.Debug("read_receipt_recorded",
		zap.String("message", m.ID),
		zap.String("user", actor),
		zap.String("status", string(m.Status)),
	)
	return m.Redacted(), nil
}

// MarkAllRead records read receipts for every unread non-self message
// in the conversation, oldest first, and returns how many were marked.
func (e *Engine) MarkAllRead(actor, convID string) (int, error) {
	c, err := store.GetConversation(convID)
	if err != nil {
		return 0, err
	}
	if !c.HasParticipant(actor) {
		return 0, models.ErrForbidden
	}
	msgs, err := store.ListMessages(convID, 0, 0)
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, m := range msgs {
		if m.Sender == actor || m.Deleted {
			continue
		}
		has, err := store.HasReadReceipt(m.ID, actor)
		if err != nil {
			return marked, err
		}
		if has {
			continue
		}
		if _, err := e.MarkRead(actor, m.ID); err != nil {
			return marked, err
		}
		marked++
	}
	return marked, nil
}

// MarkFailed moves a message to the terminal failed state. Reserved for
// send-pipeline errors; a delivered or read message is left untouched.
func (e *Engine) MarkFailed(msgID string) error {
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
	if !m.Status.CanAdvance(models.StatusFailed) {
		return nil
	}
	m.Status = models.StatusFailed
	m.UpdatedTS = time.Now().UTC().UnixNano()

	txn, err := store.NewTxn()
	if err != nil {
		return err
	}
	if err := txn.SaveMessage(m); err != nil {
		txn.Discard()
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	logger.Warn("message_failed", zap.String("message", m.ID))
	return nil
}

// ListReadReceipts returns the read receipts of a message for receipt
// display. Participants only.
func (e *Engine) ListReadReceipts(actor, msgID string) ([]models.ReadReceipt, error) {
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
	return store.ListReadReceipts(msgID)
}

// UnreadCounts returns the user's unread counter per conversation plus
// the total across all of them.
func (e *Engine) UnreadCounts(userID string) (map[string]uint64, uint64, error) {
	ids, err := store.ListUserConversationIDs(userID)
	if err != nil {
		return nil, 0, err
	}
	out := make(map[string]uint64, len(ids))
	var total uint64
	for _, id := range ids {
		n, err := store.GetUnread(id, userID)
		if err != nil {
			return nil, 0, err
		}
		out[id] = n
		total += n
	}
	return out, total, nil
}

// ReconcileUnread recomputes every unread counter from message and
// receipt state and repairs any drift. Returns the number of counters
// corrected.
func (e *Engine) ReconcileUnread() (int, error) {
	convs, err := store.ListConversations()
	if err != nil {
		return 0, err
	}
	repairs := 0
	for _, c := range convs {
		n, err := e.reconcileConversation(c.ID)
		if err != nil {
			return repairs, err
		}
		repairs += n
	}
	if repairs > 0 {
		telemetry.ReconcileRepairs.Add(float64(repairs))
		logger.Warn("unread_counters_repaired", zap.Int("repairs", repairs))
	}
	return repairs, nil
}

func (e *Engine) reconcileConversation(convID string) (int, error) {
	mu := e.locks.lock(convID)
	defer mu.Unlock()

	c, err := store.GetConversation(convID)
	if err != nil {
		return 0, err
	}
	msgs, err := store.ListMessages(convID, 0, 0)
	if err != nil {
		return 0, err
	}
	repairs := 0
	for _, p := range c.Participants {
		var want uint64
		for _, m := range msgs {
			if m.Sender == p || m.Deleted {
				continue
			}
			has, err := store.HasReadReceipt(m.ID, p)
			if err != nil {
				return repairs, err
			}
			if !has {
				want++
			}
		}
		got, err := store.GetUnread(convID, p)
		if err != nil {
			return repairs, err
		}
		if got == want {
			continue
		}
		txn, err := store.NewTxn()
		if err != nil {
			return repairs, err
		}
		if err := txn.SetUnread(convID, p, want); err != nil {
			txn.Discard()
			return repairs, err
		}
		if err := txn.Commit(); err != nil {
			return repairs, err
		}
		repairs++
	}

	// Counters may survive for users who left the conversation; those
	// never match any participant above, so sweep them here.
	stored, err := store.ListUnread(convID)
	if err != nil {
		return repairs, err
	}
	for user := range stored {
		if c.HasParticipant(user) {
			continue
		}
		txn, err := store.NewTxn()
		if err != nil {
			return repairs, err
		}
		if err := txn.DeleteUnread(convID, user); err != nil {
			txn.Discard()
			return repairs, err
		}
		if err := txn.Commit(); err != nil {
			return repairs, err
		}
		repairs++
	}
	return repairs, nil
}
