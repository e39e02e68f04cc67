package engine

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"converse/pkg/logger"
	"converse/pkg/models"
	"converse/pkg/store"
	"converse/pkg/telemetry"
)

// AddReaction attaches an emoji to a message on behalf of the actor.
// Each (user, emoji) pair is stored at most once per message; re-adding
// returns the stored reaction. Deleted messages report NotFound so they
// never resurface through reactions.
func (e *Engine) AddReaction(actor, msgID, emoji string) (models.Reaction, error) {
	var zero models.Reaction
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return zero, fmt.Errorf("%w: empty emoji", models.ErrInvalidReference)
	}

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
	already, err := store.HasReaction(m.ID, actor, emoji)
	if err != nil {
		return zero, err
	}
	r := models.Reaction{Message: m.ID, User: actor, Emoji: emoji, ReactedTS: time.Now().UTC().UnixNano()}
	if already {
		return r, nil
	}

	txn, err := store.NewTxn()
	if err != nil {
		return zero, err
	}
	if err := txn.SaveReaction(r); err != nil {
		txn.Discard()
		return zero, err
	}
	if err := txn.Commit(); err != nil {
		return zero, err
	}
	telemetry.ReactionsAdded.Inc()
	logger.Debug("reaction_added",
		zap.String("message", m.ID),
		zap.String("user", actor),
		zap.String("emoji", emoji),
	)
	return r, nil
}

// RemoveReaction detaches the actor's emoji from a message. Removing a
// reaction that was never added is a no-op.
func (e *Engine) RemoveReaction(actor, msgID, emoji string) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return fmt.Errorf("%w: empty emoji", models.ErrInvalidReference)
	}

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
	c, err := store.GetConversation(m.Conversation)
	if err != nil {
		return err
	}
	if !c.HasParticipant(actor) {
		return models.ErrForbidden
	}

	txn, err := store.NewTxn()
	if err != nil {
		return err
	}
	if err := txn.DeleteReaction(m.ID, actor, emoji); err != nil {
		txn.Discard()
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	logger.Debug("reaction_removed",
		zap.String("message", m.ID),
		zap.String("user", actor),
		zap.String("emoji", emoji),
	)
	return nil
}

// ListReactions returns every reaction on a message. Participants only.
func (e *Engine) ListReactions(actor, msgID string) ([]models.Reaction, error) {
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
	return store.ListReactions(msgID)
}
