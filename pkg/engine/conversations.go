package engine

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"converse/pkg/logger"
	"converse/pkg/models"
	"converse/pkg/store"
	"converse/pkg/utils"
)

// CreateConversationRequest carries the inputs of an explicit create.
type CreateConversationRequest struct {
	Type         models.ConversationType
	Participants []string
	Title        string
	// Strict rejects a duplicate direct conversation instead of
	// returning the existing one.
	Strict bool
}

func dedupe(ids []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// directPairKey is a stable identity for a direct conversation's pair.
func directPairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// CreateConversation validates and persists a new conversation. The
// actor is always a participant; a missing actor entry is added. Direct
// creates are idempotent: the existing active conversation between the
// pair is returned unless req.Strict is set, in which case
// ErrDuplicateDirectConversation is returned.
func (e *Engine) CreateConversation(actor string, req CreateConversationRequest) (models.Conversation, error) {
	var c models.Conversation
	if !req.Type.Valid() {
		return c, fmt.Errorf("%w: unknown conversation type %q", models.ErrInvalidParticipants, req.Type)
	}
	parts := dedupe(req.Participants)
	if len(parts) == 0 {
		return c, fmt.Errorf("%w: empty participant set", models.ErrInvalidParticipants)
	}
	has := false
	for _, p := range parts {
		if p == actor {
			has = true
			break
		}
	}
	if !has {
		parts = append([]string{actor}, parts...)
	}
	if req.Type == models.ConversationDirect {
		if len(parts) != 2 {
			return c, fmt.Errorf("%w: direct conversations need exactly two distinct participants", models.ErrInvalidParticipants)
		}
		if req.Title != "" {
			return c, fmt.Errorf("%w: direct conversations carry no title", models.ErrInvalidParticipants)
		}
		existing, err := e.findActiveDirect(parts[0], parts[1])
		if err != nil {
			return c, err
		}
		if existing != nil {
			if req.Strict {
				return c, models.ErrDuplicateDirectConversation
			}
			return *existing, nil
		}
	}

	now := time.Now().UTC().UnixNano()
	c = models.Conversation{
		ID:             utils.GenConversationID(),
		Type:           req.Type,
		Title:          req.Title,
		Participants:   parts,
		CreatedBy:      actor,
		CreatedTS:      now,
		LastActivityTS: now,
	}

	txn, err := store.NewTxn()
	if err != nil {
		return c, err
	}
	if err := txn.SaveConversation(c); err != nil {
		txn.Discard()
		return c, err
	}
	for _, p := range parts {
		if err := txn.AddUserConversation(p, c.ID); err != nil {
			txn.Discard()
			return c, err
		}
	}
	if err := txn.Commit(); err != nil {
		return c, err
	}
	logger.Info("conversation_created",
		zap.String("conversation", c.ID),
		zap.String("type", string(c.Type)),
		zap.Int("participants", len(parts)),
	)
	return c, nil
}

// findActiveDirect returns the non-archived direct conversation between
// a and b, or nil when none exists.
func (e *Engine) findActiveDirect(a, b string) (*models.Conversation, error) {
	ids, err := store.ListUserConversationIDs(a)
	if err != nil {
		return nil, err
	}
	want := directPairKey(a, b)
	for _, id := range ids {
		c, err := store.GetConversation(id)
		if err != nil {
			return nil, err
		}
		if c.Type != models.ConversationDirect || c.Archived || len(c.Participants) != 2 {
			continue
		}
		if directPairKey(c.Participants[0], c.Participants[1]) == want {
			return &c, nil
		}
	}
	return nil, nil
}

// GetConversation returns the conversation when the actor belongs to it.
func (e *Engine) GetConversation(actor, convID string) (models.Conversation, error) {
	c, err := store.GetConversation(convID)
	if err != nil {
		return c, err
	}
	if !c.HasParticipant(actor) {
		return models.Conversation{}, models.ErrForbidden
	}
	return c, nil
}

// ListConversationsForUser returns the user's conversations ordered by
// last activity, newest first. Filtering and search live in the query
// layer.
func (e *Engine) ListConversationsForUser(userID string) ([]models.Conversation, error) {
	ids, err := store.ListUserConversationIDs(userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := store.GetConversation(id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivityTS > out[j].LastActivityTS
	})
	return out, nil
}

// UpdateFlags applies the non-nil flag changes. Only participants may
// mutate flags.
func (e *Engine) UpdateFlags(actor, convID string, flags models.ConversationFlags) (models.Conversation, error) {
	mu := e.locks.lock(convID)
	defer mu.Unlock()

	c, err := store.GetConversation(convID)
	if err != nil {
		return c, err
	}
	if !c.HasParticipant(actor) {
		return models.Conversation{}, models.ErrForbidden
	}
	if flags.Archived != nil {
		c.Archived = *flags.Archived
	}
	if flags.Pinned != nil {
		c.Pinned = *flags.Pinned
	}
	if flags.Private != nil {
		c.Private = *flags.Private
	}
	if flags.AllowFileSharing != nil {
		c.AllowFileSharing = *flags.AllowFileSharing
	}
	c.LastActivityTS = time.Now().UTC().UnixNano()

	txn, err := store.NewTxn()
	if err != nil {
		return c, err
	}
	if err := txn.SaveConversation(c); err != nil {
		txn.Discard()
		return c, err
	}
	if err := txn.Commit(); err != nil {
		return c, err
	}
	logger.Info("conversation_flags_updated", zap.String("conversation", c.ID), zap.String("actor", actor))
	return c, nil
}
