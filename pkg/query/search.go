package query

import (
	"fmt"
	"sort"
	"strings"

	"converse/pkg/engine"
	"converse/pkg/models"
)

const defaultSearchLimit = 50

// SearchParams carries the message-search inputs.
type SearchParams struct {
	// Conversation scopes the search to a single conversation when set.
	Conversation string
	Term         string
	Limit        int
}

// SearchMessages finds messages whose content contains the term,
// case-insensitively, across every conversation the user belongs to (or
// the one named in params). Deleted messages never match. Results come
// newest first, capped at the limit (50 by default).
func SearchMessages(e *engine.Engine, userID string, p SearchParams) ([]models.Message, error) {
	term := strings.TrimSpace(p.Term)
	if term == "" {
		return nil, fmt.Errorf("%w: empty search term", models.ErrInvalidReference)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var convIDs []string
	if p.Conversation != "" {
		c, err := e.GetConversation(userID, p.Conversation)
		if err != nil {
			return nil, err
		}
		convIDs = []string{c.ID}
	} else {
		convs, err := e.ListConversationsForUser(userID)
		if err != nil {
			return nil, err
		}
		for _, c := range convs {
			convIDs = append(convIDs, c.ID)
		}
	}

	needle := strings.ToLower(term)
	var hits []models.Message
	for _, id := range convIDs {
		msgs, err := e.ListMessages(userID, id, "", "", 0)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			if m.Deleted {
				continue
			}
			if strings.Contains(strings.ToLower(m.Content), needle) {
				hits = append(hits, m)
			}
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].CreatedTS > hits[j].CreatedTS })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
