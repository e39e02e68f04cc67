// Package query is the pure read-side composition over the engine:
// conversation filtering, search and pagination, plus the grouping
// helpers presentation relies on. It holds no state of its own; every
// call is reproducible from the same store snapshot.
package query

import (
	"strings"

	"converse/pkg/directory"
	"converse/pkg/engine"
	"converse/pkg/models"
)

// Filter selects which conversations a listing returns.
type Filter string

const (
	FilterAll    Filter = "all"
	FilterUnread Filter = "unread"
	FilterGroup  Filter = "group"
)

// Valid reports whether f is a known filter; empty means all.
func (f Filter) Valid() bool {
	switch f {
	case "", FilterAll, FilterUnread, FilterGroup:
		return true
	}
	return false
}

// Params carries the caller-supplied listing inputs.
type Params struct {
	Filter  Filter
	Search  string
	Page    int
	PerPage int
}

// ConversationView is a conversation enriched for presentation.
type ConversationView struct {
	models.Conversation
	DisplayTitle string `json:"display_title"`
	Unread       uint64 `json:"unread"`
}

func resolveName(dir directory.Directory, id string) string {
	if dir != nil {
		if d, ok := dir.ResolveDisplay(id); ok && d.Name != "" {
			return d.Name
		}
	}
	return id
}

// DisplayTitle derives the title shown for a conversation: the explicit
// title when present, the counterpart's name for direct conversations,
// and the joined participant names otherwise.
func DisplayTitle(dir directory.Directory, c models.Conversation, viewer string) string {
	if c.Title != "" {
		return c.Title
	}
	names := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p == viewer {
			continue
		}
		names = append(names, resolveName(dir, p))
	}
	if len(names) == 0 {
		return resolveName(dir, viewer)
	}
	return strings.Join(names, ", ")
}

func matches(dir directory.Directory, c models.Conversation, term string) bool {
	term = strings.ToLower(term)
	if strings.Contains(strings.ToLower(c.Title), term) {
		return true
	}
	if strings.Contains(strings.ToLower(c.Preview), term) {
		return true
	}
	for _, p := range c.Participants {
		if strings.Contains(strings.ToLower(resolveName(dir, p)), term) {
			return true
		}
	}
	return false
}

// ListConversations applies filter, search and pagination on top of the
// engine's per-user listing. It returns the page plus the total number
// of conversations matching before pagination.
func ListConversations(e *engine.Engine, userID string, p Params) ([]ConversationView, int, error) {
	convs, err := e.ListConversationsForUser(userID)
	if err != nil {
		return nil, 0, err
	}
	dir := e.Directory()
	counts, _, err := e.UnreadCounts(userID)
	if err != nil {
		return nil, 0, err
	}

	views := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		unread := counts[c.ID]
		switch p.Filter {
		case FilterUnread:
			if unread == 0 {
				continue
			}
		case FilterGroup:
			if c.Type != models.ConversationGroup {
				continue
			}
		}
		if p.Search != "" && !matches(dir, c, p.Search) {
			continue
		}
		views = append(views, ConversationView{
			Conversation: c,
			DisplayTitle: DisplayTitle(dir, c, userID),
			Unread:       unread,
		})
	}

	total := len(views)
	page := p.Page
	if page < 1 {
		page = 1
	}
	per := p.PerPage
	if per < 1 {
		per = 20
	}
	lo := (page - 1) * per
	if lo >= total {
		return []ConversationView{}, total, nil
	}
	hi := lo + per
	if hi > total {
		hi = total
	}
	return views[lo:hi], total, nil
}
