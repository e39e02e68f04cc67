package query

import (
	"testing"
	"time"

	"converse/pkg/directory"
	"converse/pkg/engine"
	"converse/pkg/models"
	"converse/pkg/store"
	"converse/pkg/validation"
)

func init() { validation.SetRules(validation.DefaultRules()) }

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	dir := directory.NewStatic()
	dir.Put("u-alice", directory.Display{Name: "Alice Kovacs", Kind: "user"})
	dir.Put("u-bob", directory.Display{Name: "Bob Tanaka", Kind: "user"})
	dir.Put("u-cleo", directory.Display{Name: "Cleo Martins", Kind: "user"})
	return engine.New(dir, nil)
}

func seed(t *testing.T, e *engine.Engine) (direct, group models.Conversation) {
	t.Helper()
	var err error
	direct, err = e.CreateConversation("u-alice", engine.CreateConversationRequest{
		Type:         models.ConversationDirect,
		Participants: []string{"u-alice", "u-bob"},
	})
	if err != nil {
		t.Fatalf("create direct: %v", err)
	}
	group, err = e.CreateConversation("u-alice", engine.CreateConversationRequest{
		Type:         models.ConversationGroup,
		Participants: []string{"u-alice", "u-bob", "u-cleo"},
		Title:        "Launch plan",
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	return direct, group
}

func msg(sender string, ts int64) models.Message {
	return models.Message{Sender: sender, CreatedTS: ts}
}

func TestGroupBySenderRun(t *testing.T) {
	msgs := []models.Message{msg("A", 1), msg("A", 2), msg("B", 3), msg("A", 4)}
	runs := GroupBySenderRun(msgs)
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if len(runs[0]) != 2 || runs[0][0].Sender != "A" {
		t.Fatalf("first run mismatch: %+v", runs[0])
	}
	if len(runs[1]) != 1 || runs[1][0].Sender != "B" {
		t.Fatalf("second run mismatch: %+v", runs[1])
	}
	if len(runs[2]) != 1 || runs[2][0].Sender != "A" {
		t.Fatalf("third run mismatch: %+v", runs[2])
	}
	if got := GroupBySenderRun(nil); got != nil {
		t.Fatalf("empty input should yield no runs")
	}
}

func TestGroupByCalendarDate(t *testing.T) {
	utcDay := func(day int, hour int) int64 {
		return time.Date(2026, 3, day, hour, 0, 0, 0, time.UTC).UnixNano()
	}
	msgs := []models.Message{
		msg("A", utcDay(1, 10)),
		msg("B", utcDay(1, 23)),
		msg("A", utcDay(2, 1)),
	}

	groups := GroupByCalendarDate(msgs, nil)
	if len(groups) != 2 || groups[0].Date != "2026-03-01" || groups[1].Date != "2026-03-02" {
		t.Fatalf("utc grouping mismatch: %+v", groups)
	}
	if len(groups[0].Messages) != 2 || len(groups[1].Messages) != 1 {
		t.Fatalf("utc bucket sizes mismatch")
	}

	// 23:00 UTC on March 1 is already March 2 in Tokyo; the boundary
	// moves with the zone.
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	groups = GroupByCalendarDate(msgs, tokyo)
	if len(groups) != 2 || len(groups[0].Messages) != 1 || len(groups[1].Messages) != 2 {
		t.Fatalf("tokyo grouping mismatch: %+v", groups)
	}
}

func TestDisplayTitle(t *testing.T) {
	e := newTestEngine(t)
	direct, group := seed(t, e)
	dir := e.Directory()

	if got := DisplayTitle(dir, group, "u-alice"); got != "Launch plan" {
		t.Fatalf("explicit title wins, got %q", got)
	}
	if got := DisplayTitle(dir, direct, "u-alice"); got != "Bob Tanaka" {
		t.Fatalf("direct title should be the counterpart's name, got %q", got)
	}
	if got := DisplayTitle(dir, direct, "u-bob"); got != "Alice Kovacs" {
		t.Fatalf("direct title depends on the viewer, got %q", got)
	}

	// Unknown participants fall back to their raw ID.
	anon := models.Conversation{Type: models.ConversationDirect, Participants: []string{"u-alice", "u-ghost"}}
	if got := DisplayTitle(dir, anon, "u-alice"); got != "u-ghost" {
		t.Fatalf("unknown participant should fall back to the id, got %q", got)
	}
}

func TestListConversationsFilters(t *testing.T) {
	e := newTestEngine(t)
	direct, group := seed(t, e)
	if _, err := e.Append("u-bob", engine.AppendRequest{Conversation: direct.ID, Type: models.MessageText, Content: "ping"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	views, total, err := ListConversations(e, "u-alice", Params{})
	if err != nil || total != 2 || len(views) != 2 {
		t.Fatalf("unfiltered listing mismatch: %d %v", total, err)
	}
	// Newest activity first: the direct conversation got the message.
	if views[0].ID != direct.ID {
		t.Fatalf("expected most recent activity first, got %s", views[0].ID)
	}
	if views[0].Unread != 1 {
		t.Fatalf("view should carry the unread counter, got %d", views[0].Unread)
	}

	views, total, err = ListConversations(e, "u-alice", Params{Filter: FilterUnread})
	if err != nil || total != 1 || views[0].ID != direct.ID {
		t.Fatalf("unread filter mismatch: %d %v", total, err)
	}

	views, total, err = ListConversations(e, "u-alice", Params{Filter: FilterGroup})
	if err != nil || total != 1 || views[0].ID != group.ID {
		t.Fatalf("group filter mismatch: %d %v", total, err)
	}

	if !Filter("unread").Valid() || Filter("starred").Valid() {
		t.Fatalf("filter validity mismatch")
	}
}

func TestListConversationsSearch(t *testing.T) {
	e := newTestEngine(t)
	direct, group := seed(t, e)
	if _, err := e.Append("u-bob", engine.AppendRequest{Conversation: direct.ID, Type: models.MessageText, Content: "quarterly numbers"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Title match.
	views, total, err := ListConversations(e, "u-alice", Params{Search: "launch"})
	if err != nil || total != 1 || views[0].ID != group.ID {
		t.Fatalf("title search mismatch: %d %v", total, err)
	}
	// Participant display-name match hits both conversations.
	_, total, err = ListConversations(e, "u-alice", Params{Search: "tanaka"})
	if err != nil || total != 2 {
		t.Fatalf("name search mismatch: %d %v", total, err)
	}
	// Preview match.
	views, total, err = ListConversations(e, "u-alice", Params{Search: "quarterly"})
	if err != nil || total != 1 || views[0].ID != direct.ID {
		t.Fatalf("preview search mismatch: %d %v", total, err)
	}
	// No match.
	_, total, err = ListConversations(e, "u-alice", Params{Search: "zzz-nothing"})
	if err != nil || total != 0 {
		t.Fatalf("miss search mismatch: %d %v", total, err)
	}
}

func TestListConversationsPagination(t *testing.T) {
	e := newTestEngine(t)
	for i := 0; i < 5; i++ {
		if _, err := e.CreateConversation("u-alice", engine.CreateConversationRequest{
			Type:         models.ConversationGroup,
			Participants: []string{"u-alice", "u-bob"},
			Title:        "room",
		}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	page1, total, err := ListConversations(e, "u-alice", Params{Page: 1, PerPage: 2})
	if err != nil || total != 5 || len(page1) != 2 {
		t.Fatalf("page 1 mismatch: total %d len %d %v", total, len(page1), err)
	}
	page3, total, err := ListConversations(e, "u-alice", Params{Page: 3, PerPage: 2})
	if err != nil || total != 5 || len(page3) != 1 {
		t.Fatalf("last page mismatch: total %d len %d %v", total, len(page3), err)
	}
	empty, total, err := ListConversations(e, "u-alice", Params{Page: 9, PerPage: 2})
	if err != nil || total != 5 || len(empty) != 0 {
		t.Fatalf("past-the-end page should be empty: %d %v", len(empty), err)
	}

	// Concatenated pages equal the unpaginated listing.
	full, _, err := ListConversations(e, "u-alice", Params{PerPage: 100})
	if err != nil {
		t.Fatalf("full listing: %v", err)
	}
	var joined []ConversationView
	for p := 1; ; p++ {
		page, _, err := ListConversations(e, "u-alice", Params{Page: p, PerPage: 2})
		if err != nil {
			t.Fatalf("page %d: %v", p, err)
		}
		if len(page) == 0 {
			break
		}
		joined = append(joined, page...)
	}
	if len(joined) != len(full) {
		t.Fatalf("page concat length %d != %d", len(joined), len(full))
	}
	for i := range full {
		if joined[i].ID != full[i].ID {
			t.Fatalf("page concat diverges at %d", i)
		}
	}
}
