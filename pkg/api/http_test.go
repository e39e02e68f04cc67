package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"converse/pkg/auth"
	"converse/pkg/config"
	"converse/pkg/engine"
	"converse/pkg/models"
	"converse/pkg/store"
	"converse/pkg/validation"
)

func init() { validation.SetRules(validation.DefaultRules()) }

func newTestServer(t *testing.T) (http.Handler, *engine.Engine) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	eng := engine.New(nil, nil)
	return auth.RequireSignedUser(Router(eng, nil)), eng
}

// do issues a request as a backend caller acting for user. The gateway
// normally stamps X-Role-Name after key verification; tests set it
// directly.
func do(t *testing.T, h http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Role-Name", "backend")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func createDirect(t *testing.T, h http.Handler) models.Conversation {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/v1/conversations", "u1", map[string]any{
		"type":         "direct",
		"participants": []string{"u1", "u2"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create conversation: %d %s", rec.Code, rec.Body.String())
	}
	return decode[models.Conversation](t, rec)
}

func TestHealthEndpoints(t *testing.T) {
	h, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Role-Name", "backend")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set("X-Role-Name", "backend")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz with open store: %d", rec.Code)
	}
}

func TestConversationLifecycle(t *testing.T) {
	h, _ := newTestServer(t)
	c := createDirect(t, h)
	if c.ID == "" || c.Type != models.ConversationDirect {
		t.Fatalf("unexpected conversation: %+v", c)
	}

	rec := do(t, h, http.MethodGet, "/v1/conversations/"+c.ID, "u2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get as participant: %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/v1/conversations/"+c.ID, "stranger", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("get as outsider should be 403, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/v1/conversations/conv_missing", "u1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing conversation should be 404, got %d", rec.Code)
	}

	// Strict duplicate direct create conflicts.
	rec = do(t, h, http.MethodPost, "/v1/conversations", "u1", map[string]any{
		"type":         "direct",
		"participants": []string{"u1", "u2"},
		"strict":       true,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("strict duplicate should be 409, got %d %s", rec.Code, rec.Body.String())
	}

	// Invalid participant sets are rejected.
	rec = do(t, h, http.MethodPost, "/v1/conversations", "u1", map[string]any{
		"type":         "direct",
		"participants": []string{"u1", "u2", "u3"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid direct should be 400, got %d", rec.Code)
	}
}

func TestMessageLifecycle(t *testing.T) {
	h, _ := newTestServer(t)
	c := createDirect(t, h)

	rec := do(t, h, http.MethodPost, "/v1/conversations/"+c.ID+"/messages", "u1", map[string]any{
		"content": "hello",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", rec.Code, rec.Body.String())
	}
	m := decode[models.Message](t, rec)
	if m.Status != models.StatusSent || m.Seq != 1 {
		t.Fatalf("unexpected message: %+v", m)
	}

	// Blank content fails validation.
	rec = do(t, h, http.MethodPost, "/v1/conversations/"+c.ID+"/messages", "u1", map[string]any{
		"content": "   ",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank send should be 400, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodPut, "/v1/messages/"+m.ID, "u2", map[string]any{"content": "hijack"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign edit should be 403, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodPut, "/v1/messages/"+m.ID, "u1", map[string]any{"content": "hello again"})
	if rec.Code != http.StatusOK {
		t.Fatalf("edit: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/v1/messages/"+m.ID+"/versions", "u2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("versions: %d", rec.Code)
	}
	versions := decode[struct {
		Versions []models.Message `json:"versions"`
	}](t, rec)
	if len(versions.Versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions.Versions))
	}

	rec = do(t, h, http.MethodDelete, "/v1/messages/"+m.ID, "u1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	// Edit after delete reports not found.
	rec = do(t, h, http.MethodPut, "/v1/messages/"+m.ID, "u1", map[string]any{"content": "zombie"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("edit after delete should be 404, got %d", rec.Code)
	}
	// The slot survives, redacted.
	rec = do(t, h, http.MethodGet, "/v1/messages/"+m.ID, "u2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get deleted: %d", rec.Code)
	}
	got := decode[models.Message](t, rec)
	if !got.Deleted || got.Content != "" {
		t.Fatalf("deleted message should be redacted: %+v", got)
	}
}

func TestReceiptFlow(t *testing.T) {
	h, _ := newTestServer(t)
	c := createDirect(t, h)
	rec := do(t, h, http.MethodPost, "/v1/conversations/"+c.ID+"/messages", "u1", map[string]any{"content": "hi"})
	m := decode[models.Message](t, rec)

	// Delivery confirmation requires a recipient.
	rec = do(t, h, http.MethodPost, "/v1/messages/"+m.ID+"/delivered", "u1", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing recipient should be 400, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/v1/messages/"+m.ID+"/delivered", "u1", map[string]any{"recipient": "u2"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delivered: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/v1/messages/"+m.ID+"/read", "u2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("read: %d %s", rec.Code, rec.Body.String())
	}
	read := decode[models.Message](t, rec)
	if read.Status != models.StatusRead {
		t.Fatalf("expected read status, got %s", read.Status)
	}

	rec = do(t, h, http.MethodGet, "/v1/messages/"+m.ID+"/receipts", "u1", nil)
	receipts := decode[struct {
		Receipts []models.ReadReceipt `json:"receipts"`
	}](t, rec)
	if len(receipts.Receipts) != 1 || receipts.Receipts[0].User != "u2" {
		t.Fatalf("receipt listing mismatch: %+v", receipts)
	}

	rec = do(t, h, http.MethodGet, "/v1/unread", "u2", nil)
	unread := decode[struct {
		Conversations map[string]uint64 `json:"conversations"`
		Total         uint64            `json:"total"`
	}](t, rec)
	if unread.Total != 0 {
		t.Fatalf("unread should be settled, got %d", unread.Total)
	}
}

func TestDeliveredRequiresBackendRole(t *testing.T) {
	h, _ := newTestServer(t)
	c := createDirect(t, h)
	rec := do(t, h, http.MethodPost, "/v1/conversations/"+c.ID+"/messages", "u1", map[string]any{"content": "hi"})
	m := decode[models.Message](t, rec)

	config.SetRuntime(&config.RuntimeConfig{SigningKeys: map[string]struct{}{"sk-test": {}}})
	mac := hmac.New(sha256.New, []byte("sk-test"))
	mac.Write([]byte("u2"))
	sig := hex.EncodeToString(mac.Sum(nil))

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(map[string]any{"recipient": "u2"})
	req := httptest.NewRequest(http.MethodPost, "/v1/messages/"+m.ID+"/delivered", &buf)
	req.Header.Set("X-Role-Name", "frontend")
	req.Header.Set("X-User-ID", "u2")
	req.Header.Set("X-User-Signature", sig)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusForbidden {
		t.Fatalf("frontend delivery confirmation should be 403, got %d", rec2.Code)
	}
}

func TestSignedUserVerification(t *testing.T) {
	h, _ := newTestServer(t)
	config.SetRuntime(&config.RuntimeConfig{SigningKeys: map[string]struct{}{"sk-test": {}}})

	send := func(user, sig string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/unread", nil)
		req.Header.Set("X-Role-Name", "frontend")
		if user != "" {
			req.Header.Set("X-User-ID", user)
		}
		if sig != "" {
			req.Header.Set("X-User-Signature", sig)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("u1", ""); code != http.StatusUnauthorized {
		t.Fatalf("missing signature should be 401, got %d", code)
	}
	if code := send("u1", "deadbeef"); code != http.StatusUnauthorized {
		t.Fatalf("bad signature should be 401, got %d", code)
	}
	mac := hmac.New(sha256.New, []byte("sk-test"))
	mac.Write([]byte("u1"))
	if code := send("u1", hex.EncodeToString(mac.Sum(nil))); code != http.StatusOK {
		t.Fatalf("valid signature should pass, got %d", code)
	}
}

func TestIdempotencyHeader(t *testing.T) {
	h, _ := newTestServer(t)
	c := createDirect(t, h)

	send := func() models.Message {
		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(map[string]any{"content": "once"})
		req := httptest.NewRequest(http.MethodPost, "/v1/conversations/"+c.ID+"/messages", &buf)
		req.Header.Set("X-Role-Name", "backend")
		req.Header.Set("X-User-ID", "u1")
		req.Header.Set("Idempotency-Key", "retry-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("send: %d %s", rec.Code, rec.Body.String())
		}
		return decode[models.Message](t, rec)
	}
	first := send()
	second := send()
	if first.ID != second.ID {
		t.Fatalf("idempotent retry returned a different message")
	}
}

func TestListAndGroupedMessages(t *testing.T) {
	h, _ := newTestServer(t)
	c := createDirect(t, h)
	for i := 0; i < 3; i++ {
		sender := "u1"
		if i == 2 {
			sender = "u2"
		}
		rec := do(t, h, http.MethodPost, "/v1/conversations/"+c.ID+"/messages", sender, map[string]any{
			"content": fmt.Sprintf("m%d", i),
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("send %d: %d", i, rec.Code)
		}
	}

	rec := do(t, h, http.MethodGet, "/v1/conversations/"+c.ID+"/messages", "u2", nil)
	listed := decode[struct {
		Messages []models.Message `json:"messages"`
	}](t, rec)
	if len(listed.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(listed.Messages))
	}

	rec = do(t, h, http.MethodGet, "/v1/conversations/"+c.ID+"/messages/grouped", "u2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("grouped: %d %s", rec.Code, rec.Body.String())
	}
	grouped := decode[struct {
		Days []struct {
			Date string             `json:"date"`
			Runs [][]models.Message `json:"runs"`
		} `json:"days"`
	}](t, rec)
	if len(grouped.Days) != 1 || len(grouped.Days[0].Runs) != 2 {
		t.Fatalf("grouping mismatch: %+v", grouped)
	}

	rec = do(t, h, http.MethodGet, "/v1/conversations/"+c.ID+"/messages/grouped?tz=Mars%2FOlympus", "u2", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown zone should be 400, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/v1/conversations?filter=starred", "u2", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown filter should be 400, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/v1/conversations?filter=unread", "u2", nil)
	convs := decode[struct {
		Conversations []json.RawMessage `json:"conversations"`
		Total         int               `json:"total"`
	}](t, rec)
	if convs.Total != 1 {
		t.Fatalf("u2 should have one unread conversation, got %d", convs.Total)
	}
}

func TestReactionEndpoints(t *testing.T) {
	h, _ := newTestServer(t)
	c := createDirect(t, h)
	rec := do(t, h, http.MethodPost, "/v1/conversations/"+c.ID+"/messages", "u1", map[string]any{"content": "hi"})
	m := decode[models.Message](t, rec)

	rec = do(t, h, http.MethodPost, "/v1/messages/"+m.ID+"/reactions", "u2", map[string]any{"emoji": "👍"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add reaction: %d %s", rec.Code, rec.Body.String())
	}
	r := decode[models.Reaction](t, rec)
	if r.User != "u2" || r.Emoji != "👍" {
		t.Fatalf("unexpected reaction: %+v", r)
	}

	rec = do(t, h, http.MethodPost, "/v1/messages/"+m.ID+"/reactions", "u2", map[string]any{"emoji": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank emoji should be 400, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/v1/messages/"+m.ID+"/reactions", "stranger", map[string]any{"emoji": "👍"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outsider reaction should be 403, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/v1/messages/"+m.ID+"/reactions", "u1", nil)
	listed := decode[struct {
		Reactions []models.Reaction `json:"reactions"`
	}](t, rec)
	if len(listed.Reactions) != 1 {
		t.Fatalf("expected 1 reaction, got %+v", listed)
	}

	rec = do(t, h, http.MethodDelete, "/v1/messages/"+m.ID+"/reactions/👍", "u2", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("remove reaction: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodGet, "/v1/messages/"+m.ID+"/reactions", "u1", nil)
	listed = decode[struct {
		Reactions []models.Reaction `json:"reactions"`
	}](t, rec)
	if len(listed.Reactions) != 0 {
		t.Fatalf("reaction should be removed, got %+v", listed)
	}
}

func TestSearchEndpoint(t *testing.T) {
	h, _ := newTestServer(t)
	c := createDirect(t, h)
	do(t, h, http.MethodPost, "/v1/conversations/"+c.ID+"/messages", "u1", map[string]any{"content": "release notes draft"})
	do(t, h, http.MethodPost, "/v1/conversations/"+c.ID+"/messages", "u2", map[string]any{"content": "shipping Friday"})

	rec := do(t, h, http.MethodGet, "/v1/messages/search?q=RELEASE", "u2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search: %d %s", rec.Code, rec.Body.String())
	}
	found := decode[struct {
		Messages []models.Message `json:"messages"`
	}](t, rec)
	if len(found.Messages) != 1 || found.Messages[0].Content != "release notes draft" {
		t.Fatalf("search mismatch: %+v", found)
	}

	rec = do(t, h, http.MethodGet, "/v1/messages/search", "u2", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing q should be 400, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/v1/messages/search?q=release&conversation="+c.ID, "stranger", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign scope should be 403, got %d", rec.Code)
	}
}

func TestMarkConversationRead(t *testing.T) {
	h, _ := newTestServer(t)
	c := createDirect(t, h)
	for i := 0; i < 2; i++ {
		do(t, h, http.MethodPost, "/v1/conversations/"+c.ID+"/messages", "u1", map[string]any{"content": "m"})
	}
	rec := do(t, h, http.MethodPost, "/v1/conversations/"+c.ID+"/read", "u2", nil)
	marked := decode[map[string]int](t, rec)
	if marked["marked"] != 2 {
		t.Fatalf("expected 2 marked, got %d", marked["marked"])
	}
}
