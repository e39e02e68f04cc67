package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func testSecConfig() SecConfig {
	return SecConfig{
		RPS:          100,
		Burst:        100,
		BackendKeys:  map[string]struct{}{"bk": {}},
		FrontendKeys: map[string]struct{}{"fk": {}},
		AdminKeys:    map[string]struct{}{"ak": {}},
	}
}

func gatewayHandler(cfg SecConfig) (http.Handler, *string) {
	var seenRole string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenRole = r.Header.Get("X-Role-Name")
		w.WriteHeader(http.StatusOK)
	})
	return AuthenticateRequestMiddleware(cfg)(inner), &seenRole
}

func send(h http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "10.1.2.3:55555"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGatewayRoleClassification(t *testing.T) {
	h, role := gatewayHandler(testSecConfig())

	cases := []struct {
		headers map[string]string
		want    string
	}{
		{map[string]string{"Authorization": "Bearer bk"}, "backend"},
		{map[string]string{"X-API-Key": "bk"}, "backend"},
		{map[string]string{"X-API-Key": "ak"}, "admin"},
	}
	for _, c := range cases {
		rec := send(h, http.MethodGet, "/v1/unread", c.headers)
		if rec.Code != http.StatusOK {
			t.Fatalf("%v: expected 200, got %d", c.headers, rec.Code)
		}
		if *role != c.want {
			t.Fatalf("%v: expected role %q, got %q", c.headers, c.want, *role)
		}
	}
}

func TestGatewayRejectsUnknownKey(t *testing.T) {
	h, _ := gatewayHandler(testSecConfig())
	rec := send(h, http.MethodGet, "/v1/unread", map[string]string{"X-API-Key": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown key should be 401, got %d", rec.Code)
	}
	rec = send(h, http.MethodGet, "/v1/unread", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing key should be 401, got %d", rec.Code)
	}
}

func TestGatewayHealthBypass(t *testing.T) {
	h, role := gatewayHandler(testSecConfig())
	rec := send(h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health probe should bypass auth, got %d", rec.Code)
	}
	if *role != "unauth" {
		t.Fatalf("health probe should carry the unauth role, got %q", *role)
	}
}

func TestGatewayFrontendScope(t *testing.T) {
	h, _ := gatewayHandler(testSecConfig())
	fk := map[string]string{"X-API-Key": "fk"}

	allowed := []struct{ method, path string }{
		{http.MethodGet, "/v1/conversations"},
		{http.MethodPost, "/v1/conversations/abc/messages"},
		{http.MethodPost, "/v1/messages/m1/read"},
		{http.MethodGet, "/v1/unread"},
		{http.MethodGet, "/ws"},
	}
	for _, c := range allowed {
		if rec := send(h, c.method, c.path, fk); rec.Code != http.StatusOK {
			t.Fatalf("frontend should reach %s %s, got %d", c.method, c.path, rec.Code)
		}
	}
	// Delivery confirmations come from the channel, never browsers.
	if rec := send(h, http.MethodPost, "/v1/messages/m1/delivered", fk); rec.Code != http.StatusForbidden {
		t.Fatalf("frontend delivery confirmation should be 403, got %d", rec.Code)
	}
	// Backend keys are not scope-limited.
	if rec := send(h, http.MethodPost, "/v1/messages/m1/delivered", map[string]string{"X-API-Key": "bk"}); rec.Code != http.StatusOK {
		t.Fatalf("backend delivery confirmation should pass the gateway, got %d", rec.Code)
	}
}

func TestGatewayIPWhitelist(t *testing.T) {
	cfg := testSecConfig()
	cfg.IPWhitelist = []string{"192.168.1.1"}
	h, _ := gatewayHandler(cfg)
	rec := send(h, http.MethodGet, "/v1/unread", map[string]string{"X-API-Key": "bk"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-whitelisted ip should be 403, got %d", rec.Code)
	}
}

func TestGatewayRateLimit(t *testing.T) {
	cfg := testSecConfig()
	cfg.RPS = 1
	cfg.Burst = 2
	h, _ := gatewayHandler(cfg)
	headers := map[string]string{"X-API-Key": "bk"}

	limited := false
	for i := 0; i < 10; i++ {
		if rec := send(h, http.MethodGet, "/v1/unread", headers); rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatalf("burst of requests should trip the rate limit")
	}
}
