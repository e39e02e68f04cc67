package app

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	"converse/pkg/api"
	"converse/pkg/auth"
	"converse/pkg/telemetry"
)

// buildHandler assembles the HTTP stack: CORS on the outside, then the
// key gateway, signed-identity verification and latency middleware
// around the application router. Metrics and docs bypass the gateway.
func (a *App) buildHandler() http.Handler {
	router := api.Router(a.eng, a.hub)
	signed := auth.RequireSignedUser(router)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// health probes carry no identity headers
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			router.ServeHTTP(w, r)
			return
		}
		signed.ServeHTTP(w, r)
	})

	secCfg := auth.SecConfig{
		AllowedOrigins: append([]string{}, a.eff.Config.Security.CORS.AllowedOrigins...),
		RPS:            a.eff.Config.Security.RateLimit.RPS,
		Burst:          a.eff.Config.Security.RateLimit.Burst,
		IPWhitelist:    append([]string{}, a.eff.Config.Security.IPWhitelist...),
		BackendKeys:    map[string]struct{}{},
		FrontendKeys:   map[string]struct{}{},
		AdminKeys:      map[string]struct{}{},
	}
	for _, k := range a.eff.Config.Security.APIKeys.Backend {
		secCfg.BackendKeys[k] = struct{}{}
	}
	for _, k := range a.eff.Config.Security.APIKeys.Frontend {
		secCfg.FrontendKeys[k] = struct{}{}
	}
	for _, k := range a.eff.Config.Security.APIKeys.Admin {
		secCfg.AdminKeys[k] = struct{}{}
	}
	gated := auth.AuthenticateRequestMiddleware(secCfg)(inner)
	gated = telemetry.Middleware(gated)

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())
	mux.Handle("/docs/", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	mux.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs")))
	mux.Handle("/", gated)

	allowed := a.eff.Config.Security.CORS.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key", "X-User-ID", "X-User-Signature", "Idempotency-Key"},
		ExposedHeaders: []string{"X-Role-Name"},
		MaxAge:         600,
	})
	return c.Handler(mux)
}

// startHTTP starts the HTTP server in a goroutine. The error channel
// carries any fatal server error; done closes once the server has
// stopped serving, including the shutdown drain of in-flight requests.
// Callers must wait on done before tearing down the store or the
// delivery queue, or a draining request could hit a closed handle.
func (a *App) startHTTP(ctx context.Context) (<-chan error, <-chan struct{}) {
	a.srv = &http.Server{Addr: a.eff.Addr, Handler: a.buildHandler()}

	timeout := a.eff.Config.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = a.srv.Shutdown(shutdownCtx)
	}()

	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		cert := a.eff.Config.Server.TLS.CertFile
		key := a.eff.Config.Server.TLS.KeyFile
		var err error
		if cert != "" && key != "" {
			err = a.srv.ListenAndServeTLS(cert, key)
		} else {
			err = a.srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh, done
}
