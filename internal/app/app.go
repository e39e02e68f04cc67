// Package app wires the server components together and owns their
// lifecycle: store, engine, delivery fanout, reconcile job and the
// HTTP surface.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"converse/internal/reconcile"
	"converse/pkg/config"
	"converse/pkg/delivery"
	"converse/pkg/directory"
	"converse/pkg/engine"
	"converse/pkg/logger"
	"converse/pkg/store"
	"converse/pkg/validation"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	eng   *engine.Engine
	hub   *delivery.Hub
	queue *delivery.Queue
	fan   *delivery.Fanout

	srv *http.Server
}

// New initializes resources that do not require a running context
// (store, validation rules, runtime keys, delivery plumbing). Call Run
// to start the workers and the HTTP server and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if eff.DBPath == "" {
		return nil, fmt.Errorf("db path not configured")
	}

	// runtime keys
	runtimeCfg := &config.RuntimeConfig{BackendKeys: map[string]struct{}{}, SigningKeys: map[string]struct{}{}}
	for _, k := range eff.Config.Security.APIKeys.Backend {
		runtimeCfg.BackendKeys[k] = struct{}{}
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	validation.SetRules(validation.DefaultRules())

	if err := store.Open(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	// participant directory seeded from config
	dir := directory.NewStatic()
	for _, e := range eff.Config.Directory {
		dir.Put(e.ID, directory.Display{Name: e.Name, Avatar: e.Avatar, Kind: e.Kind})
	}

	// delivery plumbing: queue feeds the fanout workers, the hub holds
	// live sockets, confirmations flow back into the tracker
	hub := delivery.NewHub(eff.Config.Security.CORS.AllowedOrigins)
	queue := delivery.NewQueue(eff.Config.Delivery.Queue.Capacity)
	if n := eff.Config.Delivery.Queue.MaxPooledBufferBytes.Int64(); n > 0 {
		delivery.SetMaxPooledBuffer(int(n))
	}
	eng := engine.New(dir, queue)
	fan := delivery.NewFanout(queue, hub, eff.Config.Delivery.Workers, func(messageID, recipient string) error {
		return eng.MarkDelivered(messageID, recipient)
	})

	return &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		eng:       eng,
		hub:       hub,
		queue:     queue,
		fan:       fan,
	}, nil
}

// Engine exposes the engine for admin triggers and tests.
func (a *App) Engine() *engine.Engine { return a.eng }

// Run starts the fanout workers, reconcile scheduler and HTTP server,
// then blocks until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.fan.Start()

	stopReconcile, err := reconcile.Start(ctx, a.eng, a.eff.Config.Reconcile)
	if err != nil {
		return err
	}

	logger.Info("server_starting",
		zap.String("version", a.version),
		zap.String("commit", a.commit),
		zap.String("build_date", a.buildDate),
		zap.String("addr", a.eff.Addr),
	)

	errCh, httpDone := a.startHTTP(ctx)

	defer func() {
		stopReconcile()
		a.fan.Stop()
		a.queue.CloseAndDrain()
		if err := store.Close(); err != nil {
			logger.Error("store_close_failed", zap.Error(err))
		}
	}()

	select {
	case <-ctx.Done():
		// Wait for the shutdown drain: requests still in flight may
		// enqueue delivery notices or touch the store, so the queue and
		// the pebble handle must outlive the server.
		<-httpDone
		return nil
	case err := <-errCh:
		return err
	}
}
