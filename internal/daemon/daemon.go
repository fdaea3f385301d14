// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package daemon wires the flowgate components together and runs the
// façade HTTP server.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/flowgate/internal/config"
	"github.com/tombee/flowgate/internal/daemon/api"
	"github.com/tombee/flowgate/internal/history"
	"github.com/tombee/flowgate/internal/lifecycle"
	internallog "github.com/tombee/flowgate/internal/log"
	"github.com/tombee/flowgate/internal/n8n"
	"github.com/tombee/flowgate/internal/railway"
	"github.com/tombee/flowgate/internal/template"
	"github.com/tombee/flowgate/internal/tracing"
)

// Options contains daemon options set at build time.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// Daemon is the main flowgated daemon.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger
	server *http.Server
	ln     net.Listener

	controller   *lifecycle.Controller
	historyStore *history.Store
	otelShutdown func(context.Context) error
}

// New creates a daemon instance with all components wired.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	logger := internallog.WithComponent(internallog.New(internallog.FromEnv()), "daemon")

	platform, err := railway.NewClient(railway.Config{
		Endpoint:  cfg.Platform.Endpoint,
		Token:     cfg.Platform.Token,
		ServiceID: cfg.Platform.ServiceID,
		Timeout:   cfg.Platform.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create platform client: %w", err)
	}

	management, err := n8n.NewClient(n8n.Config{
		BaseURL:   cfg.N8N.BaseURL,
		APIKey:    cfg.N8N.APIKey,
		BasicUser: cfg.N8N.BasicUser,
		BasicPass: cfg.N8N.BasicPass,
		Timeout:   cfg.N8N.ManagementTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create management client: %w", err)
	}

	webhook, err := n8n.NewWebhookClient(cfg.N8N.WebhookBaseURL(), cfg.N8N.InvokeTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook client: %w", err)
	}

	var health lifecycle.HealthChecker
	if cfg.N8N.WebhookHost != "" {
		hc, err := n8n.NewHealthClient(cfg.N8N.WebhookBaseURL(), cfg.Lifecycle.HealthTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create health client: %w", err)
		}
		health = hc
	}

	d := &Daemon{cfg: cfg, opts: opts, logger: logger}

	var recorder lifecycle.Recorder
	if cfg.History.Path != "" {
		store, err := history.Open(history.Config{
			Path:      cfg.History.Path,
			Retention: cfg.History.Retention,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		d.historyStore = store
		recorder = store
	}

	d.controller = lifecycle.NewController(platform, webhook, health, lifecycle.Config{
		StartupWait:        cfg.Lifecycle.StartupWait,
		HealthPolls:        cfg.Lifecycle.HealthPolls,
		HealthInterval:     cfg.Lifecycle.HealthInterval,
		HealthTimeout:      cfg.Lifecycle.HealthTimeout,
		ProceedOnUnhealthy: cfg.Lifecycle.ProceedAnyway(),
	}, logger, recorder)

	deployer := template.NewDeployer(management, logger)

	router := api.NewRouter(api.RouterConfig{
		Version:              opts.Version,
		Commit:               opts.Commit,
		BuildDate:            opts.BuildDate,
		AuthKey:              cfg.Server.AuthKey,
		TriggerRatePerSecond: cfg.Server.TriggerRatePerSecond,
		TriggerBurst:         cfg.Server.TriggerBurst,
	})
	router.SetController(d.controller)
	router.SetWorkflowAPI(management)
	router.SetBootstrapper(deployer, template.Params{
		HealthURL:         cfg.N8N.WebhookBaseURL() + "/healthz",
		ManagementBaseURL: cfg.N8N.BaseURL,
	})
	if d.historyStore != nil {
		router.SetHistoryReader(d.historyStore)
	}
	router.SetPlatformProber(platform)
	router.SetMetricsHandler(promhttp.Handler())

	d.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return d, nil
}

// Controller exposes the lifecycle controller, mainly for tests.
func (d *Daemon) Controller() *lifecycle.Controller {
	return d.controller
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	if d.cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(ctx, d.cfg.Tracing)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		d.otelShutdown = shutdown
	}

	ln, err := net.Listen("tcp", d.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.cfg.Server.Addr, err)
	}
	d.ln = ln

	d.logger.Info("flowgated listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("version", d.opts.Version),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		d.cleanup(context.Background())
		return err
	case <-ctx.Done():
	}

	d.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Error("graceful shutdown failed", internallog.Error(err))
	}
	d.cleanup(shutdownCtx)
	return nil
}

// cleanup releases resources after the server stops.
func (d *Daemon) cleanup(ctx context.Context) {
	if d.historyStore != nil {
		if err := d.historyStore.Close(); err != nil {
			d.logger.Warn("failed to close history store", internallog.Error(err))
		}
	}
	if d.otelShutdown != nil {
		if err := d.otelShutdown(ctx); err != nil {
			d.logger.Warn("failed to shut down tracing", internallog.Error(err))
		}
	}
}
