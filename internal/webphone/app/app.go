// Package app wires the webphone engine together: account fetch,
// registration, signaling provider, session manager, media router, and
// the call controller.
package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sebas/webphone/internal/webphone/account"
	"github.com/sebas/webphone/internal/webphone/call"
	"github.com/sebas/webphone/internal/webphone/config"
	"github.com/sebas/webphone/internal/webphone/media"
	"github.com/sebas/webphone/internal/webphone/registration"
	"github.com/sebas/webphone/internal/webphone/session"
	"github.com/sebas/webphone/internal/webphone/signaling"
	"github.com/sebas/webphone/internal/webphone/sipua"
)

// Engine is the assembled webphone.
type Engine struct {
	cfg        *config.Config
	router     *media.Router
	sessions   *session.Manager
	controller *call.Controller
	registrar  *registration.Manager
	metricsSrv *http.Server
}

// Option configures the engine.
type Option func(*options)

type options struct {
	controllerOpts []call.Option
}

// WithControllerOptions forwards options to the call controller.
func WithControllerOptions(opts ...call.Option) Option {
	return func(o *options) { o.controllerOpts = append(o.controllerOpts, opts...) }
}

// New assembles the engine from configuration.
func New(cfg *config.Config, opts ...Option) *Engine {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	router := media.NewRouter()
	sessions := session.NewManager(router)
	controller := call.NewController(sessions, router, o.controllerOpts...)

	client := account.NewClient(cfg.BackendURL)
	factory := func(acc *account.Account) (signaling.Provider, error) {
		return sipua.NewUserAgent(sipua.Config{
			Account:       acc,
			BindAddr:      cfg.BindAddr,
			Port:          cfg.Port,
			AdvertiseAddr: cfg.AdvertiseAddr,
			RTPPortMin:    cfg.RTPPortMin,
			RTPPortMax:    cfg.RTPPortMax,
			DialTimeout:   cfg.DialTimeout,
		})
	}
	registrar := registration.NewManager(client, factory)

	registrar.OnStatus(func(s registration.Status) {
		controller.SetRegistrationStatus(s)
	})

	return &Engine{
		cfg:        cfg,
		router:     router,
		sessions:   sessions,
		controller: controller,
		registrar:  registrar,
	}
}

// Controller returns the call controller.
func (e *Engine) Controller() *call.Controller { return e.controller }

// Registrar returns the registration manager.
func (e *Engine) Registrar() *registration.Manager { return e.registrar }

// Router returns the media router.
func (e *Engine) Router() *media.Router { return e.router }

// Start initializes registration and, when configured, the metrics
// endpoint. A missing or failing backend leaves the engine idle but
// alive; the error is reported for logging.
func (e *Engine) Start(ctx context.Context) error {
	if e.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		e.metricsSrv = &http.Server{Addr: e.cfg.MetricsAddr, Handler: mux}
		go func() {
			slog.Info("[App] Metrics endpoint listening", "addr", e.cfg.MetricsAddr)
			if err := e.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("[App] Metrics endpoint stopped", "error", err)
			}
		}()
	}

	if err := e.registrar.Initialize(ctx); err != nil {
		return err
	}
	e.controller.SetProvider(e.registrar.Provider())
	return nil
}

// Shutdown hangs up any active call, unregisters, and stops the
// metrics endpoint. Best effort within a bounded time.
func (e *Engine) Shutdown(ctx context.Context) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	if err := e.controller.Hangup(ctx); err != nil {
		slog.Warn("[App] Hangup during shutdown", "error", err)
	}
	e.registrar.Shutdown(ctx)

	if e.metricsSrv != nil {
		if err := e.metricsSrv.Shutdown(ctx); err != nil {
			slog.Warn("[App] Metrics endpoint shutdown", "error", err)
		}
	}
}
