package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/mg-assistant/internal/api"
	"github.com/loqalabs/mg-assistant/internal/app"
	"github.com/loqalabs/mg-assistant/internal/audio"
	"github.com/loqalabs/mg-assistant/internal/bus"
	"github.com/loqalabs/mg-assistant/internal/capability"
	"github.com/loqalabs/mg-assistant/internal/config"
	"github.com/loqalabs/mg-assistant/internal/connectivity"
	"github.com/loqalabs/mg-assistant/internal/devices"
	"github.com/loqalabs/mg-assistant/internal/eventstore"
	"github.com/loqalabs/mg-assistant/internal/mqtt"
	"github.com/loqalabs/mg-assistant/internal/natsserver"
	"github.com/loqalabs/mg-assistant/internal/responder"
	"github.com/loqalabs/mg-assistant/internal/stt"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	embedded    *natsserver.EmbeddedServer
	bus         *bus.Client
	events      *eventstore.Store
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.closeTelemetry()

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded broker: %w", err)
	}
	r.embedded = embedded
	defer r.embedded.Shutdown()

	busCfg := r.cfg.Bus
	if len(busCfg.Servers) == 0 && embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	if len(busCfg.Servers) > 0 {
		client, err := bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			r.logger.Warn("event bus unavailable; continuing without fan-out", slog.String("error", err.Error()))
		} else {
			r.bus = client
			defer r.bus.Close()
		}
	}

	events, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.events = events
	defer r.events.Close()

	registry := devices.Load(r.cfg.DevicesPath, r.logger)

	engine := stt.NewVoskEngine()
	source, err := audio.FromConfig(r.cfg.Recognizer)
	if err != nil {
		return fmt.Errorf("failed to configure audio source: %w", err)
	}

	caps := capability.NewRegistry(r.logger)
	caps.Register("speech_engine", engine.Available)
	caps.Register("audio_source", source.Available)
	caps.Register("speech_model", func() error {
		_, err := os.Stat(r.cfg.VoskModelPath)
		return err
	})
	caps.Register("mqtt", nil)
	caps.Register("event_bus", func() error {
		if !r.bus.Healthy() {
			return errors.New("not connected")
		}
		return nil
	})
	caps.Refresh()

	probe := connectivity.NewProbe(r.cfg.Connectivity)
	deps := app.Deps{
		Recognizer:   stt.NewRecognizer(r.cfg.Recognizer, engine, source, r.logger),
		Broker:       mqtt.NewAdapter(r.cfg.MQTT, r.logger),
		Responder:    responder.New(probe, responder.EchoGenerator{}, r.cfg.LocalOnly, r.logger),
		Internet:     probe,
		Devices:      registry,
		Capabilities: caps,
		History:      r.events,
	}
	if r.bus != nil {
		deps.Bus = r.bus
	}
	application := app.New(r.cfg, deps, r.logger)

	appCtx, stopApp := context.WithCancel(context.Background())
	defer stopApp()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := application.Run(appCtx); err != nil {
			r.logger.Error("app loop failed", slog.String("error", err.Error()))
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", r.handleHealth)
	mux.HandleFunc("GET /readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	api.New(application, registry, r.events, r.logger).Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("app_name", r.cfg.AppName),
		slog.Bool("local_only", r.cfg.LocalOnly),
		slog.Int("devices", registry.Len()))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	stopApp()
	r.wg.Wait()

	return nil
}

func (r *Runtime) closeTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
