package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/bus"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/eventstore"
	"github.com/loqalabs/loqa-interpreter/internal/interpreter"
	"github.com/loqalabs/loqa-interpreter/internal/natsserver"
	"github.com/loqalabs/loqa-interpreter/internal/recognition"
	"github.com/loqalabs/loqa-interpreter/internal/settings"
	"github.com/loqalabs/loqa-interpreter/internal/translate"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	metricsSrv  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	nats     *natsserver.EmbeddedServer
	bus      *bus.Client
	events   *eventstore.Store
	settings settings.Store
	interp   *interpreter.Interpreter
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

	tel, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = tel.shutdown
	metricsHandler := tel.metrics

	api, err := r.build(ctx)
	if err != nil {
		r.teardown(context.Background())
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	api.Register(mux)

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

	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsSrv = &http.Server{Addr: bind, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("recognition_mode", r.cfg.Recognition.Mode))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	r.teardown(shutdownCtx)
	return nil
}

// build opens the stores and the bus and assembles the interpreter.
func (r *Runtime) build(ctx context.Context) (*API, error) {
	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		if busCfg.Embedded {
			ns, err := natsserver.Start(busCfg, r.logger)
			if err != nil {
				return nil, fmt.Errorf("start embedded nats: %w", err)
			}
			r.nats = ns
			busCfg.Servers = []string{ns.ClientURL()}
		}
		client, err := bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			return nil, err
		}
		r.bus = client
	}

	events, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	r.events = events

	store, err := settings.Open(ctx, r.cfg.Settings, r.logger)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	r.settings = store

	rec, mock, err := newRecognizer(r.cfg.Recognition, r.bus, r.logger)
	if err != nil {
		return nil, err
	}
	translator, err := translate.FromConfig(r.cfg.Translation, r.logger)
	if err != nil {
		return nil, fmt.Errorf("configure translation: %w", err)
	}

	interp, err := interpreter.New(ctx, interpreter.Deps{
		Recognizer: rec,
		Translator: translator,
		Settings:   store,
		Journal:    interpreter.NewJournal(events, r.bus, r.logger),
	}, interpreter.OptionsFromConfig(r.cfg), r.logger)
	if err != nil {
		return nil, err
	}
	r.interp = interp
	return NewAPI(interp, events, mock, r.logger), nil
}

func (r *Runtime) teardown(ctx context.Context) {
	if r.interp != nil {
		r.interp.Close()
	}
	if r.settings != nil {
		if err := r.settings.Close(); err != nil {
			r.logger.Warn("settings close error", slog.String("error", err.Error()))
		}
	}
	if r.events != nil {
		if err := r.events.Close(); err != nil {
			r.logger.Warn("event store close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.nats.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func newRecognizer(cfg config.RecognitionConfig, client *bus.Client, logger *slog.Logger) (recognition.Recognizer, *recognition.MockRecognizer, error) {
	switch cfg.Mode {
	case "", "mock":
		mock := recognition.NewMockRecognizer()
		return mock, mock, nil
	case "exec":
		rec, err := recognition.NewExecRecognizer(cfg.Command, logger)
		if err != nil {
			return nil, nil, err
		}
		return rec, nil, nil
	case "bus":
		if client == nil {
			return nil, nil, fmt.Errorf("recognition mode bus requires the bus to be enabled")
		}
		return recognition.NewBusRecognizer(client, logger), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown recognition mode %q", cfg.Mode)
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
