package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"reflect"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"barrage/internal/clock"
	"barrage/internal/config"
	"barrage/internal/fault"
	"barrage/internal/host"
	"barrage/internal/ingest"
	"barrage/internal/logging"
	"barrage/internal/metrics"
	"barrage/internal/notify"
	"barrage/internal/timers"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds the whole shutdown sequence.
const shutdownTimeout = 10 * time.Second

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable barrage service.
type Service struct {
	source    config.ConfigSource
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	clock     clock.Clock
	loop      *timers.Loop
	nc        *nats.Conn
	host      host.Host
	sink      *notify.Sink
	engine    *Engine
	httpSrv   *http.Server
	natsSub   interface{ Close() error }
	readyFlag atomic.Bool
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, fault.Mark(fault.Config, err)
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fault.Mark(fault.Config, err)
	}
	logger = logger.With("service", cfg.Service.Name)
	for _, correction := range cfg.Corrections {
		logger.Warn("config value corrected", "detail", correction)
	}

	service := &Service{
		source:   source,
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		clock:    clk,
		loop:     timers.New(clk, logger.With("component", "loop")),
	}

	if err := service.buildHost(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildEngine(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildHTTPServer(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	return service, nil
}

// Engine returns the engine driven by this service.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	// The loop outlives ctx so shutdown can still hop onto it.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = s.loop.Run(loopCtx)
	}()

	if err := s.engine.Start(ctx); err != nil {
		_ = s.shutdown()
		stopLoop()
		<-loopDone
		return fmt.Errorf("engine start: %w", err)
	}

	listen := s.cfg.Ingest.HTTP.Listen
	reloadEvery := time.Duration(s.cfg.Service.ReloadIntervalSec) * time.Second
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.logger.Info("http server starting", "listen", listen)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		s.readyFlag.Store(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	if s.cfg.Service.ReloadEnabled {
		group.Go(func() error {
			s.reloadLoop(groupCtx, reloadEvery)
			return nil
		})
	}

	s.readyFlag.Store(true)
	s.logger.Info("service started", "mode", s.cfg.Service.Mode)

	runErr := group.Wait()
	shutdownErr := s.shutdown()
	stopLoop()
	<-loopDone
	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

func (s *Service) reloadLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.reloadConfig(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("reload failed", "error", err.Error())
			}
		}
	}
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
		s.natsSub = nil
	}
	if err := s.engine.Shutdown(ctx); err != nil {
		s.logger.Error("engine shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("engine shutdown: %w", err))
	}
	if err := s.sink.Close(ctx); err != nil {
		s.logger.Error("notification sink close failed", "error", err.Error())
		markErr(fmt.Errorf("notification sink close: %w", err))
	}
	s.loop.Stop()
	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
	}
	s.logger.Info("service stopped")
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.sink != nil {
		_ = s.sink.Close(context.Background())
		s.sink = nil
	}
	s.loop.Stop()
	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildHost connects to the host bridge in nats mode or starts the simulated host.
// Params: none.
// Returns: connection error.
func (s *Service) buildHost() error {
	if isSingleMode(s.cfg) {
		s.host = host.NewSim(s.logger.With("component", "host"))
		return nil
	}
	nc, err := nats.Connect(strings.Join(s.cfg.Ingest.NATS.URL, ","), nats.Name(s.cfg.Service.Name))
	if err != nil {
		return fault.Mark(fault.Transport, fmt.Errorf("nats connect: %w", err))
	}
	s.nc = nc
	timeout := time.Duration(s.cfg.Host.RequestTimeoutMS) * time.Millisecond
	s.host = host.NewBridge(nc, s.cfg.Host.SubjectPrefix, timeout, s.logger.With("component", "host"))
	return nil
}

// buildEngine wires notification sink, metrics and the event engine.
// Params: none.
// Returns: setup error.
func (s *Service) buildEngine() error {
	recorder, err := metrics.New()
	if err != nil {
		return err
	}
	opts := notify.Options{Logger: s.logger.With("component", "notify")}
	if s.nc != nil {
		js, err := s.nc.JetStream()
		if err != nil {
			return fault.Mark(fault.Transport, fmt.Errorf("jetstream init for notify: %w", err))
		}
		opts.JetStream = js
	}
	sink, err := notify.NewSink(s.cfg.Notify, opts)
	if err != nil {
		return err
	}
	s.sink = sink
	s.logger.Info("notification channels ready", "channels", strings.Join(sink.Channels(), ","))

	engine, err := NewEngine(s.cfg, EngineDeps{
		Loop:    s.loop,
		Host:    s.host,
		Sink:    sink,
		Metrics: recorder,
		Logger:  s.logger,
	})
	if err != nil {
		return fault.Mark(fault.Config, err)
	}
	s.engine = engine
	return nil
}

// buildHTTPServer wires router with operator, host callback and health endpoints.
// Params: none.
// Returns: setup error.
func (s *Service) buildHTTPServer() error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Ingest.HTTP.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(s.cfg.Ingest.HTTP.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})

	if s.cfg.Ingest.HTTP.Enabled {
		handler := ingest.NewHTTPHandler(s.engine, s.engine, s.cfg.Ingest.HTTP.MaxBodyBytes, s.clock, s.logger.With("component", "ingest"))
		mux.Handle("/", handler)
	}

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Ingest.HTTP.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// buildNATSSubscriber starts NATS ingest of host callbacks when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if isSingleMode(s.cfg) || !s.cfg.Ingest.NATS.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.nc, s.cfg.Ingest.NATS, s.engine, s.clock, s.logger.With("component", "ingest"))
	if err != nil {
		return fault.Mark(fault.Transport, err)
	}
	s.natsSub = subscriber
	return nil
}

// reloadConfig atomically reloads and applies new config snapshot.
// Params: context bounding the engine hop.
// Returns: reload or apply error.
func (s *Service) reloadConfig(ctx context.Context) error {
	nextCfg, err := config.LoadSnapshot(s.source)
	if err != nil {
		return fault.Mark(fault.Config, err)
	}
	if isSingleMode(nextCfg) != isSingleMode(s.cfg) {
		return fault.Mark(fault.Config, errors.New("service.mode change requires restart"))
	}
	if !reflect.DeepEqual(nextCfg.Notify.Channel, s.cfg.Notify.Channel) {
		s.logger.Warn("notify channel changes require restart; keeping current channels")
		nextCfg.Notify.Channel = s.cfg.Notify.Channel
	}
	for _, correction := range nextCfg.Corrections {
		s.logger.Warn("config value corrected", "detail", correction)
	}
	if err := s.engine.ApplyConfig(ctx, nextCfg); err != nil {
		return err
	}
	s.cfg = nextCfg
	s.logger.Info("configuration reloaded")
	return nil
}

func isSingleMode(cfg config.Config) bool {
	return config.NormalizeServiceMode(cfg.Service.Mode) == config.ServiceModeSingle
}
