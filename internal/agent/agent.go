package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"time"

	"github.com/mwantia/fabric/pkg/container"
	config "github.com/mwantia/filer/internal/config/server"
	"github.com/mwantia/filer/pkg/backend"
	"github.com/mwantia/filer/pkg/db/store"
	"github.com/mwantia/filer/pkg/filer"
	"github.com/mwantia/filer/pkg/log"
	"github.com/mwantia/filer/pkg/metrics"
)

type FilerAgent struct {
	mutex sync.RWMutex
	ready bool

	cfg *config.BaseServerConfig
	sc  *container.ServiceContainer
	log log.LoggerService

	store   store.MetadataStore
	filer   *filer.Filer
	metrics *metrics.Collector
}

func NewAgent(cfg *config.BaseServerConfig) *FilerAgent {
	return &FilerAgent{
		cfg: cfg,
		sc:  container.NewServiceContainer(),
		log: log.NewLoggerService("filer", cfg.Log),
	}
}

// Setup connects the metadata index, builds every configured backend and
// registers the resulting services.
func (fa *FilerAgent) Setup(ctx context.Context) error {
	fa.mutex.Lock()
	defer fa.mutex.Unlock()

	if fa.ready {
		return nil
	}

	// A failed setup leaves nothing registered or open behind.
	defer func() {
		if fa.ready {
			return
		}
		if fa.store != nil {
			_ = fa.store.Close()
			fa.store = nil
		}
		fa.metrics = nil
		fa.sc = container.NewServiceContainer()
	}()

	fa.log.Debug("Registering 'LoggerService'...")
	if err := container.Register[log.LoggerServiceImpl](fa.sc,
		container.With[log.LoggerService](),
		container.WithInstance(fa.log)); err != nil {
		return fmt.Errorf("failed to register logger service: %w", err)
	}

	metadataStore, err := fa.setupStore(ctx)
	if err != nil {
		return err
	}
	fa.store = metadataStore

	if fa.cfg.Metrics.Enabled {
		collector, err := metrics.NewCollector(fa.cfg.Metrics.Namespace)
		if err != nil {
			return err
		}
		fa.metrics = collector
	}

	backends := make([]backend.Backend, 0, len(fa.cfg.Backends))
	for _, backendCfg := range fa.cfg.Backends {
		logger, err := log.Resolve(ctx, fa.sc, "backend/"+backendCfg.Name)
		if err != nil {
			return err
		}

		b, err := NewBackend(ctx, backendCfg, logger)
		if err != nil {
			return err
		}
		if fa.metrics != nil {
			b = backend.Instrument(b, fa.metrics)
		}
		backends = append(backends, b)
	}

	manager, err := backend.NewManager(backend.Config{
		Mode:             backend.Mode(fa.cfg.Strategy.Mode),
		WriteBackends:    fa.cfg.Strategy.WriteBackends,
		LegacyBackends:   fa.cfg.Strategy.LegacyBackends,
		ProbeConcurrency: fa.cfg.Strategy.ProbeConcurrency,
	}, backends, fa.log.Named("manager"))
	if err != nil {
		return fmt.Errorf("failed to create backend manager: %w", err)
	}

	filerCfg := filer.Config{
		LegacyEnabled: fa.cfg.Strategy.LegacyEnabled,
	}
	if fa.metrics != nil {
		filerCfg.OnMigrate = fa.metrics.ObserveMigration
	}
	f := filer.New(metadataStore, manager, filerCfg, fa.log.Named("filer"))

	if err := fa.setupServices(metadataStore, manager, f); err != nil {
		return err
	}

	fa.filer = f
	fa.ready = true
	fa.log.Info("Ready with %d backend(s), writing to %v", len(backends), fa.cfg.Strategy.WriteBackends)
	return nil
}

func (fa *FilerAgent) setupStore(ctx context.Context) (*store.SQLiteStore, error) {
	var busyTimeout time.Duration
	if fa.cfg.Metadata.SQLite.BusyTimeout != "" {
		parsed, err := time.ParseDuration(fa.cfg.Metadata.SQLite.BusyTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid busy timeout: %w", err)
		}
		busyTimeout = parsed
	}

	s, err := store.NewSQLiteStore(store.SQLiteConfig{
		Path:        fa.cfg.Metadata.SQLite.Path,
		BusyTimeout: busyTimeout,
	}, fa.log.Named("store/sqlite"))
	if err != nil {
		return nil, err
	}

	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to migrate metadata index: %w", err)
	}
	return s, nil
}

func (fa *FilerAgent) setupServices(s *store.SQLiteStore, manager *backend.Manager, f *filer.Filer) error {
	errs := container.Errors{}

	fa.log.Debug("Registering 'MetadataStore'...")
	errs.Add(container.Register[store.SQLiteStore](fa.sc,
		container.With[store.MetadataStore](),
		container.WithInstance(s)))

	fa.log.Debug("Registering 'Resolver'...")
	errs.Add(container.Register[backend.Manager](fa.sc,
		container.With[backend.Resolver](),
		container.WithInstance(manager)))

	fa.log.Debug("Registering 'Filer'...")
	errs.Add(container.Register[filer.Filer](fa.sc,
		container.WithInstance(f)))

	if fa.metrics != nil {
		fa.log.Debug("Registering 'Collector'...")
		errs.Add(container.Register[metrics.Collector](fa.sc,
			container.WithInstance(fa.metrics)))
	}

	return errs.Errors()
}

// Filer returns the orchestrator built during Setup.
func (fa *FilerAgent) Filer() (*filer.Filer, error) {
	fa.mutex.RLock()
	defer fa.mutex.RUnlock()

	if !fa.ready {
		return nil, fmt.Errorf("agent setup has not completed")
	}
	return fa.filer, nil
}

// Store resolves the metadata store registered during Setup.
func (fa *FilerAgent) Store(ctx context.Context) (store.MetadataStore, error) {
	fa.mutex.RLock()
	defer fa.mutex.RUnlock()

	ok, resolved := fa.sc.ResolveByType(ctx, reflect.TypeOf((*store.MetadataStore)(nil)).Elem())
	if !ok {
		return nil, fmt.Errorf("failed to resolve MetadataStore: no store registered")
	}

	s, ok := resolved.(store.MetadataStore)
	if !ok {
		return nil, fmt.Errorf("resolved service is not a MetadataStore")
	}
	return s, nil
}

func (fa *FilerAgent) Close(ctx context.Context) error {
	fa.mutex.Lock()
	defer fa.mutex.Unlock()

	if err := fa.sc.Cleanup(ctx); err != nil {
		return fmt.Errorf("failed to complete service container cleanup: %w", err)
	}

	if fa.store != nil {
		if err := fa.store.Close(); err != nil {
			return fmt.Errorf("failed to close metadata store: %w", err)
		}
		fa.store = nil
	}
	fa.filer = nil
	fa.metrics = nil

	fa.sc = container.NewServiceContainer()
	fa.ready = false
	return nil
}

// Serve sets the agent up and keeps it running until interrupted.
func (fa *FilerAgent) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	if err := fa.Setup(ctx); err != nil {
		return err
	}

	server := fa.serveMetrics()

	<-ctx.Done()

	timeout, err := time.ParseDuration(fa.cfg.ShutdownTimeout)
	if err != nil {
		// Set default of 60 seconds if error
		timeout = 60 * time.Second
	}

	shutdown, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdown); err != nil {
			fa.log.Warn("Failed to shut down metrics endpoint: %v", err)
		}
	}

	return fa.Close(shutdown)
}

// serveMetrics exposes the collector on the configured address, if enabled.
func (fa *FilerAgent) serveMetrics() *http.Server {
	collector := fa.Metrics()
	if collector == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(fa.cfg.Metrics.Path, collector.Handler())

	server := &http.Server{
		Addr:              fa.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		fa.log.Info("Serving metrics on '%s%s'", fa.cfg.Metrics.Address, fa.cfg.Metrics.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fa.log.Error("Metrics endpoint failed: %v", err)
		}
	}()

	return server
}

// Metrics returns the collector, or nil when metrics are disabled.
func (fa *FilerAgent) Metrics() *metrics.Collector {
	fa.mutex.RLock()
	defer fa.mutex.RUnlock()

	return fa.metrics
}
