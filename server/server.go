// Package server assembles the task caches, the recommendation orchestrator
// and the HTTP API into one runnable server.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/dayflow/internal/bus"
	"github.com/hrygo/dayflow/internal/observability"
	"github.com/hrygo/dayflow/internal/profile"
	"github.com/hrygo/dayflow/plugin/ai/recommend"
	apiv1 "github.com/hrygo/dayflow/server/router/api/v1"
	"github.com/hrygo/dayflow/server/service/taskcache"
	"github.com/hrygo/dayflow/store"
	"github.com/hrygo/dayflow/store/cache"
)

const recommendationStoreName = "recommendations"

type Server struct {
	Profile     *profile.Profile
	Store       *store.Store
	Bus         *bus.Bus
	Tasks       *taskcache.Manager
	Recommender *recommend.Orchestrator
	Metrics     *observability.Metrics

	echoServer  *echo.Echo
	logger      *slog.Logger
	unsubscribe []func()
}

// NewServer wires every component for profile on top of store.
func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.GlobalMetrics()

	backend, err := newCacheBackend(profile)
	if err != nil {
		return nil, err
	}
	eventBus := bus.New(logger)

	tasks := taskcache.NewManager(store, backend, eventBus, taskcache.Config{
		MaxEntries: profile.TaskCacheMaxEntries,
		TTL:        profile.TaskCacheTTL,
		Metrics:    metrics,
		Logger:     logger,
	})

	remote, err := newRemoteRecommender(ctx, profile)
	if err != nil {
		logger.Warn("remote recommender disabled, using the local heuristic only",
			"provider", profile.AIProvider, "error", err)
		remote = nil
	}
	records := cache.New[*recommend.Record](backend, cache.Config{
		Prefix:     recommendationStoreName,
		MaxEntries: profile.RecommendMaxEntries,
		TTL:        profile.RecommendTTL,
		Logger:     logger,
	})
	orchestrator := recommend.NewOrchestrator(records, remote, recommend.Config{
		Policy: recommend.StalenessPolicy{
			TTL:              profile.RecommendTTL,
			EnergyDrift:      profile.RecommendEnergyDrift,
			TimeDriftMinutes: profile.RecommendTimeDrift,
		},
		DefaultCount:  profile.RecommendCount,
		RemoteTimeout: profile.RecommendRemoteTimeout,
		Metrics:       metrics,
		Logger:        logger,
	})

	s := &Server{
		Profile:     profile,
		Store:       store,
		Bus:         eventBus,
		Tasks:       tasks,
		Recommender: orchestrator,
		Metrics:     metrics,
		logger:      logger,
		unsubscribe: []func(){
			eventBus.Subscribe(records.Name(), records),
			eventBus.Subscribe("recommend", orchestrator),
		},
	}

	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(echomiddleware.Recover())
	apiv1.NewAPIV1Service(profile, tasks, orchestrator, metrics, logger).Register(echoServer)
	s.echoServer = echoServer

	return s, nil
}

func newCacheBackend(profile *profile.Profile) (cache.Backend, error) {
	switch profile.CacheBackend {
	case "file", "tiered":
		fileBackend, err := cache.NewFileBackend(profile.CacheDir)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open file cache backend")
		}
		if profile.CacheBackend == "tiered" {
			return cache.NewTieredBackend(cache.NewMemoryBackend(), fileBackend), nil
		}
		return fileBackend, nil
	default:
		return cache.NewMemoryBackend(), nil
	}
}

// newRemoteRecommender returns the configured remote recommender, or nil when
// none is configured.
func newRemoteRecommender(ctx context.Context, profile *profile.Profile) (recommend.RemoteRecommender, error) {
	if !profile.IsRemoteEnabled() {
		return nil, nil
	}
	switch profile.AIProvider {
	case "openai":
		return recommend.NewOpenAIRecommender(recommend.OpenAIConfig{
			BaseURL: profile.AIBaseURL,
			APIKey:  profile.AIAPIKey,
			Model:   profile.AIModel,
		})
	case "gemini":
		return recommend.NewGeminiRecommender(ctx, recommend.GeminiConfig{
			APIKey: profile.AIAPIKey,
			Model:  profile.AIModel,
		})
	default:
		return nil, errors.Errorf("unknown ai provider %q", profile.AIProvider)
	}
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Start listens on the profile address and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	address := net.JoinHostPort(s.Profile.Addr, fmt.Sprintf("%d", s.Profile.Port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}
	s.echoServer.Listener = listener

	go func() {
		if err := s.echoServer.Start(address); err != nil && err != http.ErrServerClosed {
			s.logger.Error("failed to start echo server", "error", err)
		}
	}()
	s.logger.Info("dayflow server started", "address", address, "mode", s.Profile.Mode, "version", s.Profile.Version)
	return nil
}

// Shutdown stops the HTTP server, detaches the caches and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown server", "error", err)
	}
	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
	s.Tasks.Close()
	if err := s.Store.Close(); err != nil {
		s.logger.Error("failed to close database", "error", err)
	}
	s.logger.Info("dayflow stopped properly")
}
