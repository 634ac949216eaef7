package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/fx"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/WillIsback/clea-api/internal/clients/embedding"
	"github.com/WillIsback/clea-api/internal/clients/rerank"
	"github.com/WillIsback/clea-api/internal/config"
	"github.com/WillIsback/clea-api/internal/index"
	"github.com/WillIsback/clea-api/internal/redis"
	"github.com/WillIsback/clea-api/internal/search"
	"github.com/WillIsback/clea-api/internal/storage"
	"github.com/WillIsback/clea-api/internal/store"
	"github.com/WillIsback/clea-api/pkg/logger"
)

// Module wires the whole application.
var Module = fx.Options(
	fx.Invoke(InitLogger),
	InfrastructureModule,
	ClientsModule,
	ServicesModule,
	HTTPServerModule,
	fx.Invoke(StartSweeper),
	fx.Invoke(StartHTTPServer),
)

// InfrastructureModule provides configuration, the database store, the Redis
// client and the cache.
var InfrastructureModule = fx.Module("infrastructure",
	fx.Provide(
		NewAppConfig,
		NewStore,
		NewRedisClient,
		NewCacheService,
	),
)

// ClientsModule provides the inference and object-storage clients.
var ClientsModule = fx.Module("clients",
	fx.Provide(
		NewEmbeddingClient,
		NewRerankClient,
		NewObjectStorage,
	),
)

// ServicesModule provides the domain services.
var ServicesModule = fx.Module("services",
	fx.Provide(
		NewIndexManager,
		NewSweeper,
		NewSearchEngine,
		NewServer,
	),
)

// HTTPServerModule provides the HTTP front.
var HTTPServerModule = fx.Module("http_server",
	fx.Provide(NewHTTPServer),
)

// NewAppConfig loads the application configuration.
func NewAppConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// InitLogger initializes the global logger from the configuration before
// any other component runs.
func InitLogger(cfg *config.Config) error {
	return logger.Init(cfg.Log.Level)
}

// NewEmbeddingClient builds the embedding service client.
func NewEmbeddingClient(cfg *config.Config) embedding.Embedder {
	return embedding.NewClient(cfg.Services.Embedding)
}

// NewRerankClient builds the reranking service client.
func NewRerankClient(cfg *config.Config) rerank.Reranker {
	return rerank.NewClient(cfg.Services.Reranker)
}

// NewObjectStorage connects to MinIO.
func NewObjectStorage(cfg *config.Config) (storage.ObjectStorage, error) {
	return storage.NewMinIOClient(cfg)
}

// NewStore connects to PostgreSQL and applies the schema.
func NewStore(lc fx.Lifecycle, cfg *config.Config, embedder embedding.Embedder) (*store.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	st, err := store.New(ctx, cfg.DatabaseURL(), embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			st.Close()
			return nil
		},
	})
	return st, nil
}

// NewRedisClient connects to Redis.
func NewRedisClient(lc fx.Lifecycle, cfg *config.Config) (*redis.Client, error) {
	client, err := redis.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			client.Close()
			return nil
		},
	})
	return client, nil
}

// NewCacheService wraps the Redis client with the retrieval keyspace.
func NewCacheService(client *redis.Client) *redis.CacheService {
	return redis.NewCacheService(client)
}

// NewIndexManager builds the ANN lifecycle manager.
func NewIndexManager(st *store.Store) *index.Manager {
	return index.NewManager(st)
}

// NewSweeper builds the orphan sweeper from the configured interval.
func NewSweeper(manager *index.Manager, cfg *config.Config) *index.Sweeper {
	interval := time.Duration(cfg.Sweeper.IntervalHours) * time.Hour
	return index.NewSweeper(manager, interval)
}

// NewSearchEngine assembles the hybrid retrieval engine.
func NewSearchEngine(st *store.Store, embedder embedding.Embedder, reranker rerank.Reranker, manager *index.Manager, cache *redis.CacheService, cfg *config.Config) *search.Engine {
	return search.NewEngine(st, embedder, reranker, manager,
		search.WithCache(cache),
		search.WithQueryLogging(cfg.Search.LogQueries),
	)
}

// NewHTTPServer builds the HTTP server over the route mux, with h2c so
// HTTP/2 clients work without TLS termination.
func NewHTTPServer(srv *Server, cfg *config.Config) *http.Server {
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	return &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(srv.Routes(), &http2.Server{}),
	}
}

// StartSweeper ties the background sweeper to the application lifecycle.
func StartSweeper(sweeper *index.Sweeper, lifecycle fx.Lifecycle) {
	lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			sweeper.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			sweeper.Stop()
			return nil
		},
	})
}

// StartHTTPServer launches the listener and shuts it down with the app.
func StartHTTPServer(httpServer *http.Server, lifecycle fx.Lifecycle, shutdowner fx.Shutdowner) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Get().Info("starting HTTP server", "addr", httpServer.Addr)
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Get().Error("HTTP server failed", "error", err)
					if shutdownErr := shutdowner.Shutdown(); shutdownErr != nil {
						logger.Get().Error("application shutdown failed", "error", shutdownErr)
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Get().Info("stopping HTTP server")
			return httpServer.Shutdown(ctx)
		},
	})
}
