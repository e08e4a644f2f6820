package serve

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chirino/ulists/internal/collab"
	"github.com/chirino/ulists/internal/config"
	"github.com/chirino/ulists/internal/identity"
	"github.com/chirino/ulists/internal/plugin/route/changes"
	"github.com/chirino/ulists/internal/plugin/route/lists"
	"github.com/chirino/ulists/internal/plugin/route/profile"
	routesystem "github.com/chirino/ulists/internal/plugin/route/system"
	storemetrics "github.com/chirino/ulists/internal/plugin/store/metrics"
	"github.com/chirino/ulists/internal/plugin/store/publish"
	registrycache "github.com/chirino/ulists/internal/registry/cache"
	registrymigrate "github.com/chirino/ulists/internal/registry/migrate"
	registryroute "github.com/chirino/ulists/internal/registry/route"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	registrystream "github.com/chirino/ulists/internal/registry/stream"
	"github.com/chirino/ulists/internal/security"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config  *config.Config
	Store   registrystore.ListStore
	Stream  registrystream.ChangeStream
	Router  *gin.Engine
	Running *RunningListener

	shutdown        chan struct{}
	shutdownOnce    sync.Once
	closeManagement func(context.Context) error
}

// Shutdown ends open change streams, then drains the listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	routesystem.MarkDraining()
	s.shutdownOnce.Do(func() { close(s.shutdown) })
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	err := s.Running.Close(ctx)
	if closer, ok := s.Stream.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil {
			log.Warn("Failed to close change stream", "err", cerr)
		}
	}
	return err
}

// StartServer initializes all subsystems and starts the HTTP listener.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting ulists",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
		"stream", cfg.ResolvedStreamType(),
	)

	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	if err := registrymigrate.RunAll(ctx, cfg.DatastoreType); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// The handle cache is optional; the linker falls back to the store.
	var handleCache registrycache.HandleCache
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if handleCache, err = cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
		handleCache = nil
	}

	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	streamLoader, err := registrystream.Select(cfg.ResolvedStreamType())
	if err != nil {
		return nil, err
	}
	stream, err := streamLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize change stream: %w", err)
	}
	// Streams that do not watch the database learn about changes from the store.
	if pub, ok := stream.(registrystream.Publisher); ok {
		store = publish.Wrap(store, pub)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	var checkOrigin func(*http.Request) bool
	if cfg.CORSEnabled {
		origins := newOriginPolicy(cfg.CORSOrigins)
		router.Use(origins.middleware())
		checkOrigin = origins.checkOrigin
	}

	resolver := security.NewTokenResolver(cfg)
	auth := security.AuthMiddleware(resolver)
	shutdown := make(chan struct{})

	profile.MountRoutes(router, identity.NewFromConfig(store, cfg), auth)
	lists.MountRoutes(router, store, collab.New(store, handleCache), auth)
	changes.MountRoutes(router, store, stream, auth, changes.Options{
		PingInterval: cfg.StreamPingInterval,
		Shutdown:     shutdown,
		CheckOrigin:  checkOrigin,
	})

	// With a dedicated management port, health and metrics get their own bare
	// engine. Otherwise they share the main router.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		if err := registryroute.Mount(mgmtRouter); err != nil {
			return nil, err
		}
		// The management listener shares TLS cert/key with the main listener.
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		mgmt, err := startListener("management", mgmtCfg, mgmtRouter)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
		log.Info("Management server listening", "addr", mgmt.Addr)
		closeManagement = mgmt.Close
	} else {
		if err := registryroute.Mount(router); err != nil {
			return nil, err
		}
	}

	running, err := startListener("main", cfg.Listener, router)
	if err != nil {
		if closeManagement != nil {
			_ = closeManagement(context.Background())
		}
		return nil, err
	}

	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Store:           store,
		Stream:          stream,
		Router:          router,
		Running:         running,
		shutdown:        shutdown,
		closeManagement: closeManagement,
	}, nil
}
