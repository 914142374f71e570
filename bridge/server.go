// Package bridge wires the session layer, store, event bus, auth
// provider, and tool dispatcher into a single HTTP server, mirroring
// leapmux's hub.Server: open the database, migrate it, build every
// collaborator, mount routes, and serve with graceful shutdown.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/agorai/agorai/internal/auth"
	"github.com/agorai/agorai/internal/eventbus"
	"github.com/agorai/agorai/internal/logging"
	"github.com/agorai/agorai/internal/metrics"
	"github.com/agorai/agorai/internal/session"
	"github.com/agorai/agorai/internal/store"
	"github.com/agorai/agorai/internal/timeoutcfg"
	"github.com/agorai/agorai/internal/tools"
)

// ServerConfig holds the configuration for a bridge server.
type ServerConfig struct {
	Addr    string // TCP listen address, e.g. ":8420"
	DBPath  string // SQLite database path, or ":memory:"
	Keys    []auth.KeyEntry
	KeySalt string
	Version string
}

// Server is a reusable bridge server instance.
type Server struct {
	store   *store.Store
	bus     *eventbus.Bus
	auth    *auth.Provider
	manager *session.Manager
	sqlDB   interface{ Close() error }
	server  *http.Server
	addr    string
}

// NewServer opens the database, runs migrations, and wires every
// collaborator described in the system overview: the store (C1), the
// event bus (C2), the auth provider (C3), the session layer (C4), and
// the tool dispatcher (C5).
func NewServer(sc ServerConfig) (*Server, error) {
	db, err := store.Open(sc.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	bus := eventbus.New()
	st := store.New(db, bus)
	authProvider := auth.NewProvider(sc.Keys, sc.KeySalt, st)
	dispatch := tools.New(st)
	manager := session.NewManager()
	timeouts := timeoutcfg.New()
	handler := session.NewHandler(manager, st, bus, authProvider, dispatch, timeouts, sc.Version)

	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)
	mux.HandleFunc("/health", healthHandler(sc.Version))
	mux.Handle("/metrics", promhttp.Handler())

	h2cHandler := h2c.NewHandler(logging.HTTPMiddleware(metrics.HTTPMiddleware(mux)), &http2.Server{
		MaxConcurrentStreams: 1000,
	})

	httpServer := &http.Server{
		Handler:           h2cHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		store:   st,
		bus:     bus,
		auth:    authProvider,
		manager: manager,
		sqlDB:   db,
		server:  httpServer,
		addr:    sc.Addr,
	}, nil
}

// Store exposes the bridge's store, for a standalone binary that hosts
// an agent in the same process.
func (s *Server) Store() *store.Store { return s.store }

// AuthProvider exposes the bridge's auth provider, so a standalone
// binary can register a locally-hosted agent's synthetic identity.
func (s *Server) AuthProvider() *auth.Provider { return s.auth }

func healthHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"ok":true,"name":"agorai","version":%q}`, version)
	}
}

// Serve starts the bridge's TCP listener. It blocks until ctx is
// cancelled, then performs graceful shutdown.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		_ = s.sqlDB.Close()
		return fmt.Errorf("listen: %w", err)
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		slog.Info("bridge shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		close(shutdownDone)
	}()

	slog.Info("bridge listening", "addr", s.addr)
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		_ = s.sqlDB.Close()
		return fmt.Errorf("serve: %w", err)
	}

	<-shutdownDone
	_ = s.sqlDB.Close()
	return nil
}
