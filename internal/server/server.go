package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/acapretto/tokenvault/internal/audit"
	"github.com/acapretto/tokenvault/internal/storage"
	"github.com/acapretto/tokenvault/internal/syncer"
	"github.com/acapretto/tokenvault/internal/token"
	"golang.org/x/time/rate"
)

type Server struct {
	cfg Config

	mux    *http.ServeMux
	logger *log.Logger

	tokens *token.Service
	sync   *syncer.Service
	store  storage.BlobStore
	audit  *audit.Log

	// Coarse whole-process throttle in front of the per-client windows.
	global *rate.Limiter

	rlToken *windowLimiter
	rlSync  *windowLimiter
	rlProxy *windowLimiter

	upstream *http.Client
}

func New(ctx context.Context, cfg Config) (*Server, error) {
	cfg.setDefaults()
	if cfg.AuthSecret == "" {
		return nil, errors.New("server: AuthSecret required")
	}
	if len(cfg.AccessCodes) == 0 {
		return nil, errors.New("server: at least one access code required")
	}

	var store storage.BlobStore
	if cfg.MongoURI != "" {
		var err error
		store, err = storage.NewMongoBlobStore(ctx, cfg.MongoURI, cfg.MongoDB, cfg.SyncCollection)
		if err != nil {
			return nil, err
		}
	} else {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, err
		}
		store = storage.NewFileBlobStore(cfg.DataDir)
	}

	s := &Server{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		logger: log.New(os.Stdout, "[vaultd] ", log.LstdFlags|log.Lshortfile),
		tokens: token.NewService(token.Config{
			Secret:      []byte(cfg.AuthSecret),
			AccessCodes: cfg.AccessCodes,
			TTL:         cfg.TokenTTL,
		}),
		sync:     syncer.NewService(store),
		store:    store,
		audit:    audit.New(),
		global:   rate.NewLimiter(rate.Limit(200), 400),
		rlToken:  newWindowLimiter(cfg.TokenRateLimit, time.Minute),
		rlSync:   newWindowLimiter(cfg.SyncRateLimit, time.Minute),
		rlProxy:  newWindowLimiter(cfg.ProxyRateLimit, time.Minute),
		upstream: &http.Client{Timeout: cfg.UpstreamTimeout},
	}
	s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Printf("panic: %v", rec)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()

	s.addDefaultHeaders(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !s.global.Allow() {
		tooMany(w, 1)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler { return s }

// Close releases the backing blob store's resources. The file store holds
// none; the Mongo store disconnects its client.
func (s *Server) Close(ctx context.Context) error {
	if c, ok := s.store.(interface{ Close(context.Context) error }); ok {
		return c.Close(ctx)
	}
	return nil
}

// Audit exposes the server's event chain for inspection and verification.
func (s *Server) Audit() *audit.Log { return s.audit }

func (s *Server) addDefaultHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin(r))
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
}

// corsOrigin echoes any origin outside production; in production only the
// configured origin is ever offered.
func (s *Server) corsOrigin(r *http.Request) string {
	if s.cfg.Production {
		return s.cfg.AllowedOrigin
	}
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	return "*"
}
