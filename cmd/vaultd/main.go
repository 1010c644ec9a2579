package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/acapretto/tokenvault/internal/server"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	dataDir := flag.String("data", envOr("VAULTD_DATA_DIR", "./data"), "directory for the file blob store")
	mongoURI := flag.String("mongo", os.Getenv("VAULTD_MONGO_URI"), "MongoDB URI (optional; file store when empty)")
	mongoDB := flag.String("db", envOr("VAULTD_MONGO_DB", "tokenvault"), "Mongo database name")
	coll := flag.String("coll", envOr("VAULTD_MONGO_COLL", "vaults"), "Mongo collection for sync bundles")
	origin := flag.String("origin", os.Getenv("VAULTD_ALLOWED_ORIGIN"), "allowed CORS origin in production")
	prod := flag.Bool("prod", os.Getenv("VAULTD_PRODUCTION") == "1", "production mode (strict CORS)")
	flag.Parse()

	logger := log.New(os.Stdout, "[vaultd] ", log.LstdFlags)

	secret := os.Getenv("VAULTD_AUTH_SECRET")
	if secret == "" {
		logger.Fatal("VAULTD_AUTH_SECRET is required")
	}
	codes := splitCodes(os.Getenv("VAULTD_ACCESS_CODES"))
	if len(codes) == 0 {
		logger.Fatal("VAULTD_ACCESS_CODES is required (comma-separated)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := server.New(ctx, server.Config{
		MongoURI:       *mongoURI,
		MongoDB:        *mongoDB,
		SyncCollection: *coll,
		DataDir:        *dataDir,
		AuthSecret:     secret,
		AccessCodes:    codes,
		AllowedOrigin:  *origin,
		Production:     *prod,
	})
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutCtx)
	}()

	logger.Printf("listening on %s", *addr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("serve: %v", err)
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Close(closeCtx); err != nil {
		logger.Printf("store close: %v", err)
	}
	logger.Println("shutdown complete")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitCodes(raw string) []string {
	var out []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
