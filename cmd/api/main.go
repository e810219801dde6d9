package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spineauth.org/internal/audit"
	"spineauth.org/internal/authz"
	"spineauth.org/internal/config"
	"spineauth.org/internal/httpapi"
	"spineauth.org/internal/identity"
	"spineauth.org/internal/obs"
	"spineauth.org/internal/session"
	pgstore "spineauth.org/internal/store/pg"
	"spineauth.org/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	tokenCfg, err := cfg.TokenConfig()
	if err != nil {
		log.Fatalf("token config: %v", err)
	}
	codec, err := token.NewCodec(tokenCfg)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	matrix := authz.Default()
	if cfg.MatrixPath != "" {
		data, err := os.ReadFile(cfg.MatrixPath)
		if err != nil {
			log.Fatalf("read permission matrix: %v", err)
		}
		matrix, err = authz.Parse(data)
		if err != nil {
			log.Fatalf("parse permission matrix: %v", err)
		}
	}

	var (
		dir          identity.Directory
		refreshStore session.RefreshStore
		auditSink    audit.Sink
		probe        httpapi.ReadyProbe
	)
	if cfg.PostgresDSN != "" {
		store, err := pgstore.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		defer store.Close()
		dir = store
		refreshStore = store
		auditSink = store
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		log.Println("no SPINE_AUTH_PG_DSN set; running with in-memory stores")
		dir = identity.NewMemoryDirectory()
		refreshStore = session.NewMemoryRefreshStore()
		auditSink = audit.NewLogSink(obs.Logger())
	}

	sessions, err := session.NewService(codec, dir, refreshStore,
		session.WithFlagSource(session.NewMemoryFlagSource()))
	if err != nil {
		log.Fatalf("session service: %v", err)
	}

	api, err := httpapi.New(httpapi.Options{
		Codec:          codec,
		Directory:      dir,
		Matrix:         matrix,
		Audit:          auditSink,
		Sessions:       sessions,
		ReadyProbe:     probe,
		Version:        version,
		Audience:       cfg.Audience,
		Multiclient:    cfg.Multiclient,
		LegacyFallback: cfg.LegacyFallback,
		TokenCookie:    cfg.TokenCookie,
		Production:     cfg.Production(),
		Limiter:        httpapi.NewRateLimiter(50, 100),
	})
	if err != nil {
		log.Fatalf("httpapi: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting spine-auth %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
