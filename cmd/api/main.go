package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"accesshub.org/internal/audit"
	"accesshub.org/internal/config"
	"accesshub.org/internal/httpapi"
	"accesshub.org/internal/obs"
	"accesshub.org/internal/rbac"
	"accesshub.org/internal/session"
	"accesshub.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()

	// Persistent stores when a DSN is configured, in-memory otherwise.
	var (
		rbacStore  rbac.Store
		auditStore audit.Store
		db         *sql.DB
	)
	if cfg.PostgresDSN != "" {
		pgStore, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		defer pgStore.Close()
		rbacStore = pgStore
		auditStore = pgStore
		db = pgStore.DB()
	} else {
		log.Println("no ACCESSHUB_PG_DSN set, running on in-memory stores")
		rbacStore = rbac.NewMemoryStore()
		auditStore = audit.NewMemoryStore()
	}

	var sessionStore session.Store
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("ping redis: %v", err)
		}
		sessionStore = session.NewRedisStore(client)
	} else {
		sessionStore = session.NewMemoryStore()
	}

	rbacSvc, err := rbac.NewService(rbacStore)
	if err != nil {
		log.Fatalf("rbac service: %v", err)
	}
	if err := rbacSvc.EnsureBuiltins(ctx); err != nil {
		log.Fatalf("ensure builtins: %v", err)
	}

	sessionSvc, err := session.NewService(sessionStore, session.NewStaticLocator(nil), cfg.SessionTTL)
	if err != nil {
		log.Fatalf("session service: %v", err)
	}

	api := httpapi.New(rbacSvc, sessionSvc, auditStore, httpapi.Options{
		Version:      version,
		TokenTTL:     cfg.TokenTTL,
		RateBurst:    cfg.RateBurst,
		RatePerSec:   cfg.RatePerSec,
		MaxBodyBytes: cfg.MaxBodyBytes,
		ReadyProbe:   httpapi.ReadyProbe{DB: db},
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting accesshub-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	api.Flush()
	log.Println("Stopped")
}
