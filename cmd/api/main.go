package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"emerald.finance/internal/access"
	"emerald.finance/internal/account"
	"emerald.finance/internal/audit"
	"emerald.finance/internal/auth"
	"emerald.finance/internal/httpapi"
	"emerald.finance/internal/obs"
	"emerald.finance/internal/sharing"
	"emerald.finance/internal/store/pg"
	"emerald.finance/internal/token"
)

var version = "0.3.0"

func main() {
	obs.Init()

	dsn := os.Getenv("EMERALD_PG_DSN")
	if dsn == "" {
		log.Fatal("EMERALD_PG_DSN is required")
	}
	signingSecret := os.Getenv("EMERALD_AUTH_SECRET")
	if signingSecret == "" {
		log.Fatal("EMERALD_AUTH_SECRET is required")
	}
	addr := os.Getenv("EMERALD_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	codec, err := auth.NewCodec(signingSecret)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}
	ledger, err := token.NewLedger(codec)
	if err != nil {
		log.Fatalf("token ledger: %v", err)
	}
	recorder := audit.NewRecorder()
	resolver, err := access.NewResolver(store, store.Grants())
	if err != nil {
		log.Fatalf("access resolver: %v", err)
	}
	authSvc, err := auth.NewService(store, codec, ledger, recorder)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(httpapi.Options{
		Auth:     authSvc,
		Accounts: account.NewService(store, resolver, recorder),
		Sharing:  sharing.NewService(store, resolver, recorder),
		Audit:    recorder,
		Events:   store.Audit(),
		Ready:    httpapi.ReadyProbe{Ping: store.Ping},
		Version:  version,
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sweepExpiredTokens(sweepCtx, store)

	log.Printf("Starting emerald-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

// sweepExpiredTokens hard-deletes refresh tokens past their expiry once an
// hour. Revocation state only matters while a token could still be presented.
func sweepExpiredTokens(ctx context.Context, store *pg.Store) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := store.RefreshTokens().DeleteExpired(ctx, time.Now().UTC())
			if err != nil {
				log.Printf("expired token sweep: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("expired token sweep removed %d tokens", n)
			}
		}
	}
}
