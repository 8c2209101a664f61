package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"univote.org/internal/admin"
	"univote.org/internal/config"
	"univote.org/internal/election"
	"univote.org/internal/httpapi"
	"univote.org/internal/mail"
	"univote.org/internal/obs"
	"univote.org/internal/otp"
	"univote.org/internal/store/pg"
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

	var (
		store      election.Store
		adminStore admin.Store
		probe      httpapi.ReadyProbe
	)
	if cfg.DatabaseDSN != "" {
		pgStore, err := pg.Open(cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		adminStore = admin.NewPGStore(pgStore.DB())
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		// DSN-less runs keep everything in memory; useful for local demos.
		log.Println("UNIVOTE_PG_DSN not set, using in-memory store")
		store = election.NewInMemory()
		adminStore = admin.NewMemoryStore()
	}

	var sender mail.Sender
	if cfg.SMTP.Host != "" {
		sender, err = mail.NewSMTPSender(cfg.SMTP)
		if err != nil {
			log.Fatalf("mail sender: %v", err)
		}
	} else {
		log.Println("UNIVOTE_SMTP_HOST not set, recording outbound mail in memory")
		sender = mail.NewRecorder()
	}

	elections := election.NewService(store)
	otps := otp.NewService(store, sender,
		otp.WithCooldown(cfg.OTPCooldown),
		otp.WithExpiry(cfg.OTPExpiry),
		otp.WithSessionTTL(cfg.SessionTTL),
	)
	admins := admin.NewService(adminStore)
	voting := config.NewFlag(cfg.VotingOpen)

	api := httpapi.New(probe, version, elections, otps, admins, voting)
	api.SetAdminTTL(cfg.SessionTTL)
	api.SetRateLimit(cfg.RateBurst, cfg.RatePerSec)
	api.SetCookieSecure(cfg.CookieSecure)
	api.SetAllowedOrigins(cfg.AllowedOrigins)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting univote-api %s on %s (voting_open=%v)", version, srv.Addr, cfg.VotingOpen)

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
