package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"convo/internal/archive"
	"convo/pkg/api"
	"convo/pkg/auth"
	"convo/pkg/banner"
	"convo/pkg/config"
	"convo/pkg/logger"
	"convo/pkg/notify"
	"convo/pkg/presence"
	"convo/pkg/reconcile"
	"convo/pkg/registry"
	"convo/pkg/store"
	"convo/pkg/transport"
	"convo/pkg/typing"
	"convo/pkg/validation"
)

func main() {
	// build metadata - set via ldflags during build/release
	var (
		version = "dev"
		commit  = "none"
	)

	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	cfg, signingKeys, envUsed, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)

	// Flags win over env/config for addr and db path.
	addr := cfg.Addr()
	if setFlags["addr"] {
		addr = addrVal
	}
	dbPath := dbVal
	if !setFlags["db"] && cfg.Storage.DBPath != "" {
		dbPath = cfg.Storage.DBPath
	}

	validation.SetLimits(validation.Limits{MaxContentBytes: cfg.Messaging.MaxContentBytes.Int64()})
	config.SetSigningKeys(signingKeys)

	st, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open pebble at %s: %v", dbPath, err)
	}

	reg := registry.New(st)
	typers := typing.New(cfg.Messaging.TypingTTL.Duration())
	pres := presence.New()
	dispatcher := notify.New(reg, st)

	loop := transport.NewLoopback(
		cfg.Messaging.Delivery.MinDelay.Duration(),
		cfg.Messaging.Delivery.MaxDelay.Duration(),
		cfg.Messaging.Delivery.FailureRate,
	)
	loop.Lister = st.ListConversations

	engine := reconcile.New(st, typers, dispatcher, loop, reconcile.Config{
		ConfirmTimeout: cfg.Messaging.ConfirmTimeout.Duration(),
		OutboxCapacity: cfg.Messaging.Outbox.Capacity,
		Workers:        cfg.Messaging.Outbox.Workers,
	})
	engine.Start()

	// Rolled-back sends are logged here; clients observe them through
	// store state (the optimistic message disappears).
	go func() {
		for f := range engine.Failures() {
			logger.Warn("send_rolled_back", "conversation", f.Conversation, "temp", f.TempID, "error", f.Err)
		}
	}()

	ctx, cancelArchive := context.WithCancel(context.Background())
	stopArchive, err := archive.Start(ctx, cfg.Archive, st)
	if err != nil {
		log.Fatalf("failed to start archive purge: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{\"status\":\"ok\"}"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", auth.RequireSignedUser(api.Handler(&api.Core{
		Registry:   reg,
		Store:      st,
		Engine:     engine,
		Typing:     typers,
		Presence:   pres,
		Dispatcher: dispatcher,
		TailLimit:  cfg.Messaging.TailLimit,
	})))

	secCfg := auth.SecConfig{
		AllowedOrigins: append([]string{}, cfg.Security.CORS.AllowedOrigins...),
		RPS:            cfg.Security.RateLimit.RPS,
		Burst:          cfg.Security.RateLimit.Burst,
		IPWhitelist:    append([]string{}, cfg.Security.IPWhitelist...),
		BackendKeys:    map[string]struct{}{},
		FrontendKeys:   map[string]struct{}{},
		AdminKeys:      map[string]struct{}{},
	}
	for _, k := range cfg.Security.APIKeys.Backend {
		secCfg.BackendKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Frontend {
		secCfg.FrontendKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Admin {
		secCfg.AdminKeys[k] = struct{}{}
	}
	wrapped := auth.Middleware(secCfg)(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           wrapped,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		logger.Info("signal_received", "signal", s.String())
		// Drain HTTP first so no handler can reach the engine after it
		// stops accepting sends.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		stopArchive()
		cancelArchive()
		engine.Stop()
		_ = st.Close()
	}()

	srcs := []string{}
	if len(setFlags) > 0 {
		srcs = append(srcs, "flags")
	}
	if envUsed {
		srcs = append(srcs, "env")
	}
	if _, err := config.Load(cfgPath); err == nil {
		srcs = append(srcs, "config")
	}
	verStr := version
	if commit != "none" {
		verStr = verStr + " (" + commit + ")"
	}
	banner.Print(cfg, addr, dbPath, strings.Join(srcs, ", "), verStr)

	logger.Info("server_starting", "addr", addr, "db", dbPath)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server exit: %v", err)
	}
}
