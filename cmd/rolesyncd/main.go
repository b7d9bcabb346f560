package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/rolesync/rolesync/internal/entitlement"
	"github.com/rolesync/rolesync/internal/http/handlers"
	"github.com/rolesync/rolesync/internal/identity"
	"github.com/rolesync/rolesync/internal/normalize"
	"github.com/rolesync/rolesync/internal/platform/community"
	"github.com/rolesync/rolesync/internal/platform/mailer"
	"github.com/rolesync/rolesync/internal/platform/payments"
	"github.com/rolesync/rolesync/internal/reconcile"
	"github.com/rolesync/rolesync/internal/repo/postgres"
	"github.com/rolesync/rolesync/internal/repo/redisrepo"
	"github.com/rolesync/rolesync/internal/service"
	"github.com/rolesync/rolesync/pkg/config"
	"github.com/rolesync/rolesync/pkg/database"
	"github.com/rolesync/rolesync/pkg/events"
	"github.com/rolesync/rolesync/pkg/logger"
	mw "github.com/rolesync/rolesync/pkg/middleware"
)

// Stripe retries failed webhook deliveries for up to three days; keep
// processed event ids around at least that long.
const dedupTTL = 72 * time.Hour

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()

	// Connect to database
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Connect to Redis
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("Invalid Redis URL", "error", err)
		os.Exit(1)
	}
	if cfg.Redis.Password != "" {
		redisOpts.Password = cfg.Redis.Password
	}
	redisOpts.DB = cfg.Redis.DB
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	// Connect to event bus
	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// Platform clients
	stripeClient := payments.NewStripeClient(cfg.Stripe.SecretKey, cfg.Stripe.CheckoutLookback)
	communityClient := community.NewHTTPClient(cfg.Community.GatewayURL, cfg.Community.BotToken, cfg.Community.GuildID)

	var mailSvc mailer.Service
	if cfg.Email.DevMode {
		mailSvc = mailer.NewDevMailer()
	} else {
		mailSvc = mailer.NewMailerSend(cfg.Email.MailerSendKey, cfg.Email.FromName, cfg.Email.FromEmail)
	}

	// Repositories
	identityRepo := postgres.NewIdentityRepository(pool)
	dedupRepo := redisrepo.NewDedupRepository(rdb, dedupTTL)

	// Identity store: best-effort snapshot rehydration, never a startup failure
	identityStore := identity.NewStore(identityRepo, cfg.Snapshot.Path)
	if err := identityStore.Reload(ctx); err != nil {
		logger.Warn("Identity snapshot reload reported error", "error", err)
	}

	// Engine
	resolver := entitlement.NewResolver(stripeClient)
	reconciler := reconcile.NewRoleReconciler(communityClient, cfg.Community.RoleID)
	engine := service.NewEngine(identityStore, resolver, reconciler, mailSvc, eventBus)

	normalizer := normalize.New(stripeClient)
	h := handlers.New(engine, identityStore, normalizer, dedupRepo, identityRepo, communityClient, cfg)

	// Setup router
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("rolesync"))
	r.Use(mw.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Post("/webhook", h.StripeWebhook)

	r.Route("/commands", func(r chi.Router) {
		r.Use(h.RequireCommandJWT(""))
		r.Post("/verify", h.Verify)
		r.Post("/unverify", h.Unverify)
		r.Post("/checkpayment", h.CheckPayment)
	})

	r.Route("/backup", func(r chi.Router) {
		r.Use(h.RequireCommandJWT("admin"))
		r.Get("/", h.Backup)
	})

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down rolesync...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Shutdown error", "error", err)
		}
	}()

	logger.Info("Starting rolesync", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
