package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mamazine/backend/addon"
	"github.com/mamazine/backend/auth"
	"github.com/mamazine/backend/catalog"
	"github.com/mamazine/backend/db"
	"github.com/mamazine/backend/external"
	"github.com/mamazine/backend/profile"
	"github.com/mamazine/backend/subscription"
	"github.com/mamazine/backend/tier"
	"github.com/mamazine/backend/webhook"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var dotFile string
	var err error

	// Determine running environment and initialize structural logger
	env := os.Getenv("ENV")
	if "production" == env {
		dotFile = ".env.production"
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: env,
		Debug:       "production" != env,
	}); err != nil {
		log.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "api",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	logger = zapsentry.AttachCoreToLogger(core, logger)

	defer logger.Sync()

	// Load configurations from dotFile
	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	billing, err := external.NewStripeBilling(os.Getenv("STRIPE_KEY"), os.Getenv("STRIPE_WEBHOOK_SECRET"))
	if err != nil {
		logger.Fatal("Cannot initialize Stripe client",
			zap.Error(err),
		)
	}

	// Initialize backend connections
	db, err := db.New(db.Options{
		URI:    os.Getenv("POSTGRES_URI"),
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{os.Getenv("REDIS_URI")},
		Password: os.Getenv("REDIS_PW"),
		DB:       0,
	})
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}
	defer rdb.Close()

	// The identity service writes session tokens to redis; resolving one
	// here is the whole of this API's authentication
	authManager, err := auth.New(auth.Options{
		Logger: logger,
		Verifier: func(token string) (*auth.Claims, error) {
			val, err := rdb.Get("session:" + token).Result()
			if err == redis.Nil {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			var claims auth.Claims
			if err := json.Unmarshal([]byte(val), &claims); err != nil {
				return nil, err
			}
			return &claims, nil
		},
	})
	if err != nil {
		logger.Fatal("Cannot initialize Auth",
			zap.Error(err),
		)
	}

	tierRepository, err := tier.NewRepository(logger, db)
	if err != nil {
		logger.Fatal("Cannot initialize tier Repository",
			zap.Error(err),
		)
	}

	addonRepository, err := addon.NewRepository(logger, db)
	if err != nil {
		logger.Fatal("Cannot initialize addon Repository",
			zap.Error(err),
		)
	}

	profileRepository, err := profile.NewRepository(logger, db)
	if err != nil {
		logger.Fatal("Cannot initialize profile Repository",
			zap.Error(err),
		)
	}

	subscriptionRepository, err := subscription.NewRepository(logger, db)
	if err != nil {
		logger.Fatal("Cannot initialize subscription Repository",
			zap.Error(err),
		)
	}

	catalogManager, err := catalog.NewManager(catalog.ManagerOptions{
		TierRepository:  tierRepository,
		AddonRepository: addonRepository,
		Billing:         billing,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize CatalogManager",
			zap.Error(err),
		)
	}

	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		Repository:        subscriptionRepository,
		ProfileRepository: profileRepository,
		TierRepository:    tierRepository,
		AddonRepository:   addonRepository,
		Billing:           billing,
		Logger:            logger,
		Checkout: subscription.CheckoutPolicy{
			CollectShipping:   "false" != os.Getenv("CHECKOUT_COLLECT_SHIPPING"),
			AllowedCountries:  splitEnvList(os.Getenv("CHECKOUT_ALLOWED_COUNTRIES")),
			CollectPromoOptIn: "false" != os.Getenv("CHECKOUT_COLLECT_PROMO"),
		},
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	catalogRouter, err := catalog.NewService(catalog.ServiceOptions{
		CatalogManager: catalogManager,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Catalog Service Router",
			zap.Error(err),
		)
	}

	subscriptionRouter, err := subscription.NewService(subscription.ServiceOptions{
		SubscriptionManager: subscriptionManager,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Subscription Service Router",
			zap.Error(err),
		)
	}

	webhookRouter, err := webhook.NewService(webhook.ServiceOptions{
		SubscriptionHandler: subscriptionManager,
		Billing:             billing,
		Redis:               rdb,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Webhook Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()

	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitEnvList(os.Getenv("CORS_ORIGINS")),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// signature-verified, no session required
	rootRouter.Mount("/webhooks/stripe", webhookRouter.Router())

	rootRouter.Mount("/catalog", catalogRouter.PublicRouter())

	rootRouter.Route("/subscription", func(r chi.Router) {
		r.Use(authManager.Middleware())
		r.Mount("/", subscriptionRouter.Router())
	})

	rootRouter.Route("/admin/catalog", func(r chi.Router) {
		r.Use(requireAdminToken(os.Getenv("ADMIN_TOKEN")))
		r.Mount("/", catalogRouter.Router())
	})

	srv := &http.Server{
		Handler: rootRouter,
		Addr:    ":42069",
	}

	go func() {
		logger.Info("API started",
			zap.String("Addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Cannot start API server",
				zap.Error(err),
			)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Cannot shutdown API server cleanly",
			zap.Error(err),
		)
	}
}

func splitEnvList(raw string) []string {
	parts := make([]string, 0, 4)
	for _, p := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(p); len(trimmed) > 0 {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// requireAdminToken guards the catalog administration surface with a
// shared secret. The storefront never calls these routes.
func requireAdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(token) == 0 || r.Header.Get("X-Admin-Token") != token {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
