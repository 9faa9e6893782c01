package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/BeanCounter/app/controllers"
	"github.com/ManuelReschke/BeanCounter/app/repository"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/cache"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/clock"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/config"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/database"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/env"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/loyalty"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/middleware"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/notify"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/payment"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/router"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/scheduler"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("[App] %v", err)
	}
}

func run() error {
	env.SetupEnvFile()
	if env.IsDev() {
		log.SetLevel(log.LevelDebug)
	}

	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.SetupDatabase(database.ConfigFromEnv())
	if err != nil {
		return err
	}
	cacheCfg := cache.ConfigFromEnv()
	rdb, err := cache.SetupCache(ctx, cacheCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := cache.Close(); err != nil {
			log.Warnf("[Cache] Close failed: %v", err)
		}
	}()

	repos := repository.NewFactory(db)

	// Events go to the log and to the Redis channel, off the request path.
	var notifier loyalty.Notifier = notify.Multi{
		notify.LogNotifier{},
		notify.NewRedisNotifier(rdb, cfg.Notifications.Channel),
	}
	if cfg.Notifications.Async {
		async := notify.NewAsync(notifier, cfg.Notifications.QueueSize)
		async.Start()
		defer async.Stop()
		notifier = async
	}

	opts := []loyalty.Option{loyalty.WithClock(clock.Real()), loyalty.WithNotifier(notifier)}
	if cfg.Redemption.Backend == config.BackendRedis {
		opts = append(opts, loyalty.WithRedemptionStore(loyalty.NewRedisRedemptionStore(rdb, cfg.ConflictRetries)))
	}
	var gateway *payment.SimulatedGateway
	if cfg.Payment.Simulated {
		gateway = payment.NewSimulatedGateway(payment.SimulatedConfig{
			Delay:            cfg.Payment.Delay,
			FailingCustomers: cfg.Payment.FailingCustomers,
		}, nil)
		opts = append(opts, loyalty.WithPaymentGateway(gateway))
	}

	engine := loyalty.NewEngine(repos.GetLoyaltyRepository(), policy, opts...)
	if gateway != nil {
		gateway.OnResult(func(ctx context.Context, result loyalty.PaymentResult) {
			if _, err := engine.HandlePaymentResult(ctx, result); err != nil {
				log.Errorf("[Billing] Failed to apply payment result for %s: %v", result.SubscriptionID, err)
			}
		})
		defer gateway.Close()
	}

	sched := scheduler.New(ctx, engine)
	if err := sched.Register(scheduler.Schedule{
		Billing:  cfg.Schedule.BillingCron,
		Archive:  cfg.Schedule.ArchiveCron,
		Birthday: cfg.Schedule.BirthdayCron,
	}); err != nil {
		return err
	}
	if env.GetEnvBool("RUN_ON_START", false) {
		sched.RunAllNow()
	}
	sched.Start()
	defer sched.Stop()

	app := NewApplication(router.Dependencies{
		Loyalty:         controllers.NewLoyaltyController(engine),
		Reports:         controllers.NewReportController(repos.GetReportRepository(), clock.Real()),
		APIKeys:         middleware.ParseAPIKeys(env.GetEnv("API_KEYS", "")),
		WebhookSecret:   env.GetEnv("PAYMENT_WEBHOOK_SECRET", ""),
		RateLimit:       env.GetEnvInt("API_RATE_LIMIT", 120),
		RateLimitWindow: env.GetEnvDuration("API_RATE_LIMIT_WINDOW", time.Minute),
		LimiterStorage:  limiterStorage(rdb, cacheCfg),
	})

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	}()

	select {
	case err := <-listenErr:
		return err
	case <-ctx.Done():
	}

	log.Info("[App] Shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warnf("[App] Shutdown: %v", err)
	}
	return nil
}

// NewApplication builds the fiber app with middleware, docs and routes.
func NewApplication(deps router.Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:   "BeanCounter",
		BodyLimit: 64 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	if docs, ok := findDocs(); ok {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: docs,
			Path:     "v1",
			Title:    "BeanCounter API",
		}))
	} else {
		log.Warn("[App] OpenAPI document not found, /docs/api/v1 disabled")
	}

	// ROUTER
	router.InstallRouter(app, deps)

	return app
}

func findDocs() (string, bool) {
	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/beancounter to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		file := path + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(file); err == nil {
			return file, true
		} else if !errors.Is(err, os.ErrNotExist) {
			log.Warnf("[App] Cannot stat %s: %v", file, err)
		}
	}
	return "", false
}

// limiterStorage keeps rate limit counters in a separate database of the
// cache server so every instance shares them.
func limiterStorage(rdb *redis.Client, cfg cache.Config) fiber.Storage {
	if rdb == nil || !env.GetEnvBool("API_RATE_LIMIT_SHARED", true) {
		return nil
	}
	return redisstorage.New(redisstorage.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		Database: env.GetEnvInt("API_RATE_LIMIT_DB", 2),
		Reset:    false,
	})
}
