package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowpags/payrecon/internal/pkg/cache"
	"github.com/flowpags/payrecon/internal/pkg/database"
	"github.com/flowpags/payrecon/internal/pkg/env"
	"github.com/flowpags/payrecon/internal/pkg/jobqueue"
	"github.com/flowpags/payrecon/internal/pkg/matching"
	"github.com/flowpags/payrecon/internal/pkg/reconcile"
	"github.com/flowpags/payrecon/internal/pkg/router"
	"github.com/flowpags/payrecon/internal/pkg/storage"
	"github.com/flowpags/payrecon/internal/pkg/webhook"
)

// managerEnqueuer defers manager lookup to enqueue time so the processor
// can be constructed before the queue that carries its jobs.
type managerEnqueuer struct{}

func (managerEnqueuer) EnqueueWebhookProcess(tenantID string, webhookEventID uint) error {
	return jobqueue.GetManager().EnqueueWebhookProcess(tenantID, webhookEventID)
}

func (managerEnqueuer) EnqueueReconcile(tenantID string, transactionID uint) error {
	return jobqueue.GetManager().EnqueueReconcile(tenantID, transactionID)
}

func main() {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	stores := storage.New(database.GetDB())
	processor := webhook.NewProcessor(stores, managerEnqueuer{})
	coordinator := reconcile.NewCoordinator(stores, matching.NewPipeline(), reconcile.AutoThresholdFromEnv())

	manager := jobqueue.Setup(processor, coordinator)
	manager.Start()

	// Retry sweep for failed, non-terminal events across all tenants.
	supervisorCtx, stopSupervisor := context.WithCancel(context.Background())
	supervisor := webhook.NewSupervisor(stores.Events(), processor, 0)
	go supervisor.Run(supervisorCtx, retrySweepInterval())

	app := NewApplication()

	// Graceful shutdown on SIGINT/SIGTERM: stop accepting requests, then
	// drain workers so no job is cut off mid-transaction.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("shutting down...")
		stopSupervisor()
		if err := app.ShutdownWithTimeout(20 * time.Second); err != nil {
			log.Printf("server shutdown: %v", err)
		}
		manager.Stop()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "0.0.0.0"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:   "payrecon",
		BodyLimit: 1048576, // 1 MiB, webhook payloads are small
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// prometheus scrape endpoint
	app.Get("/metrics/prometheus", adaptor.HTTPHandler(promhttp.Handler()))

	// ROUTER
	router.InstallRouter(app)

	return app
}

func retrySweepInterval() time.Duration {
	if v := env.GetEnv("RETRY_SWEEP_INTERVAL_MINUTES", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Minute
		}
	}
	return 2 * time.Minute
}
