// Package main provides the journey API server.
package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dukex/journey/pkg/cache"
	"github.com/dukex/journey/pkg/conditions"
	"github.com/dukex/journey/pkg/eventbus"
	"github.com/dukex/journey/pkg/metrics"
	"github.com/dukex/journey/pkg/models"
	"github.com/dukex/journey/pkg/persistence"
	"github.com/dukex/journey/pkg/services"
	"github.com/dukex/journey/pkg/validation"
	"github.com/dukex/journey/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	cache       cache.DefinitionCache
	tracer      trace.Tracer
	registry    *prometheus.Registry
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	cache cache.DefinitionCache,
	tracer trace.Tracer,
) *API {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &API{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		cache:       cache,
		tracer:      tracer,
		registry:    registry,
	}
}

func (a *API) App() (*fiber.App, error) {
	conditionRegistry := conditions.NewRegistry()

	validator, err := validation.New(conditionRegistry)
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	opts := services.Options{
		Logger:   a.logger,
		Tracer:   a.tracer,
		Metrics:  metrics.New(a.registry),
		Cache:    a.cache,
		EventBus: a.eventBus,
	}

	handlers := web.NewAPIHandlers(
		services.NewVersions(a.persistence, validator, opts),
		services.NewRuntime(a.persistence, conditionRegistry, opts),
		services.NewAudit(a.persistence),
		models.NewValidator(),
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Journey API")
	})

	app.Get("/health", handlers.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	handlers.Routes(app)

	return app, nil
}

func (a *API) Start(port int) error {
	app, err := a.App()
	if err != nil {
		return err
	}

	return app.Listen(":" + strconv.Itoa(port))
}
