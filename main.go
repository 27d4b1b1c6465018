package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/stablegate/stablegate/app/models"
	"github.com/stablegate/stablegate/app/repository"
	apiv1 "github.com/stablegate/stablegate/internal/api/v1"
	"github.com/stablegate/stablegate/internal/pkg/addrcrypto"
	"github.com/stablegate/stablegate/internal/pkg/cache"
	"github.com/stablegate/stablegate/internal/pkg/chains"
	"github.com/stablegate/stablegate/internal/pkg/chains/evm"
	"github.com/stablegate/stablegate/internal/pkg/chains/tron"
	"github.com/stablegate/stablegate/internal/pkg/constants"
	"github.com/stablegate/stablegate/internal/pkg/database"
	"github.com/stablegate/stablegate/internal/pkg/env"
	"github.com/stablegate/stablegate/internal/pkg/monitor"
	"github.com/stablegate/stablegate/internal/pkg/ofac"
	"github.com/stablegate/stablegate/internal/pkg/payment"
	"github.com/stablegate/stablegate/internal/pkg/router"
	"github.com/stablegate/stablegate/internal/pkg/scheduler"
	"github.com/stablegate/stablegate/internal/pkg/security"
	"github.com/stablegate/stablegate/internal/pkg/statistics"
	"github.com/stablegate/stablegate/internal/pkg/subscription"
	"github.com/stablegate/stablegate/internal/pkg/webhook"
)

func main() {
	app, manager := NewApplication()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Print("shutdown signal received")
		manager.Stop()
		if err := app.Shutdown(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() (*fiber.App, *scheduler.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()

	box, err := addrcrypto.NewBox(env.MustGetEnv("SESSION_SECRET"))
	if err != nil {
		log.Fatalf("address crypto: %v", err)
	}

	registry := buildRegistry()

	dispatcher := webhook.NewDispatcher(repos)
	sanctions := ofac.NewService(repos, env.GetEnv("OFAC_SDN_URL", ""), redisCache{})
	subscriptions := subscription.NewService(repos, dispatcher)
	payments := payment.NewService(repos, box, sanctions, dispatcher, nil, subscriptions, payment.Receivers{
		EVM:  env.GetEnv("PAYMENT_ADDRESS_EVM", ""),
		Tron: env.GetEnv("PAYMENT_ADDRESS_TRON", ""),
	})
	mon := monitor.NewMonitor(payments, repos, registry)
	payments.SetEnroller(mon)
	stats := statistics.NewService(repos)

	seedDefaultTenant(repos)
	go sanctions.EnsureSeeded()

	manager := scheduler.NewManager(payments, subscriptions, dispatcher, sanctions, mon)
	manager.Start()

	app := fiber.New(fiber.Config{
		AppName: "stablegate",
	})
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: constants.DocsRoute,
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, apiv1.NewAPIServer(payments, subscriptions, sanctions, mon, registry, stats))

	return app, manager
}

// buildRegistry wires one chain adapter per network that has credentials
// configured. Networks without an adapter stay visible but unmonitorable.
func buildRegistry() *chains.Registry {
	registry := chains.NewRegistry()

	if apiKey := env.GetEnv("ALCHEMY_API_KEY", ""); apiKey != "" {
		for _, n := range []chains.Network{chains.NetworkArbitrum, chains.NetworkEthereum} {
			adapter, err := evm.NewAdapter(n, apiKey, "")
			if err != nil {
				log.Printf("evm adapter for %s disabled: %v", n, err)
				continue
			}
			registry.Register(n, adapter)
		}
	} else {
		log.Print("ALCHEMY_API_KEY not set, EVM transfer monitoring disabled")
	}

	registry.Register(chains.NetworkTron, tron.NewAdapter(
		env.GetEnv("RPC_TRON", ""),
		env.GetEnv("TRONGRID_API_KEY", ""),
	))

	return registry
}

// seedDefaultTenant upserts the single-tenant deployment config from the
// environment. Without TENANT_API_KEY a key is generated on first boot and
// printed exactly once; only its hash is stored.
func seedDefaultTenant(repos *repository.Repositories) {
	apiKey := env.GetEnv("TENANT_API_KEY", "")
	if apiKey == "" {
		if _, err := repos.Tenant.GetByID(models.DefaultTenantID); err == nil {
			log.Print("TENANT_API_KEY not set, keeping existing default tenant")
			return
		}
		generated, err := security.GenerateAPIKey()
		if err != nil {
			log.Printf("seed default tenant: %v", err)
			return
		}
		apiKey = generated
		log.Printf("Generated tenant API key (store it now, it is not shown again): %s", apiKey)
	}

	tenant := &models.Tenant{
		ID:                  models.DefaultTenantID,
		Name:                env.GetEnv("TENANT_NAME", "Default"),
		APIKeyHash:          models.HashAPIKey(apiKey),
		WebhookURL:          env.GetEnv("WEBHOOK_URL", ""),
		WebhookSecret:       env.GetEnv("WEBHOOK_SECRET", ""),
		EVMReceiverAddress:  env.GetEnv("PAYMENT_ADDRESS_EVM", ""),
		TronReceiverAddress: env.GetEnv("PAYMENT_ADDRESS_TRON", ""),
		IsActive:            true,
	}

	if existing, err := repos.Tenant.GetByID(models.DefaultTenantID); err == nil {
		tenant.CreatedAt = existing.CreatedAt
		if err := repos.Tenant.Update(tenant); err != nil {
			log.Printf("update default tenant: %v", err)
		}
		return
	}
	if err := repos.Tenant.Create(tenant); err != nil {
		log.Printf("create default tenant: %v", err)
	}
}

// redisCache adapts the process-wide cache helpers to the sanctions service.
type redisCache struct{}

func (redisCache) Set(key string, value any, expiration time.Duration) error {
	return cache.Set(key, value, expiration)
}

func (redisCache) Get(key string) (string, error) {
	return cache.Get(key)
}
