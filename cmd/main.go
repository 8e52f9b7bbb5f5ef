package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/glFusion/shop-sub005/audit"
	"github.com/glFusion/shop-sub005/dispatch"
	"github.com/glFusion/shop-sub005/gateway"
	"github.com/glFusion/shop-sub005/handler"
	"github.com/glFusion/shop-sub005/infra/config"
	"github.com/glFusion/shop-sub005/infra/conn"
	"github.com/glFusion/shop-sub005/infra/logger"
	"github.com/glFusion/shop-sub005/infra/middle"
	"github.com/glFusion/shop-sub005/infra/opensearch"
	"github.com/glFusion/shop-sub005/ledger"
	"github.com/glFusion/shop-sub005/notify"
	"github.com/glFusion/shop-sub005/order"
	"github.com/glFusion/shop-sub005/router"
)

func main() {
	// Load Env
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}
	cfg := config.Load()

	// Initialize OpenSearch client and logger
	var osLogger *opensearch.Logger
	var osClient *opensearch.Client
	if cfg.EnableLogging {
		client, err := opensearch.NewClient(cfg)
		if err != nil {
			log.Printf("Failed to initialize OpenSearch client: %v", err)
			log.Println("Continuing without OpenSearch logging...")
		} else {
			osClient = client
			osLogger = opensearch.NewLogger(client)
		}
	}
	logger.InitGlobalLogger(osLogger)

	db, err := conn.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("database open failed", err)
	}
	defer db.Close()

	// Bind configured gateways to their registered strategies.
	gatewayConfig := config.NewGatewayConfig()
	gatewayConfig.LoadFromEnv(cfg.Environment)
	for _, id := range gatewayConfig.IDs() {
		spec, err := gatewayConfig.Get(id)
		if err != nil {
			logger.Error("gateway configuration missing", err, logger.LogContext{Gateway: id})
			continue
		}
		caps := make([]gateway.Capability, 0, len(spec.Capabilities))
		for _, c := range spec.Capabilities {
			caps = append(caps, gateway.Capability(c))
		}
		err = gateway.DefaultRegistry.Configure(gateway.Gateway{
			ID:           spec.ID,
			Capabilities: caps,
			Credentials:  spec.Credentials,
			Sandbox:      spec.Sandbox,
			Enabled:      spec.Enabled,
		})
		if err != nil {
			logger.Error("gateway configuration rejected", err, logger.LogContext{Gateway: id})
			continue
		}
		logger.Info("gateway configured", logger.LogContext{
			Gateway: id,
			Fields:  map[string]any{"sandbox": spec.Sandbox, "enabled": spec.Enabled},
		})
	}

	// Pipeline collaborators.
	deduper := ledger.NewRedisDeduper(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.ReserveTTL)
	ledg := ledger.NewLedger(db, cfg.ReserveTTL, deduper)
	recorder := ledger.NewRecorder(db)
	orders := order.NewStore(db)
	machine := order.NewMachine(config.LoadStatusFlags(), notify.LogNotifier{})
	auditStore := audit.NewStore(db, osLogger)
	coordinator := dispatch.New(gateway.DefaultRegistry, ledg, recorder, orders, machine, auditStore, cfg.DispatchBudget)

	// Chi Define Routes
	r := chi.NewRouter()

	// Basic Middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middle.PanicRecoveryMiddleware())
	r.Use(middle.SecurityHeadersMiddleware())
	r.Use(middle.RequestLoggingMiddleware())
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS applies to the operational API; gateways POST server to server.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))

	router.Routes(r, &router.Handlers{
		Webhook: handler.NewWebhookHandler(gateway.DefaultRegistry, coordinator),
		Health:  handler.NewHealthHandler(db, osClient, gateway.DefaultRegistry),
		Audit:   handler.NewAuditHandler(auditStore),
		APIKey:  cfg.APIKey,
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening on :" + cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", err)
	}
}
