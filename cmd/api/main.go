package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/imrishuroy/esim-settlement/internal/aws"
	orderevents "github.com/imrishuroy/esim-settlement/internal/events"
	"github.com/imrishuroy/esim-settlement/internal/gatewaycfg"
	"github.com/imrishuroy/esim-settlement/internal/handlers"
	"github.com/imrishuroy/esim-settlement/internal/idempotency"
	"github.com/imrishuroy/esim-settlement/internal/logging"
	"github.com/imrishuroy/esim-settlement/internal/metrics"
	"github.com/imrishuroy/esim-settlement/internal/orders"
	"github.com/imrishuroy/esim-settlement/internal/payments"
	"github.com/imrishuroy/esim-settlement/internal/tracing"
)

const idempotencyWindow = 48 * time.Hour

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), handlers.Correlation())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterOrdersRoutes(r, cfg)
	handlers.RegisterPaymentRoutes(r, cfg)

	return r
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// buildConfig wires stores and the gateway config. ORDERS_BACKEND=memory keeps
// everything in process and reads gateway settings from the environment only.
func buildConfig(ctx context.Context, log *slog.Logger) (handlers.HandlerConfig, error) {
	cfg := handlers.HandlerConfig{
		Logger:      log,
		StoreDomain: os.Getenv("STORE_DOMAIN"),
	}

	if strings.EqualFold(os.Getenv("ORDERS_BACKEND"), "memory") {
		store := orders.NewMemoryStore()
		gateway := gatewaycfg.NewResolver(nil, gatewaycfg.DefaultCacheTTL, log)
		cfg.Checkout = store
		cfg.Orders = store
		cfg.Metrics = metrics.Nop{}
		cfg.Reconciler = orders.NewReconciler(store, nil, cfg.Metrics, log)
		cfg.Builder = payments.NewBuilder(gateway, os.Getenv("ROBOKASSA_GATEWAY_URL"))
		cfg.Verifier = payments.NewVerifier(gateway)
		log.Info("using in-memory order store")
		return cfg, nil
	}

	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		return cfg, err
	}

	idempTable := env("IDEMPOTENCY_TABLE", "idempotency")
	store := orders.NewStore(clients.DynamoDB, env("ORDERS_TABLE", "orders"))
	seq := orders.NewSequence(clients.DynamoDB, env("COUNTERS_TABLE", "counters"), "orders")
	idemp := idempotency.NewStore(clients.DynamoDB, idempTable, idempotencyWindow)

	var gwSource gatewaycfg.Source
	if table := os.Getenv("GATEWAY_CONFIG_TABLE"); table != "" {
		gwSource = gatewaycfg.NewDynamoSource(clients.DynamoDB, table)
	}
	gateway := gatewaycfg.NewResolver(gwSource, gatewaycfg.DefaultCacheTTL, log)

	cfg.Metrics = metrics.Nop{}
	if ns := os.Getenv("METRICS_NAMESPACE"); ns != "" {
		cfg.Metrics = metrics.NewCloudWatch(clients.CloudWatch, ns, log)
	}

	var notify orders.Notifier
	if queueURL := os.Getenv("ORDERS_QUEUE_URL"); queueURL != "" {
		notify = orderevents.NewNotifier(aws.NewPublisher(clients.SQS, queueURL))
	} else {
		log.Warn("ORDERS_QUEUE_URL not set, paid orders will not be provisioned")
	}

	cfg.Checkout = orders.NewDynamoCheckout(store, seq, idemp, idempTable, idempotencyWindow)
	cfg.Orders = store
	cfg.Reconciler = orders.NewReconciler(store, notify, cfg.Metrics, log)
	cfg.Builder = payments.NewBuilder(gateway, os.Getenv("ROBOKASSA_GATEWAY_URL"))
	cfg.Verifier = payments.NewVerifier(gateway)
	return cfg, nil
}

func main() {
	local := os.Getenv("RUN_LOCAL") == "true"
	if local {
		// a missing .env is fine; the environment may already be set
		_ = godotenv.Load()
	}

	log := logging.New()
	slog.SetDefault(log)
	tracing.Setup()

	cfg, err := buildConfig(context.Background(), log)
	if err != nil {
		log.Error("failed to init dependencies", "err", err)
		os.Exit(1)
	}
	if cfg.StoreDomain == "" {
		log.Warn("STORE_DOMAIN not set, payment init will be rejected")
	}

	r := setupRouter(cfg)

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if local {
		addr := ":" + env("PORT", "8080")
		log.Info("running local server", "addr", addr)
		if err := r.Run(addr); err != nil {
			log.Error("local server stopped", "err", err)
			os.Exit(1)
		}
		return
	}

	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
