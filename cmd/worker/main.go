package main

import (
	"context"
	"os"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"

	"github.com/imrishuroy/esim-settlement/internal/aws"
	"github.com/imrishuroy/esim-settlement/internal/idempotency"
	"github.com/imrishuroy/esim-settlement/internal/logging"
	"github.com/imrishuroy/esim-settlement/internal/metrics"
	"github.com/imrishuroy/esim-settlement/internal/orders"
	"github.com/imrishuroy/esim-settlement/internal/tracing"
)

const idempotencyWindow = 48 * time.Hour

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	local := os.Getenv("RUN_LOCAL") == "true"
	if local {
		_ = godotenv.Load()
	}
	log := logging.New()
	tracing.Setup()

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		log.Error("failed to init aws clients", "err", err)
		os.Exit(1)
	}

	var rec metrics.Recorder = metrics.Nop{}
	if ns := os.Getenv("METRICS_NAMESPACE"); ns != "" {
		rec = metrics.NewCloudWatch(clients.CloudWatch, ns, log)
	}

	p := NewProcessor(
		idempotency.NewStore(clients.DynamoDB, env("IDEMPOTENCY_TABLE", "idempotency"), idempotencyWindow),
		orders.NewStore(clients.DynamoDB, env("ORDERS_TABLE", "orders")),
		logProvisioner{log: log},
		rec,
		log,
	)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if local {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"event_id":"local-event-1","type":"order.paid","order_id":"1"}`
		}
		event := lambdaevents.SQSEvent{Records: []lambdaevents.SQSMessage{{MessageId: "local", Body: body}}}
		if err := p.Handle(context.Background(), event); err != nil {
			log.Error("local handler error", "err", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(p.Handle)
}
