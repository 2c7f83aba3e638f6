package metrics

import (
	"context"
	"log/slog"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/imrishuroy/esim-settlement/internal/aws"
)

// Counter names
const (
	ResultAcknowledged   = "ResultAcknowledged"
	ResultBadSignature   = "ResultBadSignature"
	ResultError          = "ResultError"
	SuccessRedirected    = "SuccessRedirected"
	SuccessBadSignature  = "SuccessBadSignature"
	SuccessError         = "SuccessError"
	SuccessOrderNotFound = "SuccessOrderNotFound"
	OrderPaid            = "OrderPaid"
	DuplicateSettlement  = "DuplicateSettlement"
	PublishFailed        = "PublishFailed"
	OrderProvisioned     = "OrderProvisioned"
)

// Recorder counts events.
type Recorder interface {
	Incr(ctx context.Context, name string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Incr(context.Context, string) {}

// CloudWatch publishes each count as a single PutMetricData datum.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
	log       *slog.Logger
	nowFunc   func() time.Time
}

// NewCloudWatch returns a Recorder writing to namespace.
func NewCloudWatch(client aws.CloudWatchAPI, namespace string, log *slog.Logger) *CloudWatch {
	return &CloudWatch{
		client:    client,
		namespace: namespace,
		log:       log,
		nowFunc:   time.Now,
	}
}

// Incr never fails the caller; publishing errors are logged.
func (c *CloudWatch) Incr(ctx context.Context, name string) {
	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: sdkaws.String(c.namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: sdkaws.String(name),
			Timestamp:  sdkaws.Time(c.nowFunc()),
			Unit:       cwtypes.StandardUnitCount,
			Value:      sdkaws.Float64(1),
		}},
	})
	if err != nil {
		c.log.Warn("put metric data failed", "metric", name, "err", err)
	}
}
