// Package metrics publishes catch-up run telemetry to CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"reducer/internal/types"
)

// Metric and dimension names.
const (
	MetricRowsPushed       = "RowsPushed"
	MetricWindowsProcessed = "WindowsProcessed"
	MetricRunDuration      = "RunDuration"
	DimFeed                = "Feed"
)

// DefaultNamespace is used when no namespace is configured.
const DefaultNamespace = "Reducer"

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchRunMetrics emits one datum per call. Publishing failures are
// logged and never returned.
//
// Metrics emitted:
//   - RowsPushed: Dims {Feed}, Count
//   - WindowsProcessed: Dims {Feed}, Count
//   - RunDuration: no dims, Milliseconds
type CloudWatchRunMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchRunMetrics creates a CloudWatchRunMetrics publishing to namespace.
func NewCloudWatchRunMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRunMetrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRunMetrics{client: client, namespace: namespace, logger: logger}
}

// RecordRows emits RowsPushed for feed.
func (m *CloudWatchRunMetrics) RecordRows(ctx context.Context, feed types.FeedName, rows int) {
	m.put(ctx, feedDatum(MetricRowsPushed, feed, float64(rows)))
}

// RecordWindow emits WindowsProcessed=1 for feed.
func (m *CloudWatchRunMetrics) RecordWindow(ctx context.Context, feed types.FeedName) {
	m.put(ctx, feedDatum(MetricWindowsProcessed, feed, 1))
}

// RecordRunDuration emits RunDuration in milliseconds.
func (m *CloudWatchRunMetrics) RecordRunDuration(ctx context.Context, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricRunDuration),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
}

func feedDatum(name string, feed types.FeedName, value float64) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{
				Name:  aws.String(DimFeed),
				Value: aws.String(string(feed)),
			},
		},
	}
}

func (m *CloudWatchRunMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.WarnContext(ctx, "failed to publish metric",
			"metric", aws.ToString(datum.MetricName),
			"error", err,
		)
	}
}

// Noop discards all metrics.
type Noop struct{}

func (Noop) RecordRows(context.Context, types.FeedName, int)  {}
func (Noop) RecordWindow(context.Context, types.FeedName)     {}
func (Noop) RecordRunDuration(context.Context, time.Duration) {}
