package dispatch

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"tenderwatch/internal/types"
)

// Metric names and dimensions for the queue namespace.
const (
	metricNamespace = "TenderWatch/Queue"

	metricJobsClaimed = "JobsClaimed"
	metricJobsSent    = "JobsSent"
	metricJobsRetried = "JobsRetried"
	metricJobsFailed  = "JobsFailed"
	metricSendLatency = "SendLatency"

	dimJobType = "JobType"
)

// TickMetrics abstracts telemetry for dispatch outcomes.
type TickMetrics interface {
	// RecordTick emits the per-tick outcome counters.
	RecordTick(ctx context.Context, result types.TickResult)

	// RecordSendLatency emits the duration of one send attempt.
	RecordSendLatency(ctx context.Context, jobType types.JobType, duration time.Duration)
}

// NoopTickMetrics discards all metrics. Used when no telemetry backend is
// configured (local development, tests).
type NoopTickMetrics struct{}

func (NoopTickMetrics) RecordTick(context.Context, types.TickResult)                    {}
func (NoopTickMetrics) RecordSendLatency(context.Context, types.JobType, time.Duration) {}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchTickMetrics implements TickMetrics.
var _ TickMetrics = (*CloudWatchTickMetrics)(nil)

// CloudWatchTickMetrics implements TickMetrics by emitting metrics to AWS
// CloudWatch. Emission is best-effort: a telemetry failure is logged and
// never propagated into the dispatch path.
type CloudWatchTickMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchTickMetrics creates a CloudWatchTickMetrics publishing to the
// queue namespace.
func NewCloudWatchTickMetrics(client CloudWatchClient, logger types.Logger) *CloudWatchTickMetrics {
	return &CloudWatchTickMetrics{
		client:    client,
		namespace: metricNamespace,
		logger:    logger,
	}
}

// RecordTick emits one datum per outcome counter.
func (m *CloudWatchTickMetrics) RecordTick(ctx context.Context, result types.TickResult) {
	data := []cwtypes.MetricDatum{
		counterDatum(metricJobsClaimed, result.Claimed),
		counterDatum(metricJobsSent, result.Sent),
		counterDatum(metricJobsRetried, result.Retried),
		counterDatum(metricJobsFailed, result.Failed),
	}

	m.put(ctx, data)
}

// RecordSendLatency emits the send duration in milliseconds, dimensioned by
// job type.
func (m *CloudWatchTickMetrics) RecordSendLatency(ctx context.Context, jobType types.JobType, duration time.Duration) {
	datum := cwtypes.MetricDatum{
		MetricName: aws.String(metricSendLatency),
		Value:      aws.Float64(float64(duration.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{
				Name:  aws.String(dimJobType),
				Value: aws.String(string(jobType)),
			},
		},
	}

	m.put(ctx, []cwtypes.MetricDatum{datum})
}

func (m *CloudWatchTickMetrics) put(ctx context.Context, data []cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Warn("failed to publish queue metrics", "error", err.Error())
	}
}

func counterDatum(name string, value int) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(float64(value)),
		Unit:       cwtypes.StandardUnitCount,
	}
}
