package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"tenderwatch/internal/types"
)

type mockCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func datumByName(t *testing.T, data []cwtypes.MetricDatum, name string) cwtypes.MetricDatum {
	t.Helper()
	for _, d := range data {
		if d.MetricName != nil && *d.MetricName == name {
			return d
		}
	}
	t.Fatalf("no datum named %q", name)
	return cwtypes.MetricDatum{}
}

func TestRecordTick_EmitsOutcomeCounters(t *testing.T) {
	cw := &mockCloudWatch{}
	m := NewCloudWatchTickMetrics(cw, testLogger{})

	m.RecordTick(context.Background(), types.TickResult{
		Claimed: 10,
		Sent:    7,
		Retried: 2,
		Failed:  1,
	})

	if len(cw.inputs) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.inputs))
	}

	input := cw.inputs[0]
	if input.Namespace == nil || *input.Namespace != "TenderWatch/Queue" {
		t.Errorf("unexpected namespace: %v", input.Namespace)
	}
	if len(input.MetricData) != 4 {
		t.Fatalf("expected 4 data points, got %d", len(input.MetricData))
	}

	for name, want := range map[string]float64{
		"JobsClaimed": 10,
		"JobsSent":    7,
		"JobsRetried": 2,
		"JobsFailed":  1,
	} {
		d := datumByName(t, input.MetricData, name)
		if d.Value == nil || *d.Value != want {
			t.Errorf("%s: expected value %v, got %v", name, want, d.Value)
		}
		if d.Unit != cwtypes.StandardUnitCount {
			t.Errorf("%s: expected count unit, got %v", name, d.Unit)
		}
	}
}

func TestRecordSendLatency_DimensionedByJobType(t *testing.T) {
	cw := &mockCloudWatch{}
	m := NewCloudWatchTickMetrics(cw, testLogger{})

	m.RecordSendLatency(context.Background(), types.JobTypeContractMatch, 1500*time.Millisecond)

	if len(cw.inputs) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.inputs))
	}

	d := datumByName(t, cw.inputs[0].MetricData, "SendLatency")
	if d.Value == nil || *d.Value != 1500 {
		t.Errorf("expected 1500ms, got %v", d.Value)
	}
	if d.Unit != cwtypes.StandardUnitMilliseconds {
		t.Errorf("expected milliseconds unit, got %v", d.Unit)
	}
	if len(d.Dimensions) != 1 || *d.Dimensions[0].Name != "JobType" || *d.Dimensions[0].Value != string(types.JobTypeContractMatch) {
		t.Errorf("unexpected dimensions: %v", d.Dimensions)
	}
}

func TestPutMetricData_FailureIsSwallowed(t *testing.T) {
	cw := &mockCloudWatch{err: errors.New("throttled")}
	m := NewCloudWatchTickMetrics(cw, testLogger{})

	// Must not panic or propagate.
	m.RecordTick(context.Background(), types.TickResult{Claimed: 1})
}

func TestNoopTickMetrics(t *testing.T) {
	var m TickMetrics = NoopTickMetrics{}
	m.RecordTick(context.Background(), types.TickResult{Claimed: 1})
	m.RecordSendLatency(context.Background(), types.JobTypeDeadlineReminder, time.Second)
}
