package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// mockSSMClient is a configurable mock of the SSM GetParameters API.
type mockSSMClient struct {
	values  map[string]string
	invalid []string
	err     error

	calls [][]string // records the Names of each batch call
}

func (m *mockSSMClient) GetParameters(_ context.Context, params *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	m.calls = append(m.calls, params.Names)
	if m.err != nil {
		return nil, m.err
	}

	output := &ssm.GetParametersOutput{}
	for _, name := range params.Names {
		if v, ok := m.values[name]; ok {
			output.Parameters = append(output.Parameters, ssmtypes.Parameter{
				Name:  aws.String(name),
				Value: aws.String(v),
			})
		}
	}
	output.InvalidParameters = m.invalid
	return output, nil
}

// TestSSMProviderSatisfiesSecretProvider verifies that SSMProvider
// implements the SecretProvider interface at compile time.
func TestSSMProviderSatisfiesSecretProvider(t *testing.T) {
	var _ SecretProvider = (*SSMProvider)(nil)
	var _ SecretProvider = NewSSMProvider("us-east-1")
}

// TestSSMProviderResolvesBatch verifies that parameters are fetched with
// decryption and returned keyed by parameter path.
func TestSSMProviderResolvesBatch(t *testing.T) {
	client := &mockSSMClient{
		values: map[string]string{
			"/dev/tenderwatch/database/url":           "postgres://resolved/db",
			"/dev/tenderwatch/email/sendgrid_api_key": "SG.resolved",
		},
	}
	provider := newSSMProviderWithClient("us-east-1", client)

	result, err := provider.GetParametersBatch(context.Background(), []string{
		"/dev/tenderwatch/database/url",
		"/dev/tenderwatch/email/sendgrid_api_key",
	})
	if err != nil {
		t.Fatalf("GetParametersBatch returned error: %v", err)
	}

	if got := result["/dev/tenderwatch/database/url"]; got != "postgres://resolved/db" {
		t.Errorf("database url = %q, want resolved value", got)
	}
	if got := result["/dev/tenderwatch/email/sendgrid_api_key"]; got != "SG.resolved" {
		t.Errorf("sendgrid key = %q, want resolved value", got)
	}
	if len(client.calls) != 1 {
		t.Errorf("client called %d times, want 1 (single batch)", len(client.calls))
	}
}

// TestSSMProviderSplitsLargeBatches verifies that more than 10 keys are
// split across multiple GetParameters calls (SSM API limit).
func TestSSMProviderSplitsLargeBatches(t *testing.T) {
	values := make(map[string]string)
	keys := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		key := fmt.Sprintf("/prod/tenderwatch/param_%d", i)
		keys = append(keys, key)
		values[key] = fmt.Sprintf("value_%d", i)
	}

	client := &mockSSMClient{values: values}
	provider := newSSMProviderWithClient("us-east-1", client)

	result, err := provider.GetParametersBatch(context.Background(), keys)
	if err != nil {
		t.Fatalf("GetParametersBatch returned error: %v", err)
	}

	if len(result) != 12 {
		t.Errorf("resolved %d parameters, want 12", len(result))
	}
	if len(client.calls) != 2 {
		t.Fatalf("client called %d times, want 2 batches", len(client.calls))
	}
	if len(client.calls[0]) != 10 {
		t.Errorf("first batch size = %d, want 10", len(client.calls[0]))
	}
	if len(client.calls[1]) != 2 {
		t.Errorf("second batch size = %d, want 2", len(client.calls[1]))
	}
}

// TestSSMProviderInvalidParameters verifies that parameters SSM reports as
// not found produce an error naming them.
func TestSSMProviderInvalidParameters(t *testing.T) {
	client := &mockSSMClient{
		invalid: []string{"/dev/tenderwatch/missing"},
	}
	provider := newSSMProviderWithClient("us-east-1", client)

	_, err := provider.GetParametersBatch(context.Background(), []string{"/dev/tenderwatch/missing"})
	if err == nil {
		t.Fatal("expected error for invalid parameters, got nil")
	}
	if !strings.Contains(err.Error(), "/dev/tenderwatch/missing") {
		t.Errorf("error should name the missing parameter, got: %v", err)
	}
}

// TestSSMProviderAPIError verifies that an SSM API failure is wrapped and
// propagated.
func TestSSMProviderAPIError(t *testing.T) {
	apiErr := errors.New("ThrottlingException")
	client := &mockSSMClient{err: apiErr}
	provider := newSSMProviderWithClient("us-east-1", client)

	_, err := provider.GetParametersBatch(context.Background(), []string{"/dev/tenderwatch/database/url"})
	if err == nil {
		t.Fatal("expected error from failing SSM client, got nil")
	}
	if !errors.Is(err, apiErr) {
		t.Errorf("error should wrap the API error, got: %v", err)
	}
}

// TestSSMProviderEmptyKeysReturnsEmptyMap verifies that calling
// GetParametersBatch with an empty keys slice returns an empty map
// without touching the SSM API.
func TestSSMProviderEmptyKeysReturnsEmptyMap(t *testing.T) {
	client := &mockSSMClient{}
	provider := newSSMProviderWithClient("us-east-1", client)

	result, err := provider.GetParametersBatch(context.Background(), []string{})
	if err != nil {
		t.Fatalf("GetParametersBatch with empty keys returned unexpected error: %v", err)
	}
	if result == nil {
		t.Error("expected non-nil map, got nil")
	}
	if len(result) != 0 {
		t.Errorf("expected empty result for empty keys, got %v", result)
	}
	if len(client.calls) != 0 {
		t.Errorf("client called %d times, want 0", len(client.calls))
	}
}

// TestSSMProviderNilKeysReturnsEmptyMap verifies that calling
// GetParametersBatch with nil keys returns an empty map without error.
func TestSSMProviderNilKeysReturnsEmptyMap(t *testing.T) {
	provider := newSSMProviderWithClient("us-east-1", &mockSSMClient{})
	result, err := provider.GetParametersBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetParametersBatch with nil keys returned unexpected error: %v", err)
	}
	if result == nil {
		t.Error("expected non-nil map, got nil")
	}
	if len(result) != 0 {
		t.Errorf("expected empty result for nil keys, got %v", result)
	}
}

// TestNewSSMProviderStoresRegion verifies that the constructor correctly
// stores the provided region.
func TestNewSSMProviderStoresRegion(t *testing.T) {
	provider := NewSSMProvider("eu-west-1")
	if provider.region != "eu-west-1" {
		t.Errorf("provider.region = %q, want %q", provider.region, "eu-west-1")
	}
}

// TestSSMProviderContextCancellation verifies that a cancelled context
// aborts resolution before the batch is sent.
func TestSSMProviderContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	client := &mockSSMClient{}
	provider := newSSMProviderWithClient("us-east-1", client)

	_, err := provider.GetParametersBatch(ctx, []string{"/dev/tenderwatch/test"})
	if err == nil {
		t.Fatal("expected error with cancelled context, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error should wrap context.Canceled, got: %v", err)
	}
	if len(client.calls) != 0 {
		t.Errorf("client called %d times, want 0 (cancelled before send)", len(client.calls))
	}
}
