package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmMaxBatchSize is the AWS service limit on names per GetParameters call.
const ssmMaxBatchSize = 10

// ssmClient is the slice of the SSM SDK the provider needs. Tests inject a
// fake through newSSMProviderWithClient.
type ssmClient interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMProvider resolves secrets from AWS Systems Manager Parameter Store.
// Deployed environments keep the database URL, the SendGrid API key, and the
// admin API key as SecureString parameters under /{env}/tenderwatch/; the
// loader hands this provider the paths it finds in *_SSM_PARAM variables.
//
// The SDK client is built on first use rather than in the constructor, so
// NewSSMProvider stays cheap to call from entrypoints that may turn out to
// run in local mode.
type SSMProvider struct {
	// Parameters are read from this region only; the service never does
	// cross-region secret lookups.
	region string

	client ssmClient
}

// NewSSMProvider returns a provider that reads parameters from the given
// AWS region.
func NewSSMProvider(region string) *SSMProvider {
	return &SSMProvider{region: region}
}

func newSSMProviderWithClient(region string, client ssmClient) *SSMProvider {
	return &SSMProvider{region: region, client: client}
}

// GetParametersBatch fetches the named parameters with decryption enabled
// and returns them keyed by path. Requests are chunked to the SSM limit of
// ten names per call, and the context is consulted before each chunk so a
// Lambda nearing its deadline stops promptly instead of burning the rest of
// its invocation on SSM round trips.
//
// Any path SSM reports back as invalid makes the whole call fail; a secret
// the loader asked for is never optional.
func (p *SSMProvider) GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error) {
	resolved := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return resolved, nil
	}

	if err := p.initClient(ctx); err != nil {
		return nil, err
	}

	for start := 0; start < len(keys); start += ssmMaxBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during SSM parameter retrieval: %w", err)
		}

		end := min(start+ssmMaxBatchSize, len(keys))
		if err := p.fetchChunk(ctx, keys[start:end], resolved); err != nil {
			return nil, err
		}
	}

	return resolved, nil
}

// fetchChunk issues one GetParameters call and merges the results into dst.
func (p *SSMProvider) fetchChunk(ctx context.Context, names []string, dst map[string]string) error {
	out, err := p.client.GetParameters(ctx, &ssm.GetParametersInput{
		Names:          names,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("SSM GetParameters failed for %d parameter(s): %w", len(names), err)
	}

	if len(out.InvalidParameters) > 0 {
		return fmt.Errorf("SSM parameters not found: %v", out.InvalidParameters)
	}

	for _, param := range out.Parameters {
		if param.Name != nil && param.Value != nil {
			dst[*param.Name] = *param.Value
		}
	}
	return nil
}

// initClient builds the real SDK client on first use.
func (p *SSMProvider) initClient(ctx context.Context) error {
	if p.client != nil {
		return nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
	if err != nil {
		return fmt.Errorf("loading AWS config for SSM (region=%s): %w", p.region, err)
	}

	p.client = ssm.NewFromConfig(cfg)
	return nil
}
