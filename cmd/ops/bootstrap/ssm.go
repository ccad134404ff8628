package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SSMClient is the subset of the SSM API the bootstrap tool uses. Tests
// inject a fake; real sessions get *ssm.Client.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// ssmOperationTimeout bounds each SSM call. Generous on purpose: freshly
// created IAM permissions can take a while to propagate during first setup.
const ssmOperationTimeout = 15 * time.Second

// SSMManager wraps the SSM client with environment-aware path construction
// and secret-safe logging for the bootstrap session.
type SSMManager struct {
	client SSMClient
	env    string
	logger *slog.Logger
}

// NewSSMManager builds the manager from the session's AWS configuration.
func NewSSMManager(bctx *BootstrapContext) *SSMManager {
	return &SSMManager{
		client: ssm.NewFromConfig(bctx.AWSConfig),
		env:    bctx.Environment,
		logger: bctx.Logger,
	}
}

// NewSSMManagerWithClient builds a manager around an injected client, for
// tests.
func NewSSMManagerWithClient(client SSMClient, env string, logger *slog.Logger) *SSMManager {
	return &SSMManager{
		client: client,
		env:    env,
		logger: logger,
	}
}

// SSMPath expands a category/key pair into the absolute parameter path the
// config loader expects:
//
//	/{environment}/tenderwatch/{category}/{key}
//
// "database/url" under env "dev" becomes "/dev/tenderwatch/database/url".
func (m *SSMManager) SSMPath(categoryAndKey string) string {
	return fmt.Sprintf("/%s/tenderwatch/%s", m.env, categoryAndKey)
}

// ParameterExists reports whether a parameter is already present at the
// given absolute path. The runner checks before prompting, which is what
// makes a rerun of the tool skip work it already did.
//
// The existence check reads without decryption so it works with ssm:GetParameter
// alone, no kms:Decrypt needed.
func (m *SSMManager) ParameterExists(ctx context.Context, path string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := m.client.GetParameter(opCtx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(false),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking SSM parameter %q: %w", path, err)
	}

	return true, nil
}

// GetParameterValue reads a parameter back, decrypting SecureStrings when
// decrypt is true. The --export-env flow uses this to assemble a local .env
// file after bootstrap. Decrypted values are returned in plaintext and it is
// on the caller to keep them out of logs and world-readable files.
func (m *SSMManager) GetParameterValue(ctx context.Context, path string, decrypt bool) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	output, err := m.client.GetParameter(opCtx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(decrypt),
	})
	if err != nil {
		return "", fmt.Errorf("reading SSM parameter %q: %w", path, err)
	}

	if output.Parameter == nil || output.Parameter.Value == nil {
		return "", fmt.Errorf("SSM parameter %q has no value", path)
	}

	value := aws.ToString(output.Parameter.Value)

	if decrypt {
		// Secret values never reach the log; length only.
		m.logger.Info("SSM parameter read",
			"path", path,
			"value_length", len(value),
		)
	} else {
		m.logger.Info("SSM parameter read",
			"path", path,
			"value", value,
		)
	}

	return value, nil
}

// PutSecret writes a SecureString parameter, encrypted at rest with the
// default KMS key. With overwrite false an existing parameter is an error.
func (m *SSMManager) PutSecret(ctx context.Context, path string, value string, overwrite bool) error {
	return m.putParameter(ctx, path, value, ssmtypes.ParameterTypeSecureString, overwrite)
}

// PutString writes a plaintext String parameter for non-sensitive values
// like the From address or the dashboard URL. These always overwrite: the
// dashboard URL in particular starts out as a placeholder and is replaced
// once the real frontend is deployed.
func (m *SSMManager) PutString(ctx context.Context, path string, value string) error {
	return m.putParameter(ctx, path, value, ssmtypes.ParameterTypeString, true)
}

// putParameter performs the write shared by PutSecret and PutString.
func (m *SSMManager) putParameter(ctx context.Context, path, value string, paramType ssmtypes.ParameterType, overwrite bool) error {
	if path == "" {
		return fmt.Errorf("SSM parameter path must not be empty")
	}
	if value == "" {
		return fmt.Errorf("SSM parameter value must not be empty for path %q", path)
	}

	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := m.client.PutParameter(opCtx, &ssm.PutParameterInput{
		Name:      aws.String(path),
		Value:     aws.String(value),
		Type:      paramType,
		Overwrite: aws.Bool(overwrite),
	})
	if err != nil {
		var alreadyExists *ssmtypes.ParameterAlreadyExists
		if errors.As(err, &alreadyExists) {
			m.logger.Warn("SSM parameter already exists (use overwrite to replace)",
				"path", path,
				"type", string(paramType),
			)
			return fmt.Errorf("SSM parameter %q already exists: %w", path, err)
		}
		return fmt.Errorf("writing SSM parameter %q: %w", path, err)
	}

	if paramType == ssmtypes.ParameterTypeSecureString {
		m.logger.Info("SSM parameter written",
			"path", path,
			"type", string(paramType),
			"value_length", len(value),
		)
	} else {
		m.logger.Info("SSM parameter written",
			"path", path,
			"type", string(paramType),
			"value", value,
		)
	}

	return nil
}
