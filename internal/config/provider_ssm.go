package config

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"golang.org/x/sync/errgroup"
)

const (
	// ssmMaxBatchSize is the GetParameters per-request limit.
	ssmMaxBatchSize = 10
	ssmConcurrency  = 4
)

// ssmClient is the subset of the SSM SDK client used by SSMProvider.
type ssmClient interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMProvider resolves secrets from SSM Parameter Store SecureStrings in the
// process's own region.
type SSMProvider struct {
	region      string
	endpointURL string
	client      ssmClient
}

// NewSSMProvider creates an SSMProvider for region. A non-empty endpointURL
// points the client at LocalStack.
func NewSSMProvider(region, endpointURL string) *SSMProvider {
	return &SSMProvider{region: region, endpointURL: endpointURL}
}

func newSSMProviderWithClient(region string, client ssmClient) *SSMProvider {
	return &SSMProvider{region: region, client: client}
}

func (p *SSMProvider) ensureClient(ctx context.Context) error {
	if p.client != nil {
		return nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
	if err != nil {
		return fmt.Errorf("loading AWS config for SSM (region=%s): %w", p.region, err)
	}
	p.client = ssm.NewFromConfig(cfg, func(o *ssm.Options) {
		if p.endpointURL != "" {
			o.BaseEndpoint = aws.String(p.endpointURL)
		}
	})
	return nil
}

// GetParametersBatch fetches keys with decryption, ten names per request
// and up to ssmConcurrency requests in flight. Names SSM does not know are
// left out of the result so the caller can report them by variable.
func (p *SSMProvider) GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error) {
	if len(keys) == 0 {
		return make(map[string]string), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("resolving SSM parameters: %w", err)
	}
	if err := p.ensureClient(ctx); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	result := make(map[string]string, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ssmConcurrency)
	for start := 0; start < len(keys); start += ssmMaxBatchSize {
		batch := keys[start:min(start+ssmMaxBatchSize, len(keys))]
		g.Go(func() error {
			out, err := p.client.GetParameters(gctx, &ssm.GetParametersInput{
				Names:          batch,
				WithDecryption: aws.Bool(true),
			})
			if err != nil {
				return fmt.Errorf("SSM GetParameters (%d names from %s): %w", len(batch), batch[0], err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, param := range out.Parameters {
				if param.Name != nil && param.Value != nil {
					result[*param.Name] = *param.Value
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// EnvVarProvider resolves each key as an environment variable name. It
// stands in for SSM in local development.
type EnvVarProvider struct{}

// NewEnvVarProvider creates a new EnvVarProvider.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

// GetParametersBatch returns the keys that are set; missing keys are omitted.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := os.LookupEnv(key); ok {
			result[key] = val
		}
	}
	return result, nil
}

// NewProvider returns the SecretProvider for appEnv: environment variables
// for "local", SSM otherwise.
func NewProvider(appEnv, region, endpointURL string) SecretProvider {
	if appEnv == localEnv {
		return NewEnvVarProvider()
	}
	return NewSSMProvider(region, endpointURL)
}
