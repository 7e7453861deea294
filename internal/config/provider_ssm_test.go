package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type mockSSMClient struct {
	mu      sync.Mutex
	params  map[string]string
	err     error
	batches [][]string
	decrypt []bool
}

func (m *mockSSMClient) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, append([]string(nil), in.Names...))
	m.decrypt = append(m.decrypt, aws.ToBool(in.WithDecryption))
	if m.err != nil {
		return nil, m.err
	}
	out := &ssm.GetParametersOutput{}
	for _, name := range in.Names {
		if v, ok := m.params[name]; ok {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{Name: aws.String(name), Value: aws.String(v)})
		} else {
			out.InvalidParameters = append(out.InvalidParameters, name)
		}
	}
	return out, nil
}

func TestSSMProviderBatches(t *testing.T) {
	client := &mockSSMClient{params: map[string]string{}}
	keys := make([]string, 23)
	for i := range keys {
		keys[i] = fmt.Sprintf("/prod/reducer/p%02d", i)
		client.params[keys[i]] = fmt.Sprintf("v%d", i)
	}

	got, err := newSSMProviderWithClient("eu-west-1", client).GetParametersBatch(context.Background(), keys)
	if err != nil {
		t.Fatalf("GetParametersBatch() error = %v", err)
	}
	if len(got) != 23 || got["/prod/reducer/p22"] != "v22" {
		t.Errorf("got %d values", len(got))
	}
	sizes := make([]int, 0, len(client.batches))
	for _, b := range client.batches {
		sizes = append(sizes, len(b))
	}
	sort.Ints(sizes)
	if !slices.Equal(sizes, []int{3, 10, 10}) {
		t.Errorf("batch sizes = %v", sizes)
	}
	for i, d := range client.decrypt {
		if !d {
			t.Errorf("batch %d requested without decryption", i)
		}
	}
}

func TestSSMProviderEmptyKeys(t *testing.T) {
	client := &mockSSMClient{}
	got, err := newSSMProviderWithClient("us-east-1", client).GetParametersBatch(context.Background(), nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
	if len(client.batches) != 0 {
		t.Error("no request expected for empty keys")
	}
}

func TestSSMProviderUnknownNamesOmitted(t *testing.T) {
	client := &mockSSMClient{params: map[string]string{"/a": "1"}}
	got, err := newSSMProviderWithClient("us-east-1", client).GetParametersBatch(context.Background(), []string{"/a", "/z", "/b"})
	if err != nil {
		t.Fatalf("GetParametersBatch() error = %v", err)
	}
	if len(got) != 1 || got["/a"] != "1" {
		t.Errorf("got %v, want only /a", got)
	}
}

func TestLoadConfig_UnknownSSMNameReportedByVariable(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	unsetEnv(t, "DATABASE_URL")
	t.Setenv("DATABASE_URL_SSM_PARAM", "/prod/reducer/database/url")

	client := &mockSSMClient{params: map[string]string{}}
	_, err := LoadConfig(newSSMProviderWithClient("us-east-1", client))

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Type != ErrSSMResolution {
		t.Fatalf("error = %v, want SSM resolution error", err)
	}
	if !strings.Contains(cfgErr.Message, "DATABASE_URL") {
		t.Errorf("message %q should name the variable", cfgErr.Message)
	}
}

func TestSSMProviderClientError(t *testing.T) {
	client := &mockSSMClient{err: errors.New("AccessDeniedException")}
	_, err := newSSMProviderWithClient("us-east-1", client).GetParametersBatch(context.Background(), []string{"/a"})
	if err == nil || !strings.Contains(err.Error(), "AccessDeniedException") {
		t.Fatalf("error = %v", err)
	}
}

func TestSSMProviderCancelledContext(t *testing.T) {
	client := &mockSSMClient{params: map[string]string{"/a": "1"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newSSMProviderWithClient("us-east-1", client).GetParametersBatch(ctx, []string{"/a"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(client.batches) != 0 {
		t.Error("no request expected after cancellation")
	}
}

func TestEnvVarProvider(t *testing.T) {
	t.Setenv("REDUCER_TEST_SECRET", "s3cret")
	t.Setenv("REDUCER_TEST_EMPTY", "")

	got, err := NewEnvVarProvider().GetParametersBatch(context.Background(),
		[]string{"REDUCER_TEST_SECRET", "REDUCER_TEST_EMPTY", "REDUCER_TEST_MISSING"})
	if err != nil {
		t.Fatalf("GetParametersBatch() error = %v", err)
	}
	if got["REDUCER_TEST_SECRET"] != "s3cret" {
		t.Errorf("secret = %q", got["REDUCER_TEST_SECRET"])
	}
	if v, ok := got["REDUCER_TEST_EMPTY"]; !ok || v != "" {
		t.Errorf("empty value should be returned as set")
	}
	if _, ok := got["REDUCER_TEST_MISSING"]; ok {
		t.Error("missing key should be omitted")
	}
}

func TestNewProvider(t *testing.T) {
	if _, ok := NewProvider("local", "us-east-1", "").(*EnvVarProvider); !ok {
		t.Error("local should use EnvVarProvider")
	}
	p, ok := NewProvider("prod", "eu-west-2", "http://localhost:4566").(*SSMProvider)
	if !ok {
		t.Fatal("prod should use SSMProvider")
	}
	if p.region != "eu-west-2" || p.endpointURL != "http://localhost:4566" {
		t.Errorf("provider = %+v", p)
	}
}
