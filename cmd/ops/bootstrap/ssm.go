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
	"github.com/aws/smithy-go"
)

// SSMClient is the part of the SSM API the bootstrap tool calls.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

const ssmCallTimeout = 15 * time.Second

// ParamPrefix is the SSM namespace of one reducer deployment.
func ParamPrefix(env string) string {
	return "/" + env + "/reducer/"
}

// ParamStore maps inventory steps onto SSM parameters below ParamPrefix.
type ParamStore struct {
	client SSMClient
	prefix string
	logger *slog.Logger
}

// NewParamStore builds a ParamStore for the session's account and region.
func NewParamStore(bctx *BootstrapContext) *ParamStore {
	return NewParamStoreWithClient(ssm.NewFromConfig(bctx.AWSConfig), bctx.Environment, bctx.Logger)
}

func NewParamStoreWithClient(client SSMClient, env string, logger *slog.Logger) *ParamStore {
	return &ParamStore{client: client, prefix: ParamPrefix(env), logger: logger}
}

// Path is the absolute parameter name of step, e.g. /dev/reducer/database/url.
func (s *ParamStore) Path(step BootstrapStep) string {
	return s.prefix + step.SSMCategoryKey
}

// Exists probes step's parameter without decrypting it, so the caller needs
// no kms:Decrypt grant.
func (s *ParamStore) Exists(ctx context.Context, step BootstrapStep) (bool, error) {
	_, found, err := s.get(ctx, step, false)
	return found, err
}

// Fetch returns step's value, decrypting SecureStrings. found is false when
// the parameter was never written.
func (s *ParamStore) Fetch(ctx context.Context, step BootstrapStep) (value string, found bool, err error) {
	value, found, err = s.get(ctx, step, step.ParamType == ParamSecureString)
	if found {
		s.logger.Debug("parameter read", "path", s.Path(step), "length", len(value))
	}
	return value, found, err
}

func (s *ParamStore) get(ctx context.Context, step BootstrapStep, decrypt bool) (string, bool, error) {
	path := s.Path(step)
	callCtx, cancel := context.WithTimeout(ctx, ssmCallTimeout)
	defer cancel()

	out, err := s.client.GetParameter(callCtx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(decrypt),
	})
	var notFound *ssmtypes.ParameterNotFound
	switch {
	case errors.As(err, &notFound):
		return "", false, nil
	case err != nil:
		return "", false, ssmError("GetParameter", path, err)
	case out.Parameter == nil:
		return "", false, fmt.Errorf("GetParameter %s: empty response", path)
	}
	return aws.ToString(out.Parameter.Value), true, nil
}

// Store writes value for step. SecureString steps refuse to replace an
// existing value unless replace is set; plain strings always replace.
func (s *ParamStore) Store(ctx context.Context, step BootstrapStep, value string, replace bool) error {
	path := s.Path(step)
	if step.SSMCategoryKey == "" {
		return fmt.Errorf("step %q has no parameter key", step.HumanLabel)
	}
	if value == "" {
		return fmt.Errorf("refusing to store an empty value at %s", path)
	}

	kind := ssmtypes.ParameterTypeString
	if step.ParamType == ParamSecureString {
		kind = ssmtypes.ParameterTypeSecureString
	} else {
		replace = true
	}

	callCtx, cancel := context.WithTimeout(ctx, ssmCallTimeout)
	defer cancel()

	out, err := s.client.PutParameter(callCtx, &ssm.PutParameterInput{
		Name:        aws.String(path),
		Value:       aws.String(value),
		Type:        kind,
		Overwrite:   aws.Bool(replace),
		Description: aws.String(step.HumanLabel),
	})
	if err != nil {
		return ssmError("PutParameter", path, err)
	}
	s.logger.Info("parameter stored",
		"path", path,
		"type", string(kind),
		"version", out.Version,
	)
	return nil
}

// ssmError turns SDK failures into operator-facing messages. Access and
// throttling problems get a hint since they are the usual bootstrap snags.
func ssmError(op, path string, err error) error {
	var exists *ssmtypes.ParameterAlreadyExists
	if errors.As(err, &exists) {
		return fmt.Errorf("%s %s: parameter already exists: %w", op, path, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException":
			return fmt.Errorf("%s %s: access denied; the identity needs ssm:%s on %s*: %w", op, path, op, path, err)
		case "ThrottlingException":
			return fmt.Errorf("%s %s: throttled by SSM, wait and rerun: %w", op, path, err)
		}
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}
