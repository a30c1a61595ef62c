package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// secretsManagerAPI is the subset of the Secrets Manager client used here.
type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerResolver resolves AWS Secrets Manager references:
//
//	awssm://us-east-1/portage/notion          whole secret string
//	awssm://us-east-1/portage/oauth#notion    one key of a JSON secret
//	awssm:///portage/notion                   region from the AWS config
type SecretsManagerResolver struct {
	// newClient builds a client for region. Tests replace it.
	newClient func(ctx context.Context, region string) (secretsManagerAPI, error)
}

// Scheme returns "awssm".
func (*SecretsManagerResolver) Scheme() string { return "awssm" }

// Resolve fetches the secret value.
func (r *SecretsManagerResolver) Resolve(ctx context.Context, reference string) (string, error) {
	region, secretID, key, err := parseSecretsManagerReference(reference)
	if err != nil {
		return "", err
	}

	newClient := r.newClient
	if newClient == nil {
		newClient = defaultSecretsManagerClient
	}
	client, err := newClient(ctx, region)
	if err != nil {
		return "", &BackendError{
			Backend:   "AWS Secrets Manager",
			Reference: reference,
			Reason:    err.Error(),
			Fix:       "Configure AWS credentials (aws configure, AWS_PROFILE or instance role).",
		}
	}

	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", &NotFoundError{Reference: reference, Backend: "AWS Secrets Manager"}
		}
		return "", &BackendError{
			Backend:   "AWS Secrets Manager",
			Reference: reference,
			Reason:    err.Error(),
		}
	}

	value := aws.ToString(out.SecretString)
	if value == "" && len(out.SecretBinary) > 0 {
		value = string(out.SecretBinary)
	}
	if key == "" {
		return value, nil
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(value), &fields); err != nil {
		return "", &InvalidReferenceError{Reference: reference, Reason: "secret is not a JSON object"}
	}
	v, ok := fields[key]
	if !ok {
		return "", &NotFoundError{Reference: reference, Backend: "AWS Secrets Manager"}
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

func defaultSecretsManagerClient(ctx context.Context, region string) (secretsManagerAPI, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// parseSecretsManagerReference splits awssm://region/secret-id#key.
func parseSecretsManagerReference(ref string) (region, secretID, key string, err error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", "", &InvalidReferenceError{Reference: ref, Reason: "invalid URI"}
	}
	if u.Scheme != "awssm" {
		return "", "", "", &InvalidReferenceError{Reference: ref, Reason: "expected awssm:// scheme"}
	}
	secretID = strings.TrimPrefix(u.Path, "/")
	if secretID == "" {
		return "", "", "", &InvalidReferenceError{Reference: ref, Reason: "missing secret id"}
	}
	return u.Host, secretID, u.Fragment, nil
}
