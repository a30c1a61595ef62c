package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

type fakeSecretsManager struct {
	secrets map[string]string
	gotID   string
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.gotID = aws.ToString(in.SecretId)
	v, ok := f.secrets[f.gotID]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("not found")}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func newFakeResolver(fake *fakeSecretsManager, gotRegion *string) *SecretsManagerResolver {
	return &SecretsManagerResolver{
		newClient: func(ctx context.Context, region string) (secretsManagerAPI, error) {
			*gotRegion = region
			return fake, nil
		},
	}
}

func TestSecretsManagerResolver(t *testing.T) {
	fake := &fakeSecretsManager{secrets: map[string]string{
		"portage/notion": "plain-secret",
		"portage/oauth":  `{"hubspot":"hub-secret","airtable":"air-secret"}`,
	}}
	var region string
	r := newFakeResolver(fake, &region)

	tests := []struct {
		ref        string
		want       string
		wantRegion string
		wantID     string
	}{
		{"awssm://us-east-1/portage/notion", "plain-secret", "us-east-1", "portage/notion"},
		{"awssm://eu-west-1/portage/oauth#hubspot", "hub-secret", "eu-west-1", "portage/oauth"},
		{"awssm:///portage/oauth#airtable", "air-secret", "", "portage/oauth"},
	}
	for _, tt := range tests {
		got, err := r.Resolve(context.Background(), tt.ref)
		if err != nil {
			t.Errorf("Resolve(%q): %v", tt.ref, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.ref, got, tt.want)
		}
		if region != tt.wantRegion {
			t.Errorf("Resolve(%q) region = %q, want %q", tt.ref, region, tt.wantRegion)
		}
		if fake.gotID != tt.wantID {
			t.Errorf("Resolve(%q) secret id = %q, want %q", tt.ref, fake.gotID, tt.wantID)
		}
	}
}

func TestSecretsManagerResolver_Errors(t *testing.T) {
	fake := &fakeSecretsManager{secrets: map[string]string{
		"portage/plain": "not-json",
		"portage/json":  `{"a":"b"}`,
	}}
	var region string
	r := newFakeResolver(fake, &region)

	var notFound *NotFoundError
	if _, err := r.Resolve(context.Background(), "awssm://us-east-1/portage/missing"); !errors.As(err, &notFound) {
		t.Errorf("missing secret error = %v, want NotFoundError", err)
	}
	if _, err := r.Resolve(context.Background(), "awssm://us-east-1/portage/json#zzz"); !errors.As(err, &notFound) {
		t.Errorf("missing key error = %v, want NotFoundError", err)
	}

	var invalid *InvalidReferenceError
	if _, err := r.Resolve(context.Background(), "awssm://us-east-1/portage/plain#key"); !errors.As(err, &invalid) {
		t.Errorf("non-JSON key lookup error = %v, want InvalidReferenceError", err)
	}
	if _, err := r.Resolve(context.Background(), "awssm://us-east-1/"); !errors.As(err, &invalid) {
		t.Errorf("missing id error = %v, want InvalidReferenceError", err)
	}
}

func TestSecretsManagerResolver_ClientError(t *testing.T) {
	r := &SecretsManagerResolver{
		newClient: func(ctx context.Context, region string) (secretsManagerAPI, error) {
			return nil, errors.New("no credentials")
		},
	}
	var backendErr *BackendError
	if _, err := r.Resolve(context.Background(), "awssm://us-east-1/x"); !errors.As(err, &backendErr) {
		t.Errorf("Resolve error = %v, want BackendError", err)
	}
}
