// Package secretstore reads named string parameters from AWS Systems
// Manager Parameter Store, the secret store backing this worker
// (grounded on the original implementation's worker/src/ssm.py and the
// teacher pack's aws-sdk-go-v2 config/credentials wiring for S3).
package secretstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/carpentries/amy-email-worker/internal/domain"
)

// ssmAPI is the subset of *ssm.Client this package depends on, narrowed
// so tests can supply a fake.
type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Store reads parameters from SSM Parameter Store with decryption enabled
// for SecureString values.
type Store struct {
	client ssmAPI
}

// New builds a Store from the default AWS credential chain and region
// resolution (the same config.LoadDefaultConfig path the teacher pack
// uses before constructing its S3 client).
func New(ctx context.Context) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &Store{client: ssm.NewFromConfig(cfg)}, nil
}

// NewWithClient builds a Store around an already-configured client,
// primarily for tests.
func NewWithClient(client ssmAPI) *Store {
	return &Store{client: client}
}

// GetParameter implements domain.SecretStore.
func (s *Store) GetParameter(ctx context.Context, name string) (string, bool, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read parameter %q: %w", name, err)
	}

	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", false, nil
	}
	return *out.Parameter.Value, true, nil
}

var _ domain.SecretStore = (*Store)(nil)
