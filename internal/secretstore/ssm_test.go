package secretstore

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	out *ssm.GetParameterOutput
	err error
}

func (f *fakeSSM) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	return f.out, f.err
}

func TestStore_GetParameter_ReturnsValue(t *testing.T) {
	fake := &fakeSSM{out: &ssm.GetParameterOutput{
		Parameter: &types.Parameter{Value: aws.String("super-secret")},
	}}
	store := NewWithClient(fake)

	value, ok, err := store.GetParameter(context.Background(), "/staging/email-worker/mailgun-api-key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "super-secret", value)
}

func TestStore_GetParameter_NotFoundReturnsOkFalseNoError(t *testing.T) {
	fake := &fakeSSM{err: &types.ParameterNotFound{}}
	store := NewWithClient(fake)

	value, ok, err := store.GetParameter(context.Background(), "/staging/email-worker/missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, value)
}

func TestStore_GetParameter_OtherErrorPropagates(t *testing.T) {
	fake := &fakeSSM{err: assertAnError{}}
	store := NewWithClient(fake)

	_, _, err := store.GetParameter(context.Background(), "/staging/email-worker/x")
	require.Error(t, err)
}

type assertAnError struct{}

func (assertAnError) Error() string { return "boom" }
