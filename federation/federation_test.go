package federation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

// mockSTSClient implements STSAPI for testing
type mockSTSClient struct {
	AssumeRoleFunc func(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
	calls          []*sts.AssumeRoleInput
}

func (m *mockSTSClient) AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	m.calls = append(m.calls, params)
	if m.AssumeRoleFunc != nil {
		return m.AssumeRoleFunc(ctx, params, optFns...)
	}
	return &sts.AssumeRoleOutput{}, nil
}

var now = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func grantingClient() *mockSTSClient {
	return &mockSTSClient{
		AssumeRoleFunc: func(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
			return &sts.AssumeRoleOutput{
				Credentials: &ststypes.Credentials{
					AccessKeyId:     aws.String("ASIATEST"),
					SecretAccessKey: aws.String("secret"),
					SessionToken:    aws.String("token"),
					Expiration:      aws.Time(now.Add(15 * time.Minute)),
				},
			}, nil
		},
	}
}

func newTestFederator(t *testing.T, client STSAPI) *STSFederator {
	t.Helper()
	f, err := NewSTSFederator(client, aws.Config{Region: "us-east-1"}, Options{ExternalID: "governance-external-id"})
	require.NoError(t, err)
	f.now = func() time.Time { return now }
	return f
}

func TestNewSTSFederator_RequiresExternalID(t *testing.T) {
	_, err := NewSTSFederator(&mockSTSClient{}, aws.Config{}, Options{})
	assert.Error(t, err)
}

func TestRoleARN(t *testing.T) {
	assert.Equal(t,
		"arn:aws:iam::111111111111:role/CloudGovernanceRemediationRole",
		RoleARN("aws", "111111111111", DefaultRoleName))
}

func TestFederate_AssumesRoleWithExternalID(t *testing.T) {
	client := grantingClient()
	f := newTestFederator(t, client)

	cfg, err := f.Federate(context.Background(), "111111111111", "eu-west-1")

	require.NoError(t, err)
	require.Len(t, client.calls, 1)
	call := client.calls[0]
	assert.Equal(t, "arn:aws:iam::111111111111:role/CloudGovernanceRemediationRole", aws.ToString(call.RoleArn))
	assert.Equal(t, "governance-external-id", aws.ToString(call.ExternalId))
	assert.Equal(t, DefaultSessionName, aws.ToString(call.RoleSessionName))
	assert.Equal(t, int32(900), aws.ToInt32(call.DurationSeconds))

	assert.Equal(t, "eu-west-1", cfg.Region)
	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ASIATEST", creds.AccessKeyID)
	assert.Equal(t, "token", creds.SessionToken)
}

func TestFederate_KeepsBaseRegionWhenEmpty(t *testing.T) {
	f := newTestFederator(t, grantingClient())

	cfg, err := f.Federate(context.Background(), "111111111111", "")

	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Region)
}

func TestFederate_CachesUntilNearExpiry(t *testing.T) {
	client := grantingClient()
	f := newTestFederator(t, client)
	ctx := context.Background()

	_, err := f.Federate(ctx, "111111111111", "us-east-1")
	require.NoError(t, err)
	_, err = f.Federate(ctx, "111111111111", "us-west-2")
	require.NoError(t, err)
	assert.Len(t, client.calls, 1, "second call reuses cached credentials")

	_, err = f.Federate(ctx, "222222222222", "us-east-1")
	require.NoError(t, err)
	assert.Len(t, client.calls, 2, "cache is per account")

	f.now = func() time.Time { return now.Add(14*time.Minute + 30*time.Second) }
	_, err = f.Federate(ctx, "111111111111", "us-east-1")
	require.NoError(t, err)
	assert.Len(t, client.calls, 3, "refreshes inside the refresh window")
}

func TestFederate_FailureIsAccessDenied(t *testing.T) {
	client := &mockSTSClient{
		AssumeRoleFunc: func(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "AccessDenied", Message: "not authorized to perform sts:AssumeRole"}
		},
	}
	f := newTestFederator(t, client)

	_, err := f.Federate(context.Background(), "111111111111", "us-east-1")

	var denied *types.AccessDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, "111111111111", denied.AccountID)
	assert.Contains(t, denied.RoleARN, "111111111111")
	assert.Equal(t, "AccessDenied", apiErrorCode(err))
}

func TestFederate_NoCredentials(t *testing.T) {
	f := newTestFederator(t, &mockSTSClient{})

	_, err := f.Federate(context.Background(), "111111111111", "us-east-1")

	var denied *types.AccessDeniedError
	assert.True(t, errors.As(err, &denied))
}

func TestFederate_RejectsMalformedAccount(t *testing.T) {
	client := grantingClient()
	f := newTestFederator(t, client)

	_, err := f.Federate(context.Background(), "not-an-account", "us-east-1")

	var denied *types.AccessDeniedError
	assert.True(t, errors.As(err, &denied))
	assert.Empty(t, client.calls, "no STS call for an invalid account id")
}

func TestApiErrorCode_PlainError(t *testing.T) {
	assert.Empty(t, apiErrorCode(errors.New("boom")))
}
