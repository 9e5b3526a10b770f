// Package federation obtains short-lived credentials in member accounts.
//
// Every cross-account action runs under a role assumed with a shared external
// ID. Credentials are cached per account until shortly before they
// expire; nothing is ever written to disk.
package federation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/telemetry"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

const (
	// DefaultRoleName is the remediation role deployed in every member account
	DefaultRoleName = "CloudGovernanceRemediationRole"
	// DefaultSessionName tags assumed-role sessions in CloudTrail
	DefaultSessionName = "GovernanceRemediationEngine"
	// DefaultDuration is the shortest session STS allows
	DefaultDuration = 15 * time.Minute

	refreshWindow = time.Minute
)

var accountIDPattern = regexp.MustCompile(`^\d{12}$`)

// Federator returns an AWS config scoped to a member account
type Federator interface {
	Federate(ctx context.Context, accountID, region string) (aws.Config, error)
}

// STSAPI is the subset of the STS client used here
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// Options configures an STSFederator
type Options struct {
	RoleName    string
	ExternalID  string
	SessionName string
	Partition   string
	Duration    time.Duration
}

// STSFederator assumes the remediation role through STS
type STSFederator struct {
	client STSAPI
	base   aws.Config
	opts   Options
	now    func() time.Time
	logger *telemetry.Logger

	mu    sync.Mutex
	cache map[string]cachedCredentials
}

type cachedCredentials struct {
	creds   aws.Credentials
	expires time.Time
}

// NewSTSFederator creates a federator. base supplies everything except
// credentials and region (retry policy, endpoints, API options).
func NewSTSFederator(client STSAPI, base aws.Config, opts Options) (*STSFederator, error) {
	if opts.ExternalID == "" {
		return nil, fmt.Errorf("external ID is required for cross-account role assumption")
	}
	if opts.RoleName == "" {
		opts.RoleName = DefaultRoleName
	}
	if opts.SessionName == "" {
		opts.SessionName = DefaultSessionName
	}
	if opts.Partition == "" {
		opts.Partition = "aws"
	}
	if opts.Duration <= 0 {
		opts.Duration = DefaultDuration
	}

	return &STSFederator{
		client: client,
		base:   base,
		opts:   opts,
		now:    time.Now,
		logger: telemetry.NewLogger("federation"),
		cache:  make(map[string]cachedCredentials),
	}, nil
}

// RoleARN builds the remediation role ARN for accountID
func RoleARN(partition, accountID, roleName string) string {
	return fmt.Sprintf("arn:%s:iam::%s:role/%s", partition, accountID, roleName)
}

// Federate assumes the remediation role in accountID. Any failure is an
// AccessDeniedError; the caller decides whether redelivery may help.
func (f *STSFederator) Federate(ctx context.Context, accountID, region string) (aws.Config, error) {
	roleARN := RoleARN(f.opts.Partition, accountID, f.opts.RoleName)
	if !accountIDPattern.MatchString(accountID) {
		return aws.Config{}, &types.AccessDeniedError{
			AccountID: accountID,
			RoleARN:   roleARN,
			Err:       fmt.Errorf("invalid account id %q", accountID),
		}
	}

	creds, err := f.credentials(ctx, accountID, roleARN)
	if err != nil {
		return aws.Config{}, err
	}

	cfg := f.base.Copy()
	if region != "" {
		cfg.Region = region
	}
	cfg.Credentials = aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken,
	))
	return cfg, nil
}

func (f *STSFederator) credentials(ctx context.Context, accountID, roleARN string) (aws.Credentials, error) {
	f.mu.Lock()
	cached, ok := f.cache[accountID]
	f.mu.Unlock()
	if ok && f.now().Add(refreshWindow).Before(cached.expires) {
		return cached.creds, nil
	}

	out, err := f.client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String(f.opts.SessionName),
		ExternalId:      aws.String(f.opts.ExternalID),
		DurationSeconds: aws.Int32(int32(f.opts.Duration / time.Second)),
	})
	if err != nil {
		f.logger.WithContext(ctx).Warn().
			Err(err).
			Str("account_id", accountID).
			Str("role_arn", roleARN).
			Str("error_code", apiErrorCode(err)).
			Msg("role assumption failed")
		return aws.Credentials{}, &types.AccessDeniedError{AccountID: accountID, RoleARN: roleARN, Err: err}
	}
	if out.Credentials == nil {
		return aws.Credentials{}, &types.AccessDeniedError{
			AccountID: accountID,
			RoleARN:   roleARN,
			Err:       errors.New("AssumeRole returned no credentials"),
		}
	}

	creds := aws.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Source:          "GovernanceFederation",
		CanExpire:       true,
		Expires:         aws.ToTime(out.Credentials.Expiration),
	}

	f.mu.Lock()
	f.cache[accountID] = cachedCredentials{creds: creds, expires: creds.Expires}
	f.mu.Unlock()

	f.logger.WithContext(ctx).Debug().
		Str("account_id", accountID).
		Time("expires", creds.Expires).
		Msg("assumed remediation role")
	return creds, nil
}

// apiErrorCode extracts the AWS error code, if any
func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
