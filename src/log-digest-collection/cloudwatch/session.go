package cloudwatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

const (
	CredentialModeProfile        = "profile"
	CredentialModeAccessKeys     = "access_keys"
	CredentialModeRoleDelegation = "role_delegation"
)

// Credentials selects how the CloudWatch Logs client authenticates.
type Credentials struct {
	Region         string
	Mode           string
	Profile        string
	AccessKey      string
	SecretKey      string
	RoleArn        string
	RoleExternalID string
}

// NewLogsClient builds a CloudWatch Logs client for the requested region and
// credential mode.
func NewLogsClient(ctx context.Context, creds Credentials) (*cloudwatchlogs.Client, error) {
	var cfg aws.Config
	var err error

	switch creds.Mode {
	case CredentialModeProfile:
		cfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(creds.Region),
			awsconfig.WithSharedConfigProfile(creds.Profile),
		)
	case CredentialModeAccessKeys:
		cfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(creds.Region),
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, ""),
			),
		)
	case CredentialModeRoleDelegation:
		cfg, err = roleDelegationConfig(ctx, creds)
	default:
		return nil, fmt.Errorf("incomplete AWS configuration: credential mode must be %s | %s | %s",
			CredentialModeProfile, CredentialModeAccessKeys, CredentialModeRoleDelegation)
	}
	if err != nil {
		return nil, err
	}

	return cloudwatchlogs.NewFromConfig(cfg), nil
}

func roleDelegationConfig(ctx context.Context, creds Credentials) (aws.Config, error) {
	if creds.RoleArn == "" {
		return aws.Config{}, errors.New("role ARN is required for role delegation")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(creds.Region))
	if err != nil {
		return cfg, err
	}

	stsClient := sts.NewFromConfig(cfg)
	provider := stscreds.NewAssumeRoleProvider(stsClient, creds.RoleArn, func(o *stscreds.AssumeRoleOptions) {
		if creds.RoleExternalID != "" {
			o.ExternalID = aws.String(creds.RoleExternalID)
		}
	})
	cfg.Credentials = aws.NewCredentialsCache(provider)
	return cfg, nil
}
