// Package aws wraps the AWS SDK clients this service depends on.
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// Config holds AWS configuration. Endpoint overrides the service endpoint
// for local development stacks.
type Config struct {
	Region   string
	Endpoint string
}

// LoadAWSConfig loads AWS SDK configuration using the default credential
// chain (environment variables, shared credentials file, IAM roles, etc.)
func LoadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(cfg.Endpoint))
	}
	return config.LoadDefaultConfig(ctx, opts...)
}
