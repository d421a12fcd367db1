// Package awsutil provides utilities for loading AWS configuration.
package awsutil

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Clients bundles the AWS service clients the application talks to.
type Clients struct {
	DynamoDB   *dynamodb.Client
	S3         *s3.Client
	CloudFront *cloudfront.Client
}

// Load loads the AWS configuration. A non-empty endpoint (e.g. http://localstack:4566)
// redirects every service to it.
func Load(ctx context.Context, region, endpoint string) (aws.Config, error) {
	cfg, err := awsCfg.LoadDefaultConfig(ctx, awsCfg.WithRegion(region))
	if err != nil {
		return aws.Config{}, err
	}
	if endpoint != "" {
		cfg.BaseEndpoint = aws.String(endpoint)
	}
	return cfg, nil
}

// NewClients builds service clients from cfg. Path-style S3 addressing is used
// whenever a custom endpoint is configured.
func NewClients(cfg aws.Config) *Clients {
	customEndpoint := cfg.BaseEndpoint != nil
	return &Clients{
		DynamoDB: dynamodb.NewFromConfig(cfg),
		S3: s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.UsePathStyle = customEndpoint
		}),
		CloudFront: cloudfront.NewFromConfig(cfg),
	}
}
