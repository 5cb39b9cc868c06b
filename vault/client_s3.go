package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// S3Config configures the S3 storage backend.
type S3Config struct {
	// Bucket is required.
	Bucket string
	// Prefix is the key prefix within the bucket.
	Prefix string
	// Region is passed to the AWS config loader; empty uses the
	// default chain.
	Region string
	// Endpoint points at an S3-compatible provider (R2, MinIO) when
	// set; empty uses AWS proper.
	Endpoint string
	// UsePathStyle forces bucket-in-path addressing, which most
	// S3-compatible providers require.
	UsePathStyle bool
}

// Validate checks the required fields.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// ParseS3Path splits "bucket/prefix" (or a bare "bucket") into parts.
func ParseS3Path(path string) (bucket, prefix string) {
	parts := strings.SplitN(path, "/", 2)
	bucket = parts[0]
	if len(parts) > 1 {
		prefix = parts[1]
	}
	return bucket, prefix
}

// newS3StoreFactory builds a Lode store factory over an S3 client
// constructed from the AWS default credential chain (env vars, shared
// config, IAM role) plus the config's endpoint/addressing overrides.
func newS3StoreFactory(ctx context.Context, s3cfg S3Config) (lode.StoreFactory, error) {
	if err := s3cfg.Validate(); err != nil {
		return nil, err
	}

	var loadOpts []func(*config.LoadOptions) error
	if s3cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(s3cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if s3cfg.Endpoint != "" {
		endpoint := s3cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if s3cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)

	return func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{
			Bucket: s3cfg.Bucket,
			Prefix: s3cfg.Prefix,
		})
	}, nil
}

// NewLodeS3Client builds a client over S3 storage.
func NewLodeS3Client(cfg Config, s3cfg S3Config) (*LodeClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	factory, err := newS3StoreFactory(context.Background(), s3cfg)
	if err != nil {
		return nil, err
	}
	ds, err := newHiveDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, fmt.Errorf("failed to create Lode dataset: %w", err)
	}
	return newClient(ds, cfg, factory), nil
}
