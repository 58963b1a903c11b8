package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/dmartio/datamart/pkg/index"
	indexBadger "github.com/dmartio/datamart/pkg/index/badger"
	"github.com/dmartio/datamart/pkg/payload"
	payloadFs "github.com/dmartio/datamart/pkg/payload/fs"
	payloadS3 "github.com/dmartio/datamart/pkg/payload/s3"
)

// CreatePayloadStore creates a payload store based on configuration.
//
// The Type field selects the backend; the matching type-specific map is
// decoded into the backend's own config struct and handed to its
// constructor.
//
// Supported types:
//   - "fs": local filesystem, rooted at the spaces root by default so
//     payload companions land next to their metadata
//   - "s3": Amazon S3 or compatible object storage (MinIO, Localstack)
func CreatePayloadStore(ctx context.Context, cfg *Config) (payload.Store, error) {
	switch cfg.Payload.Type {
	case "fs":
		return createFSPayloadStore(ctx, cfg)
	case "s3":
		return createS3PayloadStore(ctx, cfg.Payload.S3)
	default:
		return nil, fmt.Errorf("unknown payload store type: %q", cfg.Payload.Type)
	}
}

// createFSPayloadStore creates a filesystem-based payload store.
func createFSPayloadStore(ctx context.Context, cfg *Config) (payload.Store, error) {
	type FSPayloadStoreConfig struct {
		Path string `mapstructure:"path"`
	}

	var storeCfg FSPayloadStoreConfig
	if err := mapstructure.Decode(cfg.Payload.FS, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode fs payload store config: %w", err)
	}
	if storeCfg.Path == "" {
		storeCfg.Path = cfg.Spaces.Root
	}

	store, err := payloadFs.NewFSPayloadStore(ctx, storeCfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create fs payload store: %w", err)
	}
	return store, nil
}

// createS3PayloadStore creates an S3-based payload store.
func createS3PayloadStore(ctx context.Context, options map[string]any) (payload.Store, error) {
	type S3PayloadStoreConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
		PartSize        int    `mapstructure:"part_size"`
	}

	var storeCfg S3PayloadStoreConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 payload store config: %w", err)
	}
	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 payload store: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 payload store: region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(storeCfg.Region))

	// Custom endpoint for S3-compatible stores (MinIO, Localstack).
	if storeCfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck
				return aws.Endpoint{
					URL:               storeCfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	// Static credentials when provided; the default credential chain
	// otherwise.
	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			storeCfg.AccessKeyID,
			storeCfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := storeCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Path-style addressing is required by most S3-compatible stores.
		o.UsePathStyle = storeCfg.Endpoint != ""
	})

	store, err := payloadS3.NewS3PayloadStore(ctx, payloadS3.S3PayloadStoreConfig{
		Client:    client,
		Bucket:    storeCfg.Bucket,
		KeyPrefix: storeCfg.KeyPrefix,
		PartSize:  storeCfg.PartSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 payload store: %w", err)
	}
	return store, nil
}

// CreateProjector creates the search index projector based on
// configuration.
func CreateProjector(ctx context.Context, cfg *Config) (index.Projector, error) {
	switch cfg.Index.Type {
	case "badger":
		return createBadgerProjector(ctx, cfg.Index.Badger)
	default:
		return nil, fmt.Errorf("unknown index backend type: %q", cfg.Index.Type)
	}
}

// createBadgerProjector creates the BadgerDB-backed projector.
func createBadgerProjector(ctx context.Context, options map[string]any) (index.Projector, error) {
	type BadgerIndexConfig struct {
		Path     string `mapstructure:"path"`
		InMemory bool   `mapstructure:"in_memory"`
	}

	var idxCfg BadgerIndexConfig
	if err := mapstructure.Decode(options, &idxCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger index config: %w", err)
	}
	if idxCfg.Path == "" && !idxCfg.InMemory {
		return nil, fmt.Errorf("badger index: path is required")
	}

	projector, err := indexBadger.NewBadgerProjector(ctx, indexBadger.BadgerProjectorConfig{
		DBPath:   idxCfg.Path,
		InMemory: idxCfg.InMemory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open badger index: %w", err)
	}
	return projector, nil
}
