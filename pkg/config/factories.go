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

	"github.com/functionland/fulasync/internal/logger"
	"github.com/functionland/fulasync/pkg/metrics"
	"github.com/functionland/fulasync/pkg/store/object"
	"github.com/functionland/fulasync/pkg/store/state"
	stateBadger "github.com/functionland/fulasync/pkg/store/state/badger"
	stateMemory "github.com/functionland/fulasync/pkg/store/state/memory"
)

// CreateObjectClient creates the remote object storage client from
// configuration.
//
// The client targets Amazon S3 by default; setting Endpoint points it at
// a compatible service (MinIO, Localstack) and switches to path-style
// addressing. Static credentials are used when configured, otherwise the
// default AWS credential chain applies.
//
// Parameters:
//   - ctx: Context for AWS config resolution
//   - cfg: Object storage configuration
//
// Returns:
//   - *object.Client: Initialized storage client
//   - error: Configuration or initialization error
func CreateObjectClient(ctx context.Context, cfg *StorageConfig) (*object.Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object storage: bucket is required")
	}

	if cfg.Region == "" {
		return nil, fmt.Errorf("object storage: region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	var configOptions []func(*awsConfig.LoadOptions) error

	// Set region
	configOptions = append(configOptions, awsConfig.WithRegion(cfg.Region))

	// Set custom endpoint if provided (for MinIO, Localstack, etc.)
	if cfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	// Set credentials if provided, otherwise use default credential chain
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	// Configure SDK-level retries; the transfer engine retries whole parts
	// above this layer, so this only covers transport-level hiccups
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	// Load AWS config
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Force path-style addressing for compatibility with MinIO/Localstack
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	// ========================================================================
	// Step 3: Wrap in the object client
	// ========================================================================

	client, err := object.NewClient(api, metrics.NewObjectMetrics())
	if err != nil {
		return nil, fmt.Errorf("failed to create object client: %w", err)
	}

	logger.Info("object storage initialized: bucket=%s, region=%s, endpoint=%s",
		cfg.Bucket, cfg.Region, cfg.Endpoint)

	return client, nil
}

// CreateStateStore creates a state store based on configuration.
//
// This factory function uses the Type field to determine which store
// implementation to create, then decodes the type-specific configuration
// from the corresponding map and passes it to the store's constructor.
//
// Supported types:
//   - "badger": Uses pkg/store/state/badger (BadgerDB storage, persistent)
//   - "memory": Uses pkg/store/state/memory (in-memory storage, ephemeral)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: State store configuration
//
// Returns:
//   - state.Store: Initialized state store
//   - error: Configuration or initialization error
func CreateStateStore(ctx context.Context, cfg *StateConfig) (state.Store, error) {
	switch cfg.Type {
	case "badger":
		return createBadgerStateStore(ctx, cfg.Badger)
	case "memory":
		return stateMemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown state store type: %q", cfg.Type)
	}
}

// createBadgerStateStore creates a BadgerDB-backed state store.
func createBadgerStateStore(ctx context.Context, options map[string]any) (state.Store, error) {
	// Decode the options into the store's config struct
	var storeCfg stateBadger.Config
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger state store config: %w", err)
	}

	// Validate required fields
	if !storeCfg.InMemory && storeCfg.Path == "" {
		return nil, fmt.Errorf("badger state store: path is required")
	}

	// Create the store
	store, err := stateBadger.New(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger state store: %w", err)
	}

	logger.Info("badger state store initialized: path=%s, sync_writes=%t",
		storeCfg.Path, storeCfg.SyncWrites)

	return store, nil
}
