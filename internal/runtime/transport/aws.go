package transport

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/restbridge/internal/runtime/config"
)

var (
	AWSDefaultConfigLoader = awsconfig.LoadDefaultConfig
	SQSPublisherFactory    = func(cfg sqs.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return sqs.NewPublisher(cfg, logger)
	}
	SQSSubscriberFactory = func(cfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return sqs.NewSubscriber(cfg, logger)
	}
)

// awsTransport consumes the input topic as an SQS queue of the same name and
// sends dead-letter records to the DLQ queue.
func awsTransport(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	cfg, err := createAWSConfig(ctx, conf, logger)
	if err != nil {
		return Transport{}, err
	}
	logger.Info("Created AWS config", watermill.LogFields{
		"region":          cfg.Region,
		"custom_endpoint": conf.AWSEndpoint != "",
	})

	optFns, err := sqsEndpointOptions(conf.AWSEndpoint)
	if err != nil {
		return Transport{}, err
	}

	publisher, err := SQSPublisherFactory(sqs.PublisherConfig{
		AWSConfig: *cfg,
		OptFns:    optFns,
	}, logger)
	if err != nil {
		return Transport{}, err
	}

	subscriber, err := SQSSubscriberFactory(sqs.SubscriberConfig{
		AWSConfig: *cfg,
		OptFns:    optFns,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return Transport{}, err
	}
	return Transport{Publisher: publisher, Subscriber: subscriber}, nil
}

func createAWSConfig(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (*aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if conf.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(conf.AWSRegion))
	}
	if conf.AWSAccessKeyID != "" && conf.AWSSecretAccessKey != "" {
		logger.Info("Using static AWS credentials from config", nil)
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentialsProvider(conf.AWSAccessKeyID, conf.AWSSecretAccessKey)))
	}

	cfg, err := AWSDefaultConfigLoader(ctx, opts...)
	if err != nil {
		logger.Error("Failed to load AWS default config", err, watermill.LogFields{"requested_region": conf.AWSRegion})
		return nil, err
	}
	if conf.AWSRegion != "" {
		cfg.Region = conf.AWSRegion
	}
	return &cfg, nil
}

// sqsEndpointOptions points the SQS client at a custom endpoint such as
// LocalStack. An empty endpoint keeps the AWS default resolver.
func sqsEndpointOptions(endpoint string) ([]func(*amazonsqs.Options), error) {
	if endpoint == "" {
		return nil, nil
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse AWS endpoint: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("AWS endpoint %q must be an absolute URL", endpoint)
	}
	return []func(*amazonsqs.Options){
		amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *parsed},
		}),
	}, nil
}

func staticCredentialsProvider(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
			Source:          "restbridge",
		}, nil
	})
}
