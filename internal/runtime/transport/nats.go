package transport

import (
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/restbridge/internal/runtime/config"
)

var (
	NATSPublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return nats.NewPublisher(cfg, logger)
	}
	NATSSubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return nats.NewSubscriber(cfg, logger)
	}
)

const natsReconnectWait = 2 * time.Second

// natsTransport uses core NATS. A queue group named after the consumer group
// spreads messages across instances.
func natsTransport(conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	marshaler := &nats.NATSMarshaler{}
	options := []nc.Option{
		nc.Name("restbridge"),
		nc.RetryOnFailedConnect(true),
		nc.ReconnectWait(natsReconnectWait),
	}
	jsConfig := nats.JetStreamConfig{Disabled: true}

	publisher, err := NATSPublisherFactory(
		nats.PublisherConfig{
			URL:         conf.NATSURL,
			NatsOptions: options,
			Marshaler:   marshaler,
			JetStream:   jsConfig,
		},
		logger,
	)
	if err != nil {
		return Transport{}, err
	}

	subscriber, err := NATSSubscriberFactory(
		nats.SubscriberConfig{
			URL:              conf.NATSURL,
			NatsOptions:      options,
			QueueGroupPrefix: conf.KafkaConsumerGroup,
			Unmarshaler:      marshaler,
			JetStream:        jsConfig,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return Transport{}, err
	}

	return Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}
