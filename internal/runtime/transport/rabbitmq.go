package transport

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/restbridge/internal/runtime/config"
)

var (
	AmqpConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
		return amqp.NewConnection(cfg, logger)
	}
	AmqpPublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
		return amqp.NewPublisherWithConnection(cfg, logger, conn)
	}
	AmqpSubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
		return amqp.NewSubscriberWithConnection(cfg, logger, conn)
	}
)

func rabbitTransport(conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	conn, amqpConfig, err := setupAmqp(conf, logger)
	if err != nil {
		return Transport{}, err
	}
	publisher, err := AmqpPublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return Transport{}, err
	}
	subscriber, err := AmqpSubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = publisher.Close()
		return Transport{}, err
	}
	return Transport{Publisher: publisher, Subscriber: subscriber}, nil
}

// setupAmqp binds one durable queue per topic and consumer group, so
// instances sharing a group compete for messages.
func setupAmqp(conf *config.Config, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, amqp.Config, error) {
	amqpConfig := amqp.NewDurablePubSubConfig(
		conf.RabbitMQURL,
		amqp.GenerateQueueNameTopicNameWithSuffix(queueSuffix(conf.KafkaConsumerGroup)),
	)
	conn, err := AmqpConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   conf.RabbitMQURL,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return nil, amqp.Config{}, err
	}
	return conn, amqpConfig, nil
}

func queueSuffix(group string) string {
	if group == "" {
		return "-restbridge"
	}
	return "-" + group
}
