package transport

import (
	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/restbridge/internal/runtime/config"
	"github.com/drblury/restbridge/internal/runtime/metadata"
	"github.com/drblury/restbridge/internal/runtime/model"
)

var (
	KafkaPublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return kafka.NewPublisher(cfg, logger)
	}
	KafkaSubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return kafka.NewSubscriber(cfg, logger)
	}
)

func kafkaTransport(conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	publisher, err := newKafkaPublisher(conf.KafkaBrokers, logger)
	if err != nil {
		return Transport{}, err
	}
	subscriber, err := newKafkaSubscriber(conf.KafkaConsumerGroup, conf.KafkaBrokers, logger)
	if err != nil {
		_ = publisher.Close()
		return Transport{}, err
	}
	return Transport{Publisher: publisher, Subscriber: subscriber}, nil
}

func newKafkaPublisher(brokers []string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return KafkaPublisherFactory(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: KeyedMarshaler{},
		},
		logger,
	)
}

func newKafkaSubscriber(consumerGroup string, brokers []string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	saramaConfig := kafka.DefaultSaramaSubscriberConfig()
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	return KafkaSubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           CoordinatesUnmarshaler{},
			ConsumerGroup:         consumerGroup,
			OverwriteSaramaConfig: saramaConfig,
		},
		logger,
	)
}

// KeyedMarshaler keys dead-letter records by the key of the message they
// were built from, so a record lands next to its siblings. Records without a
// source key are sent with a nil key and spread across partitions.
type KeyedMarshaler struct {
	kafka.DefaultMarshaler
}

func (m KeyedMarshaler) Marshal(topic string, msg *message.Message) (*sarama.ProducerMessage, error) {
	kafkaMsg, err := m.DefaultMarshaler.Marshal(topic, msg)
	if err != nil {
		return nil, err
	}
	if key := msg.Metadata.Get(metadata.KeyMessageKey); key != "" {
		kafkaMsg.Key = sarama.StringEncoder(key)
	}
	return kafkaMsg, nil
}

// CoordinatesUnmarshaler decodes like kafka.DefaultMarshaler and records the
// source topic, partition, offset and key in the message metadata.
type CoordinatesUnmarshaler struct {
	kafka.DefaultMarshaler
}

func (u CoordinatesUnmarshaler) Unmarshal(kafkaMsg *sarama.ConsumerMessage) (*message.Message, error) {
	msg, err := u.DefaultMarshaler.Unmarshal(kafkaMsg)
	if err != nil {
		return nil, err
	}

	md := metadata.FromWatermill(msg.Metadata).WithCoordinates(model.Coordinates{
		Topic:     kafkaMsg.Topic,
		Partition: kafkaMsg.Partition,
		Offset:    kafkaMsg.Offset,
		Key:       string(kafkaMsg.Key),
	})
	msg.Metadata = metadata.ToWatermill(md)
	return msg, nil
}
