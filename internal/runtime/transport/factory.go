// Package transport builds the Watermill publisher and subscriber pair for
// the configured pub/sub system.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/restbridge/internal/runtime/config"
	errspkg "github.com/drblury/restbridge/internal/runtime/errors"
)

// Transport combines a publisher and subscriber pair produced by a factory.
type Transport struct {
	Publisher    message.Publisher
	Subscriber   message.Subscriber
	Capabilities Capabilities
}

// Close closes the subscriber and publisher. A pair backed by one pub/sub
// instance is closed once.
func (t Transport) Close() error {
	var errs []error
	if t.Subscriber != nil {
		errs = append(errs, t.Subscriber.Close())
	}
	if t.Publisher != nil && !samePubSub(t.Publisher, t.Subscriber) {
		errs = append(errs, t.Publisher.Close())
	}
	return errors.Join(errs...)
}

func samePubSub(pub message.Publisher, sub message.Subscriber) bool {
	if sub == nil {
		return false
	}
	other, ok := sub.(message.Publisher)
	return ok && other == pub
}

// Factory abstracts how restbridge initialises message transports.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// FactoryFunc adapts a function into a Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory returns the built-in factory that selects a transport by
// Config.PubSubSystem.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, errspkg.ErrConfigRequired
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	name := strings.ToLower(conf.PubSubSystem)
	var (
		t   Transport
		err error
	)
	switch name {
	case "kafka":
		t, err = kafkaTransport(conf, logger)
	case "channel", "gochannel":
		t, err = channelTransport(conf, logger)
	case "nats":
		t, err = natsTransport(conf, logger)
	case "rabbitmq":
		t, err = rabbitTransport(conf, logger)
	case "http":
		t, err = httpTransport(conf, logger)
	case "aws":
		t, err = awsTransport(ctx, conf, logger)
	default:
		return Transport{}, fmt.Errorf("unsupported pubsub system: %q", conf.PubSubSystem)
	}
	if err != nil {
		return Transport{}, fmt.Errorf("build %s transport: %w", name, err)
	}
	t.Capabilities = CapabilitiesFor(name)
	return t, nil
}
