package transport

import (
	net_http "net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/restbridge/internal/runtime/config"
)

var (
	HTTPPublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return http.NewPublisher(config, logger)
	}
	HTTPSubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return http.NewSubscriber(addr, config, logger)
	}
)

// httpTransport receives messages as POST /<topic> on HTTPServerAddress and
// publishes dead-letter records to HTTPPublisherURL/<topic>.
func httpTransport(conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	publisher, err := HTTPPublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*net_http.Request, error) {
				return http.DefaultMarshalMessageFunc(publishURL(conf.HTTPPublisherURL, topic), msg)
			},
		},
		logger,
	)
	if err != nil {
		return Transport{}, err
	}

	subscriber, err := HTTPSubscriberFactory(
		conf.HTTPServerAddress,
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
		},
		logger,
	)
	if err != nil {
		return Transport{}, err
	}

	// The inbound server is started by StartHTTPServer once the router has
	// subscribed.
	return Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

func publishURL(base, topic string) string {
	if base == "" {
		return "/" + strings.TrimLeft(topic, "/")
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(topic, "/")
}

// HTTPServerStarter is implemented by subscribers that serve inbound
// messages over HTTP.
type HTTPServerStarter interface {
	StartHTTPServer() error
}

// StartHTTPServer starts the inbound HTTP server of sub, if it has one. It
// blocks until the server stops.
func StartHTTPServer(sub message.Subscriber) error {
	starter, ok := sub.(HTTPServerStarter)
	if !ok {
		return nil
	}
	return starter.StartHTTPServer()
}
