package transport

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/restbridge/internal/runtime/config"
)

var (
	GoChannelFactory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		pubSub := gochannel.NewGoChannel(cfg, logger)
		return pubSub, pubSub
	}
)

// channelTransport is an in-process pub/sub. Messages published before the
// router subscribes are dropped.
func channelTransport(_ *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	pub, sub := GoChannelFactory(gochannel.Config{
		OutputChannelBuffer: 64,
	}, logger)

	return Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}
