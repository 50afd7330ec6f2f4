package transport

import "strings"

// Capabilities describes what a transport offers the pipeline.
type Capabilities struct {
	Name string `json:"name"`

	// ReportsCoordinates is true when inbound messages carry partition and
	// offset. Other transports report both as -1.
	ReportsCoordinates bool `json:"reports_coordinates"`

	// SupportsKeys is true when the dead-letter publisher honours the
	// original message key for partitioning.
	SupportsKeys bool `json:"supports_keys"`

	// SupportsOrdering is true when messages of one partition or queue are
	// handed over one at a time, in order.
	SupportsOrdering bool `json:"supports_ordering"`

	// SupportsRedelivery is true when a nacked (abandoned) message is
	// delivered again.
	SupportsRedelivery bool `json:"supports_redelivery"`
}

var (
	KafkaCapabilities = Capabilities{
		Name:               "kafka",
		ReportsCoordinates: true,
		SupportsKeys:       true,
		SupportsOrdering:   true,
		SupportsRedelivery: true,
	}
	ChannelCapabilities = Capabilities{
		Name:               "channel",
		SupportsOrdering:   true,
		SupportsRedelivery: true,
	}
	NATSCapabilities = Capabilities{
		Name:               "nats",
		SupportsRedelivery: true,
	}
	RabbitMQCapabilities = Capabilities{
		Name:               "rabbitmq",
		SupportsOrdering:   true,
		SupportsRedelivery: true,
	}
	HTTPCapabilities = Capabilities{
		Name: "http",
	}
	AWSCapabilities = Capabilities{
		Name:               "aws",
		SupportsRedelivery: true,
	}
)

// CapabilitiesFor returns the capabilities of the named transport. Unknown
// names get a zero value carrying only the name.
func CapabilitiesFor(name string) Capabilities {
	switch strings.ToLower(name) {
	case "kafka":
		return KafkaCapabilities
	case "channel", "gochannel":
		return ChannelCapabilities
	case "nats":
		return NATSCapabilities
	case "rabbitmq":
		return RabbitMQCapabilities
	case "http":
		return HTTPCapabilities
	case "aws":
		return AWSCapabilities
	default:
		return Capabilities{Name: name}
	}
}
