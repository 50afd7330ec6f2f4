// Package restbridge consumes JSON events from a message stream, validates
// them, maps them onto a REST API request and POSTs them downstream. Messages
// that fail validation or delivery are written to a dead-letter topic and then
// committed, so one bad message never stalls its partition.
//
// Config is read from RESTBRIDGE_* environment variables by LoadConfig. A
// Service built with NewService subscribes to Config.InputTopic on the
// selected transport and runs each message through the Pipeline:
//
//	Received -> Validating -> Transforming -> Delivering -> Delivered -> Acknowledged
//
// Invalid messages and failed deliveries pass through Invalid or
// DeliveryFailed instead. A delivery interrupted by Close ends in Abandoned
// and stays uncommitted so the transport redelivers it.
//
// # Transports
//
//   - kafka: consumer groups with partition and offset reporting
//   - channel: in-memory Go channels for tests
//   - nats: core NATS with queue groups
//   - rabbitmq: durable AMQP queues
//   - aws: SQS, with LocalStack support
//   - http: inbound HTTP server, dead letters POSTed out
//
// # Delivery
//
// Responses are classified as success, terminal (4xx, empty or unparseable
// 2xx bodies) or retryable (5xx and transport errors). Retryable failures are
// retried with exponential backoff up to Config.RetryMaxAttempts. Bearer or
// basic auth and a circuit breaker are optional.
//
// # Observability
//
// PipelineHooks observe every state change. LoggingHooks, MetricsHooks and
// AlertingHooks cover the usual cases. Prometheus metrics are served on
// Config.MetricsPort and a JSON status report on Config.StatusPort.
package restbridge
