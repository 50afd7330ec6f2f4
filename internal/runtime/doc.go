/*
Package runtime hosts the restbridge message pipeline and the service that
drives it.

# Architecture Overview

A Service subscribes to one input topic through a Watermill router. Each
message is handed to the Pipeline, which moves it through

	Received -> Validating -> Transforming -> Delivering -> Delivered -> Acknowledged

or, on failure, through Invalid or DeliveryFailed before Acknowledged.
Failed messages are routed to the dead-letter topic and then committed, so a
poison message never blocks its partition. A delivery interrupted by shutdown
ends in Abandoned and is left uncommitted for redelivery.

## Service (service.go)

Wires the transport, router, middleware chain, pipeline and the HTTP servers
for metrics and status.

## Pipeline (pipeline.go, state.go, token.go)

Schema validation, constraint validation, transformation, delivery,
dead-lettering and the at-most-once commit.

## Hooks and stats (hooks.go, stats.go, resources.go)

Lifecycle hooks for logging, metrics and alerting, and the rolling
statistics served by the status API.

## Middleware (middleware.go)

Correlation IDs, debug logging, tracing, Prometheus router metrics and panic
recovery.

# Sub-packages

  - config/: environment configuration and validation
  - constraints/: field-level validation of decoded messages
  - deadletter/: dead-letter record construction and publishing
  - delivery/: REST client with retries, auth and circuit breaker
  - errors/: sentinel errors and the failure taxonomy
  - ids/: ULID generation
  - jsoncodec/: JSON codec
  - logging/: logger interface and adapters
  - metadata/: message metadata and stream coordinates
  - model/: inbound, outbound and dead-letter types
  - schema/: JSON Schema validation of raw messages
  - transform/: inbound to outbound mapping
  - transport/: Kafka, NATS, RabbitMQ, SQS, HTTP and in-memory transports
*/
package runtime
