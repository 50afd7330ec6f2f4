package runtime

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	idspkg "github.com/drblury/restbridge/internal/runtime/ids"
	loggingpkg "github.com/drblury/restbridge/internal/runtime/logging"
	"github.com/drblury/restbridge/internal/runtime/metadata"
)

const tracerName = "github.com/drblury/restbridge"

// MiddlewareBuilder constructs a handler middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a Service router.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard middleware chain used by the Service constructor.
// There is no retry or poison-queue middleware: delivery retries and
// dead-lettering happen inside the pipeline.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		RecovererMiddleware(),
	}
}

// MetricsMiddleware adds Watermill's Prometheus router metrics and decorates
// the subscriber and dead-letter publisher.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}

			builder := metrics.NewPrometheusMetricsBuilder(s.registry, "restbridge", s.Conf.PubSubSystem)
			builder.AddPrometheusRouterMetrics(s.router)

			// The dead-letter publisher is not a handler publisher, so the
			// router does not decorate it.
			pub, err := builder.DecoratePublisher(s.publisher)
			if err != nil {
				return nil, err
			}
			s.publisher = pub

			// AddPrometheusRouterMetrics already installed the handler middleware.
			return nil, nil
		},
	}
}

// CorrelationIDMiddleware ensures each processed message carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "correlation_id",
		Middleware: correlationIDMiddleware,
	}
}

// LogMessagesMiddleware logs the payload and metadata of handled messages at
// debug level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return logMessagesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "tracer",
		Middleware: tracerMiddleware,
	}
}

// RecovererMiddleware turns a panic that escapes the pipeline into a handler
// error, which nacks the message.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// RegisterMiddleware attaches the supplied middleware to the router.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.router == nil {
		return errors.New("router is not initialised")
	}

	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.router.AddMiddleware(mw)
	return nil
}

// correlationIDMiddleware injects a correlation ID into the message metadata when missing.
func correlationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		middleware.SetCorrelationID(idspkg.CreateULID(), msg)
		return h(msg)
	}
}

func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid":   msg.UUID,
				"correlation_id": msg.Metadata.Get(metadata.KeyCorrelationID),
				"payload":        string(msg.Payload),
				"metadata":       msg.Metadata,
			})
			return h(msg)
		}
	}
}

// tracerMiddleware wraps message handling with an OpenTelemetry span.
func tracerMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		ctx, span := otel.Tracer(tracerName).Start(msg.Context(), "ProcessMessage")
		defer span.End()
		msg.SetContext(ctx)

		coords := metadata.FromWatermill(msg.Metadata).Coordinates("")
		span.SetAttributes(
			attribute.String("message.uuid", msg.UUID),
			attribute.String("message.correlation_id", msg.Metadata.Get(metadata.KeyCorrelationID)),
			attribute.String("messaging.source", coords.String()),
		)

		produced, err := h(msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, fmt.Sprintf("handler failed: %v", err))
		}
		return produced, err
	}
}
