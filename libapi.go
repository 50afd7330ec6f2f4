package restbridge

import (
	runtimepkg "github.com/drblury/restbridge/internal/runtime"
	configpkg "github.com/drblury/restbridge/internal/runtime/config"
	"github.com/drblury/restbridge/internal/runtime/constraints"
	"github.com/drblury/restbridge/internal/runtime/delivery"
	errspkg "github.com/drblury/restbridge/internal/runtime/errors"
	idspkg "github.com/drblury/restbridge/internal/runtime/ids"
	jsoncodec "github.com/drblury/restbridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/restbridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/restbridge/internal/runtime/metadata"
	"github.com/drblury/restbridge/internal/runtime/model"
	"github.com/drblury/restbridge/internal/runtime/schema"
	transformpkg "github.com/drblury/restbridge/internal/runtime/transform"
	transportpkg "github.com/drblury/restbridge/internal/runtime/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	StatusReport        = runtimepkg.StatusReport
	Transport           = transportpkg.Transport
	TransportFactory    = transportpkg.Factory
	TransportFactoryFn  = transportpkg.FactoryFunc
	Capabilities        = transportpkg.Capabilities

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	// Pipeline
	Pipeline             = runtimepkg.Pipeline
	PipelineDependencies = runtimepkg.PipelineDependencies
	PipelineHooks        = runtimepkg.PipelineHooks
	PipelineStats        = runtimepkg.PipelineStats
	Envelope             = runtimepkg.Envelope
	Report               = runtimepkg.Report
	Outcome              = runtimepkg.Outcome
	State                = runtimepkg.State
	StateChange          = runtimepkg.StateChange
	CommitToken          = runtimepkg.CommitToken

	// Messages
	IncomingMessage  = model.IncomingMessage
	Payload          = model.Payload
	OutgoingRequest  = model.OutgoingRequest
	DeadLetterRecord = model.DeadLetterRecord
	Coordinates      = model.Coordinates

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ErrorKind             = errspkg.Kind
	ClassifiedError       = errspkg.ClassifiedError
	ConfigValidationError = errspkg.ConfigValidationError
)

const (
	StateReceived       = runtimepkg.StateReceived
	StateValidating     = runtimepkg.StateValidating
	StateInvalid        = runtimepkg.StateInvalid
	StateTransforming   = runtimepkg.StateTransforming
	StateDelivering     = runtimepkg.StateDelivering
	StateDelivered      = runtimepkg.StateDelivered
	StateDeliveryFailed = runtimepkg.StateDeliveryFailed
	StateAcknowledged   = runtimepkg.StateAcknowledged
	StateAbandoned      = runtimepkg.StateAbandoned

	OutcomeDelivered      = runtimepkg.OutcomeDelivered
	OutcomeInvalid        = runtimepkg.OutcomeInvalid
	OutcomeDeliveryFailed = runtimepkg.OutcomeDeliveryFailed
	OutcomeAbandoned      = runtimepkg.OutcomeAbandoned

	KindSchemaViolation     = errspkg.KindSchemaViolation
	KindConstraintViolation = errspkg.KindConstraintViolation
	KindRetryableDelivery   = errspkg.KindRetryableDelivery
	KindTerminalDelivery    = errspkg.KindTerminalDelivery
	KindDeadLetterPublish   = errspkg.KindDeadLetterPublish
	KindUnclassified        = errspkg.KindUnclassified
)

var (
	NewService     = runtimepkg.NewService
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	NewPipeline    = runtimepkg.NewPipeline
	NewCommitToken = runtimepkg.NewCommitToken
	CommitFunc     = runtimepkg.CommitFunc

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks

	DefaultTransportFactory = transportpkg.DefaultFactory
	TransportCapabilities   = transportpkg.CapabilitiesFor

	DefaultSchema = schema.Default
	LoadSchema    = schema.Load
	Transform     = transformpkg.Transform
	SleepContext  = delivery.SleepContext

	NewJSONServiceLogger      = loggingpkg.NewJSONServiceLogger
	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger

	CreateULID = idspkg.CreateULID

	KindOf     = errspkg.KindOf
	IsTerminal = errspkg.IsTerminal

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
)

var (
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrDeliveryAbandoned    = errspkg.ErrDeliveryAbandoned
	ErrRetryBudgetExhausted = errspkg.ErrRetryBudgetExhausted
	ErrCircuitOpen          = errspkg.ErrCircuitOpen
	ErrAlreadyCommitted     = errspkg.ErrAlreadyCommitted
)

// NewConstraintValidator returns the field-level validator used by the
// pipeline. With failFast it stops at the first violation.
func NewConstraintValidator(failFast bool) runtimepkg.ConstraintValidator {
	return constraints.New(failFast)
}
