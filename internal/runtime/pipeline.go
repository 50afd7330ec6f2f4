package runtime

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/drblury/restbridge/internal/runtime/deadletter"
	"github.com/drblury/restbridge/internal/runtime/delivery"
	errspkg "github.com/drblury/restbridge/internal/runtime/errors"
	"github.com/drblury/restbridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/restbridge/internal/runtime/logging"
	"github.com/drblury/restbridge/internal/runtime/model"
	"github.com/drblury/restbridge/internal/runtime/schema"
	"github.com/drblury/restbridge/internal/runtime/transform"
)

// SchemaValidator checks raw message bytes.
type SchemaValidator interface {
	Validate(raw []byte) []schema.Violation
}

// ConstraintValidator checks a decoded message.
type ConstraintValidator interface {
	Validate(msg *model.IncomingMessage) error
}

// Deliverer sends a request downstream with its own retry policy.
type Deliverer interface {
	Deliver(ctx context.Context, req model.OutgoingRequest) (delivery.Result, error)
}

// DeadLetterRouter publishes failed messages.
type DeadLetterRouter interface {
	Route(ctx context.Context, src deadletter.Source, cause error, retryCount int) (model.DeadLetterRecord, error)
}

// PipelineDependencies holds the collaborators of a Pipeline. Hooks, Logger,
// Stats and Now are optional.
type PipelineDependencies struct {
	Schema      SchemaValidator
	Constraints ConstraintValidator
	Deliverer   Deliverer
	DeadLetter  DeadLetterRouter
	Logger      loggingpkg.ServiceLogger
	Hooks       PipelineHooks
	Stats       *PipelineStats
	Now         func() time.Time
}

// Envelope is one message handed to the pipeline by the transport.
type Envelope struct {
	Raw           []byte
	Coordinates   model.Coordinates
	CorrelationID string
	ReceivedAt    time.Time
	Token         CommitToken
}

// Outcome summarises how a message left the pipeline.
type Outcome string

const (
	OutcomeDelivered      Outcome = "delivered"
	OutcomeInvalid        Outcome = "invalid"
	OutcomeDeliveryFailed Outcome = "delivery_failed"
	OutcomeAbandoned      Outcome = "abandoned"
)

// Report describes what happened to one message.
type Report struct {
	MessageID   string
	Coordinates model.Coordinates
	Trail       []State
	Final       State
	Outcome     Outcome
	Attempts    int
	RetryCount  int
	// Cause is the failure that sent the message to the dead-letter topic.
	Cause error

	DeadLetterAttempted bool
	DeadLettered        bool
	DeadLetter          *model.DeadLetterRecord
	DeadLetterErr       error

	Committed bool
	CommitErr error
	Duration  time.Duration
}

// Pipeline runs each message through validation, transformation, delivery and
// acknowledgment. Handle never panics and never returns an error: every path
// ends committed, or abandoned for redelivery on shutdown.
type Pipeline struct {
	schema      SchemaValidator
	constraints ConstraintValidator
	deliverer   Deliverer
	deadLetter  DeadLetterRouter
	logger      loggingpkg.ServiceLogger
	hooks       PipelineHooks
	stats       *PipelineStats
	now         func() time.Time
}

// NewPipeline validates deps and builds a Pipeline.
func NewPipeline(deps PipelineDependencies) (*Pipeline, error) {
	switch {
	case deps.Schema == nil:
		return nil, errspkg.ErrSchemaRequired
	case deps.Constraints == nil:
		return nil, errspkg.ErrConstraintsRequired
	case deps.Deliverer == nil:
		return nil, errspkg.ErrDelivererRequired
	case deps.DeadLetter == nil:
		return nil, errspkg.ErrDeadLetterRequired
	}

	p := &Pipeline{
		schema:      deps.Schema,
		constraints: deps.Constraints,
		deliverer:   deps.Deliverer,
		deadLetter:  deps.DeadLetter,
		logger:      deps.Logger,
		hooks:       deps.Hooks,
		stats:       deps.Stats,
		now:         deps.Now,
	}
	if p.logger == nil {
		p.logger = loggingpkg.Discard()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Stats returns the stats collector, or nil when none was configured.
func (p *Pipeline) Stats() *PipelineStats {
	return p.stats
}

// Handle processes env to completion. The commit token is used exactly once
// on every path except abandonment.
func (p *Pipeline) Handle(ctx context.Context, env Envelope) Report {
	start := p.now()
	if env.ReceivedAt.IsZero() {
		env.ReceivedAt = start
	}
	report := Report{Coordinates: env.Coordinates}

	if p.stats != nil {
		p.stats.onMessageStart()
	}

	p.enter(&report, StateReceived)

	var msg *model.IncomingMessage
	cause, abandoned := p.process(ctx, env, &report, &msg)

	switch {
	case abandoned:
		report.Outcome = OutcomeAbandoned
		p.enter(&report, StateAbandoned)
		p.logger.Warn("Delivery abandoned on shutdown, offset left uncommitted", loggingpkg.LogFields{
			"message_id": report.MessageID,
			"source":     report.Coordinates.String(),
			"attempts":   report.Attempts,
		})
	default:
		if cause != nil {
			report.Cause = cause
			p.routeDeadLetter(ctx, env, msg, &report)
		}
		p.commit(env, &report)
		p.enter(&report, StateAcknowledged)
	}

	report.Duration = p.now().Sub(start)
	if p.stats != nil {
		p.stats.onMessageFinish(report)
	}
	p.done(report)
	return report
}

// process runs the stages up to a delivery outcome. A panic in any stage is
// converted into an UnclassifiedError carrying the goroutine stack.
func (p *Pipeline) process(ctx context.Context, env Envelope, r *Report, decoded **model.IncomingMessage) (cause error, abandoned bool) {
	defer func() {
		if rec := recover(); rec != nil {
			cause = &errspkg.ClassifiedError{
				Kind:  errspkg.KindUnclassified,
				Msg:   fmt.Sprintf("panic while %s: %v", r.Final, rec),
				Trace: string(debug.Stack()),
			}
			abandoned = false
			r.Outcome = OutcomeDeliveryFailed
			r.RetryCount = max(r.Attempts-1, 0)
			p.enter(r, StateDeliveryFailed)
		}
	}()

	p.enter(r, StateValidating)

	if violations := p.schema.Validate(env.Raw); len(violations) > 0 {
		return p.invalid(r, schema.Error(violations)), false
	}

	var msg model.IncomingMessage
	if err := jsoncodec.Unmarshal(env.Raw, &msg); err != nil {
		return p.invalid(r, errspkg.New(errspkg.KindSchemaViolation, "decode message", err)), false
	}
	*decoded = &msg
	r.MessageID = msg.MessageID

	if err := p.constraints.Validate(&msg); err != nil {
		if !errspkg.IsValidation(err) {
			err = errspkg.New(errspkg.KindConstraintViolation, "", err)
		}
		return p.invalid(r, err), false
	}

	p.enter(r, StateTransforming)
	req := transform.Transform(&msg)

	p.enter(r, StateDelivering)
	result, err := p.deliverer.Deliver(ctx, req)
	r.Attempts = result.Attempts
	if err != nil {
		if errors.Is(err, errspkg.ErrDeliveryAbandoned) {
			return nil, true
		}
		r.Outcome = OutcomeDeliveryFailed
		r.RetryCount = max(result.Attempts-1, 0)
		p.enter(r, StateDeliveryFailed)
		return errspkg.New(errspkg.KindUnclassified, "deliver", err), false
	}

	if result.Delivered() {
		r.Outcome = OutcomeDelivered
		p.enter(r, StateDelivered)
		return nil, false
	}

	r.Outcome = OutcomeDeliveryFailed
	r.RetryCount = max(result.Attempts-1, 0)
	p.enter(r, StateDeliveryFailed)
	return result.Err(), false
}

func (p *Pipeline) invalid(r *Report, err error) error {
	r.Outcome = OutcomeInvalid
	r.RetryCount = 0
	p.enter(r, StateInvalid)
	return err
}

// routeDeadLetter publishes the dead-letter record. Failures, including
// panics, are logged and recorded on the report; they never block the commit.
func (p *Pipeline) routeDeadLetter(ctx context.Context, env Envelope, msg *model.IncomingMessage, r *Report) {
	r.DeadLetterAttempted = true
	defer func() {
		if rec := recover(); rec != nil {
			r.DeadLetterErr = &errspkg.ClassifiedError{
				Kind:  errspkg.KindDeadLetterPublish,
				Msg:   fmt.Sprintf("panic while dead-lettering: %v", rec),
				Trace: string(debug.Stack()),
			}
			p.logger.Error("Dead-letter publish panicked", r.DeadLetterErr, loggingpkg.LogFields{"message_id": r.MessageID})
		}
	}()

	src := deadletter.Source{
		Raw:           env.Raw,
		Message:       msg,
		Coordinates:   env.Coordinates,
		CorrelationID: env.CorrelationID,
		ReceivedAt:    env.ReceivedAt,
	}
	record, err := p.deadLetter.Route(ctx, src, r.Cause, r.RetryCount)
	if err != nil {
		r.DeadLetterErr = err
		p.logger.Error("Failed to publish dead-letter record, committing anyway", err, loggingpkg.LogFields{
			"message_id":  r.MessageID,
			"source":      r.Coordinates.String(),
			"error_type":  record.ErrorType,
			"retry_count": r.RetryCount,
		})
		return
	}
	r.DeadLettered = true
	r.DeadLetter = &record
}

func (p *Pipeline) commit(env Envelope, r *Report) {
	if env.Token == nil {
		r.CommitErr = errspkg.ErrCommitTokenRequired
		p.logger.Error("No commit token supplied", r.CommitErr, loggingpkg.LogFields{"message_id": r.MessageID})
		return
	}
	if err := env.Token.Commit(); err != nil {
		r.CommitErr = err
		p.logger.Error("Failed to commit offset", err, loggingpkg.LogFields{
			"message_id": r.MessageID,
			"source":     r.Coordinates.String(),
		})
		return
	}
	r.Committed = true
}

func (p *Pipeline) enter(r *Report, next State) {
	from := r.Final
	r.Final = next
	r.Trail = append(r.Trail, next)
	if p.hooks.OnTransition == nil {
		return
	}
	p.safeHook(func() {
		p.hooks.OnTransition(StateChange{
			MessageID:   r.MessageID,
			Coordinates: r.Coordinates,
			From:        from,
			To:          next,
			At:          p.now(),
		})
	})
}

func (p *Pipeline) done(r Report) {
	if p.hooks.OnDone == nil {
		return
	}
	p.safeHook(func() { p.hooks.OnDone(r) })
}

// safeHook keeps a misbehaving hook from aborting the pipeline.
func (p *Pipeline) safeHook(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("Pipeline hook panicked", fmt.Errorf("%v", rec), nil)
		}
	}()
	fn()
}
