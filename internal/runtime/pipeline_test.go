package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/restbridge/internal/runtime/constraints"
	"github.com/drblury/restbridge/internal/runtime/deadletter"
	"github.com/drblury/restbridge/internal/runtime/delivery"
	errspkg "github.com/drblury/restbridge/internal/runtime/errors"
	"github.com/drblury/restbridge/internal/runtime/model"
	"github.com/drblury/restbridge/internal/runtime/schema"
)

const validMessage = `{
	"messageId": "msg-1",
	"eventType": "ORDER_CREATED",
	"timestamp": "2024-01-15T10:30:00",
	"payload": {
		"customerId": "C-1",
		"customerName": "Ada Lovelace",
		"email": "ada@example.com",
		"phone": "+14155550100",
		"amount": 42.5,
		"currency": "USD",
		"description": "first order",
		"active": true
	}
}`

type fakeDeliverer struct {
	mu       sync.Mutex
	result   delivery.Result
	err      error
	panicMsg string
	requests []model.OutgoingRequest
}

func (f *fakeDeliverer) Deliver(_ context.Context, req model.OutgoingRequest) (delivery.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.result, f.err
}

type routedCall struct {
	src        deadletter.Source
	cause      error
	retryCount int
}

type fakeDeadLetter struct {
	mu    sync.Mutex
	err   error
	calls []routedCall
}

func (f *fakeDeadLetter) Route(_ context.Context, src deadletter.Source, cause error, retryCount int) (model.DeadLetterRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, routedCall{src: src, cause: cause, retryCount: retryCount})
	record := model.DeadLetterRecord{
		ErrorType:  string(errspkg.KindOf(cause)),
		RetryCount: retryCount,
	}
	return record, f.err
}

type countingToken struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingToken) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *countingToken) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func delivered(attempts int) delivery.Result {
	return delivery.Result{
		Outcome:  delivery.Outcome{Kind: delivery.Success, StatusCode: 200},
		Attempts: attempts,
	}
}

func newTestPipeline(t *testing.T, d *fakeDeliverer, dl *fakeDeadLetter, hooks PipelineHooks) *Pipeline {
	t.Helper()
	sv, err := schema.Default()
	require.NoError(t, err)
	p, err := NewPipeline(PipelineDependencies{
		Schema:      sv,
		Constraints: constraints.New(false),
		Deliverer:   d,
		DeadLetter:  dl,
		Hooks:       hooks,
		Stats:       newPipelineStats("orders", "orders.dlq", "http://api.local/v1", nil),
	})
	require.NoError(t, err)
	return p
}

func envelope(raw string, token CommitToken) Envelope {
	return Envelope{
		Raw:         []byte(raw),
		Coordinates: model.Coordinates{Topic: "orders", Partition: 2, Offset: 41},
		Token:       token,
	}
}

func TestNewPipelineRequiresDependencies(t *testing.T) {
	sv, err := schema.Default()
	require.NoError(t, err)
	full := PipelineDependencies{
		Schema:      sv,
		Constraints: constraints.New(false),
		Deliverer:   &fakeDeliverer{},
		DeadLetter:  &fakeDeadLetter{},
	}

	tests := []struct {
		name   string
		mutate func(*PipelineDependencies)
		want   error
	}{
		{"schema", func(d *PipelineDependencies) { d.Schema = nil }, errspkg.ErrSchemaRequired},
		{"constraints", func(d *PipelineDependencies) { d.Constraints = nil }, errspkg.ErrConstraintsRequired},
		{"deliverer", func(d *PipelineDependencies) { d.Deliverer = nil }, errspkg.ErrDelivererRequired},
		{"dead letter", func(d *PipelineDependencies) { d.DeadLetter = nil }, errspkg.ErrDeadLetterRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.mutate(&deps)
			_, err := NewPipeline(deps)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	p, err := NewPipeline(full)
	require.NoError(t, err)
	assert.Nil(t, p.Stats())
}

func TestPipelineDeliversValidMessage(t *testing.T) {
	d := &fakeDeliverer{result: delivered(1)}
	dl := &fakeDeadLetter{}
	token := &countingToken{}
	p := newTestPipeline(t, d, dl, PipelineHooks{})

	report := p.Handle(context.Background(), envelope(validMessage, token))

	assert.Equal(t, OutcomeDelivered, report.Outcome)
	assert.Equal(t, StateAcknowledged, report.Final)
	assert.Equal(t, []State{
		StateReceived, StateValidating, StateTransforming, StateDelivering, StateDelivered, StateAcknowledged,
	}, report.Trail)
	assert.Equal(t, "msg-1", report.MessageID)
	assert.Equal(t, 1, report.Attempts)
	assert.True(t, report.Committed)
	assert.NoError(t, report.Cause)
	assert.Empty(t, dl.calls)
	assert.Equal(t, 1, token.count())

	require.Len(t, d.requests, 1)
	req := d.requests[0]
	assert.Equal(t, "msg-1", req.TransactionID)
	assert.Equal(t, "ORDER_CREATED", req.EventName)
	assert.Equal(t, "Ada Lovelace", req.Customer.FullName)
	assert.Equal(t, "2024-01-15T10:30:00", req.Timestamp)

	stats := p.Stats()
	assert.EqualValues(t, 1, stats.MessagesProcessed)
	assert.EqualValues(t, 1, stats.MessagesDelivered)
	assert.EqualValues(t, 0, stats.Backlog.InFlight)
}

func TestPipelineConstraintViolationIsDeadLettered(t *testing.T) {
	raw := `{
		"messageId": "msg-2",
		"eventType": "ORDER_CREATED",
		"timestamp": "2024-01-15T10:30:00",
		"payload": {
			"customerId": "C-1",
			"customerName": "Ada Lovelace",
			"email": "ada@example.com",
			"phone": "+14155550100",
			"amount": 0.0,
			"currency": "US",
			"active": true
		}
	}`
	d := &fakeDeliverer{result: delivered(1)}
	dl := &fakeDeadLetter{}
	token := &countingToken{}
	p := newTestPipeline(t, d, dl, PipelineHooks{})

	report := p.Handle(context.Background(), envelope(raw, token))

	assert.Equal(t, OutcomeInvalid, report.Outcome)
	assert.Equal(t, []State{StateReceived, StateValidating, StateInvalid, StateAcknowledged}, report.Trail)
	assert.Empty(t, d.requests, "invalid messages are never delivered")
	assert.Equal(t, 1, token.count())
	assert.True(t, report.DeadLettered)

	require.Len(t, dl.calls, 1)
	call := dl.calls[0]
	assert.Equal(t, 0, call.retryCount)
	assert.Equal(t, errspkg.KindConstraintViolation, errspkg.KindOf(call.cause))
	assert.Contains(t, call.cause.Error(), "payload.amount: must be greater than 0.01")
	assert.Contains(t, call.cause.Error(), "payload.currency: must be exactly 3 characters")
	require.NotNil(t, call.src.Message)
	assert.Equal(t, "msg-2", call.src.Message.MessageID)
	assert.Equal(t, int32(2), call.src.Coordinates.Partition)
}

func TestPipelineSchemaViolationIsDeadLettered(t *testing.T) {
	raw := `{
		"messageId": "msg-3",
		"eventType": "ORDER_CREATED",
		"timestamp": "2024-01-15T10:30:00",
		"payload": {
			"customerId": "C-1",
			"email": "ada@example.com",
			"phone": "+14155550100",
			"amount": 10,
			"currency": "USD",
			"active": true
		}
	}`
	d := &fakeDeliverer{}
	dl := &fakeDeadLetter{}
	token := &countingToken{}
	p := newTestPipeline(t, d, dl, PipelineHooks{})

	report := p.Handle(context.Background(), envelope(raw, token))

	assert.Equal(t, OutcomeInvalid, report.Outcome)
	assert.Empty(t, d.requests)
	require.Len(t, dl.calls, 1)
	assert.Equal(t, errspkg.KindSchemaViolation, errspkg.KindOf(dl.calls[0].cause))
	assert.Contains(t, dl.calls[0].cause.Error(), "customerName")
	assert.Nil(t, dl.calls[0].src.Message, "schema failures are routed before decoding")
	assert.Equal(t, raw, string(dl.calls[0].src.Raw))
	assert.Equal(t, 1, token.count())
	assert.EqualValues(t, 1, p.Stats().Errors.SchemaViolation)
}

func TestPipelineMalformedJSON(t *testing.T) {
	dl := &fakeDeadLetter{}
	token := &countingToken{}
	p := newTestPipeline(t, &fakeDeliverer{}, dl, PipelineHooks{})

	report := p.Handle(context.Background(), envelope(`{"messageId": `, token))

	assert.Equal(t, OutcomeInvalid, report.Outcome)
	require.Len(t, dl.calls, 1)
	assert.Equal(t, errspkg.KindSchemaViolation, errspkg.KindOf(dl.calls[0].cause))
	assert.Equal(t, 1, token.count())
}

func TestPipelineExhaustedRetriesAreDeadLettered(t *testing.T) {
	d := &fakeDeliverer{result: delivery.Result{
		Outcome: delivery.Outcome{
			Kind:       delivery.Retryable,
			StatusCode: 503,
			Err:        &errspkg.ClassifiedError{Kind: errspkg.KindRetryableDelivery, StatusCode: 503, Msg: "HTTP 503"},
		},
		Attempts:  3,
		Exhausted: true,
	}}
	dl := &fakeDeadLetter{}
	token := &countingToken{}
	p := newTestPipeline(t, d, dl, PipelineHooks{})

	report := p.Handle(context.Background(), envelope(validMessage, token))

	assert.Equal(t, OutcomeDeliveryFailed, report.Outcome)
	assert.Equal(t, []State{
		StateReceived, StateValidating, StateTransforming, StateDelivering, StateDeliveryFailed, StateAcknowledged,
	}, report.Trail)
	assert.Equal(t, 3, report.Attempts)
	assert.Equal(t, 2, report.RetryCount)

	require.Len(t, dl.calls, 1)
	assert.Equal(t, 2, dl.calls[0].retryCount)
	assert.Equal(t, errspkg.KindTerminalDelivery, errspkg.KindOf(dl.calls[0].cause))
	assert.ErrorIs(t, dl.calls[0].cause, errspkg.ErrRetryBudgetExhausted)
	assert.Equal(t, 1, token.count())
}

func TestPipelineTerminalFailureDeadLettersWithoutRetry(t *testing.T) {
	d := &fakeDeliverer{result: delivery.Result{
		Outcome: delivery.Outcome{
			Kind:       delivery.Terminal,
			StatusCode: 400,
			Err:        &errspkg.ClassifiedError{Kind: errspkg.KindTerminalDelivery, StatusCode: 400, Msg: "HTTP 400"},
		},
		Attempts: 1,
	}}
	dl := &fakeDeadLetter{}
	p := newTestPipeline(t, d, dl, PipelineHooks{})

	report := p.Handle(context.Background(), envelope(validMessage, &countingToken{}))

	assert.Equal(t, OutcomeDeliveryFailed, report.Outcome)
	require.Len(t, dl.calls, 1)
	assert.Equal(t, 0, dl.calls[0].retryCount)
	assert.Equal(t, 400, errspkg.StatusCodeOf(dl.calls[0].cause))
}

func TestPipelineAbandonedDeliveryIsNotCommitted(t *testing.T) {
	d := &fakeDeliverer{
		result: delivery.Result{Outcome: delivery.Outcome{Kind: delivery.Retryable}, Attempts: 1},
		err:    errspkg.ErrDeliveryAbandoned,
	}
	dl := &fakeDeadLetter{}
	token := &countingToken{}
	p := newTestPipeline(t, d, dl, PipelineHooks{})

	report := p.Handle(context.Background(), envelope(validMessage, token))

	assert.Equal(t, OutcomeAbandoned, report.Outcome)
	assert.Equal(t, StateAbandoned, report.Final)
	assert.True(t, report.Final.Terminal())
	assert.False(t, report.Committed)
	assert.Zero(t, token.count())
	assert.Empty(t, dl.calls)
	assert.EqualValues(t, 1, p.Stats().MessagesAbandoned)
}

func TestPipelineDeadLetterFailureStillCommits(t *testing.T) {
	dlErr := errspkg.New(errspkg.KindDeadLetterPublish, "publish", errspkg.ErrDeadLetterUnavailable)
	dl := &fakeDeadLetter{err: dlErr}
	token := &countingToken{}
	p := newTestPipeline(t, &fakeDeliverer{}, dl, PipelineHooks{})

	report := p.Handle(context.Background(), envelope(`not json`, token))

	assert.True(t, report.DeadLetterAttempted)
	assert.False(t, report.DeadLettered)
	assert.ErrorIs(t, report.DeadLetterErr, errspkg.ErrDeadLetterUnavailable)
	assert.True(t, report.Committed)
	assert.Equal(t, 1, token.count())
	assert.EqualValues(t, 1, p.Stats().DeadLetterFailures)
}

func TestPipelineRecoversFromPanics(t *testing.T) {
	d := &fakeDeliverer{panicMsg: "boom"}
	dl := &fakeDeadLetter{}
	token := &countingToken{}
	p := newTestPipeline(t, d, dl, PipelineHooks{})

	var report Report
	require.NotPanics(t, func() {
		report = p.Handle(context.Background(), envelope(validMessage, token))
	})

	assert.Equal(t, OutcomeDeliveryFailed, report.Outcome)
	assert.Equal(t, StateAcknowledged, report.Final)
	require.Len(t, dl.calls, 1)
	cause := dl.calls[0].cause
	assert.Equal(t, errspkg.KindUnclassified, errspkg.KindOf(cause))
	assert.Contains(t, cause.Error(), "boom")
	assert.Contains(t, errspkg.TraceOf(cause), "goroutine")
	assert.Equal(t, 1, token.count())
}

func TestPipelineCommitFailureIsReported(t *testing.T) {
	commitErr := errors.New("broker gone")
	p := newTestPipeline(t, &fakeDeliverer{result: delivered(1)}, &fakeDeadLetter{}, PipelineHooks{})

	report := p.Handle(context.Background(), envelope(validMessage, &countingToken{err: commitErr}))

	assert.False(t, report.Committed)
	assert.ErrorIs(t, report.CommitErr, commitErr)
	assert.Equal(t, StateAcknowledged, report.Final)
	assert.EqualValues(t, 1, p.Stats().CommitFailures)
}

func TestPipelineMissingTokenIsReported(t *testing.T) {
	p := newTestPipeline(t, &fakeDeliverer{result: delivered(1)}, &fakeDeadLetter{}, PipelineHooks{})

	report := p.Handle(context.Background(), envelope(validMessage, nil))

	assert.ErrorIs(t, report.CommitErr, errspkg.ErrCommitTokenRequired)
}

func TestPipelineCommitsAtMostOnce(t *testing.T) {
	var commits int
	token := CommitFunc(func() error {
		commits++
		return nil
	})
	p := newTestPipeline(t, &fakeDeliverer{result: delivered(1)}, &fakeDeadLetter{}, PipelineHooks{})

	first := p.Handle(context.Background(), envelope(validMessage, token))
	second := p.Handle(context.Background(), envelope(validMessage, token))

	assert.True(t, first.Committed)
	assert.ErrorIs(t, second.CommitErr, errspkg.ErrAlreadyCommitted)
	assert.Equal(t, 1, commits)
}

func TestPipelineHooksObserveTransitions(t *testing.T) {
	var (
		changes []StateChange
		done    []Report
	)
	hooks := PipelineHooks{
		OnTransition: func(c StateChange) { changes = append(changes, c) },
		OnDone:       func(r Report) { done = append(done, r) },
	}
	p := newTestPipeline(t, &fakeDeliverer{result: delivered(1)}, &fakeDeadLetter{}, hooks)

	p.Handle(context.Background(), envelope(validMessage, &countingToken{}))

	require.Len(t, changes, 6)
	assert.Equal(t, StateReceived, changes[0].To)
	assert.Equal(t, StateDelivering, changes[3].To)
	assert.Equal(t, StateTransforming, changes[3].From)
	assert.Equal(t, "msg-1", changes[3].MessageID)
	assert.Equal(t, StateAcknowledged, changes[5].To)
	require.Len(t, done, 1)
	assert.Equal(t, OutcomeDelivered, done[0].Outcome)
}

func TestPipelineSurvivesPanickingHook(t *testing.T) {
	hooks := PipelineHooks{OnDone: func(Report) { panic("hook") }}
	token := &countingToken{}
	p := newTestPipeline(t, &fakeDeliverer{result: delivered(1)}, &fakeDeadLetter{}, hooks)

	assert.NotPanics(t, func() {
		p.Handle(context.Background(), envelope(validMessage, token))
	})
	assert.Equal(t, 1, token.count())
}

func TestPipelineReportsDuration(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var calls int
	sv, err := schema.Default()
	require.NoError(t, err)
	p, err := NewPipeline(PipelineDependencies{
		Schema:      sv,
		Constraints: constraints.New(false),
		Deliverer:   &fakeDeliverer{result: delivered(1)},
		DeadLetter:  &fakeDeadLetter{},
		Now: func() time.Time {
			calls++
			return base.Add(time.Duration(calls) * time.Millisecond)
		},
	})
	require.NoError(t, err)

	report := p.Handle(context.Background(), envelope(validMessage, &countingToken{}))

	assert.Positive(t, report.Duration)
}
