// Package deadletter turns failed messages into DeadLetterRecords and
// publishes them to the dead-letter topic.
package deadletter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/restbridge/internal/runtime/errors"
	"github.com/drblury/restbridge/internal/runtime/ids"
	"github.com/drblury/restbridge/internal/runtime/jsoncodec"
	"github.com/drblury/restbridge/internal/runtime/metadata"
	"github.com/drblury/restbridge/internal/runtime/model"
)

const (
	// MaxTraceBytes caps the stackTrace field of a record.
	MaxTraceBytes = 5000
	// TruncationMarker is appended to a trace cut at MaxTraceBytes.
	TruncationMarker = "... (truncated)"

	DefaultPublishTimeout = 5 * time.Second
)

// Source is everything known about the failed input at the time it is routed.
// Message may be nil when decoding failed.
type Source struct {
	Raw           []byte
	Message       *model.IncomingMessage
	Coordinates   model.Coordinates
	CorrelationID string
	ReceivedAt    time.Time
}

// Options tune a Router. Zero values select the defaults.
type Options struct {
	PublishTimeout time.Duration
	Metrics        *Metrics
	Now            func() time.Time
}

// Router publishes dead-letter records. It is safe for concurrent use.
type Router struct {
	publisher message.Publisher
	topic     string
	timeout   time.Duration
	metrics   *Metrics
	now       func() time.Time
}

// New builds a Router publishing to topic.
func New(publisher message.Publisher, topic string, opts Options) (*Router, error) {
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	r := &Router{
		publisher: publisher,
		topic:     topic,
		timeout:   opts.PublishTimeout,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
	if r.timeout <= 0 {
		r.timeout = DefaultPublishTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Topic returns the dead-letter topic.
func (r *Router) Topic() string {
	return r.topic
}

// Metrics returns the collector passed in Options, if any.
func (r *Router) Metrics() *Metrics {
	return r.metrics
}

// Build assembles the record for src. It never fails.
func (r *Router) Build(src Source, cause error, retryCount int) model.DeadLetterRecord {
	coords := src.Coordinates
	if coords.Topic == "" && coords.Partition == 0 && coords.Offset == 0 {
		coords = model.UnknownCoordinates("")
	}

	errMsg := "unknown error"
	if cause != nil {
		errMsg = cause.Error()
	}

	return model.DeadLetterRecord{
		OriginalMessage: originalMessage(src),
		Topic:           coords.Topic,
		Partition:       coords.Partition,
		Offset:          coords.Offset,
		MessageID:       src.Message.ID(),
		CorrelationID:   src.CorrelationID,
		ErrorType:       string(errspkg.KindOf(cause)),
		ErrorMessage:    errMsg,
		StackTrace:      TruncateTrace(diagnosticTrace(cause)),
		Timestamp:       r.now().UTC(),
		RetryCount:      retryCount,
	}
}

// Route publishes a record for src. Publication is best-effort: a failure or
// timeout is returned as a DeadLetterPublishError and the caller is expected
// to commit the source offset regardless.
func (r *Router) Route(ctx context.Context, src Source, cause error, retryCount int) (model.DeadLetterRecord, error) {
	record := r.Build(src, cause, retryCount)

	payload, err := jsoncodec.Marshal(record)
	if err != nil {
		r.metrics.RecordPublishFailure(r.topic)
		return record, errspkg.New(errspkg.KindDeadLetterPublish, "encode dead-letter record", errors.Join(errspkg.ErrDeadLetterUnavailable, err))
	}

	msg := message.NewMessage(ids.CreateULIDAt(record.Timestamp), payload)
	md := metadata.Metadata{}.WithCoordinates(src.Coordinates)
	md[metadata.KeyErrorType] = record.ErrorType
	md[metadata.KeyRetryCount] = strconv.Itoa(retryCount)
	if src.CorrelationID != "" {
		md[metadata.KeyCorrelationID] = src.CorrelationID
	}
	msg.Metadata = metadata.ToWatermill(md)

	if err := r.publish(ctx, msg); err != nil {
		r.metrics.RecordPublishFailure(r.topic)
		return record, errspkg.New(errspkg.KindDeadLetterPublish, "publish to "+r.topic, errors.Join(errspkg.ErrDeadLetterUnavailable, err))
	}

	var age time.Duration
	if !src.ReceivedAt.IsZero() {
		age = record.Timestamp.Sub(src.ReceivedAt)
	}
	r.metrics.RecordRouted(r.topic, record.ErrorType, retryCount, age)
	return record, nil
}

// publish bounds the publisher call by the router timeout. Watermill
// publishers take no context, so a publisher that hangs is left running in
// the background.
func (r *Router) publish(ctx context.Context, msg *message.Message) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	msg.SetContext(ctx)

	done := make(chan error, 1)
	go func() {
		done <- r.publisher.Publish(r.topic, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("timed out after %s: %w", r.timeout, ctx.Err())
	}
}

// originalMessage prefers the raw bytes, then a JSON rendering of the decoded
// message, then its Go value formatting.
func originalMessage(src Source) string {
	if len(src.Raw) > 0 {
		return string(src.Raw)
	}
	if src.Message == nil {
		return ""
	}
	if data, err := jsoncodec.Marshal(src.Message); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%+v", *src.Message)
}

func diagnosticTrace(err error) string {
	if err == nil {
		return ""
	}
	if trace := errspkg.TraceOf(err); trace != "" {
		return trace
	}

	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		if depth > 0 {
			b.WriteString("\ncaused by: ")
		}
		fmt.Fprintf(&b, "%T: %s", err, err.Error())
		err = errors.Unwrap(err)
	}
	return b.String()
}

// TruncateTrace caps s at MaxTraceBytes without splitting a UTF-8 sequence
// and appends TruncationMarker when anything was cut.
func TruncateTrace(s string) string {
	if len(s) <= MaxTraceBytes {
		return s
	}
	cut := MaxTraceBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + TruncationMarker
}
