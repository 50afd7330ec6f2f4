package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/restbridge/internal/runtime/errors"
	"github.com/drblury/restbridge/internal/runtime/logging"
	"github.com/drblury/restbridge/internal/runtime/model"
	"github.com/drblury/restbridge/internal/runtime/transform"
)

const maxResponseBytes = 1 << 20

// BreakerSettings enables a circuit breaker around each attempt. The breaker
// opens after Failures consecutive retryable failures and half-opens after
// OpenTimeout.
type BreakerSettings struct {
	Failures    uint32
	OpenTimeout time.Duration
}

// Options configures a Client.
type Options struct {
	BaseURL  string
	Endpoint string
	Auth     Auth

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	MaxAttempts int
	Backoff     Backoff
	// MaxElapsed caps the wall-clock time of one Deliver call. A retry whose
	// wait would cross the ceiling is not started. Zero disables the cap.
	MaxElapsed time.Duration

	Breaker *BreakerSettings

	// HTTPClient overrides the client built from the timeouts above.
	HTTPClient *http.Client
	Wait       WaitFunc
	Now        func() time.Time
	Metrics    *Metrics
	Logger     logging.ServiceLogger
	Tracer     trace.Tracer
}

// Result summarises one Deliver call. Waits holds the backoff intervals that
// were actually slept, in order.
type Result struct {
	Outcome   Outcome
	Attempts  int
	Waits     []time.Duration
	Exhausted bool
}

// Delivered reports whether the request was accepted downstream.
func (r Result) Delivered() bool {
	return r.Outcome.Kind == Success
}

// Err returns the dead-letter-worthy failure, or nil on success. An exhausted
// retry budget surfaces as a terminal failure wrapping the last cause.
func (r Result) Err() error {
	switch r.Outcome.Kind {
	case Success:
		return nil
	case Retryable:
		return &errspkg.ClassifiedError{
			Kind:       errspkg.KindTerminalDelivery,
			Msg:        fmt.Sprintf("retry budget exhausted after %d attempts", r.Attempts),
			StatusCode: r.Outcome.StatusCode,
			Err:        errors.Join(errspkg.ErrRetryBudgetExhausted, r.Outcome.Err),
		}
	default:
		return r.Outcome.Err
	}
}

// Client delivers requests with bounded retries. It is safe for concurrent use.
type Client struct {
	url         string
	auth        Auth
	http        *http.Client
	maxAttempts int
	backoff     Backoff
	maxElapsed  time.Duration
	breaker     *gobreaker.CircuitBreaker[Outcome]
	wait        WaitFunc
	now         func() time.Time
	metrics     *Metrics
	logger      logging.ServiceLogger
	tracer      trace.Tracer
}

// New validates opts and builds a Client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("delivery: base URL is required")
	}
	if err := opts.Auth.validate(); err != nil {
		return nil, err
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	c := &Client{
		url:         JoinURL(opts.BaseURL, opts.Endpoint),
		auth:        opts.Auth,
		http:        opts.HTTPClient,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		maxElapsed:  opts.MaxElapsed,
		wait:        opts.Wait,
		now:         opts.Now,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		tracer:      opts.Tracer,
	}
	if c.http == nil {
		c.http = newHTTPClient(opts.ConnectTimeout, opts.ReadTimeout)
	}
	if c.wait == nil {
		c.wait = SleepContext
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("github.com/drblury/restbridge/delivery")
	}
	if opts.Breaker != nil {
		c.breaker = newBreaker(*opts.Breaker)
	}
	return c, nil
}

func newHTTPClient(connect, read time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext
	transport.ResponseHeaderTimeout = read
	client := &http.Client{Transport: transport}
	if connect > 0 && read > 0 {
		client.Timeout = connect + read
	}
	return client
}

func newBreaker(s BreakerSettings) *gobreaker.CircuitBreaker[Outcome] {
	failures := s.Failures
	if failures == 0 {
		failures = 5
	}
	timeout := s.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker[Outcome](gobreaker.Settings{
		Name:        "restbridge-delivery",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
	})
}

// URL returns the fully joined target URL.
func (c *Client) URL() string {
	return c.url
}

// Deliver POSTs req until it succeeds, fails terminally, or the retry budget
// runs out. The returned error is non-nil only when ctx was cancelled before
// a final outcome was reached; the message must then be left uncommitted.
// An attempt already in flight always runs to completion.
func (c *Client) Deliver(ctx context.Context, req model.OutgoingRequest) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "restbridge.deliver", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.url", c.url),
		attribute.String("restbridge.transaction_id", req.TransactionID),
	)

	result, err := c.deliver(ctx, req)

	span.SetAttributes(
		attribute.Int("restbridge.attempts", result.Attempts),
		attribute.String("restbridge.outcome", result.Outcome.Kind.String()),
	)
	switch {
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
		c.metrics.observeResult("abandoned")
	case result.Delivered():
		c.metrics.observeResult("delivered")
	case result.Exhausted:
		span.SetStatus(codes.Error, result.Err().Error())
		c.metrics.observeResult("exhausted")
	default:
		span.SetStatus(codes.Error, result.Err().Error())
		c.metrics.observeResult("terminal")
	}
	return result, err
}

func (c *Client) deliver(ctx context.Context, req model.OutgoingRequest) (Result, error) {
	log := c.logger.With(logging.LogFields{"transaction_id": req.TransactionID, "url": c.url})

	body, err := transform.Encode(req)
	if err != nil {
		return Result{Outcome: Outcome{
			Kind: Terminal,
			Err:  errspkg.New(errspkg.KindTerminalDelivery, "encode request", err),
		}}, nil
	}

	var result Result
	start := c.now()
	for attempt := 1; ; attempt++ {
		result.Attempts = attempt
		result.Outcome = c.attempt(ctx, body)

		if result.Outcome.Kind != Retryable {
			if result.Outcome.Kind == Terminal {
				log.Error("Delivery failed terminally", result.Outcome.Err, logging.LogFields{"attempt": attempt, "status": result.Outcome.StatusCode})
			} else {
				log.Debug("Delivery succeeded", logging.LogFields{"attempt": attempt, "status": result.Outcome.StatusCode})
			}
			return result, nil
		}

		log.Warn("Delivery attempt failed, will retry", logging.LogFields{
			"attempt":      attempt,
			"max_attempts": c.maxAttempts,
			"status":       result.Outcome.StatusCode,
			"error":        result.Outcome.Err.Error(),
		})

		if attempt >= c.maxAttempts {
			result.Exhausted = true
			return result, nil
		}
		if ctx.Err() != nil {
			return result, errspkg.ErrDeliveryAbandoned
		}

		wait := c.backoff.Interval(attempt)
		if c.maxElapsed > 0 && c.now().Add(wait).Sub(start) > c.maxElapsed {
			log.Info("Retry ceiling reached", logging.LogFields{"attempt": attempt, "max_elapsed": c.maxElapsed.String()})
			result.Exhausted = true
			return result, nil
		}
		if err := c.wait(ctx, wait); err != nil {
			return result, errspkg.ErrDeliveryAbandoned
		}
		result.Waits = append(result.Waits, wait)
	}
}

// attempt runs a single POST. The request is detached from ctx cancellation
// so shutdown lets it finish; the HTTP client timeouts still bound it.
func (c *Client) attempt(ctx context.Context, body []byte) Outcome {
	actx := context.WithoutCancel(ctx)
	started := time.Now()

	var out Outcome
	if c.breaker == nil {
		out = c.send(actx, body)
	} else {
		var err error
		out, err = c.breaker.Execute(func() (Outcome, error) {
			o := c.send(actx, body)
			if o.Kind == Retryable {
				return o, o.Err
			}
			return o, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			out = Classify(0, nil, fmt.Errorf("%w: %w", errspkg.ErrCircuitOpen, err))
		}
	}

	c.metrics.observeAttempt(out.Kind, time.Since(started))
	return out
}

func (c *Client) send(ctx context.Context, body []byte) Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Outcome{Kind: Terminal, Err: errspkg.New(errspkg.KindTerminalDelivery, "build request", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.auth.Apply(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return Classify(0, nil, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Classify(0, nil, fmt.Errorf("read response: %w", err))
	}
	return Classify(resp.StatusCode, data, nil)
}
