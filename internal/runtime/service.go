package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	configpkg "github.com/drblury/restbridge/internal/runtime/config"
	"github.com/drblury/restbridge/internal/runtime/constraints"
	"github.com/drblury/restbridge/internal/runtime/deadletter"
	"github.com/drblury/restbridge/internal/runtime/delivery"
	errspkg "github.com/drblury/restbridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/restbridge/internal/runtime/logging"
	"github.com/drblury/restbridge/internal/runtime/metadata"
	"github.com/drblury/restbridge/internal/runtime/schema"
	transportpkg "github.com/drblury/restbridge/internal/runtime/transport"
)

const (
	handlerName         = "restbridge_pipeline"
	httpShutdownTimeout = 5 * time.Second
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to get the defaults derived from the configuration.
type ServiceDependencies struct {
	TransportFactory          transportpkg.Factory
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	DisableSignalHandler      bool

	// Schema replaces the validator loaded from Config.SchemaPath.
	Schema SchemaValidator
	Hooks  PipelineHooks

	// HTTPClient and Wait override the delivery client's transport and
	// backoff sleep.
	HTTPClient *http.Client
	Wait       delivery.WaitFunc

	// Registry receives every Prometheus collector. A private registry is
	// created when nil.
	Registry *prometheus.Registry
}

// Service wires a Watermill router, the transport and the message pipeline.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	transport  transportpkg.Transport
	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router
	registry   *prometheus.Registry

	delivery   *delivery.Client
	deadLetter *deadletter.Router
	pipeline   *Pipeline

	resourceTracker *resourceTracker

	runMu     sync.Mutex
	runCtx    context.Context
	cancelRun context.CancelFunc

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	servers       []*http.Server
}

// NewService validates conf, builds the transport and assembles the pipeline
// subscribed to Config.InputTopic. Call Start to begin consuming.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating restbridge service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf.String(),
	})

	s := &Service{
		Conf:            conf,
		Logger:          log,
		registry:        deps.Registry,
		resourceTracker: newResourceTracker(),
		runCtx:          context.Background(),
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, err
	}
	s.transport = transport
	s.publisher = transport.Publisher
	s.subscriber = transport.Subscriber
	if s.publisher == nil || s.subscriber == nil {
		_ = transport.Close()
		return nil, errors.Join(errspkg.ErrPublisherRequired, errspkg.ErrSubscriberRequired)
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}
	s.router = router
	if !deps.DisableSignalHandler {
		s.router.AddPlugin(plugin.SignalsHandler)
	}

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		_ = transport.Close()
		return nil, err
	}

	if err := s.buildPipeline(deps); err != nil {
		_ = transport.Close()
		return nil, err
	}

	s.router.AddConsumerHandler(handlerName, conf.InputTopic, s.subscriber, s.handle)
	return s, nil
}

func (s *Service) buildPipeline(deps ServiceDependencies) error {
	conf := s.Conf

	validator := deps.Schema
	if validator == nil {
		loaded, err := schema.Load(conf.SchemaPath)
		if err != nil {
			return err
		}
		validator = loaded
	}

	deliveryMetrics, err := delivery.NewMetrics(s.registry)
	if err != nil {
		return err
	}

	opts := delivery.Options{
		BaseURL:        conf.RESTBaseURL,
		Endpoint:       conf.RESTEndpoint,
		ConnectTimeout: conf.RESTConnectTimeout,
		ReadTimeout:    conf.RESTReadTimeout,
		MaxAttempts:    conf.RetryMaxAttempts,
		Backoff: delivery.Backoff{
			Initial:    conf.RetryInitialInterval,
			Multiplier: conf.RetryMultiplier,
			Max:        conf.RetryMaxInterval,
		},
		MaxElapsed: conf.RetryMaxElapsed,
		HTTPClient: deps.HTTPClient,
		Wait:       deps.Wait,
		Metrics:    deliveryMetrics,
		Logger:     s.Logger.With(loggingpkg.LogFields{"component": "delivery"}),
	}
	if conf.AuthEnabled {
		opts.Auth = delivery.Auth{
			Type:     conf.AuthType,
			Token:    conf.AuthToken,
			Username: conf.AuthUsername,
			Password: conf.AuthPassword,
		}
	}
	if conf.BreakerEnabled {
		opts.Breaker = &delivery.BreakerSettings{
			Failures:    conf.BreakerFailures,
			OpenTimeout: conf.BreakerOpenTimeout,
		}
	}
	client, err := delivery.New(opts)
	if err != nil {
		return err
	}
	s.delivery = client

	dlqMetrics := deadletter.NewMetrics(s.registry)
	if err := dlqMetrics.Register(); err != nil {
		return err
	}
	dl, err := deadletter.New(s.publisher, conf.DLQTopic, deadletter.Options{
		PublishTimeout: conf.DLQPublishTimeout,
		Metrics:        dlqMetrics,
	})
	if err != nil {
		return err
	}
	s.deadLetter = dl

	hooks := LoggingHooks(s.Logger).Merge(deps.Hooks)
	pipeline, err := NewPipeline(PipelineDependencies{
		Schema:      validator,
		Constraints: constraints.New(conf.ValidationFailFast),
		Deliverer:   client,
		DeadLetter:  dl,
		Logger:      s.Logger.With(loggingpkg.LogFields{"component": "pipeline"}),
		Hooks:       hooks,
		Stats:       newPipelineStats(conf.InputTopic, conf.DLQTopic, client.URL(), s.resourceTracker),
	})
	if err != nil {
		return err
	}
	s.pipeline = pipeline
	return nil
}

// handle adapts a Watermill message to the pipeline. Returning an error nacks
// the message, which only happens when delivery was abandoned on shutdown.
func (s *Service) handle(msg *message.Message) error {
	ctx, cancel := context.WithCancel(msg.Context())
	defer cancel()
	stop := context.AfterFunc(s.runContext(), cancel)
	defer stop()

	md := metadata.FromWatermill(msg.Metadata)
	report := s.pipeline.Handle(ctx, Envelope{
		Raw:           msg.Payload,
		Coordinates:   md.Coordinates(s.Conf.InputTopic),
		CorrelationID: md[metadata.KeyCorrelationID],
		ReceivedAt:    time.Now(),
		Token:         NewCommitToken(msg),
	})
	if report.Outcome == OutcomeAbandoned {
		return errspkg.ErrDeliveryAbandoned
	}
	return nil
}

func (s *Service) runContext() context.Context {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.runCtx
}

// Start runs the router until ctx is cancelled or Close is called. The
// metrics and status servers run alongside it.
func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.runMu.Lock()
	s.runCtx, s.cancelRun = runCtx, cancel
	s.runMu.Unlock()
	defer cancel()

	s.registerMetricsEndpoint()
	s.StartStatusServer()
	s.startHTTPServers()
	defer s.shutdownHTTPServers()

	go s.startInboundHTTP(runCtx)

	return routerRun(s.router, runCtx)
}

// startInboundHTTP starts the http transport's server once the router has
// subscribed. It is a no-op for other transports.
func (s *Service) startInboundHTTP(ctx context.Context) {
	select {
	case <-s.router.Running():
	case <-ctx.Done():
		return
	}
	if err := transportpkg.StartHTTPServer(s.subscriber); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.Logger.Error("Inbound HTTP server stopped", err, nil)
	}
}

// Running is closed once the router has subscribed to the input topic.
func (s *Service) Running() <-chan struct{} {
	return s.router.Running()
}

// Close abandons in-flight deliveries after their current attempt, stops the
// router and releases the transport.
func (s *Service) Close() error {
	s.runMu.Lock()
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.runMu.Unlock()

	var errs []error
	if err := s.router.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close router: %w", err))
	}
	if err := s.transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}
	s.shutdownHTTPServers()
	return errors.Join(errs...)
}

// Pipeline returns the message pipeline.
func (s *Service) Pipeline() *Pipeline {
	return s.pipeline
}

// Registry returns the Prometheus registry holding the service collectors.
func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

func (s *Service) registerMetricsEndpoint() {
	if !s.Conf.MetricsEnabled || s.Conf.MetricsPort <= 0 {
		return
	}
	s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
}

// RegisterHTTPHandler mounts handler on the server for port. Servers start
// with the service.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.servers = append(s.servers, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}
}

func (s *Service) shutdownHTTPServers() {
	s.httpServersMu.Lock()
	servers := s.servers
	s.servers = nil
	s.httpServersMu.Unlock()

	for _, srv := range servers {
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		if err := srv.Shutdown(ctx); err != nil {
			s.Logger.Error("Failed to shut down HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
		}
		cancel()
	}
}
