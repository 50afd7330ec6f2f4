package runtime

import (
	"net/http"
	"strings"
	"time"

	"github.com/drblury/restbridge/internal/runtime/deadletter"
	"github.com/drblury/restbridge/internal/runtime/jsoncodec"
	transportpkg "github.com/drblury/restbridge/internal/runtime/transport"
)

const defaultStatusPort = 8081

// StatusReport is the body of GET /api/status.
type StatusReport struct {
	Service    string                    `json:"service"`
	Transport  transportpkg.Capabilities `json:"transport"`
	InputTopic string                    `json:"input_topic"`
	DLQTopic   string                    `json:"dlq_topic"`
	Downstream string                    `json:"downstream"`
	Pipeline   *PipelineStats            `json:"pipeline"`
	DeadLetter *deadletter.Snapshot      `json:"dead_letter,omitempty"`
	ReportedAt time.Time                 `json:"reported_at"`
}

// StartStatusServer registers the status API when it is enabled.
func (s *Service) StartStatusServer() {
	if !s.Conf.StatusEnabled {
		return
	}

	port := s.Conf.StatusPort
	if port == 0 {
		port = defaultStatusPort
	}

	s.RegisterHTTPHandler(port, "/api/status", http.HandlerFunc(s.handleGetStatus))
	s.RegisterHTTPHandler(port, "/healthz", http.HandlerFunc(s.handleHealth))
}

// Status assembles the current status report.
func (s *Service) Status() StatusReport {
	report := StatusReport{
		Service:    "restbridge",
		Transport:  s.transport.Capabilities,
		InputTopic: s.Conf.InputTopic,
		DLQTopic:   s.Conf.DLQTopic,
		ReportedAt: time.Now().UTC(),
	}
	if s.delivery != nil {
		report.Downstream = s.delivery.URL()
	}
	if s.pipeline != nil {
		report.Pipeline = s.pipeline.Stats()
	}
	if s.deadLetter != nil && s.deadLetter.Metrics() != nil {
		snapshot := s.deadLetter.Metrics().GetSnapshot()
		report.DeadLetter = &snapshot
	}
	return report
}

func (s *Service) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	// Set CORS headers based on configuration
	if len(s.Conf.StatusCORSAllowedOrigins) > 0 {
		if allowed := s.allowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		w.Header().Set("Allow", "GET, OPTIONS")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := jsoncodec.Encode(w, s.Status()); err != nil {
		s.Logger.Error("Failed to encode status", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	select {
	case <-s.router.Running():
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	default:
		http.Error(w, "starting", http.StatusServiceUnavailable)
	}
}

// allowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (s *Service) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range s.Conf.StatusCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if requestOrigin != "" && strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
