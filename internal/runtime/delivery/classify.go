// Package delivery POSTs transformed requests to the downstream API and
// decides, per attempt, whether the result is a success, worth retrying, or
// final.
package delivery

import (
	"bytes"
	"fmt"
	"net/http"

	errspkg "github.com/drblury/restbridge/internal/runtime/errors"
	"github.com/drblury/restbridge/internal/runtime/jsoncodec"
	"github.com/drblury/restbridge/internal/runtime/model"
)

// OutcomeKind is the classification of a single attempt.
type OutcomeKind int

const (
	Success OutcomeKind = iota
	Retryable
	Terminal
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Outcome is the result of one attempt. Err is nil for Success and a
// *errors.ClassifiedError otherwise. StatusCode is zero when no response
// was received.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Body       []byte
	Response   *model.APIResponse
	Err        error
}

// maxBodySnippet bounds how much of an error response ends up in messages.
const maxBodySnippet = 512

// Classify maps an HTTP status, response body and transport error onto an
// Outcome. It performs no I/O.
func Classify(status int, body []byte, err error) Outcome {
	if err != nil {
		return Outcome{
			Kind: Retryable,
			Err:  errspkg.New(errspkg.KindRetryableDelivery, "request failed", err),
		}
	}

	switch {
	case status >= 200 && status < 300:
		return classifySuccess(status, body)
	case status >= 400 && status < 500:
		return failure(Terminal, errspkg.KindTerminalDelivery, status, body)
	case status >= 500 && status < 600:
		return failure(Retryable, errspkg.KindRetryableDelivery, status, body)
	default:
		return failure(Terminal, errspkg.KindTerminalDelivery, status, body)
	}
}

func classifySuccess(status int, body []byte) Outcome {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Outcome{
			Kind:       Terminal,
			StatusCode: status,
			Err: &errspkg.ClassifiedError{
				Kind:       errspkg.KindTerminalDelivery,
				Msg:        fmt.Sprintf("downstream returned %d", status),
				StatusCode: status,
				Err:        errspkg.ErrEmptyResponseBody,
			},
		}
	}

	var resp model.APIResponse
	if trimmed[0] != '{' || jsoncodec.Unmarshal(trimmed, &resp) != nil {
		return Outcome{
			Kind:       Terminal,
			StatusCode: status,
			Body:       body,
			Err: &errspkg.ClassifiedError{
				Kind:       errspkg.KindTerminalDelivery,
				Msg:        fmt.Sprintf("downstream returned %d with body %q", status, snippet(body)),
				StatusCode: status,
				Err:        errspkg.ErrUnparseableResponse,
			},
		}
	}

	return Outcome{Kind: Success, StatusCode: status, Body: body, Response: &resp}
}

func failure(kind OutcomeKind, errKind errspkg.Kind, status int, body []byte) Outcome {
	msg := fmt.Sprintf("downstream returned %d %s", status, http.StatusText(status))
	if s := snippet(body); s != "" {
		msg += ": " + s
	}
	return Outcome{
		Kind:       kind,
		StatusCode: status,
		Body:       body,
		Err: &errspkg.ClassifiedError{
			Kind:       errKind,
			Msg:        msg,
			StatusCode: status,
		},
	}
}

func snippet(body []byte) string {
	s := string(bytes.TrimSpace(body))
	if len(s) > maxBodySnippet {
		return s[:maxBodySnippet] + "..."
	}
	return s
}
