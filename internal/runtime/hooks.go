package runtime

import (
	loggingpkg "github.com/drblury/restbridge/internal/runtime/logging"
)

// PipelineHooks defines callbacks for pipeline lifecycle events.
// All hooks are optional - nil hooks are simply not called. Hooks run
// synchronously on the consuming goroutine, so they must not block.
type PipelineHooks struct {
	// OnTransition is called for every state change, including the initial
	// entry into StateReceived.
	OnTransition func(change StateChange)

	// OnDone is called once per message after its final state is reached.
	OnDone func(report Report)
}

// Merge combines two PipelineHooks, creating a new PipelineHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h PipelineHooks) Merge(other PipelineHooks) PipelineHooks {
	return PipelineHooks{
		OnTransition: chainTransitionHooks(h.OnTransition, other.OnTransition),
		OnDone:       chainDoneHooks(h.OnDone, other.OnDone),
	}
}

func chainTransitionHooks(a, b func(StateChange)) func(StateChange) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(change StateChange) {
		a(change)
		b(change)
	}
}

func chainDoneHooks(a, b func(Report)) func(Report) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(report Report) {
		a(report)
		b(report)
	}
}

// LoggingHooks returns pre-built hooks that log state transitions at trace
// level and final outcomes at info or error level.
func LoggingHooks(logger loggingpkg.ServiceLogger) PipelineHooks {
	return PipelineHooks{
		OnTransition: func(change StateChange) {
			logger.Trace("Pipeline transition", loggingpkg.LogFields{
				"message_id": change.MessageID,
				"source":     change.Coordinates.String(),
				"from":       change.From.String(),
				"to":         change.To.String(),
			})
		},
		OnDone: func(report Report) {
			fields := loggingpkg.LogFields{
				"message_id":    report.MessageID,
				"source":        report.Coordinates.String(),
				"final_state":   report.Final.String(),
				"outcome":       string(report.Outcome),
				"attempts":      report.Attempts,
				"dead_lettered": report.DeadLettered,
				"duration_ms":   report.Duration.Milliseconds(),
			}
			if report.Cause != nil {
				fields["dead_letter_failed"] = report.DeadLetterErr != nil
				logger.Error("Message failed", report.Cause, fields)
				return
			}
			logger.Info("Message processed", fields)
		},
	}
}

// MetricsHooks returns pre-built hooks that report every final outcome.
func MetricsHooks(onDone func(outcome Outcome, final State)) PipelineHooks {
	return PipelineHooks{
		OnDone: func(report Report) {
			if onDone != nil {
				onDone(report.Outcome, report.Final)
			}
		},
	}
}

// AlertingHooks returns pre-built hooks that fire for messages routed to the
// dead-letter topic, whether or not the publish succeeded, and for abandoned
// messages.
func AlertingHooks(alertFunc func(report Report)) PipelineHooks {
	return PipelineHooks{
		OnDone: func(report Report) {
			if alertFunc != nil && (report.DeadLetterAttempted || report.DeadLettered || report.Final == StateAbandoned) {
				alertFunc(report)
			}
		},
	}
}
