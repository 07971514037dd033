package statechange

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/blockagent/pkg/metrics"
)

// runLoggedAction opens a structured logging action named actionType before
// calling fn, and closes it on every exit path with the outcome and
// elapsed duration. This is the scoped-acquisition form of the decorator
// the original implementation used: the action stays open across fn's
// suspension points (subprocess calls, provider round-trips) and is
// guaranteed to close exactly once, success or failure. Duration and
// outcome are also recorded to the per-action-type Prometheus metrics.
func runLoggedAction(logger zerolog.Logger, actionType string, fn func() error) error {
	start := time.Now()
	logger.Debug().Str("action_type", actionType).Msg("action-start")

	err := fn()
	duration := time.Since(start)

	event := logger.Info()
	outcome := "success"
	if err != nil {
		event = logger.Error().Err(err)
		outcome = "error"
	}
	event.
		Str("action_type", actionType).
		Dur("duration", duration).
		Msg("action-finish")

	metrics.ActionDuration.WithLabelValues(actionType).Observe(duration.Seconds())
	metrics.ActionsTotal.WithLabelValues(actionType, outcome).Inc()

	return err
}
