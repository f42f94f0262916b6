package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantrun/oppscan/internal/domain/scan"
)

// Timeouts holds the per-class invocation deadlines.
type Timeouts struct {
	Fast time.Duration `yaml:"fast"`
	Slow time.Duration `yaml:"slow"`
}

// DefaultTimeouts returns the stock deadline classes.
func DefaultTimeouts() Timeouts {
	return Timeouts{Fast: 15 * time.Second, Slow: 30 * time.Second}
}

var errInvokeTimeout = errors.New("strategy invocation timed out")

// Adapter is the uniform invocation wrapper around the pluggable evaluators.
// It enforces per-call deadlines, normalizes raw output into candidates, and
// routes every call through the family circuit breaker. All failure modes are
// soft: the adapter always returns a settled TaskResult.
type Adapter struct {
	registry *Registry
	breakers *BreakerSet
	timeouts Timeouts
}

// NewAdapter creates a strategy adapter over the given registry.
func NewAdapter(registry *Registry, breakers *BreakerSet, timeouts Timeouts) *Adapter {
	if timeouts.Fast <= 0 {
		timeouts.Fast = DefaultTimeouts().Fast
	}
	if timeouts.Slow <= 0 {
		timeouts.Slow = DefaultTimeouts().Slow
	}
	return &Adapter{registry: registry, breakers: breakers, timeouts: timeouts}
}

// TimeoutFor returns the deadline for a timeout class.
func (a *Adapter) TimeoutFor(class TimeoutClass) time.Duration {
	if class == ClassSlow {
		return a.timeouts.Slow
	}
	return a.timeouts.Fast
}

// BreakerStates exposes breaker state per family for diagnostics.
func (a *Adapter) BreakerStates() map[string]string {
	return a.breakers.States()
}

type invokeOutcome struct {
	candidates []scan.Candidate
	status     scan.TaskStatus
	reason     string
}

func scanExpiredOutcome() *invokeOutcome {
	return &invokeOutcome{status: scan.TaskStatusTimeout, reason: "scan deadline exceeded mid-invocation"}
}

// Invoke executes one strategy task and settles it. Timeouts feed the family
// breaker; strategy-internal errors and malformed output do not, since the
// evaluator did respond.
func (a *Adapter) Invoke(ctx context.Context, task scan.Task) scan.TaskResult {
	start := time.Now()
	result := scan.TaskResult{Strategy: task.Strategy, Family: task.Family}

	def, ok := a.registry.Get(task.Strategy)
	if !ok {
		result.Status = scan.TaskStatusError
		result.Reason = "strategy not registered"
		result.Duration = time.Since(start)
		return result
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = a.TimeoutFor(def.Class)
	}

	// A scan past its outer deadline settles remaining tasks immediately
	// without feeding the family breaker.
	if err := ctx.Err(); err != nil {
		result.Status = scan.TaskStatusTimeout
		result.Reason = "scan deadline exceeded before invocation"
		result.Duration = time.Since(start)
		return result
	}

	out, err := a.breakers.Execute(def.Family, func() (any, error) {
		return a.call(ctx, def, task, timeout)
	})

	result.Duration = time.Since(start)

	switch {
	case IsOpenState(err):
		result.Status = scan.TaskStatusSkippedCircuitOpen
		result.Reason = "circuit open for family " + string(def.Family)
		log.Debug().Str("scan_id", task.ScanID).Str("strategy", task.Strategy).
			Str("family", string(def.Family)).Msg("Skipping strategy, circuit open")
	case errors.Is(err, errInvokeTimeout):
		result.Status = scan.TaskStatusTimeout
		result.Reason = "timed out after " + timeout.String()
		log.Warn().Str("scan_id", task.ScanID).Str("strategy", task.Strategy).
			Dur("timeout", timeout).Msg("Strategy invocation timed out")
	case err != nil:
		// Anything else the breaker surfaces still settles soft.
		result.Status = scan.TaskStatusTimeout
		result.Reason = err.Error()
	default:
		outcome := out.(*invokeOutcome)
		result.Status = outcome.status
		result.Reason = outcome.reason
		result.Candidates = outcome.candidates
	}

	return result
}

// call runs the evaluator under its own deadline. The evaluator runs in its
// own goroutine so a hung implementation cannot block the worker pool; the
// goroutine is abandoned once the deadline fires.
func (a *Adapter) call(ctx context.Context, def Definition, task scan.Task, timeout time.Duration) (*invokeOutcome, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type evalReturn struct {
		raw *RawResult
		err error
	}
	done := make(chan evalReturn, 1)

	go func() {
		raw, err := def.Evaluate(callCtx, task.Symbols, task.Parameters)
		done <- evalReturn{raw: raw, err: err}
	}()

	select {
	case <-callCtx.Done():
		if ctx.Err() != nil {
			// Scan deadline, not this strategy's fault; settle without
			// feeding the family breaker.
			return scanExpiredOutcome(), nil
		}
		return nil, errInvokeTimeout
	case ret := <-done:
		if errors.Is(ret.err, context.DeadlineExceeded) || errors.Is(ret.err, context.Canceled) {
			// Evaluator surfaced our own deadline; settle it as a timeout.
			if ctx.Err() != nil {
				return scanExpiredOutcome(), nil
			}
			return nil, errInvokeTimeout
		}
		if ret.err != nil {
			log.Debug().Str("strategy", def.Name).Err(ret.err).Msg("Strategy returned error")
			return &invokeOutcome{status: scan.TaskStatusError, reason: ret.err.Error()}, nil
		}

		candidates, err := Normalize(def.Name, ret.raw)
		if err != nil {
			var malformed *ErrMalformed
			if errors.As(err, &malformed) {
				return &invokeOutcome{status: scan.TaskStatusMalformed, reason: malformed.Detail}, nil
			}
			return &invokeOutcome{status: scan.TaskStatusError, reason: err.Error()}, nil
		}

		return &invokeOutcome{status: scan.TaskStatusSuccess, candidates: candidates}, nil
	}
}
