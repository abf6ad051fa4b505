// Package dispatch implements the Agent Dispatcher (spec §4.A): given a
// tool call's routing descriptor and parameters, it renders templates via
// internal/substitution, invokes exactly one of the nine agent kinds, and
// returns a normalized Result with retry/timeout applied. Modeled on the
// teacher's dynamic-dispatch-over-kinds pattern (internal/tool/registry
// dispatching Subprocess/Http/... adapters into one Handler signature) but
// generalized to a shared interface rather than ad-hoc switches.
package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/MagicBeansAI/magictunnel/internal/log"
	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
	"github.com/MagicBeansAI/magictunnel/internal/routing"
	"github.com/MagicBeansAI/magictunnel/internal/substitution"
)

// Result is the normalized outcome of any agent call (spec §4.A Common
// policy).
type Result struct {
	Success     bool                   `json:"success"`
	Output      map[string]interface{} `json:"output"`
	Diagnostics map[string]interface{} `json:"diagnostics,omitempty"`
}

// Agent is implemented once per routing.Kind. Execute must respect ctx's
// deadline/cancellation and abort all underlying I/O when it fires.
type Agent interface {
	Execute(ctx context.Context, d *routing.Descriptor, params substitution.Params) (Result, error)
}

// Dispatcher holds one constructed Agent per kind, each built once at
// startup with its own pooled resources (spec §4.A).
type Dispatcher struct {
	agents map[routing.Kind]Agent
}

// New constructs a Dispatcher. Callers register agents via Register before
// first use; a missing registration for a referenced Kind is a config
// error surfaced at Dispatch time, not at construction (agents are
// optional — a deployment may not need, say, Grpc or Database).
func New() *Dispatcher {
	return &Dispatcher{agents: map[routing.Kind]Agent{}}
}

// Register binds an Agent implementation to a routing.Kind.
func (d *Dispatcher) Register(kind routing.Kind, agent Agent) {
	d.agents[kind] = agent
}

// Dispatch renders no templates itself (each agent renders its own
// variant-specific fields, since the set of renderable fields differs per
// kind); it selects the agent, applies the descriptor's timeout, and
// retries per the descriptor's retry policy (spec §4.A/§7).
func (d *Dispatcher) Dispatch(ctx context.Context, tool string, desc *routing.Descriptor, params substitution.Params) (Result, error) {
	agent, ok := d.agents[desc.Kind]
	if !ok {
		return Result{}, mcperr.New(mcperr.KindConfig, "no agent registered for routing kind "+string(desc.Kind))
	}

	policy := desc.Retry.Effective()
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, desc.EffectiveTimeout())
		res, err := agent.Execute(callCtx, desc, params)
		cancel()

		if err == nil {
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return Result{}, mcperr.Wrap(mcperr.KindCancelled, "call cancelled", ctx.Err())
		}
		kind := mcperr.KindOf(err)
		if kind == mcperr.KindTimeout && callCtx.Err() != nil {
			// per-call deadline elapsed: fatal for this call, not the agent (spec §4.A).
			if attempt >= policy.MaxAttempts || !mcperr.Retryable(kind) {
				return Result{}, err
			}
		} else if !mcperr.Retryable(kind) {
			return Result{}, err
		}

		if attempt >= policy.MaxAttempts {
			break
		}
		backoff := backoffFor(policy, attempt, err)
		log.Emit(log.Warn, "dispatch", "retrying tool call", map[string]interface{}{
			"tool": tool, "attempt": attempt, "backoff_ms": backoff.Milliseconds(), "error": err.Error(),
		})
		select {
		case <-ctx.Done():
			return Result{}, mcperr.Wrap(mcperr.KindCancelled, "call cancelled during backoff", ctx.Err())
		case <-time.After(backoff):
		}
	}
	return Result{}, lastErr
}

// backoffFor computes exponential backoff with +/-20% jitter, honoring a
// Retry-After hint embedded on a *mcperr.Error's Data when present (spec
// §4.A Http Retry-After).
func backoffFor(policy routing.RetryPolicy, attempt int, err error) time.Duration {
	var me *mcperr.Error
	if errors.As(err, &me) {
		if ra, ok := me.Data["retryAfter"].(string); ok {
			if secs, perr := strconv.Atoi(strings.TrimSpace(ra)); perr == nil && secs >= 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	base := policy.BackoffBase
	mult := time.Duration(1)
	for i := 1; i < attempt; i++ {
		mult *= 2
	}
	d := base * mult
	jitter := time.Duration(float64(d) * (0.8 + 0.4*rand.Float64()))
	return jitter
}
