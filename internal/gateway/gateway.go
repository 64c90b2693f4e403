package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/QuantForge/internal/domain"
	"github.com/Strob0t/QuantForge/internal/domain/protocol"
	"github.com/Strob0t/QuantForge/internal/resilience"
)

const instrumentationName = "quantforge.gateway"

// Gateway validates and dispatches tool calls, enforcing schema, timeout,
// retry, and circuit breaking. Every accepted call produces exactly one
// terminal result envelope.
type Gateway struct {
	registry *Registry
	breakers *resilience.Registry
	retry    resilience.RetryPolicy
	now      func() time.Time // for testing

	tracer    trace.Tracer
	calls     metric.Int64Counter
	failures  metric.Int64Counter
	durations metric.Float64Histogram
}

// New creates a Gateway over the given tool registry and breaker registry.
func New(registry *Registry, breakers *resilience.Registry, retry resilience.RetryPolicy) *Gateway {
	meter := otel.Meter(instrumentationName)
	calls, _ := meter.Int64Counter("quantforge.toolcalls",
		metric.WithDescription("Number of tool calls dispatched"))
	failures, _ := meter.Int64Counter("quantforge.toolcalls.failed",
		metric.WithDescription("Number of tool calls with a non-success terminal status"))
	durations, _ := meter.Float64Histogram("quantforge.toolcall.duration_seconds",
		metric.WithDescription("Tool call duration in seconds"))

	return &Gateway{
		registry:  registry,
		breakers:  breakers,
		retry:     retry,
		now:       time.Now,
		tracer:    otel.Tracer(instrumentationName),
		calls:     calls,
		failures:  failures,
		durations: durations,
	}
}

// Health returns the circuit state of every dependency seen so far.
func (g *Gateway) Health() []resilience.Health {
	return g.breakers.Snapshot()
}

// Tools returns the registered tool names in sorted order.
func (g *Gateway) Tools() []string {
	return g.registry.Names()
}

// Invoke processes one tool_call envelope and always returns a terminal
// tool_result envelope with the same correlation id. Validation failures
// are reported without invoking the tool.
func (g *Gateway) Invoke(ctx context.Context, env protocol.Envelope) protocol.Envelope {
	start := g.now()

	if err := env.Validate(); err != nil {
		return g.result(env.CorrelationID, start, nil, err)
	}
	call, err := env.CallPayload()
	if err != nil {
		return g.result(env.CorrelationID, start, nil, err)
	}

	ctx, span := g.tracer.Start(ctx, "toolcall",
		trace.WithAttributes(
			attribute.String("toolcall.id", env.CorrelationID),
			attribute.String("toolcall.tool", call.ToolName),
		),
	)
	defer span.End()

	tool, err := g.registry.Get(call.ToolName)
	if err != nil {
		return g.result(env.CorrelationID, start, nil, err)
	}
	desc := tool.Descriptor()
	if err := ValidateArgs(desc, call.Arguments); err != nil {
		slog.Warn("tool call rejected", "tool", call.ToolName, "correlation_id", env.CorrelationID, "error", err)
		return g.result(env.CorrelationID, start, nil, err)
	}

	timeout := time.Duration(call.TimeoutMS) * time.Millisecond

	var out json.RawMessage
	attempt := func() error {
		var attemptErr error
		out, attemptErr = g.dispatch(ctx, tool, desc, call.Arguments, timeout)
		return attemptErr
	}

	if desc.Idempotent {
		err = g.retry.Retry(ctx, attempt)
	} else {
		if err = attempt(); err != nil && !errors.Is(err, domain.ErrDependencyUnavailable) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", domain.ErrNonIdempotent, err)
		}
	}

	g.calls.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", desc.Name)))
	g.durations.Record(ctx, g.now().Sub(start).Seconds(), metric.WithAttributes(attribute.String("tool", desc.Name)))
	if err != nil {
		g.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", desc.Name)))
		span.RecordError(err)
	}

	return g.result(env.CorrelationID, start, out, err)
}

// dispatch runs one attempt through the dependency's breaker with the
// per-call timeout applied.
func (g *Gateway) dispatch(ctx context.Context, tool Tool, desc Descriptor, args json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	var out json.RawMessage
	run := func() error {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		type invocation struct {
			out json.RawMessage
			err error
		}
		done := make(chan invocation, 1)
		go func() {
			o, e := tool.Invoke(cctx, args)
			done <- invocation{o, e}
		}()

		select {
		case inv := <-done:
			if inv.err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: tool %s exceeded %s: %w", domain.ErrTransient, desc.Name, timeout, context.DeadlineExceeded)
			}
			out = inv.out
			return inv.err
		case <-cctx.Done():
			// The in-flight call observes cctx at its next checkpoint and
			// releases whatever it holds; we record the terminal status now.
			if errors.Is(cctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: tool %s exceeded %s: %w", domain.ErrTransient, desc.Name, timeout, context.DeadlineExceeded)
			}
			return cctx.Err()
		}
	}

	if desc.Dependency == "" {
		return out, run()
	}

	err := g.breakers.For(desc.Dependency).Execute(run)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, fmt.Errorf("%w: %s", domain.ErrDependencyUnavailable, desc.Dependency)
	}
	return out, err
}

// result builds the terminal tool_result envelope for a call.
func (g *Gateway) result(correlationID string, start time.Time, out json.RawMessage, err error) protocol.Envelope {
	p := protocol.ToolResultPayload{
		Status:     protocol.StatusSuccess,
		Result:     out,
		DurationMS: g.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		p.Result = nil
		p.Status = protocol.StatusError
		detail := &protocol.ErrorDetail{Code: protocol.CodeToolError, Message: err.Error()}
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			p.Status = protocol.StatusTimeout
			detail.Code = protocol.CodeTimeout
		case errors.Is(err, domain.ErrValidation):
			detail.Code = protocol.CodeValidationError
		case errors.Is(err, domain.ErrDependencyUnavailable):
			detail.Code = protocol.CodeDependencyUnavailable
		case errors.Is(err, domain.ErrNonIdempotent):
			detail.Code = protocol.CodeNonIdempotentFailure
		case errors.Is(err, domain.ErrTransient):
			detail.Code = protocol.CodeTransientError
		}
		p.Error = detail
	}

	payload, merr := json.Marshal(p)
	if merr != nil {
		payload = []byte(`{"status":"error","error":{"code":"TOOL_ERROR","message":"marshal result"}}`)
	}
	return protocol.Envelope{
		MessageType:   protocol.MessageToolResult,
		CorrelationID: correlationID,
		Timestamp:     g.now(),
		Payload:       payload,
	}
}

// Call is the in-process convenience path: it builds the tool_call
// envelope, invokes it, and maps the terminal result back onto the domain
// error taxonomy. The returned payload is valid even when err is non-nil.
func (g *Gateway) Call(ctx context.Context, toolName string, args any, timeout time.Duration) (protocol.ToolResultPayload, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return protocol.ToolResultPayload{}, fmt.Errorf("%w: marshal arguments: %v", domain.ErrValidation, err)
	}
	env, err := protocol.NewToolCall(uuid.NewString(), toolName, raw, timeout, g.now())
	if err != nil {
		return protocol.ToolResultPayload{}, err
	}

	res := g.Invoke(ctx, env)
	payload, err := res.ResultPayload()
	if err != nil {
		return payload, err
	}
	return payload, ResultError(payload)
}

// CallAll fans out independent tool calls concurrently and joins all of
// them: every call reaches a terminal result before CallAll returns.
// Completion order among the calls is not guaranteed; result order matches
// input order.
func (g *Gateway) CallAll(ctx context.Context, calls []protocol.Envelope) []protocol.Envelope {
	results := make([]protocol.Envelope, len(calls))
	var eg errgroup.Group
	for i, call := range calls {
		eg.Go(func() error {
			results[i] = g.Invoke(ctx, call)
			return nil
		})
	}
	_ = eg.Wait() // Invoke never returns a Go error; results carry the status
	return results
}

// ResultError converts a terminal result payload into the corresponding
// domain error, or nil for success.
func ResultError(p protocol.ToolResultPayload) error {
	if p.Status == protocol.StatusSuccess {
		return nil
	}
	msg := ""
	code := ""
	if p.Error != nil {
		msg = p.Error.Message
		code = p.Error.Code
	}
	switch code {
	case protocol.CodeValidationError:
		return fmt.Errorf("%w: %s", domain.ErrValidation, msg)
	case protocol.CodeDependencyUnavailable:
		return fmt.Errorf("%w: %s", domain.ErrDependencyUnavailable, msg)
	case protocol.CodeNonIdempotentFailure:
		return fmt.Errorf("%w: %s", domain.ErrNonIdempotent, msg)
	case protocol.CodeTimeout, protocol.CodeTransientError:
		return fmt.Errorf("%w: %s", domain.ErrTransient, msg)
	}
	return errors.New(msg)
}
