package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/talkxo/sequence-email/pkg/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxAttempts caps the attempts of a single dispatch regardless of pool size.
const MaxAttempts = 3

var tracer = otel.Tracer("github.com/talkxo/sequence-email/dispatch")

// Request is one logical text-generation call.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float32
	// ContextLength is an optional hint of the tokens the call needs. Zero
	// selects the best model outright.
	ContextLength int
}

// Dispatcher turns requests into generated text over a rotating credential
// pool. The model is fixed per call; only credentials rotate between attempts.
type Dispatcher struct {
	provider       llm.Provider
	pool           *Pool
	registry       *Registry
	metrics        *Metrics
	attemptTimeout time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRegistry replaces the default model registry.
func WithRegistry(r *Registry) Option {
	return func(d *Dispatcher) { d.registry = r }
}

// WithMetrics records attempt outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithAttemptTimeout bounds each individual attempt. A timed-out attempt
// counts as a failure and the next credential is tried.
func WithAttemptTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.attemptTimeout = timeout }
}

// New creates a Dispatcher.
func New(provider llm.Provider, pool *Pool, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		provider: provider,
		pool:     pool,
		registry: NewRegistry(nil),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the model registry used for selection.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Pool returns the credential pool.
func (d *Dispatcher) Pool() *Pool {
	return d.pool
}

// Stats returns the credential pool statistics.
func (d *Dispatcher) Stats() Stats {
	return d.pool.Stats()
}

// Dispatch runs the request with up to min(active credentials, MaxAttempts)
// attempts and returns the first non-empty completion. When every attempt
// fails it returns an *ExhaustedError wrapping the last cause. Cancelling
// ctx aborts the in-flight attempt and stops further attempts.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	model := d.registry.Best()
	if req.ContextLength > 0 {
		model = d.registry.ForContext(req.ContextLength)
	}
	budget := min(d.pool.ActiveCount(), MaxAttempts)

	ctx, span := tracer.Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("model.id", model.ID),
			attribute.Int("dispatch.budget", budget),
			attribute.Int("dispatch.context_hint", req.ContextLength),
		),
	)
	defer span.End()

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < budget; attempt++ {
		cred := d.pool.Current()
		attempts++

		text, err := d.attempt(ctx, cred, model, req)
		if err == nil {
			d.pool.RecordSuccess(cred.Name)
			span.AddEvent("attempt succeeded", trace.WithAttributes(
				attribute.String("credential", cred.Name),
				attribute.Int("attempt", attempt+1),
			))
			span.SetStatus(codes.Ok, "")
			slog.Debug("dispatch succeeded", "credential", cred.Name, "model", model.ID, "attempt", attempt+1)
			return text, nil
		}

		d.pool.RecordError(cred.Name)
		d.pool.Advance()
		lastErr = err
		span.AddEvent("attempt failed", trace.WithAttributes(
			attribute.String("credential", cred.Name),
			attribute.Int("attempt", attempt+1),
			attribute.String("error", err.Error()),
		))
		slog.Warn("dispatch attempt failed",
			"credential", cred.Name, "model", model.ID,
			"attempt", attempt+1, "budget", budget, "error", err)

		if ctx.Err() != nil {
			break
		}
	}

	exhausted := &ExhaustedError{
		Attempts: attempts,
		Model:    model.ID,
		Timeout:  isDeadline(lastErr) || errors.Is(ctx.Err(), context.DeadlineExceeded),
		Err:      lastErr,
	}
	d.metrics.observeExhausted(exhausted.Timeout)
	span.RecordError(exhausted)
	span.SetStatus(codes.Error, exhausted.Error())
	return "", exhausted
}

func (d *Dispatcher) attempt(ctx context.Context, cred Credential, model Model, req Request) (string, error) {
	if d.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.attemptTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := d.provider.Complete(ctx, llm.Request{
		Model:       model.ID,
		APIKey:      cred.Secret,
		Messages:    llm.UserPrompt(req.Prompt),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
		err = errEmptyResponse
	}
	d.metrics.observeAttempt(cred.Name, model.ID, err == nil, time.Since(start))
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

var errEmptyResponse = errors.New("provider returned empty content")
