package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Provider is a named Translator in a Chain.
type Provider struct {
	Name       string
	Translator Translator
}

// Chain tries providers in order and returns the first success. Providers
// without credentials are skipped; other failures fall through to the next
// provider.
type Chain struct {
	providers []Provider
	timeout   time.Duration
	log       *slog.Logger
	tracer    trace.Tracer
	requests  metric.Int64Counter
	latency   metric.Float64Histogram
}

func NewChain(providers []Provider, timeout time.Duration, logger *slog.Logger) *Chain {
	c := &Chain{
		providers: providers,
		timeout:   timeout,
		log:       logger.With(slog.String("component", "translator")),
		tracer:    otel.Tracer("github.com/loqalabs/loqa-interpreter/translate"),
	}
	meter := otel.Meter("github.com/loqalabs/loqa-interpreter/translate")
	var err error
	if c.requests, err = meter.Int64Counter("translation.requests",
		metric.WithDescription("Translation attempts by provider and outcome")); err != nil {
		c.log.Warn("failed to create requests counter", slog.String("error", err.Error()))
	}
	if c.latency, err = meter.Float64Histogram("translation.latency_ms",
		metric.WithDescription("Translation provider latency"),
		metric.WithUnit("ms")); err != nil {
		c.log.Warn("failed to create latency histogram", slog.String("error", err.Error()))
	}
	return c
}

func (c *Chain) Translate(ctx context.Context, req Request) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "translate",
		trace.WithAttributes(
			attribute.String("translation.source", req.Source),
			attribute.String("translation.target", req.Target),
		))
	defer span.End()

	if strings.TrimSpace(req.Text) == "" {
		return Result{}, errors.New("nothing to translate")
	}
	if baseLanguage(req.Source) != "" && baseLanguage(req.Source) == baseLanguage(req.Target) {
		return Result{Text: req.Text, Provider: "identity"}, nil
	}

	var errs []error
	for _, p := range c.providers {
		res, err := c.try(ctx, p, req)
		if err == nil {
			span.SetAttributes(attribute.String("translation.provider", res.Provider))
			return res, nil
		}
		if errors.Is(err, ErrMissingCredential) {
			c.log.Debug("skipping translation provider", slog.String("provider", p.Name), slog.String("error", err.Error()))
			continue
		}
		c.log.Warn("translation provider failed", slog.String("provider", p.Name), slog.String("error", err.Error()))
		errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
		if ctx.Err() != nil {
			break
		}
	}

	err := errors.Join(errs...)
	if err == nil {
		err = errors.New("no translation provider available")
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return Result{}, err
}

func (c *Chain) try(ctx context.Context, p Provider, req Request) (Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := p.Translator.Translate(ctx, req)
	outcome := "ok"
	switch {
	case errors.Is(err, ErrMissingCredential):
		outcome = "skipped"
	case err != nil:
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("provider", p.Name), attribute.String("outcome", outcome))
	if c.requests != nil {
		c.requests.Add(ctx, 1, attrs)
	}
	if c.latency != nil && outcome != "skipped" {
		c.latency.Record(ctx, elapsedMillis(start), attrs)
	}
	if err != nil {
		return Result{}, err
	}
	if res.Provider == "" {
		res.Provider = p.Name
	}
	return res, nil
}
