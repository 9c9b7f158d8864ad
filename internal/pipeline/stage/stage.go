// Package stage holds the prompt -> model -> recover -> validate -> fallback
// cycle shared by every pipeline stage.
package stage

import (
	"context"

	apperrors "transfer-advisor/internal/common/errors"
	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/common/metrics"
	"transfer-advisor/internal/common/observability"
	"transfer-advisor/internal/common/validation"
	"transfer-advisor/internal/jsonrecovery"
	"transfer-advisor/internal/llm"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFallback Outcome = "fallback"
	OutcomeError    Outcome = "error"
	// OutcomeSkipped means the stage had no input to work on.
	OutcomeSkipped Outcome = "skipped"
)

// Cause says why a stage left the model path.
type Cause string

const (
	CauseNone   Cause = ""
	CauseCall   Cause = "call_failure"
	CauseParse  Cause = "parse_failure"
	CauseSchema Cause = "schema_failure"
)

// Result is the tagged outcome of one stage. Value is always usable.
type Result[T any] struct {
	Value    T
	Outcome  Outcome
	Cause    Cause
	Raw      string
	Strategy string
	Err      error
}

func (r Result[T]) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Spec describes one stage invocation.
type Spec[T any] struct {
	Name           string
	Method         string
	Messages       []llm.Message
	Temperature    float64
	MaxTokens      int
	ResponseFormat *llm.ResponseFormat
	Schema         *validation.Schema
	Decode         func(map[string]interface{}) (T, error)
	Fallback       func() T
}

// Attempt is the model half of a stage: the parsed object or why there is none.
type Attempt struct {
	Object     map[string]interface{}
	Raw        string
	Strategy   string
	Completion *llm.Completion
	Cause      Cause
	Err        error
}

func (a Attempt) OK() bool {
	return a.Cause == CauseNone
}

type Runner struct {
	completer llm.Completer
	parser    *jsonrecovery.Parser
	obs       *observability.Observability
	log       logger.Logger
}

func NewRunner(completer llm.Completer, parser *jsonrecovery.Parser, obs *observability.Observability, log logger.Logger) *Runner {
	if parser == nil {
		parser = jsonrecovery.New(log)
	}
	return &Runner{
		completer: completer,
		parser:    parser,
		obs:       obs,
		log:       logger.Component(log, "stage-runner"),
	}
}

func (r *Runner) Model() string {
	if r.completer == nil {
		return ""
	}
	return r.completer.Model()
}

func (r *Runner) Tracer() trace.Tracer {
	return r.obs.Tracer()
}

// Try calls the model once and recovers/validates its output.
func (r *Runner) Try(ctx context.Context, name, method string, req llm.Request, schema *validation.Schema) Attempt {
	req.Component = name
	req.Method = method

	if r.completer == nil {
		return Attempt{Cause: CauseCall, Err: apperrors.NewTransportError(name, errNoCompleter)}
	}

	completion, err := r.completer.Complete(ctx, req)
	if err != nil {
		return Attempt{Cause: CauseCall, Err: err}
	}

	obj, strategy := r.parser.ParseWithStrategy(completion.Content)
	if len(obj) == 0 {
		return Attempt{
			Raw:        completion.Content,
			Completion: completion,
			Strategy:   strategy,
			Cause:      CauseParse,
			Err:        apperrors.NewParseError(name, "no json object recovered"),
		}
	}

	if vr := schema.Validate(obj); !vr.Valid {
		return Attempt{
			Object:     obj,
			Raw:        completion.Content,
			Completion: completion,
			Strategy:   strategy,
			Cause:      CauseSchema,
			Err:        apperrors.NewSchemaError(name, vr.Error()),
		}
	}

	return Attempt{Object: obj, Raw: completion.Content, Completion: completion, Strategy: strategy}
}

// Run executes spec and falls back when the model path fails at any step.
func Run[T any](ctx context.Context, r *Runner, spec Spec[T]) Result[T] {
	ctx, span := r.Tracer().Start(ctx, "stage."+spec.Name)
	defer span.End()

	attempt := r.Try(ctx, spec.Name, spec.Method, llm.Request{
		Messages:       spec.Messages,
		Temperature:    spec.Temperature,
		MaxTokens:      spec.MaxTokens,
		ResponseFormat: spec.ResponseFormat,
	}, spec.Schema)

	var res Result[T]
	if attempt.OK() {
		value, err := spec.Decode(attempt.Object)
		if err == nil {
			res = Result[T]{Value: value, Outcome: OutcomeSuccess, Raw: attempt.Raw, Strategy: attempt.Strategy}
		} else {
			attempt.Cause = CauseSchema
			attempt.Err = apperrors.NewSchemaError(spec.Name, err.Error())
		}
	}
	if !attempt.OK() {
		r.log.Warn("stage falling back to rule-based path", map[string]interface{}{
			"stage": spec.Name,
			"cause": string(attempt.Cause),
			"error": errString(attempt.Err),
		})
		span.RecordError(attempt.Err)
		res = Result[T]{
			Value:    spec.Fallback(),
			Outcome:  OutcomeFallback,
			Cause:    attempt.Cause,
			Raw:      attempt.Raw,
			Strategy: attempt.Strategy,
			Err:      attempt.Err,
		}
	}

	r.Record(ctx, span, spec.Name, res.Outcome, res.Strategy)
	return res
}

// Record publishes the stage outcome to metrics and the span.
func (r *Runner) Record(ctx context.Context, span trace.Span, name string, outcome Outcome, strategy string) {
	metrics.StageOutcomes.WithLabelValues(name, string(outcome)).Inc()
	r.obs.RecordStage(ctx, name, string(outcome))
	span.SetAttributes(
		attribute.String("stage.name", name),
		attribute.String("stage.outcome", string(outcome)),
		attribute.String("stage.recovery_strategy", strategy),
	)
	if outcome != OutcomeSuccess {
		span.SetStatus(codes.Error, string(outcome))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
