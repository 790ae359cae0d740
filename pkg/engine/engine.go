// Package engine is the public facade of the requirement validation
// engine. It exposes the two operations callers use: admission-time rule
// structure validation and evaluation of a student's course history
// against a published requirement version.
//
// The engine is pure over its inputs: no I/O, no hidden state, safe for
// concurrent use against immutable published versions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ClearPath-Edu/articulate/core/pkg/equivalency"
	"github.com/ClearPath-Edu/articulate/core/pkg/evaluator"
	"github.com/ClearPath-Edu/articulate/core/pkg/model"
	"github.com/ClearPath-Edu/articulate/core/pkg/rulecheck"
	"github.com/ClearPath-Edu/articulate/core/pkg/validation"
)

// Version tags every result's metadata for reproducibility. Bump the
// major only when results for identical inputs may change.
const Version = "1.0.0"

// ErrNilVersion signals programmer misuse: the requirement version
// argument was omitted entirely.
var ErrNilVersion = errors.New("engine: nil requirement version")

// Engine wires the validator, resolver, and evaluator behind the two
// exposed operations.
type Engine struct {
	logger    *slog.Logger
	tracer    trace.Tracer
	validator *rulecheck.Validator
	evaluator *evaluator.Evaluator
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the tracer used to span evaluations.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithCriterion registers an additional criteria evaluator.
func WithCriterion(c evaluator.Criterion) Option {
	return func(e *Engine) { e.evaluator.Registry().Register(c) }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:    slog.Default().With("component", "engine"),
		tracer:    noop.NewTracerProvider().Tracer("articulate"),
		validator: rulecheck.New(Version),
		evaluator: evaluator.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ValidateRuleStructure is the admission gate: a requirement version may
// only be published when this returns a valid result. Business-invalid
// content is itemized in the result; the error return is reserved for
// programmer misuse (nil rules).
func (e *Engine) ValidateRuleStructure(rules *model.RequirementRules) (*validation.Result, error) {
	res, err := e.validator.ValidateRuleStructure(rules)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("rule structure validated",
		"valid", res.IsValid,
		"errors", len(res.Errors),
		"warnings", len(res.Warnings))
	return res, nil
}

// Validate evaluates a student's course history against one published
// requirement version: resolve equivalencies, evaluate the rule graph,
// aggregate one result. Pass/fail and diagnostics always come back as
// data; the error return is reserved for programmer misuse.
func (e *Engine) Validate(ctx context.Context, version *model.RequirementVersion, courses []model.StudentCourseRecord, academic model.AcademicInfo) (*validation.Result, error) {
	if version == nil {
		return nil, ErrNilVersion
	}

	_, span := e.tracer.Start(ctx, "engine.Validate",
		trace.WithAttributes(
			attribute.String("requirement.id", version.RequirementID),
			attribute.Int("requirement.version", version.Version),
		))
	defer span.End()

	agg := validation.NewAggregator(Version)

	// Structural tier: a version published under a different engine major
	// cannot be evaluated reproducibly, and a rule set that fails the
	// admission checks voids the evaluator's acyclicity assumption. Both
	// short-circuit before any per-student work.
	if !e.compatible(version.EngineVersion) {
		agg.MarkCheck("engine_compatibility")
		agg.Add(validation.Error(validation.CodeValidationError, "engine_version",
			fmt.Sprintf("version published under engine %s is not evaluable by engine %s", version.EngineVersion, Version)))
		return agg.Result(), nil
	}
	agg.MarkCheck("engine_compatibility")

	e.validator.Check(&version.Rules, agg)
	if agg.HasErrors() {
		agg.SetDetail("structure_invalid", true)
		return agg.Result(), nil
	}

	asOf := academic.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	agg.MarkCheck("equivalency_resolution")
	resolution, issues := equivalency.Resolve(courses, version.Rules.Equivalencies, asOf)
	agg.Add(issues...)

	agg.MarkCheck("rule_evaluation")
	outcome := e.evaluator.Evaluate(&version.Rules, resolution, academic)
	agg.Add(outcome.Issues...)
	agg.SetRuleIDs(outcome.EvaluatedOrder)
	agg.SetDetail("per_rule", outcome.PerRule)
	agg.SetDetail("completion_percentage", outcome.CompletionPercentage)
	agg.SetDetail("credits_applied", outcome.CreditsApplied)
	if len(resolution.Unresolved) > 0 {
		agg.SetDetail("unresolved_courses", resolution.Unresolved)
	}

	res := agg.Result()
	e.logger.Debug("evaluation complete",
		"requirement", version.RequirementID,
		"version", version.Version,
		"valid", res.IsValid,
		"completion", outcome.CompletionPercentage)
	return res, nil
}

// compatible reports whether a snapshot published under engineVersion can
// be evaluated by this engine. Empty means pre-tagging data; accept it.
func (e *Engine) compatible(engineVersion string) bool {
	if engineVersion == "" {
		return true
	}
	published, err := semver.NewVersion(engineVersion)
	if err != nil {
		return false
	}
	current := semver.MustParse(Version)
	return published.Major() == current.Major()
}
