// Package evaluator determines per-rule and overall satisfaction of a
// rule set against a resolved equivalency map. Rule criteria are
// evaluated through a pluggable registry so new criteria types extend the
// evaluator without modifying its core.
package evaluator

import (
	"fmt"
	"sync"

	"github.com/ClearPath-Edu/articulate/core/pkg/equivalency"
	"github.com/ClearPath-Edu/articulate/core/pkg/model"
)

// Context is the evaluation context handed to criteria.
type Context struct {
	Resolution *equivalency.Resolution
	GPA        *float64
	TotalUnits float64
	RuleID     string
}

// CriterionResult is a single criterion's verdict for one rule.
type CriterionResult struct {
	Satisfied      bool
	Credits        float64
	MatchedTargets []string
}

// Criterion evaluates one kind of criteria-map entry.
type Criterion interface {
	// CanEvaluate reports whether this criterion understands the key.
	CanEvaluate(key string) bool
	// Evaluate inspects the rule's criteria map and the context.
	Evaluate(criteria map[string]any, ctx *Context) (CriterionResult, error)
}

// Registry dispatches criteria keys to registered criteria. The built-in
// course-list and CEL-expression criteria are always present; callers may
// register more.
type Registry struct {
	mu       sync.RWMutex
	criteria []Criterion
}

// NewRegistry returns a registry with the built-in criteria.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(&CourseCriterion{})
	if cel, err := NewCELCriterion(); err == nil {
		r.Register(cel)
	}
	return r
}

// Register appends a criterion. Later registrations win on key overlap.
func (r *Registry) Register(c Criterion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.criteria = append([]Criterion{c}, r.criteria...)
}

// For returns the first criterion that understands key.
func (r *Registry) For(key string) (Criterion, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.criteria {
		if c.CanEvaluate(key) {
			return c, true
		}
	}
	return nil, false
}

// CourseCriterion satisfies a rule when at least one listed target course
// code resolves against the equivalency map with a completed student
// course. Credits are the summed resolved credits of the matched targets.
type CourseCriterion struct{}

func (c *CourseCriterion) CanEvaluate(key string) bool { return key == "courses" }

func (c *CourseCriterion) Evaluate(criteria map[string]any, ctx *Context) (CriterionResult, error) {
	targets, err := stringList(criteria["courses"])
	if err != nil {
		return CriterionResult{}, fmt.Errorf("rule %s: courses criterion: %w", ctx.RuleID, err)
	}

	var out CriterionResult
	for _, target := range targets {
		credits := completedCredits(ctx.Resolution, target)
		if credits > 0 {
			out.Satisfied = true
			out.Credits += credits
			out.MatchedTargets = append(out.MatchedTargets, target)
		}
	}
	return out, nil
}

// completedCredits sums resolved credits for a target, counting only
// completed student courses. In-progress and planned courses resolve but
// do not yet earn credit.
func completedCredits(res *equivalency.Resolution, target string) float64 {
	var total float64
	for _, rc := range res.Matches[target] {
		if rc.SourceCourse.Status == model.CourseCompleted {
			total += rc.ResolvedCredits
		}
	}
	return total
}

func stringList(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected string entries, got %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list of course codes, got %T", v)
	}
}
