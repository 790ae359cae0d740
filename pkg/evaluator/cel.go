package evaluator

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// CELCriterion evaluates criteria entries carrying an "expression" key as
// a CEL program over the evaluation context. Compiled programs are cached
// per expression source.
//
// Expressions see a single `input` map:
//
//	input.resolved_credits  — completed credits resolved for this rule's courses
//	input.matched_courses   — target codes the student matched
//	input.gpa               — student GPA, or -1.0 when unknown
//	input.gpa_known         — whether a GPA was supplied
//	input.total_units       — student total completed units
type CELCriterion struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELCriterion builds the CEL environment.
func NewCELCriterion() (*CELCriterion, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("evaluator: cel env: %w", err)
	}
	return &CELCriterion{env: env, cache: make(map[string]cel.Program)}, nil
}

func (c *CELCriterion) CanEvaluate(key string) bool { return key == "expression" }

func (c *CELCriterion) Evaluate(criteria map[string]any, ctx *Context) (CriterionResult, error) {
	src, ok := criteria["expression"].(string)
	if !ok {
		return CriterionResult{}, fmt.Errorf("rule %s: expression criterion must be a string", ctx.RuleID)
	}

	prg, err := c.program(src)
	if err != nil {
		return CriterionResult{}, fmt.Errorf("rule %s: %w", ctx.RuleID, err)
	}

	// Rule-scoped course figures are derived the same way the course
	// criterion derives them, so expressions can reason about credits.
	courses, _ := stringList(criteria["courses"])
	var credits float64
	var matched []string
	for _, target := range courses {
		if cc := completedCredits(ctx.Resolution, target); cc > 0 {
			credits += cc
			matched = append(matched, target)
		}
	}
	if matched == nil {
		matched = []string{}
	}

	gpa := -1.0
	if ctx.GPA != nil {
		gpa = *ctx.GPA
	}
	input := map[string]any{
		"resolved_credits": credits,
		"matched_courses":  matched,
		"gpa":              gpa,
		"gpa_known":        ctx.GPA != nil,
		"total_units":      ctx.TotalUnits,
	}

	val, _, err := prg.Eval(map[string]any{"input": input})
	if err != nil {
		return CriterionResult{}, fmt.Errorf("rule %s: expression evaluation failed: %w", ctx.RuleID, err)
	}
	satisfied, ok := val.Value().(bool)
	if !ok {
		return CriterionResult{}, fmt.Errorf("rule %s: expression must yield a boolean, got %T", ctx.RuleID, val.Value())
	}
	return CriterionResult{Satisfied: satisfied, Credits: credits, MatchedTargets: matched}, nil
}

func (c *CELCriterion) program(src string) (cel.Program, error) {
	c.mu.RLock()
	prg, ok := c.cache[src]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	parsed, issues := c.env.Parse(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("expression parse failed: %w", issues.Err())
	}
	if err := lintDeterminism(parsed.Expr()); err != nil { //nolint:staticcheck // AST traversal still needs the proto form
		return nil, err
	}

	ast, issues := c.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("expression compile failed: %w", issues.Err())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("expression program failed: %w", err)
	}

	c.mu.Lock()
	c.cache[src] = prg
	c.mu.Unlock()
	return prg, nil
}

// lintDeterminism rejects constructs that would make an evaluation depend
// on anything but its inputs. Evaluations must be reproducible per
// version, so wall-clock access and map-iteration builtins are forbidden.
func lintDeterminism(e *exprpb.Expr) error {
	if e == nil {
		return nil
	}
	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		switch call.Function {
		case "now":
			return fmt.Errorf("expression uses now(), which is forbidden")
		case "keys", "values":
			return fmt.Errorf("expression uses map iteration (%s), which is forbidden", call.Function)
		}
		if err := lintDeterminism(call.Target); err != nil {
			return err
		}
		for _, arg := range call.Args {
			if err := lintDeterminism(arg); err != nil {
				return err
			}
		}
	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.Elements {
			if err := lintDeterminism(el); err != nil {
				return err
			}
		}
	case *exprpb.Expr_StructExpr:
		for _, entry := range k.StructExpr.Entries {
			if err := lintDeterminism(entry.GetMapKey()); err != nil {
				return err
			}
			if err := lintDeterminism(entry.GetValue()); err != nil {
				return err
			}
		}
	case *exprpb.Expr_ComprehensionExpr:
		comp := k.ComprehensionExpr
		for _, sub := range []*exprpb.Expr{comp.IterRange, comp.AccuInit, comp.LoopCondition, comp.LoopStep, comp.Result} {
			if err := lintDeterminism(sub); err != nil {
				return err
			}
		}
	case *exprpb.Expr_SelectExpr:
		return lintDeterminism(k.SelectExpr.Operand)
	}
	return nil
}
