//go:build property
// +build property

// Property-based tests for validator and evaluator determinism.
package engine_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ClearPath-Edu/articulate/core/pkg/engine"
	"github.com/ClearPath-Edu/articulate/core/pkg/model"
)

func genRules() gopter.Gen {
	return gopter.CombineGens(
		gen.SliceOf(gen.AlphaString()),
		gen.Float64Range(-10, 200),
		gen.Float64Range(-1, 5),
	).Map(func(vals []interface{}) model.RequirementRules {
		ids := vals[0].([]string)
		rules := make([]model.RequirementRule, 0, len(ids))
		for i, id := range ids {
			if id == "" {
				continue
			}
			r := model.RequirementRule{ID: id, Type: "course", Required: i%2 == 0}
			if i > 0 && ids[i-1] != "" {
				r.Alternatives = []string{ids[i-1]}
			}
			rules = append(rules, r)
		}
		gpa := vals[2].(float64)
		return model.RequirementRules{
			Rules:        rules,
			TotalCredits: vals[1].(float64),
			MinimumGPA:   &gpa,
		}
	})
}

// Property: ValidateRuleStructure is deterministic — the same rule set
// always yields the same verdict and the same issue list.
func TestValidateRuleStructure_Deterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	e := engine.New()
	properties.Property("identical rule sets validate identically", prop.ForAll(
		func(rules model.RequirementRules) bool {
			r1, err1 := e.ValidateRuleStructure(&rules)
			r2, err2 := e.ValidateRuleStructure(&rules)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			r1.ValidatedAt, r2.ValidatedAt = time.Time{}, time.Time{}
			b1, _ := json.Marshal(r1)
			b2, _ := json.Marshal(r2)
			return string(b1) == string(b2)
		},
		genRules(),
	))

	properties.TestingRun(t)
}

// Property: validity never depends on annotation-only criteria content.
func TestValidateRuleStructure_MetadataInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	e := engine.New()
	properties.Property("criteria annotations do not change validity", prop.ForAll(
		func(rules model.RequirementRules, note string) bool {
			plain, err := e.ValidateRuleStructure(&rules)
			if err != nil {
				return false
			}
			annotated := rules
			annotated.Criteria = map[string]any{"note": note}
			decorated, err := e.ValidateRuleStructure(&annotated)
			if err != nil {
				return false
			}
			return plain.IsValid == decorated.IsValid
		},
		genRules(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// Property: Validate is idempotent modulo the timestamp for any GPA.
func TestValidate_IdempotentForAnyGPA(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	e := engine.New()
	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	version := &model.RequirementVersion{
		ID: "ver-1", RequirementID: "req-1", Version: 1,
		EngineVersion: engine.Version,
		Rules: model.RequirementRules{
			Equivalencies: []model.CourseEquivalency{
				{SourceCode: "MATH1", TargetCode: "MATH1A", Credits: 4},
			},
			TotalCredits: 4,
			MinimumGPA:   model.Float64(3.0),
		},
	}
	courses := []model.StudentCourseRecord{
		{CourseCode: "MATH1", Status: model.CourseCompleted, Term: "2025FA", Units: 4},
	}

	properties.Property("repeat evaluations agree", prop.ForAll(
		func(gpa float64) bool {
			info := model.AcademicInfo{GPA: &gpa, TotalUnits: 4, AsOf: asOf}
			r1, err1 := e.Validate(context.Background(), version, courses, info)
			r2, err2 := e.Validate(context.Background(), version, courses, info)
			if err1 != nil || err2 != nil {
				return false
			}
			r1.ValidatedAt, r2.ValidatedAt = time.Time{}, time.Time{}
			b1, _ := json.Marshal(r1)
			b2, _ := json.Marshal(r2)
			return string(b1) == string(b2)
		},
		gen.Float64Range(0, 4),
	))

	properties.TestingRun(t)
}
