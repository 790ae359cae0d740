package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClearPath-Edu/articulate/core/pkg/model"
	"github.com/ClearPath-Edu/articulate/core/pkg/validation"
)

var asOf = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func publishedVersion(rules model.RequirementRules) *model.RequirementVersion {
	return &model.RequirementVersion{
		ID:            "ver-1",
		RequirementID: "req-1",
		Version:       1,
		Rules:         rules,
		PublishedBy:   "admin@clearpath.dev",
		PublishedAt:   asOf.AddDate(0, -6, 0),
		EngineVersion: Version,
	}
}

func scenarioRules() model.RequirementRules {
	return model.RequirementRules{
		Equivalencies: []model.CourseEquivalency{
			{SourceCode: "MATH1", TargetCode: "MATH1A", Credits: 4},
		},
		TotalCredits: 4,
		MinimumGPA:   model.Float64(3.0),
	}
}

func completedMath() []model.StudentCourseRecord {
	return []model.StudentCourseRecord{
		{CourseCode: "MATH1", Status: model.CourseCompleted, Term: "2025FA", Units: 4},
	}
}

func hasCode(issues []validation.Issue, code string) bool {
	for _, is := range issues {
		if is.Code == code {
			return true
		}
	}
	return false
}

// Scenario A: completed MATH1, GPA 3.2 — valid with zero errors.
func TestValidate_ScenarioA_Pass(t *testing.T) {
	e := New()
	res, err := e.Validate(context.Background(), publishedVersion(scenarioRules()), completedMath(),
		model.AcademicInfo{GPA: model.Float64(3.2), TotalUnits: 4, AsOf: asOf})
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
	assert.Equal(t, Version, res.Metadata.EngineVersion)
}

// Scenario B: GPA 2.5 — exactly one error, referencing the GPA minimum.
func TestValidate_ScenarioB_GPAFail(t *testing.T) {
	e := New()
	res, err := e.Validate(context.Background(), publishedVersion(scenarioRules()), completedMath(),
		model.AcademicInfo{GPA: model.Float64(2.5), TotalUnits: 4, AsOf: asOf})
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, validation.CodeInvalidGPA, res.Errors[0].Code)
	assert.Equal(t, "minimum_gpa", res.Errors[0].Field)
}

// Scenario C: mutual alternatives — circular dependency naming both rules.
func TestValidateRuleStructure_ScenarioC_Cycle(t *testing.T) {
	rules := scenarioRules()
	rules.Rules = []model.RequirementRule{
		{ID: "A", Type: "course", Alternatives: []string{"B"}},
		{ID: "B", Type: "course", Alternatives: []string{"A"}},
	}
	res, err := New().ValidateRuleStructure(&rules)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	require.True(t, hasCode(res.Errors, validation.CodeCircularDependency))
	for _, is := range res.Errors {
		if is.Code == validation.CodeCircularDependency {
			assert.Contains(t, is.Message, "A")
			assert.Contains(t, is.Message, "B")
		}
	}
}

// Scenario D: duplicate source codes — hard error.
func TestValidateRuleStructure_ScenarioD_Duplicate(t *testing.T) {
	rules := scenarioRules()
	rules.Equivalencies = []model.CourseEquivalency{
		{SourceCode: "CS101", TargetCode: "CS1", Credits: 3},
		{SourceCode: "CS101", TargetCode: "CS2", Credits: 3},
	}
	res, err := New().ValidateRuleStructure(&rules)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.True(t, hasCode(res.Errors, validation.CodeDuplicateCourse))
}

// Scenario E: course with no equivalency — warning regardless of outcome.
func TestValidate_ScenarioE_UnresolvedWarning(t *testing.T) {
	courses := append(completedMath(),
		model.StudentCourseRecord{CourseCode: "BIO10", Status: model.CourseCompleted, Term: "2025FA", Units: 3})
	res, err := New().Validate(context.Background(), publishedVersion(scenarioRules()), courses,
		model.AcademicInfo{GPA: model.Float64(3.2), TotalUnits: 7, AsOf: asOf})
	require.NoError(t, err)
	assert.True(t, res.IsValid, "warnings do not affect validity")
	require.True(t, hasCode(res.Warnings, validation.CodeUnresolvedCourse))
	for _, w := range res.Warnings {
		if w.Code == validation.CodeUnresolvedCourse {
			assert.Equal(t, "BIO10", w.Field)
		}
	}
}

func TestValidate_NilVersionIsProgrammerMisuse(t *testing.T) {
	_, err := New().Validate(context.Background(), nil, nil, model.AcademicInfo{})
	assert.ErrorIs(t, err, ErrNilVersion)
}

func TestValidate_IdempotentModuloTimestamp(t *testing.T) {
	e := New()
	info := model.AcademicInfo{GPA: model.Float64(3.2), TotalUnits: 4, AsOf: asOf}

	r1, err := e.Validate(context.Background(), publishedVersion(scenarioRules()), completedMath(), info)
	require.NoError(t, err)
	r2, err := e.Validate(context.Background(), publishedVersion(scenarioRules()), completedMath(), info)
	require.NoError(t, err)

	r1.ValidatedAt = time.Time{}
	r2.ValidatedAt = time.Time{}
	b1, err := json.Marshal(r1)
	require.NoError(t, err)
	b2, err := json.Marshal(r2)
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2), "byte-identical apart from the timestamp")
}

func TestValidate_IncompatibleEngineMajorShortCircuits(t *testing.T) {
	v := publishedVersion(scenarioRules())
	v.EngineVersion = "2.3.0"
	res, err := New().Validate(context.Background(), v, completedMath(),
		model.AcademicInfo{GPA: model.Float64(3.2), AsOf: asOf})
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, validation.CodeValidationError, res.Errors[0].Code)
	assert.Empty(t, res.Metadata.RuleIDsEvaluated, "evaluation never ran")
}

func TestValidate_StructurallyInvalidVersionShortCircuits(t *testing.T) {
	rules := scenarioRules()
	rules.TotalCredits = 0
	res, err := New().Validate(context.Background(), publishedVersion(rules), completedMath(),
		model.AcademicInfo{GPA: model.Float64(3.2), AsOf: asOf})
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.True(t, hasCode(res.Errors, validation.CodeInvalidCredits))
	assert.Equal(t, true, res.Details["structure_invalid"])
}

func TestValidate_DetailsCarryPerRuleVerdicts(t *testing.T) {
	rules := scenarioRules()
	rules.Rules = []model.RequirementRule{
		{ID: "calc", Type: "course", Required: true, Criteria: map[string]any{"courses": []any{"MATH1A"}}},
	}
	res, err := New().Validate(context.Background(), publishedVersion(rules), completedMath(),
		model.AcademicInfo{GPA: model.Float64(3.5), TotalUnits: 4, AsOf: asOf})
	require.NoError(t, err)
	require.True(t, res.IsValid)

	perRule, ok := res.Details["per_rule"].(map[string]bool)
	require.True(t, ok)
	assert.True(t, perRule["calc"])
	assert.Equal(t, []string{"calc"}, res.Metadata.RuleIDsEvaluated)
	assert.Equal(t, 100.0, res.Details["completion_percentage"])
}
