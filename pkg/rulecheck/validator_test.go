package rulecheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClearPath-Edu/articulate/core/pkg/model"
	"github.com/ClearPath-Edu/articulate/core/pkg/validation"
)

func validRules() *model.RequirementRules {
	return &model.RequirementRules{
		Equivalencies: []model.CourseEquivalency{
			{SourceCode: "MATH1", TargetCode: "MATH1A", Credits: 4},
		},
		Rules: []model.RequirementRule{
			{ID: "calc", Type: "course", Required: true,
				Criteria: map[string]any{"courses": []any{"MATH1A"}}},
		},
		TotalCredits: 4,
		MinimumGPA:   model.Float64(3.0),
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

func TestValidateRuleStructure_Valid(t *testing.T) {
	v := New("1.0.0")
	res, err := v.ValidateRuleStructure(validRules())
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	assert.Contains(t, res.Metadata.ChecksRun, "cycle_detection")
}

func TestValidateRuleStructure_NilRules(t *testing.T) {
	v := New("1.0.0")
	_, err := v.ValidateRuleStructure(nil)
	assert.ErrorIs(t, err, ErrNilRules)
}

func TestValidateRuleStructure_InvalidCredits(t *testing.T) {
	for _, credits := range []float64{0, -3} {
		rules := validRules()
		rules.TotalCredits = credits
		res, err := New("1.0.0").ValidateRuleStructure(rules)
		require.NoError(t, err)
		assert.False(t, res.IsValid)
		assert.True(t, hasCode(res.Errors, validation.CodeInvalidCredits))
	}
}

func TestValidateRuleStructure_InvalidGPA(t *testing.T) {
	rules := validRules()
	rules.MinimumGPA = model.Float64(4.5)
	res, err := New("1.0.0").ValidateRuleStructure(rules)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.True(t, hasCode(res.Errors, validation.CodeInvalidGPA))

	// Absent GPA is fine.
	rules.MinimumGPA = nil
	res, err = New("1.0.0").ValidateRuleStructure(rules)
	require.NoError(t, err)
	assert.True(t, res.IsValid)
}

func TestValidateRuleStructure_DuplicateSource(t *testing.T) {
	rules := validRules()
	rules.Equivalencies = append(rules.Equivalencies,
		model.CourseEquivalency{SourceCode: "MATH1", TargetCode: "MATH1B", Credits: 4})
	res, err := New("1.0.0").ValidateRuleStructure(rules)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.True(t, hasCode(res.Errors, validation.CodeDuplicateCourse))
}

func TestValidateRuleStructure_NonPositiveEquivalencyCredits(t *testing.T) {
	rules := validRules()
	rules.Equivalencies[0].Credits = 0
	res, err := New("1.0.0").ValidateRuleStructure(rules)
	require.NoError(t, err)
	assert.True(t, hasCode(res.Errors, validation.CodeInvalidCourseCredits))
}

func TestValidateRuleStructure_CircularDependency(t *testing.T) {
	rules := validRules()
	rules.Rules = []model.RequirementRule{
		{ID: "a", Type: "course", Alternatives: []string{"b"}},
		{ID: "b", Type: "course", Alternatives: []string{"a"}},
	}
	res, err := New("1.0.0").ValidateRuleStructure(rules)
	require.NoError(t, err)
	assert.False(t, res.IsValid)

	var circular []validation.Issue
	for _, is := range res.Errors {
		if is.Code == validation.CodeCircularDependency {
			circular = append(circular, is)
		}
	}
	require.Len(t, circular, 1, "one distinct cycle reported once")
	assert.Contains(t, circular[0].Message, "a")
	assert.Contains(t, circular[0].Message, "b")
}

func TestValidateRuleStructure_SelfCycle(t *testing.T) {
	rules := validRules()
	rules.Rules = []model.RequirementRule{
		{ID: "a", Type: "course", Alternatives: []string{"a"}},
	}
	res, err := New("1.0.0").ValidateRuleStructure(rules)
	require.NoError(t, err)
	assert.True(t, hasCode(res.Errors, validation.CodeCircularDependency))
}

func TestValidateRuleStructure_DanglingReferenceIsWarning(t *testing.T) {
	rules := validRules()
	rules.Rules[0].Alternatives = []string{"no-such-rule"}
	res, err := New("1.0.0").ValidateRuleStructure(rules)
	require.NoError(t, err)
	assert.True(t, res.IsValid, "dangling references are non-fatal")
	assert.True(t, hasCode(res.Warnings, validation.CodeDanglingReference))
}

func TestValidateRuleStructure_AllIssuesCollectedInOnePass(t *testing.T) {
	rules := &model.RequirementRules{
		Equivalencies: []model.CourseEquivalency{
			{SourceCode: "CS101", TargetCode: "CS1", Credits: -1},
			{SourceCode: "CS101", TargetCode: "CS2", Credits: 3},
		},
		Rules: []model.RequirementRule{
			{ID: "x", Type: "course", Alternatives: []string{"x"}},
		},
		TotalCredits: 0,
		MinimumGPA:   model.Float64(9),
	}
	res, err := New("1.0.0").ValidateRuleStructure(rules)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	for _, code := range []string{
		validation.CodeInvalidCredits,
		validation.CodeInvalidGPA,
		validation.CodeDuplicateCourse,
		validation.CodeInvalidCourseCredits,
		validation.CodeCircularDependency,
	} {
		assert.True(t, hasCode(res.Errors, code), "missing %s", code)
	}
}

func TestParseRules_ShapeFailure(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":       `{{`,
		"wrong type":     `[1,2,3]`,
		"missing fields": `{"rules": []}`,
		"bad rule":       `{"equivalencies": [], "rules": [{"type": "course"}], "total_credits": 4}`,
	} {
		rules, issues := ParseRules([]byte(payload))
		assert.Nil(t, rules, name)
		if assert.Len(t, issues, 1, name) {
			assert.Equal(t, validation.CodeValidationError, issues[0].Code, name)
		}
	}
}

func TestParseRules_Valid(t *testing.T) {
	payload := `{
		"equivalencies": [{"source_code": "MATH1", "target_code": "MATH1A", "credits": 4}],
		"rules": [{"id": "calc", "type": "course", "required": true}],
		"total_credits": 4,
		"minimum_gpa": 3.0
	}`
	rules, issues := ParseRules([]byte(payload))
	require.Empty(t, issues)
	require.NotNil(t, rules)
	assert.Equal(t, 4.0, rules.TotalCredits)
	assert.Len(t, rules.Equivalencies, 1)
}

// Metadata-only changes (criteria annotations, change log text) must not
// change the validity outcome.
func TestValidateRuleStructure_MetadataInvariance(t *testing.T) {
	base := validRules()
	annotated := validRules()
	annotated.Criteria = map[string]any{"note": "updated wording only"}

	r1, err := New("1.0.0").ValidateRuleStructure(base)
	require.NoError(t, err)
	r2, err := New("1.0.0").ValidateRuleStructure(annotated)
	require.NoError(t, err)
	assert.Equal(t, r1.IsValid, r2.IsValid)
	assert.Equal(t, r1.Errors, r2.Errors)
	assert.Equal(t, r1.Warnings, r2.Warnings)
}
