package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClearPath-Edu/articulate/core/pkg/model"
)

func TestCanonical_KeyOrderNormalized(t *testing.T) {
	a, err := Canonical(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, string(a))
}

func TestHash_StableAcrossCalls(t *testing.T) {
	v := map[string]any{"x": []int{1, 2, 3}, "y": "z"}
	h1, err := Hash(v)
	require.NoError(t, err)
	h2, err := Hash(v)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestCacheKey_OrderInsensitive(t *testing.T) {
	c1 := model.StudentCourseRecord{CourseCode: "MATH1", Status: model.CourseCompleted, Term: "2025FA", Units: 4}
	c2 := model.StudentCourseRecord{CourseCode: "BIO10", Status: model.CourseCompleted, Term: "2025FA", Units: 3}
	info := model.AcademicInfo{GPA: model.Float64(3.2), TotalUnits: 7}

	k1, err := CacheKey("v1", []model.StudentCourseRecord{c1, c2}, info)
	require.NoError(t, err)
	k2, err := CacheKey("v1", []model.StudentCourseRecord{c2, c1}, info)
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "course submission order must not change the key")
}

func TestCacheKey_SensitiveToInputs(t *testing.T) {
	c := model.StudentCourseRecord{CourseCode: "MATH1", Status: model.CourseCompleted, Term: "2025FA", Units: 4}
	base := model.AcademicInfo{GPA: model.Float64(3.2)}

	k1, err := CacheKey("v1", []model.StudentCourseRecord{c}, base)
	require.NoError(t, err)
	k2, err := CacheKey("v2", []model.StudentCourseRecord{c}, base)
	require.NoError(t, err)
	k3, err := CacheKey("v1", []model.StudentCourseRecord{c}, model.AcademicInfo{GPA: model.Float64(2.9)})
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
