package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ClearPath-Edu/articulate/core/pkg/model"
)

// GradeScale maps letter grades to grade points for one institution or
// system. Scales are institution-specific; the engine never hardcodes
// one.
type GradeScale struct {
	Name string `yaml:"name" json:"name"`
	Code string `yaml:"code" json:"code"`
	// Points maps a letter grade (as recorded on the transcript) to
	// grade points on this scale.
	Points map[string]float64 `yaml:"points" json:"points"`
	// MaxPoints is the top of the scale, used for bounds checks.
	// Zero means 4.0.
	MaxPoints float64 `yaml:"max_points,omitempty" json:"max_points,omitempty"`
	// PassingGrades lists grades below which a course does not count
	// toward requirements even when completed.
	PassingGrades []string `yaml:"passing_grades,omitempty" json:"passing_grades,omitempty"`
}

// PointsFor returns the grade points for a letter grade. Lookup is
// case-insensitive. The bool reports whether the grade is on the scale.
func (g *GradeScale) PointsFor(grade string) (float64, bool) {
	if p, ok := g.Points[grade]; ok {
		return p, true
	}
	upper := strings.ToUpper(strings.TrimSpace(grade))
	for k, p := range g.Points {
		if strings.ToUpper(k) == upper {
			return p, true
		}
	}
	return 0, false
}

// GPA computes a unit-weighted GPA over the completed courses in records.
// Courses with grades not on the scale are skipped. Returns nil when no
// course contributes, so callers can distinguish "no data" from 0.0.
func (g *GradeScale) GPA(records []model.StudentCourseRecord) *float64 {
	var points, units float64
	for _, rec := range records {
		if rec.Status != model.CourseCompleted || rec.Grade == "" {
			continue
		}
		p, ok := g.PointsFor(rec.Grade)
		if !ok {
			continue
		}
		points += p * rec.Units
		units += rec.Units
	}
	if units == 0 {
		return nil
	}
	gpa := points / units
	return &gpa
}

// LoadScale loads a grade scale YAML by institution code. It searches
// the scales directory for gradescale_<code>.yaml.
func LoadScale(scalesDir, code string) (*GradeScale, error) {
	code = strings.ToLower(code)
	path := filepath.Join(scalesDir, fmt.Sprintf("gradescale_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load grade scale %q: %w", code, err)
	}

	var scale GradeScale
	if err := yaml.Unmarshal(data, &scale); err != nil {
		return nil, fmt.Errorf("parse grade scale %q: %w", code, err)
	}

	if scale.Code == "" {
		scale.Code = code
	}
	if scale.MaxPoints == 0 {
		scale.MaxPoints = 4.0
	}
	if len(scale.Points) == 0 {
		return nil, fmt.Errorf("grade scale %q has no points table", code)
	}

	return &scale, nil
}

// LoadAllScales loads every gradescale_*.yaml from the scales directory.
func LoadAllScales(scalesDir string) (map[string]*GradeScale, error) {
	matches, err := filepath.Glob(filepath.Join(scalesDir, "gradescale_*.yaml"))
	if err != nil {
		return nil, err
	}

	scales := make(map[string]*GradeScale, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var scale GradeScale
		if err := yaml.Unmarshal(data, &scale); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if scale.Code == "" {
			// Extract code from filename: gradescale_ucb.yaml -> ucb
			base := filepath.Base(path)
			scale.Code = strings.TrimSuffix(strings.TrimPrefix(base, "gradescale_"), ".yaml")
		}
		if scale.MaxPoints == 0 {
			scale.MaxPoints = 4.0
		}

		scales[scale.Code] = &scale
	}

	return scales, nil
}
