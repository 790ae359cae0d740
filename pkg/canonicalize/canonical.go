// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization for deterministic hashing of validation inputs and
// results, and builds the stable cache keys callers may layer on top of
// the engine.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"

	"github.com/ClearPath-Edu/articulate/core/pkg/model"
)

// Canonical returns the RFC 8785 canonical JSON form of v. Struct json
// tags are respected; key order and number formatting are normalized by
// the JCS transform.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal failed: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: jcs transform failed: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 hex digest of the canonical form of v.
func Hash(v any) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// CacheKey derives a stable key for one evaluation: the version id plus
// the student course list (sorted, so submission order never changes the
// key) and academic info. Cache entries built on this key must stay
// short-lived since course and GPA data change between calls.
func CacheKey(versionID string, courses []model.StudentCourseRecord, academic model.AcademicInfo) (string, error) {
	sorted := append([]model.StudentCourseRecord(nil), courses...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CourseCode != sorted[j].CourseCode {
			return sorted[i].CourseCode < sorted[j].CourseCode
		}
		return sorted[i].Term < sorted[j].Term
	})

	digest, err := Hash(map[string]any{
		"version_id": versionID,
		"courses":    sorted,
		"academic":   academic,
	})
	if err != nil {
		return "", err
	}
	return "articulate:result:" + digest, nil
}
