package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClearPath-Edu/articulate/core/pkg/model"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	seedRequirement(t, s)

	v1, err := s.PublishVersion(ctx, "req-cs-transfer", storableRules(), "registrar@ucb", []string{"initial"})
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)

	got, err := s.GetActiveVersion(ctx, "req-cs-transfer")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, got.ID)
	assert.Equal(t, 60.0, got.Rules.TotalCredits)
	require.Len(t, got.Rules.Equivalencies, 2)
	assert.Equal(t, []string{"initial"}, got.ChangeLog)

	req, err := s.GetRequirement(ctx, "req-cs-transfer")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPublished, req.Status)
	assert.Equal(t, 1, req.CurrentVersion)
}

func TestSQLiteStorePublishRejectsInvalidRules(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	seedRequirement(t, s)

	bad := storableRules()
	bad.Rules = append(bad.Rules, model.RequirementRule{
		ID: "a", Type: "course", Alternatives: []string{"a"},
	})

	_, err = s.PublishVersion(ctx, "req-cs-transfer", bad, "registrar@ucb", nil)
	assert.ErrorIs(t, err, ErrNotAdmitted)

	_, err = s.ListVersions(ctx, "req-cs-transfer")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStoreListVersionsOrdered(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	seedRequirement(t, s)
	for i := 0; i < 3; i++ {
		_, err := s.PublishVersion(ctx, "req-cs-transfer", storableRules(), "registrar@ucb", nil)
		require.NoError(t, err)
	}

	all, err := s.ListVersions(ctx, "req-cs-transfer")
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, v := range all {
		assert.Equal(t, i+1, v.Version)
	}
}
