package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClearPath-Edu/articulate/core/pkg/engine"
)

func TestPostgresStoreGetRequirement(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "source_institution_id", "target_institution_id", "major_code", "status",
		"effective_from", "expires_at", "current_version", "created_at", "updated_at",
	}).AddRow("req-1", "ccsf", "ucb", "CS", "published", nil, nil, 3, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, source_institution_id")).
		WithArgs("req-1").
		WillReturnRows(rows)

	req, err := s.GetRequirement(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "CS", req.MajorCode)
	assert.Equal(t, 3, req.CurrentVersion)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, source_institution_id")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = s.GetRequirement(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorePublishVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) + 1")).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(4))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO requirement_versions")).
		WithArgs(sqlmock.AnyArg(), "req-1", 4, sqlmock.AnyArg(), "registrar@ucb",
			sqlmock.AnyArg(), engine.Version, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE transfer_requirements")).
		WithArgs("published", 4, sqlmock.AnyArg(), "req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ver, err := s.PublishVersion(ctx, "req-1", storableRules(), "registrar@ucb", []string{"initial"})
	require.NoError(t, err)
	assert.Equal(t, 4, ver.Version)
	assert.Equal(t, engine.Version, ver.EngineVersion)
	assert.NotEmpty(t, ver.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorePublishRejectedBeforeAnyQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)

	bad := storableRules()
	bad.TotalCredits = 0

	_, err = s.PublishVersion(context.Background(), "req-1", bad, "registrar@ucb", nil)
	assert.ErrorIs(t, err, ErrNotAdmitted)

	// The admission gate fired before the store touched the database.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorePublishUnknownRequirement(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) + 1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO requirement_versions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE transfer_requirements")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err = s.PublishVersion(context.Background(), "ghost", storableRules(), "registrar@ucb", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)
	ctx := context.Background()

	rulesJSON, err := json.Marshal(storableRules())
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{
		"id", "requirement_id", "version", "rules_json", "published_by",
		"published_at", "engine_version", "change_log",
	}).AddRow("ver-abc", "req-1", 2, rulesJSON, "registrar@ucb", time.Now().UTC(), "1.0.0", []byte(`["tweak"]`))

	mock.ExpectQuery(regexp.QuoteMeta("FROM requirement_versions WHERE requirement_id = $1 AND version = $2")).
		WithArgs("req-1", 2).
		WillReturnRows(rows)

	ver, err := s.GetVersion(ctx, "req-1", 2)
	require.NoError(t, err)
	assert.Equal(t, "ver-abc", ver.ID)
	assert.Equal(t, 60.0, ver.Rules.TotalCredits)
	assert.Equal(t, []string{"tweak"}, ver.ChangeLog)

	mock.ExpectQuery(regexp.QuoteMeta("FROM requirement_versions WHERE requirement_id = $1 AND version = $2")).
		WithArgs("req-1", 9).
		WillReturnError(sql.ErrNoRows)

	_, err = s.GetVersion(ctx, "req-1", 9)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
