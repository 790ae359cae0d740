package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ClearPath-Edu/articulate/core/pkg/engine"
	"github.com/ClearPath-Edu/articulate/core/pkg/model"
)

// SQLiteStore implements Store on an embedded SQLite database
// (modernc.org/sqlite, driver name "sqlite"). JSON payloads and
// timestamps are stored as TEXT; timestamps use RFC 3339.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenSQLiteStore opens (or creates) the database at path and ensures
// the schema exists. Use ":memory:" for tests.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS transfer_requirements (
	id TEXT PRIMARY KEY,
	source_institution_id TEXT NOT NULL,
	target_institution_id TEXT NOT NULL,
	major_code TEXT NOT NULL,
	status TEXT NOT NULL,
	effective_from TEXT,
	expires_at TEXT,
	current_version INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS requirement_versions (
	id TEXT NOT NULL,
	requirement_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	rules_json TEXT NOT NULL,
	published_by TEXT NOT NULL,
	published_at TEXT NOT NULL,
	engine_version TEXT NOT NULL,
	change_log TEXT,
	PRIMARY KEY (requirement_id, version)
);
`

func (s *SQLiteStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStore) SaveRequirement(ctx context.Context, req *model.TransferRequirement) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("store: requirement must have an id")
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now

	const query = `
		INSERT INTO transfer_requirements
			(id, source_institution_id, target_institution_id, major_code, status,
			 effective_from, expires_at, current_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			source_institution_id = excluded.source_institution_id,
			target_institution_id = excluded.target_institution_id,
			major_code = excluded.major_code,
			status = excluded.status,
			effective_from = excluded.effective_from,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		req.ID, req.SourceInstitutionID, req.TargetInstitutionID, req.MajorCode, string(req.Status),
		fmtTimePtr(req.EffectiveFrom), fmtTimePtr(req.ExpiresAt), req.CurrentVersion,
		fmtTime(req.CreatedAt), fmtTime(req.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: save requirement: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRequirement(ctx context.Context, id string) (*model.TransferRequirement, error) {
	const query = `
		SELECT id, source_institution_id, target_institution_id, major_code, status,
		       effective_from, expires_at, current_version, created_at, updated_at
		FROM transfer_requirements WHERE id = ?`

	var req model.TransferRequirement
	var status, createdAt, updatedAt string
	var effectiveFrom, expiresAt sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&req.ID, &req.SourceInstitutionID, &req.TargetInstitutionID, &req.MajorCode, &status,
		&effectiveFrom, &expiresAt, &req.CurrentVersion, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get requirement: %w", err)
	}
	req.Status = model.RequirementStatus(status)
	if req.EffectiveFrom, err = parseTimePtr(effectiveFrom); err != nil {
		return nil, fmt.Errorf("store: decode effective_from: %w", err)
	}
	if req.ExpiresAt, err = parseTimePtr(expiresAt); err != nil {
		return nil, fmt.Errorf("store: decode expires_at: %w", err)
	}
	if req.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("store: decode created_at: %w", err)
	}
	if req.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("store: decode updated_at: %w", err)
	}
	return &req, nil
}

func (s *SQLiteStore) PublishVersion(ctx context.Context, requirementID string, rules model.RequirementRules, publishedBy string, changeLog []string) (*model.RequirementVersion, error) {
	if err := admit(engine.Version, &rules); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin publish: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM requirement_versions WHERE requirement_id = ?`,
		requirementID).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("store: next version: %w", err)
	}

	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("store: marshal rules: %w", err)
	}
	changeJSON, err := json.Marshal(changeLog)
	if err != nil {
		return nil, fmt.Errorf("store: marshal change log: %w", err)
	}

	ver := &model.RequirementVersion{
		ID:            uuid.New().String(),
		RequirementID: requirementID,
		Version:       next,
		Rules:         rules,
		PublishedBy:   publishedBy,
		PublishedAt:   time.Now().UTC(),
		EngineVersion: engine.Version,
		ChangeLog:     append([]string(nil), changeLog...),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO requirement_versions
			(id, requirement_id, version, rules_json, published_by, published_at, engine_version, change_log)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ver.ID, ver.RequirementID, ver.Version, string(rulesJSON), ver.PublishedBy,
		fmtTime(ver.PublishedAt), ver.EngineVersion, string(changeJSON))
	if err != nil {
		return nil, fmt.Errorf("store: insert version: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE transfer_requirements
		SET status = ?, current_version = ?, updated_at = ?
		WHERE id = ?`,
		string(model.StatusPublished), ver.Version, fmtTime(ver.PublishedAt), requirementID)
	if err != nil {
		return nil, fmt.Errorf("store: mark published: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit publish: %w", err)
	}
	return ver, nil
}

func (s *SQLiteStore) GetActiveVersion(ctx context.Context, requirementID string) (*model.RequirementVersion, error) {
	req, err := s.GetRequirement(ctx, requirementID)
	if err != nil {
		return nil, err
	}
	if req.CurrentVersion == 0 {
		return nil, ErrNotFound
	}
	return s.GetVersion(ctx, requirementID, req.CurrentVersion)
}

func (s *SQLiteStore) GetVersion(ctx context.Context, requirementID string, version int) (*model.RequirementVersion, error) {
	const query = `
		SELECT id, requirement_id, version, rules_json, published_by, published_at, engine_version, change_log
		FROM requirement_versions WHERE requirement_id = ? AND version = ?`
	row := s.db.QueryRowContext(ctx, query, requirementID, version)
	return scanVersionText(row)
}

func (s *SQLiteStore) ListVersions(ctx context.Context, requirementID string) ([]model.RequirementVersion, error) {
	const query = `
		SELECT id, requirement_id, version, rules_json, published_by, published_at, engine_version, change_log
		FROM requirement_versions WHERE requirement_id = ? ORDER BY version ASC`
	rows, err := s.db.QueryContext(ctx, query, requirementID)
	if err != nil {
		return nil, fmt.Errorf("store: list versions: %w", err)
	}
	defer rows.Close()

	var out []model.RequirementVersion
	for rows.Next() {
		ver, err := scanVersionText(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ver)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list versions: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func scanVersionText(row rowScanner) (*model.RequirementVersion, error) {
	var ver model.RequirementVersion
	var rulesJSON, publishedAt string
	var changeJSON sql.NullString
	err := row.Scan(&ver.ID, &ver.RequirementID, &ver.Version, &rulesJSON,
		&ver.PublishedBy, &publishedAt, &ver.EngineVersion, &changeJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan version: %w", err)
	}
	if err := json.Unmarshal([]byte(rulesJSON), &ver.Rules); err != nil {
		return nil, fmt.Errorf("store: decode rules: %w", err)
	}
	if ver.PublishedAt, err = parseTime(publishedAt); err != nil {
		return nil, fmt.Errorf("store: decode published_at: %w", err)
	}
	if changeJSON.Valid && changeJSON.String != "" {
		if err := json.Unmarshal([]byte(changeJSON.String), &ver.ChangeLog); err != nil {
			return nil, fmt.Errorf("store: decode change log: %w", err)
		}
	}
	return &ver, nil
}
