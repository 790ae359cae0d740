package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ClearPath-Edu/articulate/core/pkg/engine"
	"github.com/ClearPath-Edu/articulate/core/pkg/model"
)

// PostgresStore implements Store with SQL persistence. Rule-set snapshots
// live as JSONB keyed by (requirement_id, version), mirroring how
// versioned payloads are usually registered.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle (lib/pq driver).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS transfer_requirements (
	id TEXT PRIMARY KEY,
	source_institution_id TEXT NOT NULL,
	target_institution_id TEXT NOT NULL,
	major_code TEXT NOT NULL,
	status TEXT NOT NULL,
	effective_from TIMESTAMPTZ,
	expires_at TIMESTAMPTZ,
	current_version INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS requirement_versions (
	id TEXT NOT NULL,
	requirement_id TEXT NOT NULL REFERENCES transfer_requirements(id),
	version INT NOT NULL,
	rules_json JSONB NOT NULL,
	published_by TEXT NOT NULL,
	published_at TIMESTAMPTZ NOT NULL,
	engine_version TEXT NOT NULL,
	change_log JSONB,
	PRIMARY KEY (requirement_id, version)
);
`

// Init creates the schema.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgSchema)
	return err
}

func (s *PostgresStore) SaveRequirement(ctx context.Context, req *model.TransferRequirement) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			source_institution_id = EXCLUDED.source_institution_id,
			target_institution_id = EXCLUDED.target_institution_id,
			major_code = EXCLUDED.major_code,
			status = EXCLUDED.status,
			effective_from = EXCLUDED.effective_from,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		req.ID, req.SourceInstitutionID, req.TargetInstitutionID, req.MajorCode, string(req.Status),
		req.EffectiveFrom, req.ExpiresAt, req.CurrentVersion, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: save requirement: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRequirement(ctx context.Context, id string) (*model.TransferRequirement, error) {
	const query = `
		SELECT id, source_institution_id, target_institution_id, major_code, status,
		       effective_from, expires_at, current_version, created_at, updated_at
		FROM transfer_requirements WHERE id = $1`

	var req model.TransferRequirement
	var status string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&req.ID, &req.SourceInstitutionID, &req.TargetInstitutionID, &req.MajorCode, &status,
		&req.EffectiveFrom, &req.ExpiresAt, &req.CurrentVersion, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get requirement: %w", err)
	}
	req.Status = model.RequirementStatus(status)
	return &req, nil
}

func (s *PostgresStore) PublishVersion(ctx context.Context, requirementID string, rules model.RequirementRules, publishedBy string, changeLog []string) (*model.RequirementVersion, error) {
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
		`SELECT COALESCE(MAX(version), 0) + 1 FROM requirement_versions WHERE requirement_id = $1`,
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ver.ID, ver.RequirementID, ver.Version, rulesJSON, ver.PublishedBy, ver.PublishedAt, ver.EngineVersion, changeJSON)
	if err != nil {
		return nil, fmt.Errorf("store: insert version: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE transfer_requirements
		SET status = $1, current_version = $2, updated_at = $3
		WHERE id = $4`,
		string(model.StatusPublished), ver.Version, ver.PublishedAt, requirementID)
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

func (s *PostgresStore) GetActiveVersion(ctx context.Context, requirementID string) (*model.RequirementVersion, error) {
	req, err := s.GetRequirement(ctx, requirementID)
	if err != nil {
		return nil, err
	}
	if req.CurrentVersion == 0 {
		return nil, ErrNotFound
	}
	return s.GetVersion(ctx, requirementID, req.CurrentVersion)
}

func (s *PostgresStore) GetVersion(ctx context.Context, requirementID string, version int) (*model.RequirementVersion, error) {
	const query = `
		SELECT id, requirement_id, version, rules_json, published_by, published_at, engine_version, change_log
		FROM requirement_versions WHERE requirement_id = $1 AND version = $2`
	row := s.db.QueryRowContext(ctx, query, requirementID, version)
	return scanVersion(row)
}

func (s *PostgresStore) ListVersions(ctx context.Context, requirementID string) ([]model.RequirementVersion, error) {
	const query = `
		SELECT id, requirement_id, version, rules_json, published_by, published_at, engine_version, change_log
		FROM requirement_versions WHERE requirement_id = $1 ORDER BY version ASC`
	rows, err := s.db.QueryContext(ctx, query, requirementID)
	if err != nil {
		return nil, fmt.Errorf("store: list versions: %w", err)
	}
	defer rows.Close()

	var out []model.RequirementVersion
	for rows.Next() {
		ver, err := scanVersion(rows)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*model.RequirementVersion, error) {
	var ver model.RequirementVersion
	var rulesJSON, changeJSON []byte
	err := row.Scan(&ver.ID, &ver.RequirementID, &ver.Version, &rulesJSON,
		&ver.PublishedBy, &ver.PublishedAt, &ver.EngineVersion, &changeJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan version: %w", err)
	}
	if err := json.Unmarshal(rulesJSON, &ver.Rules); err != nil {
		return nil, fmt.Errorf("store: decode rules: %w", err)
	}
	if len(changeJSON) > 0 {
		if err := json.Unmarshal(changeJSON, &ver.ChangeLog); err != nil {
			return nil, fmt.Errorf("store: decode change log: %w", err)
		}
	}
	return &ver, nil
}
