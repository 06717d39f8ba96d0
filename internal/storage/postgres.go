package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"aibuilder/internal/core"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'draft',
	config JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_user ON projects(user_id);

CREATE TABLE IF NOT EXISTS data_sources (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	row_count INTEGER NOT NULL DEFAULT 0,
	source_config JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_data_sources_project ON data_sources(project_id);

CREATE TABLE IF NOT EXISTS deployments (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	version INTEGER NOT NULL,
	status TEXT NOT NULL,
	endpoint_url TEXT NOT NULL DEFAULT '',
	deployment_config JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deployments_project ON deployments(project_id);
CREATE INDEX IF NOT EXISTS idx_deployments_api_key
	ON deployments((deployment_config ->> 'apiKey'));

-- deployment_id also holds a project id for ad-hoc builder runs, so it
-- carries no foreign key.
CREATE TABLE IF NOT EXISTS analytics (
	deployment_id TEXT NOT NULL,
	date TEXT NOT NULL,
	request_count INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	avg_response_time DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (deployment_id, date)
);
`

// postgresStore implements Store on PostgreSQL via pgxpool.
type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to PostgreSQL and ensures the schema exists.
func NewPostgres(ctx context.Context, url string) (Store, error) {
	if url == "" {
		return nil, errors.New("POSTGRES_URL is required for postgresql storage")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL URL: %w", err)
	}
	cfg.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	// pgx's extended protocol rejects multi-statement strings, so run the
	// schema one statement at a time.
	for _, stmt := range strings.Split(postgresSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func pgConfig(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return b, nil
}

func pgDecodeConfig(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return m, nil
}

func (s *postgresStore) CreateProject(ctx context.Context, p *Project) error {
	cfg, err := pgConfig(p.Config)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO projects (id, user_id, name, description, type, status, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.UserID, p.Name, p.Description, string(p.Type), p.Status, cfg, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

func (s *postgresStore) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	var taskType string
	var cfg []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, name, description, type, status, config, created_at, updated_at
		FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &taskType, &p.Status, &cfg, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	p.Type = core.TaskKind(taskType)
	if p.Config, err = pgDecodeConfig(cfg); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *postgresStore) ListProjects(ctx context.Context, userID string) ([]*Project, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, name, description, type, status, config, created_at, updated_at
		FROM projects WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		var p Project
		var taskType string
		var cfg []byte
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &taskType, &p.Status, &cfg, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.Type = core.TaskKind(taskType)
		if p.Config, err = pgDecodeConfig(cfg); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *postgresStore) UpdateProject(ctx context.Context, p *Project) error {
	cfg, err := pgConfig(p.Config)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE projects SET name = $1, description = $2, status = $3, config = $4, updated_at = $5
		WHERE id = $6`,
		p.Name, p.Description, p.Status, cfg, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) CreateDataSource(ctx context.Context, ds *DataSource) error {
	cfg, err := pgConfig(ds.SourceConfig)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO data_sources (id, project_id, name, type, status, row_count, source_config, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ds.ID, ds.ProjectID, ds.Name, ds.Type, ds.Status, ds.RowCount, cfg, ds.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert data source: %w", err)
	}
	return nil
}

func (s *postgresStore) GetDataSource(ctx context.Context, id string) (*DataSource, error) {
	var ds DataSource
	var cfg []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, name, type, status, row_count, source_config, created_at
		FROM data_sources WHERE id = $1`, id).
		Scan(&ds.ID, &ds.ProjectID, &ds.Name, &ds.Type, &ds.Status, &ds.RowCount, &cfg, &ds.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan data source: %w", err)
	}
	if ds.SourceConfig, err = pgDecodeConfig(cfg); err != nil {
		return nil, err
	}
	return &ds, nil
}

func (s *postgresStore) ListDataSources(ctx context.Context, projectID string) ([]*DataSource, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, name, type, status, row_count, source_config, created_at
		FROM data_sources WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query data sources: %w", err)
	}
	defer rows.Close()

	var out []*DataSource
	for rows.Next() {
		var ds DataSource
		var cfg []byte
		if err := rows.Scan(&ds.ID, &ds.ProjectID, &ds.Name, &ds.Type, &ds.Status, &ds.RowCount, &cfg, &ds.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan data source: %w", err)
		}
		if ds.SourceConfig, err = pgDecodeConfig(cfg); err != nil {
			return nil, err
		}
		out = append(out, &ds)
	}
	return out, rows.Err()
}

func (s *postgresStore) UpdateDataSource(ctx context.Context, ds *DataSource) error {
	cfg, err := pgConfig(ds.SourceConfig)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE data_sources SET name = $1, status = $2, row_count = $3, source_config = $4
		WHERE id = $5`,
		ds.Name, ds.Status, ds.RowCount, cfg, ds.ID)
	if err != nil {
		return fmt.Errorf("failed to update data source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) CreateDeployment(ctx context.Context, d *Deployment) error {
	cfg, err := pgConfig(d.Config)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO deployments (id, project_id, version, status, endpoint_url, deployment_config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.ProjectID, d.Version, d.Status, d.EndpointURL, cfg, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert deployment: %w", err)
	}
	return nil
}

func (s *postgresStore) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	var d Deployment
	var cfg []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, version, status, endpoint_url, deployment_config, created_at, updated_at
		FROM deployments WHERE id = $1`, id).
		Scan(&d.ID, &d.ProjectID, &d.Version, &d.Status, &d.EndpointURL, &cfg, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan deployment: %w", err)
	}
	if d.Config, err = pgDecodeConfig(cfg); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *postgresStore) GetDeploymentWithProject(ctx context.Context, id string) (*DeploymentWithProject, error) {
	var d DeploymentWithProject
	var projectType string
	var cfg []byte
	err := s.pool.QueryRow(ctx, `
		SELECT d.id, d.project_id, d.version, d.status, d.endpoint_url, d.deployment_config,
		       d.created_at, d.updated_at, p.name, p.type
		FROM deployments d JOIN projects p ON p.id = d.project_id
		WHERE d.id = $1`, id).
		Scan(&d.ID, &d.ProjectID, &d.Version, &d.Status, &d.EndpointURL, &cfg,
			&d.CreatedAt, &d.UpdatedAt, &d.ProjectName, &projectType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan deployment: %w", err)
	}
	d.ProjectType = core.TaskKind(projectType)
	if d.Config, err = pgDecodeConfig(cfg); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *postgresStore) ListDeployments(ctx context.Context, userID, projectID string) ([]*DeploymentWithProject, error) {
	query := `
		SELECT d.id, d.project_id, d.version, d.status, d.endpoint_url, d.deployment_config,
		       d.created_at, d.updated_at, p.name, p.type
		FROM deployments d JOIN projects p ON p.id = d.project_id
		WHERE p.user_id = $1`
	args := []any{userID}
	if projectID != "" {
		query += " AND d.project_id = $2"
		args = append(args, projectID)
	}
	query += " ORDER BY d.created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployments: %w", err)
	}
	defer rows.Close()

	var out []*DeploymentWithProject
	for rows.Next() {
		var d DeploymentWithProject
		var projectType string
		var cfg []byte
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Version, &d.Status, &d.EndpointURL, &cfg,
			&d.CreatedAt, &d.UpdatedAt, &d.ProjectName, &projectType); err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		d.ProjectType = core.TaskKind(projectType)
		if d.Config, err = pgDecodeConfig(cfg); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *postgresStore) LatestDeploymentVersion(ctx context.Context, projectID string) (int, error) {
	var version *int
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(version) FROM deployments WHERE project_id = $1`, projectID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query latest version: %w", err)
	}
	if version == nil {
		return 0, nil
	}
	return *version, nil
}

func (s *postgresStore) UpdateDeployment(ctx context.Context, d *Deployment) error {
	cfg, err := pgConfig(d.Config)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE deployments SET status = $1, endpoint_url = $2, deployment_config = $3, updated_at = $4
		WHERE id = $5`,
		d.Status, d.EndpointURL, cfg, d.UpdatedAt, d.ID)
	if err != nil {
		return fmt.Errorf("failed to update deployment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) FindActiveDeploymentByAPIKey(ctx context.Context, key string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM deployments
		WHERE deployment_config ->> 'apiKey' = $1 AND status = $2`,
		key, DeployStatusActive).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up API key: %w", err)
	}
	return id, nil
}

func (s *postgresStore) GetAnalytics(ctx context.Context, deploymentID, date string) (*AnalyticsRecord, error) {
	var rec AnalyticsRecord
	err := s.pool.QueryRow(ctx, `
		SELECT deployment_id, date, request_count, success_count, error_count, avg_response_time
		FROM analytics WHERE deployment_id = $1 AND date = $2`, deploymentID, date).
		Scan(&rec.DeploymentID, &rec.Date, &rec.RequestCount, &rec.SuccessCount, &rec.ErrorCount, &rec.AvgResponseTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan analytics: %w", err)
	}
	return &rec, nil
}

func (s *postgresStore) UpsertAnalytics(ctx context.Context, rec *AnalyticsRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO analytics (deployment_id, date, request_count, success_count, error_count, avg_response_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (deployment_id, date) DO UPDATE SET
			request_count = EXCLUDED.request_count,
			success_count = EXCLUDED.success_count,
			error_count = EXCLUDED.error_count,
			avg_response_time = EXCLUDED.avg_response_time`,
		rec.DeploymentID, rec.Date, rec.RequestCount, rec.SuccessCount, rec.ErrorCount, rec.AvgResponseTime)
	if err != nil {
		return fmt.Errorf("failed to upsert analytics: %w", err)
	}
	return nil
}

func (s *postgresStore) RecentAnalytics(ctx context.Context, deploymentID string, limit int) ([]*AnalyticsRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT deployment_id, date, request_count, success_count, error_count, avg_response_time
		FROM analytics WHERE deployment_id = $1
		ORDER BY date DESC LIMIT $2`, deploymentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query analytics: %w", err)
	}
	defer rows.Close()
	return pgScanAnalytics(rows)
}

func (s *postgresStore) QueryAnalytics(ctx context.Context, userID, projectID string, days int) ([]*AnalyticsRecord, error) {
	cutoff := Day(time.Now().AddDate(0, 0, -days))
	// Ad-hoc builder runs are keyed by project id, so resolve the owning
	// project through the deployment when one exists and directly otherwise.
	query := `
		SELECT a.deployment_id, a.date, a.request_count, a.success_count, a.error_count, a.avg_response_time
		FROM analytics a
		LEFT JOIN deployments d ON d.id = a.deployment_id
		JOIN projects p ON p.id = COALESCE(d.project_id, a.deployment_id)
		WHERE p.user_id = $1 AND a.date >= $2`
	args := []any{userID, cutoff}
	if projectID != "" {
		query += " AND p.id = $3"
		args = append(args, projectID)
	}
	query += " ORDER BY a.date ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analytics: %w", err)
	}
	defer rows.Close()
	return pgScanAnalytics(rows)
}

func pgScanAnalytics(rows pgx.Rows) ([]*AnalyticsRecord, error) {
	var out []*AnalyticsRecord
	for rows.Next() {
		var rec AnalyticsRecord
		if err := rows.Scan(&rec.DeploymentID, &rec.Date, &rec.RequestCount, &rec.SuccessCount, &rec.ErrorCount, &rec.AvgResponseTime); err != nil {
			return nil, fmt.Errorf("failed to scan analytics: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
