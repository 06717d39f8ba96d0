package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"aibuilder/internal/core"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'draft',
	config JSON,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_user ON projects(user_id);

CREATE TABLE IF NOT EXISTS data_sources (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	row_count INTEGER NOT NULL DEFAULT 0,
	source_config JSON,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_data_sources_project ON data_sources(project_id);

CREATE TABLE IF NOT EXISTS deployments (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	version INTEGER NOT NULL,
	status TEXT NOT NULL,
	endpoint_url TEXT NOT NULL DEFAULT '',
	deployment_config JSON,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deployments_project ON deployments(project_id);
CREATE INDEX IF NOT EXISTS idx_deployments_api_key
	ON deployments(json_extract(deployment_config, '$.apiKey'));

-- deployment_id also holds a project id for ad-hoc builder runs, so it
-- carries no foreign key.
CREATE TABLE IF NOT EXISTS analytics (
	deployment_id TEXT NOT NULL,
	date TEXT NOT NULL,
	request_count INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	avg_response_time REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (deployment_id, date)
);
`

// sqliteStore implements Store on SQLite.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) a SQLite-backed store.
// WAL mode allows concurrent reads while writing.
func NewSQLite(path string) (Store, error) {
	if path == "" {
		path = "data/aibuilder.db"
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite only allows one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

// sqliteDSN appends the connection pragmas in the _pragma form the modernc
// driver understands.
func sqliteDSN(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
}

// NewSQLiteFromDB wraps an existing connection, used by tests with an
// in-memory database.
func NewSQLiteFromDB(db *sql.DB) (Store, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// marshalJSON serializes a config map for a JSON column; nil maps become NULL.
func marshalJSON(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(b), nil
}

// unmarshalJSON decodes a JSON column into a map; NULL yields an empty map.
func unmarshalJSON(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return m, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func (s *sqliteStore) CreateProject(ctx context.Context, p *Project) error {
	cfg, err := marshalJSON(p.Config)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, user_id, name, description, type, status, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.Description, string(p.Type), p.Status, cfg,
		fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

func (s *sqliteStore) scanProject(row *sql.Row) (*Project, error) {
	var p Project
	var taskType, createdAt, updatedAt string
	var cfg sql.NullString
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &taskType, &p.Status, &cfg, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	p.Type = core.TaskKind(taskType)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	if p.Config, err = unmarshalJSON(cfg); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *sqliteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, type, status, config, created_at, updated_at
		FROM projects WHERE id = ?`, id)
	return s.scanProject(row)
}

func (s *sqliteStore) ListProjects(ctx context.Context, userID string) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, description, type, status, config, created_at, updated_at
		FROM projects WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []*Project
	for rows.Next() {
		var p Project
		var taskType, createdAt, updatedAt string
		var cfg sql.NullString
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &taskType, &p.Status, &cfg, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.Type = core.TaskKind(taskType)
		p.CreatedAt = parseTime(createdAt)
		p.UpdatedAt = parseTime(updatedAt)
		if p.Config, err = unmarshalJSON(cfg); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateProject(ctx context.Context, p *Project) error {
	cfg, err := marshalJSON(p.Config)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET name = ?, description = ?, status = ?, config = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Description, p.Status, cfg, fmtTime(p.UpdatedAt), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return requireRow(res)
}

func (s *sqliteStore) CreateDataSource(ctx context.Context, ds *DataSource) error {
	cfg, err := marshalJSON(ds.SourceConfig)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO data_sources (id, project_id, name, type, status, row_count, source_config, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.ProjectID, ds.Name, ds.Type, ds.Status, ds.RowCount, cfg, fmtTime(ds.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert data source: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetDataSource(ctx context.Context, id string) (*DataSource, error) {
	var ds DataSource
	var createdAt string
	var cfg sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, type, status, row_count, source_config, created_at
		FROM data_sources WHERE id = ?`, id).
		Scan(&ds.ID, &ds.ProjectID, &ds.Name, &ds.Type, &ds.Status, &ds.RowCount, &cfg, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan data source: %w", err)
	}
	ds.CreatedAt = parseTime(createdAt)
	if ds.SourceConfig, err = unmarshalJSON(cfg); err != nil {
		return nil, err
	}
	return &ds, nil
}

func (s *sqliteStore) ListDataSources(ctx context.Context, projectID string) ([]*DataSource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, type, status, row_count, source_config, created_at
		FROM data_sources WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query data sources: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []*DataSource
	for rows.Next() {
		var ds DataSource
		var createdAt string
		var cfg sql.NullString
		if err := rows.Scan(&ds.ID, &ds.ProjectID, &ds.Name, &ds.Type, &ds.Status, &ds.RowCount, &cfg, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan data source: %w", err)
		}
		ds.CreatedAt = parseTime(createdAt)
		if ds.SourceConfig, err = unmarshalJSON(cfg); err != nil {
			return nil, err
		}
		out = append(out, &ds)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateDataSource(ctx context.Context, ds *DataSource) error {
	cfg, err := marshalJSON(ds.SourceConfig)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE data_sources SET name = ?, status = ?, row_count = ?, source_config = ?
		WHERE id = ?`,
		ds.Name, ds.Status, ds.RowCount, cfg, ds.ID)
	if err != nil {
		return fmt.Errorf("failed to update data source: %w", err)
	}
	return requireRow(res)
}

func (s *sqliteStore) CreateDeployment(ctx context.Context, d *Deployment) error {
	cfg, err := marshalJSON(d.Config)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deployments (id, project_id, version, status, endpoint_url, deployment_config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.Version, d.Status, d.EndpointURL, cfg, fmtTime(d.CreatedAt), fmtTime(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert deployment: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	var d Deployment
	var createdAt, updatedAt string
	var cfg sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, version, status, endpoint_url, deployment_config, created_at, updated_at
		FROM deployments WHERE id = ?`, id).
		Scan(&d.ID, &d.ProjectID, &d.Version, &d.Status, &d.EndpointURL, &cfg, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan deployment: %w", err)
	}
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	if d.Config, err = unmarshalJSON(cfg); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *sqliteStore) GetDeploymentWithProject(ctx context.Context, id string) (*DeploymentWithProject, error) {
	var d DeploymentWithProject
	var projectType, createdAt, updatedAt string
	var cfg sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT d.id, d.project_id, d.version, d.status, d.endpoint_url, d.deployment_config,
		       d.created_at, d.updated_at, p.name, p.type
		FROM deployments d JOIN projects p ON p.id = d.project_id
		WHERE d.id = ?`, id).
		Scan(&d.ID, &d.ProjectID, &d.Version, &d.Status, &d.EndpointURL, &cfg,
			&createdAt, &updatedAt, &d.ProjectName, &projectType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan deployment: %w", err)
	}
	d.ProjectType = core.TaskKind(projectType)
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	if d.Config, err = unmarshalJSON(cfg); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *sqliteStore) ListDeployments(ctx context.Context, userID, projectID string) ([]*DeploymentWithProject, error) {
	query := `
		SELECT d.id, d.project_id, d.version, d.status, d.endpoint_url, d.deployment_config,
		       d.created_at, d.updated_at, p.name, p.type
		FROM deployments d JOIN projects p ON p.id = d.project_id
		WHERE p.user_id = ?`
	args := []any{userID}
	if projectID != "" {
		query += " AND d.project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY d.created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployments: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []*DeploymentWithProject
	for rows.Next() {
		var d DeploymentWithProject
		var projectType, createdAt, updatedAt string
		var cfg sql.NullString
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Version, &d.Status, &d.EndpointURL, &cfg,
			&createdAt, &updatedAt, &d.ProjectName, &projectType); err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		d.ProjectType = core.TaskKind(projectType)
		d.CreatedAt = parseTime(createdAt)
		d.UpdatedAt = parseTime(updatedAt)
		if d.Config, err = unmarshalJSON(cfg); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) LatestDeploymentVersion(ctx context.Context, projectID string) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM deployments WHERE project_id = ?`, projectID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query latest version: %w", err)
	}
	return int(version.Int64), nil
}

func (s *sqliteStore) UpdateDeployment(ctx context.Context, d *Deployment) error {
	cfg, err := marshalJSON(d.Config)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET status = ?, endpoint_url = ?, deployment_config = ?, updated_at = ?
		WHERE id = ?`,
		d.Status, d.EndpointURL, cfg, fmtTime(d.UpdatedAt), d.ID)
	if err != nil {
		return fmt.Errorf("failed to update deployment: %w", err)
	}
	return requireRow(res)
}

func (s *sqliteStore) FindActiveDeploymentByAPIKey(ctx context.Context, key string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM deployments
		WHERE json_extract(deployment_config, '$.apiKey') = ? AND status = ?`,
		key, DeployStatusActive).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up API key: %w", err)
	}
	return id, nil
}

func (s *sqliteStore) GetAnalytics(ctx context.Context, deploymentID, date string) (*AnalyticsRecord, error) {
	var rec AnalyticsRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT deployment_id, date, request_count, success_count, error_count, avg_response_time
		FROM analytics WHERE deployment_id = ? AND date = ?`, deploymentID, date).
		Scan(&rec.DeploymentID, &rec.Date, &rec.RequestCount, &rec.SuccessCount, &rec.ErrorCount, &rec.AvgResponseTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan analytics: %w", err)
	}
	return &rec, nil
}

func (s *sqliteStore) UpsertAnalytics(ctx context.Context, rec *AnalyticsRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analytics (deployment_id, date, request_count, success_count, error_count, avg_response_time)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (deployment_id, date) DO UPDATE SET
			request_count = excluded.request_count,
			success_count = excluded.success_count,
			error_count = excluded.error_count,
			avg_response_time = excluded.avg_response_time`,
		rec.DeploymentID, rec.Date, rec.RequestCount, rec.SuccessCount, rec.ErrorCount, rec.AvgResponseTime)
	if err != nil {
		return fmt.Errorf("failed to upsert analytics: %w", err)
	}
	return nil
}

func (s *sqliteStore) RecentAnalytics(ctx context.Context, deploymentID string, limit int) ([]*AnalyticsRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT deployment_id, date, request_count, success_count, error_count, avg_response_time
		FROM analytics WHERE deployment_id = ?
		ORDER BY date DESC LIMIT ?`, deploymentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query analytics: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	return scanAnalyticsRows(rows)
}

func (s *sqliteStore) QueryAnalytics(ctx context.Context, userID, projectID string, days int) ([]*AnalyticsRecord, error) {
	cutoff := Day(time.Now().AddDate(0, 0, -days))
	// Ad-hoc builder runs are keyed by project id, so resolve the owning
	// project through the deployment when one exists and directly otherwise.
	query := `
		SELECT a.deployment_id, a.date, a.request_count, a.success_count, a.error_count, a.avg_response_time
		FROM analytics a
		LEFT JOIN deployments d ON d.id = a.deployment_id
		JOIN projects p ON p.id = COALESCE(d.project_id, a.deployment_id)
		WHERE p.user_id = ? AND a.date >= ?`
	args := []any{userID, cutoff}
	if projectID != "" {
		query += " AND p.id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY a.date ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analytics: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	return scanAnalyticsRows(rows)
}

func scanAnalyticsRows(rows *sql.Rows) ([]*AnalyticsRecord, error) {
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

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
