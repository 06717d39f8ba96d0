// Package storage persists projects, data sources, deployments and
// per-deployment analytics. SQLite and PostgreSQL backends implement the
// same Store interface.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aibuilder/internal/core"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Project lifecycle statuses.
const (
	ProjectStatusDraft    = "draft"
	ProjectStatusBuilding = "building"
	ProjectStatusDeployed = "deployed"
	ProjectStatusError    = "error"
)

// Data source lifecycle statuses.
const (
	SourceStatusPending    = "pending"
	SourceStatusProcessing = "processing"
	SourceStatusReady      = "ready"
	SourceStatusError      = "error"
)

// Deployment lifecycle statuses.
const (
	DeployStatusDeploying = "deploying"
	DeployStatusActive    = "active"
	DeployStatusInactive  = "inactive"
	DeployStatusError     = "error"
)

// Project is a user-defined AI project.
type Project struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Type        core.TaskKind  `json:"type"`
	Status      string         `json:"status"`
	Config      map[string]any `json:"config"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DataSource is an attached input for a project.
type DataSource struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"project_id"`
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Status       string         `json:"status"`
	RowCount     int            `json:"row_count"`
	SourceConfig map[string]any `json:"source_config"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Deployment is a versioned live instance of a project's configured task.
// Config is opaque to the store; it embeds the model id, model parameters,
// scaling and rate-limit hints, and the issued API key.
type Deployment struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	Version     int            `json:"version"`
	Status      string         `json:"status"`
	EndpointURL string         `json:"endpoint_url"`
	Config      map[string]any `json:"deployment_config"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// APIKey returns the API key embedded in the deployment config, or "".
func (d *Deployment) APIKey() string {
	key, _ := d.Config["apiKey"].(string)
	return key
}

// DeploymentWithProject enriches a deployment with its project's name and type.
type DeploymentWithProject struct {
	Deployment
	ProjectName string        `json:"project_name"`
	ProjectType core.TaskKind `json:"project_type"`
}

// AnalyticsRecord holds usage counters for one deployment on one calendar day.
// AvgResponseTime is a weighted running mean, never recomputed from history.
type AnalyticsRecord struct {
	DeploymentID    string  `json:"deployment_id"`
	Date            string  `json:"date"`
	RequestCount    int     `json:"request_count"`
	SuccessCount    int     `json:"success_count"`
	ErrorCount      int     `json:"error_count"`
	AvgResponseTime float64 `json:"avg_response_time"`
}

// Store is the persistence interface shared by all backends.
// Implementations must be safe for concurrent use.
type Store interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context, userID string) ([]*Project, error)
	UpdateProject(ctx context.Context, p *Project) error

	CreateDataSource(ctx context.Context, ds *DataSource) error
	GetDataSource(ctx context.Context, id string) (*DataSource, error)
	ListDataSources(ctx context.Context, projectID string) ([]*DataSource, error)
	UpdateDataSource(ctx context.Context, ds *DataSource) error

	CreateDeployment(ctx context.Context, d *Deployment) error
	GetDeployment(ctx context.Context, id string) (*Deployment, error)
	GetDeploymentWithProject(ctx context.Context, id string) (*DeploymentWithProject, error)
	ListDeployments(ctx context.Context, userID, projectID string) ([]*DeploymentWithProject, error)
	LatestDeploymentVersion(ctx context.Context, projectID string) (int, error)
	UpdateDeployment(ctx context.Context, d *Deployment) error
	// FindActiveDeploymentByAPIKey returns the id of the single active
	// deployment whose embedded config key equals key, or ErrNotFound.
	FindActiveDeploymentByAPIKey(ctx context.Context, key string) (string, error)

	GetAnalytics(ctx context.Context, deploymentID, date string) (*AnalyticsRecord, error)
	UpsertAnalytics(ctx context.Context, rec *AnalyticsRecord) error
	// RecentAnalytics returns up to limit rows for a deployment, descending by date.
	RecentAnalytics(ctx context.Context, deploymentID string, limit int) ([]*AnalyticsRecord, error)
	// QueryAnalytics returns rows for a user's deployments and ad-hoc
	// project runs within the last days days, ascending by date,
	// optionally filtered by project.
	QueryAnalytics(ctx context.Context, userID, projectID string, days int) ([]*AnalyticsRecord, error)

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Type is "sqlite" or "postgresql".
	Type string
	// SQLitePath is the database file path (default: data/aibuilder.db).
	SQLitePath string
	// PostgresURL is the connection string for PostgreSQL.
	PostgresURL string
}

// New creates a Store based on the configuration.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLite(cfg.SQLitePath)
	case "postgresql":
		return NewPostgres(ctx, cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("unknown storage type: %s (valid: sqlite, postgresql)", cfg.Type)
	}
}

// Day formats a time as the calendar-day key used by analytics rows.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
