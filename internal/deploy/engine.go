// Package deploy manages deployment lifecycle and multi-tenant dispatch:
// creating versioned deployments with issued API keys, validating those keys,
// and executing the deployed task against the configured model.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"aibuilder/internal/cache"
	"aibuilder/internal/core"
	"aibuilder/internal/observability"
	"aibuilder/internal/storage"
	"aibuilder/internal/tasks"
)

// Default deployment config applied when the caller omits a section.
var (
	defaultModelConfig = map[string]any{
		"temperature": 0.7,
		"maxTokens":   2048,
	}
	defaultScaling = map[string]any{
		"minInstances": 1,
		"maxInstances": 10,
		"targetCPU":    70,
	}
	defaultRateLimit = map[string]any{
		"requestsPerMinute": 100,
		"requestsPerHour":   1000,
	}
)

// Engine orchestrates deployments over a Store, with a short-TTL cache in
// front of deployment reads on the dispatch path.
type Engine struct {
	store   storage.Store
	cache   cache.Cache
	tasks   *tasks.Handler
	siteURL string
}

// NewEngine wires the engine. siteURL is the public base used to build
// endpoint URLs (default http://localhost:3000).
func NewEngine(store storage.Store, c cache.Cache, handler *tasks.Handler, siteURL string) *Engine {
	if siteURL == "" {
		siteURL = "http://localhost:3000"
	}
	return &Engine{store: store, cache: c, tasks: handler, siteURL: siteURL}
}

// DeployRequest describes a new deployment. Omitted config sections fall
// back to the defaults above.
type DeployRequest struct {
	ProjectID   string         `json:"projectId"`
	ModelID     string         `json:"modelId"`
	ModelConfig map[string]any `json:"modelConfig"`
	Scaling     map[string]any `json:"scaling"`
	RateLimit   map[string]any `json:"rateLimit"`
}

// DeployResult is returned to the caller after a successful deploy. This is
// the only time the API key is shown in full.
type DeployResult struct {
	DeploymentID string    `json:"deploymentId"`
	EndpointURL  string    `json:"endpointUrl"`
	APIKey       string    `json:"apiKey"`
	Status       string    `json:"status"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Deploy creates the next version of a project's deployment: allocates the
// version number, issues an API key, persists the record as "deploying",
// then activates it and seeds a zeroed analytics row for today.
func (e *Engine) Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error) {
	p, err := e.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, core.NewNotFoundError("project not found")
		}
		return nil, fmt.Errorf("deployment failed: %w", err)
	}

	latest, err := e.store.LatestDeploymentVersion(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("deployment failed: %w", err)
	}
	version := latest + 1

	apiKey, err := NewAPIKey()
	if err != nil {
		return nil, fmt.Errorf("deployment failed: %w", err)
	}

	modelConfig := req.ModelConfig
	if modelConfig == nil {
		modelConfig = defaultModelConfig
	}
	scaling := req.Scaling
	if scaling == nil {
		scaling = defaultScaling
	}
	rateLimit := req.RateLimit
	if rateLimit == nil {
		rateLimit = defaultRateLimit
	}

	now := time.Now()
	d := &storage.Deployment{
		ID:        uuid.NewString(),
		ProjectID: req.ProjectID,
		Version:   version,
		Status:    storage.DeployStatusDeploying,
		Config: map[string]any{
			"modelId":     req.ModelID,
			"modelConfig": modelConfig,
			"scaling":     scaling,
			"rateLimit":   rateLimit,
			"apiKey":      apiKey,
			"deployedAt":  now.UTC().Format(time.RFC3339),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateDeployment(ctx, d); err != nil {
		return nil, fmt.Errorf("deployment failed: %w", err)
	}

	d.EndpointURL = fmt.Sprintf("%s/api/deployed/%s", e.siteURL, d.ID)
	d.Status = storage.DeployStatusActive
	d.UpdatedAt = time.Now()
	if err := e.store.UpdateDeployment(ctx, d); err != nil {
		return nil, fmt.Errorf("deployment failed: %w", err)
	}

	// The owning project moves to "deployed" once a version is live. Failure
	// here does not fail the deploy.
	p.Status = storage.ProjectStatusDeployed
	p.UpdatedAt = time.Now()
	if err := e.store.UpdateProject(ctx, p); err != nil {
		slog.Warn("failed to mark project deployed", "project_id", p.ID, "error", err)
	}

	// Seed today's analytics row so status queries return data immediately.
	// Failure here does not fail the deploy.
	seed := &storage.AnalyticsRecord{DeploymentID: d.ID, Date: storage.Day(now)}
	if err := e.store.UpsertAnalytics(ctx, seed); err != nil {
		slog.Warn("failed to seed analytics row", "deployment_id", d.ID, "error", err)
	}

	slog.Info("deployment activated",
		"deployment_id", d.ID, "project_id", req.ProjectID, "version", version)

	return &DeployResult{
		DeploymentID: d.ID,
		EndpointURL:  d.EndpointURL,
		APIKey:       apiKey,
		Status:       d.Status,
		Version:      version,
		CreatedAt:    d.CreatedAt,
	}, nil
}

// Update merges a partial config into an existing deployment, stamps the
// config with an updatedAt marker and sets the deployment active again.
func (e *Engine) Update(ctx context.Context, deploymentID string, partial map[string]any) error {
	d, err := e.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return core.NewNotFoundError("deployment not found")
		}
		return fmt.Errorf("update failed: %w", err)
	}

	if d.Config == nil {
		d.Config = map[string]any{}
	}
	for k, v := range partial {
		d.Config[k] = v
	}
	d.Config["updatedAt"] = time.Now().UTC().Format(time.RFC3339)
	d.Status = storage.DeployStatusActive
	d.UpdatedAt = time.Now()

	if err := e.store.UpdateDeployment(ctx, d); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	e.invalidate(ctx, deploymentID)
	return nil
}

// Stop marks a deployment inactive. Stopping an already inactive deployment
// is a no-op, not an error.
func (e *Engine) Stop(ctx context.Context, deploymentID string) error {
	d, err := e.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return core.NewNotFoundError("deployment not found")
		}
		return fmt.Errorf("stop failed: %w", err)
	}

	if d.Status == storage.DeployStatusInactive {
		return nil
	}
	d.Status = storage.DeployStatusInactive
	d.UpdatedAt = time.Now()

	if err := e.store.UpdateDeployment(ctx, d); err != nil {
		return fmt.Errorf("stop failed: %w", err)
	}
	e.invalidate(ctx, deploymentID)

	slog.Info("deployment stopped", "deployment_id", deploymentID)
	return nil
}

// Status describes a deployment plus its recent analytics.
type Status struct {
	Deployment *storage.DeploymentWithProject `json:"deployment"`
	Analytics  []*storage.AnalyticsRecord     `json:"analytics"`
}

// GetStatus returns the deployment with its project info and up to the last
// 7 analytics rows, newest first.
func (e *Engine) GetStatus(ctx context.Context, deploymentID string) (*Status, error) {
	d, err := e.store.GetDeploymentWithProject(ctx, deploymentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, core.NewNotFoundError("deployment not found")
		}
		return nil, fmt.Errorf("status check failed: %w", err)
	}

	analytics, err := e.store.RecentAnalytics(ctx, deploymentID, 7)
	if err != nil {
		return nil, fmt.Errorf("status check failed: %w", err)
	}
	if analytics == nil {
		analytics = []*storage.AnalyticsRecord{}
	}
	return &Status{Deployment: d, Analytics: analytics}, nil
}

// ValidateAPIKey resolves an API key to its active deployment id. Keys of
// inactive or errored deployments do not resolve.
func (e *Engine) ValidateAPIKey(ctx context.Context, apiKey string) (string, bool) {
	if apiKey == "" {
		return "", false
	}
	id, err := e.store.FindActiveDeploymentByAPIKey(ctx, apiKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("API key lookup failed", "error", err)
		}
		return "", false
	}
	return id, true
}

// Usage is the per-request metering envelope returned with every dispatch,
// success or failure.
type Usage struct {
	RequestID      string `json:"requestId"`
	ProcessingTime int64  `json:"processingTime"`
	TokensUsed     *int   `json:"tokensUsed,omitempty"`
}

// ExecutionResult is the dispatch outcome. Exactly one of Data or Error is
// set; Usage is always present.
type ExecutionResult struct {
	Success bool          `json:"success"`
	Data    *tasks.Result `json:"data,omitempty"`
	Error   string        `json:"error,omitempty"`
	Usage   Usage         `json:"usage"`
}

// Execute runs one request against a deployed application. The API key must
// resolve to exactly the addressed deployment. Analytics are updated best
// effort on both paths and never fail the request.
func (e *Engine) Execute(ctx context.Context, deploymentID, apiKey string, input tasks.Input) *ExecutionResult {
	start := time.Now()
	requestID := NewRequestID()

	fail := func(msg string) *ExecutionResult {
		elapsed := time.Since(start)
		e.recordRequest(ctx, deploymentID, false, elapsed)
		observability.ObserveDispatch("unknown", false, elapsed)
		return &ExecutionResult{
			Success: false,
			Error:   msg,
			Usage:   Usage{RequestID: requestID, ProcessingTime: elapsed.Milliseconds()},
		}
	}

	validID, ok := e.ValidateAPIKey(ctx, apiKey)
	if !ok || validID != deploymentID {
		return fail("Invalid API key")
	}

	d, err := e.loadDeployment(ctx, deploymentID)
	if err != nil || d.Status != storage.DeployStatusActive {
		return fail("Deployment not found or inactive")
	}

	taskCfg := taskConfigFrom(d.Config)
	result, err := e.tasks.Execute(ctx, d.ProjectType, input, taskCfg)
	elapsed := time.Since(start)

	if err != nil {
		var gwErr *core.GatewayError
		if errors.As(err, &gwErr) && gwErr.Provider != "" {
			observability.ObserveProviderError(gwErr.Provider)
		}
		e.recordRequest(ctx, deploymentID, false, elapsed)
		observability.ObserveDispatch(string(d.ProjectType), false, elapsed)
		return &ExecutionResult{
			Success: false,
			Error:   err.Error(),
			Usage:   Usage{RequestID: requestID, ProcessingTime: elapsed.Milliseconds()},
		}
	}

	e.recordRequest(ctx, deploymentID, true, elapsed)
	observability.ObserveDispatch(string(d.ProjectType), true, elapsed)

	usage := Usage{RequestID: requestID, ProcessingTime: elapsed.Milliseconds()}
	if result.Usage.TotalTokens > 0 {
		tokens := result.Usage.TotalTokens
		usage.TokensUsed = &tokens
	}
	return &ExecutionResult{Success: true, Data: result, Usage: usage}
}

// loadDeployment reads through the cache. Cache errors degrade to a direct
// store read.
func (e *Engine) loadDeployment(ctx context.Context, deploymentID string) (*storage.DeploymentWithProject, error) {
	if cached, err := e.cache.Get(ctx, deploymentID); err == nil && cached != nil {
		return cached, nil
	}
	d, err := e.store.GetDeploymentWithProject(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Set(ctx, d); err != nil {
		slog.Warn("failed to cache deployment", "deployment_id", deploymentID, "error", err)
	}
	return d, nil
}

func (e *Engine) invalidate(ctx context.Context, deploymentID string) {
	if err := e.cache.Delete(ctx, deploymentID); err != nil {
		slog.Warn("failed to invalidate cached deployment",
			"deployment_id", deploymentID, "error", err)
	}
}

// taskConfigFrom extracts the model id and generation parameters from a
// deployment config map.
func taskConfigFrom(cfg map[string]any) tasks.Config {
	out := tasks.Config{}
	if id, ok := cfg["modelId"].(string); ok {
		out.ModelID = id
	}
	if mc, ok := cfg["modelConfig"].(map[string]any); ok {
		out.Temperature = asFloat(mc["temperature"])
		out.MaxTokens = int(asFloat(mc["maxTokens"]))
	}
	return out
}

// asFloat handles the numeric types a config map can hold after a trip
// through JSON or direct construction.
func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
