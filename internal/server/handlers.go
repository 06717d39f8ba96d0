package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"aibuilder/internal/catalog"
	"aibuilder/internal/core"
	"aibuilder/internal/deploy"
	"aibuilder/internal/ingest"
	"aibuilder/internal/storage"
	"aibuilder/internal/tasks"
)

// defaultUserID scopes management requests that do not name a user.
const defaultUserID = "default"

// Handler holds the HTTP handlers.
type Handler struct {
	store  storage.Store
	engine *deploy.Engine
	tasks  *tasks.Handler
}

// NewHandler creates a new handler.
func NewHandler(store storage.Store, engine *deploy.Engine, taskHandler *tasks.Handler) *Handler {
	return &Handler{
		store:  store,
		engine: engine,
		tasks:  taskHandler,
	}
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func userID(c echo.Context) string {
	if id := c.QueryParam("userId"); id != "" {
		return id
	}
	return defaultUserID
}

// CreateProject handles POST /api/projects.
func (h *Handler) CreateProject(c echo.Context) error {
	var req struct {
		UserID      string         `json:"userId"`
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Type        string         `json:"type"`
		Config      map[string]any `json:"config"`
	}
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if req.Name == "" {
		return handleError(c, core.NewInvalidRequestError("name is required", nil))
	}
	if !core.ValidTaskKind(req.Type) {
		return handleError(c, core.NewInvalidRequestError("invalid project type: "+req.Type, nil))
	}
	if req.UserID == "" {
		req.UserID = defaultUserID
	}

	now := time.Now()
	p := &storage.Project{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Name:        req.Name,
		Description: req.Description,
		Type:        core.TaskKind(req.Type),
		Status:      storage.ProjectStatusDraft,
		Config:      req.Config,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.store.CreateProject(c.Request().Context(), p); err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"success": true, "data": p})
}

// ListProjects handles GET /api/projects.
func (h *Handler) ListProjects(c echo.Context) error {
	projects, err := h.store.ListProjects(c.Request().Context(), userID(c))
	if err != nil {
		return handleError(c, err)
	}
	if projects == nil {
		projects = []*storage.Project{}
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "data": projects})
}

// GetProject handles GET /api/projects/:projectId.
func (h *Handler) GetProject(c echo.Context) error {
	p, err := h.store.GetProject(c.Request().Context(), c.Param("projectId"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return handleError(c, core.NewNotFoundError("Project not found"))
		}
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "data": p})
}

// CreateDeployment handles POST /api/deployments.
func (h *Handler) CreateDeployment(c echo.Context) error {
	var req deploy.DeployRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if req.ProjectID == "" {
		return handleError(c, core.NewInvalidRequestError("projectId is required", nil))
	}

	result, err := h.engine.Deploy(c.Request().Context(), req)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"success": true, "data": result})
}

// ListDeployments handles GET /api/deployments.
func (h *Handler) ListDeployments(c echo.Context) error {
	deployments, err := h.store.ListDeployments(c.Request().Context(), userID(c), c.QueryParam("projectId"))
	if err != nil {
		return handleError(c, err)
	}
	if deployments == nil {
		deployments = []*storage.DeploymentWithProject{}
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "data": deployments})
}

// GetDeployment handles GET /api/deployments/:deploymentId. The payload
// includes up to 30 days of analytics, newest first.
func (h *Handler) GetDeployment(c echo.Context) error {
	ctx := c.Request().Context()
	deploymentID := c.Param("deploymentId")

	d, err := h.store.GetDeploymentWithProject(ctx, deploymentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return handleError(c, core.NewNotFoundError("Deployment not found"))
		}
		return handleError(c, err)
	}

	analytics, err := h.store.RecentAnalytics(ctx, deploymentID, 30)
	if err != nil {
		return handleError(c, err)
	}
	if analytics == nil {
		analytics = []*storage.AnalyticsRecord{}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"deployment": d,
			"analytics":  analytics,
		},
	})
}

// UpdateDeployment handles PUT /api/deployments/:deploymentId. The body is a
// partial config merged into the existing deployment config.
func (h *Handler) UpdateDeployment(c echo.Context) error {
	var partial map[string]any
	if err := c.Bind(&partial); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	if err := h.engine.Update(c.Request().Context(), c.Param("deploymentId"), partial); err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Deployment updated successfully",
	})
}

// StopDeployment handles DELETE /api/deployments/:deploymentId. Deployments
// are stopped, never deleted, so their analytics survive.
func (h *Handler) StopDeployment(c echo.Context) error {
	if err := h.engine.Stop(c.Request().Context(), c.Param("deploymentId")); err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Deployment stopped successfully",
	})
}

// CreateDataSource handles POST /api/data/sources.
func (h *Handler) CreateDataSource(c echo.Context) error {
	var req struct {
		ProjectID string         `json:"projectId"`
		Name      string         `json:"name"`
		Type      string         `json:"type"`
		Config    map[string]any `json:"config"`
	}
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if _, err := ingest.ForType(req.Type); err != nil {
		return handleError(c, core.NewInvalidRequestError(err.Error(), err))
	}
	if _, err := h.store.GetProject(c.Request().Context(), req.ProjectID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return handleError(c, core.NewNotFoundError("Project not found"))
		}
		return handleError(c, err)
	}

	ds := &storage.DataSource{
		ID:           uuid.NewString(),
		ProjectID:    req.ProjectID,
		Name:         req.Name,
		Type:         req.Type,
		Status:       storage.SourceStatusPending,
		SourceConfig: req.Config,
		CreatedAt:    time.Now(),
	}
	if err := h.store.CreateDataSource(c.Request().Context(), ds); err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"success": true, "data": ds})
}

// ListDataSources handles GET /api/data/sources.
func (h *Handler) ListDataSources(c echo.Context) error {
	sources, err := h.store.ListDataSources(c.Request().Context(), c.QueryParam("projectId"))
	if err != nil {
		return handleError(c, err)
	}
	if sources == nil {
		sources = []*storage.DataSource{}
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "data": sources})
}

// ProcessDataSource handles POST /api/data/process: runs the ingestion
// processor for a data source and records the outcome on the source row
// (pending -> processing -> ready or error).
func (h *Handler) ProcessDataSource(c echo.Context) error {
	var req struct {
		DataSourceID string        `json:"dataSourceId"`
		Content      string        `json:"content"`
		Config       ingest.Config `json:"config"`
	}
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	ctx := c.Request().Context()
	ds, err := h.store.GetDataSource(ctx, req.DataSourceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return handleError(c, core.NewNotFoundError("Data source not found"))
		}
		return handleError(c, err)
	}

	processor, err := ingest.ForType(ds.Type)
	if err != nil {
		return handleError(c, core.NewInvalidRequestError(err.Error(), err))
	}
	if ds.Type != "api" && req.Content == "" {
		return handleError(c, core.NewInvalidRequestError("No file provided", nil))
	}

	ds.Status = storage.SourceStatusProcessing
	if err := h.store.UpdateDataSource(ctx, ds); err != nil {
		return handleError(c, err)
	}

	result := processor.Process(ctx, req.Content, req.Config)
	if !result.Success {
		if ds.SourceConfig == nil {
			ds.SourceConfig = map[string]any{}
		}
		ds.Status = storage.SourceStatusError
		ds.SourceConfig["error"] = "Processing failed: " + joinErrors(result.Errors)
		if err := h.store.UpdateDataSource(ctx, ds); err != nil {
			return handleError(c, err)
		}
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"error":   "Data processing failed",
			"message": "Processing failed: " + joinErrors(result.Errors),
		})
	}

	if ds.SourceConfig == nil {
		ds.SourceConfig = map[string]any{}
	}
	ds.Status = storage.SourceStatusReady
	ds.RowCount = result.TotalRecords
	ds.SourceConfig["processing_metadata"] = result.Metadata
	ds.SourceConfig["processed_at"] = time.Now().UTC().Format(time.RFC3339)
	if err := h.store.UpdateDataSource(ctx, ds); err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"totalRecords":  result.TotalRecords,
			"errors":        result.Errors,
			"metadata":      result.Metadata,
			"sampleRecords": headRecords(result.Records, 3),
		},
	})
}

// PreviewData handles POST /api/data/preview: runs a processor over a
// bounded sample without touching any stored data source.
func (h *Handler) PreviewData(c echo.Context) error {
	var req struct {
		Type    string        `json:"type"`
		Content string        `json:"content"`
		Config  ingest.Config `json:"config"`
	}
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	processor, err := ingest.ForType(req.Type)
	if err != nil {
		return handleError(c, core.NewInvalidRequestError(err.Error(), err))
	}
	if req.Type != "api" && req.Content == "" {
		return handleError(c, core.NewInvalidRequestError("No file provided", nil))
	}

	result := ingest.Preview(c.Request().Context(), processor, req.Content, req.Config)

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"totalRecords":   result.TotalRecords,
			"previewRecords": headRecords(result.Records, 5),
			"metadata":       result.Metadata,
			"errors":         headStrings(result.Errors, 5),
			"isPreview":      true,
		},
	})
}

// ListModels handles GET /api/ai/models with optional ?task= filtering.
func (h *Handler) ListModels(c echo.Context) error {
	task := c.QueryParam("task")

	models := catalog.Models
	var recommended any
	if task != "" {
		models = catalog.ModelsForTask(core.TaskKind(task))
		if m, ok := catalog.RecommendedModel(core.TaskKind(task)); ok {
			recommended = m
		}
	}
	if models == nil {
		models = []catalog.Model{}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"models":      models,
		"recommended": recommended,
		"total":       len(models),
	})
}

// Inference handles POST /api/ai/inference: ad-hoc task execution against a
// project, used by the builder's testing step. Falls back to the recommended
// model when none is configured.
func (h *Handler) Inference(c echo.Context) error {
	var req struct {
		ProjectID string      `json:"projectId"`
		TaskType  string      `json:"taskType"`
		Input     tasks.Input `json:"input"`
		Config    struct {
			ModelID     string  `json:"modelId"`
			Temperature float64 `json:"temperature"`
			MaxTokens   int     `json:"maxTokens"`
		} `json:"config"`
	}
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	ctx := c.Request().Context()
	if _, err := h.store.GetProject(ctx, req.ProjectID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return handleError(c, core.NewNotFoundError("Project not found"))
		}
		return handleError(c, err)
	}

	taskType := core.TaskKind(req.TaskType)
	modelID := req.Config.ModelID
	if modelID == "" {
		if m, ok := catalog.RecommendedModel(taskType); ok {
			modelID = m.ID
		}
	}

	input := req.Input
	if taskType == core.TaskTextClassification && len(input.Categories) == 0 {
		input.Categories = []string{"positive", "negative", "neutral"}
	}

	start := time.Now()
	result, err := h.tasks.Execute(ctx, taskType, input, tasks.Config{
		ModelID:     modelID,
		Temperature: req.Config.Temperature,
		MaxTokens:   req.Config.MaxTokens,
	})
	h.engine.RecordAdHoc(ctx, req.ProjectID, err == nil, time.Since(start))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"data":      result,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Analytics handles GET /api/analytics.
func (h *Handler) Analytics(c echo.Context) error {
	days := 30
	if v := c.QueryParam("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return handleError(c, core.NewInvalidRequestError("invalid days parameter", err))
		}
		days = parsed
	}

	uid := c.QueryParam("user_id")
	if uid == "" {
		uid = defaultUserID
	}

	analytics, err := h.store.QueryAnalytics(c.Request().Context(), uid, c.QueryParam("project_id"), days)
	if err != nil {
		return handleError(c, err)
	}
	if analytics == nil {
		analytics = []*storage.AnalyticsRecord{}
	}
	return c.JSON(http.StatusOK, map[string]any{"analytics": analytics})
}

// handleError converts gateway errors to appropriate HTTP responses.
func handleError(c echo.Context, err error) error {
	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, map[string]any{
		"error": map[string]any{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}

func headRecords(records []ingest.Record, n int) []ingest.Record {
	if len(records) > n {
		return records[:n]
	}
	return records
}

func headStrings(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func joinErrors(errs []string) string {
	return strings.Join(errs, ", ")
}
