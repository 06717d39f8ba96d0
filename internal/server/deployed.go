package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"aibuilder/internal/core"
	"aibuilder/internal/tasks"
)

// ExecuteDeployed handles POST /api/deployed/:deploymentId, the public
// endpoint deployed applications are called on. Authentication is the
// deployment's own API key; the request body is the task input.
func (h *Handler) ExecuteDeployed(c echo.Context) error {
	apiKey := bearerToken(c)
	if apiKey == "" {
		return c.JSON(http.StatusUnauthorized, map[string]any{"error": "API key required"})
	}

	var input tasks.Input
	if err := c.Bind(&input); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	result := h.engine.Execute(c.Request().Context(), c.Param("deploymentId"), apiKey, input)
	if !result.Success {
		// The usage envelope is returned even on failure so callers can
		// correlate errors with their metering.
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error": result.Error,
			"usage": result.Usage,
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"data":      result.Data,
		"usage":     result.Usage,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// DeployedStatus handles GET /api/deployed/:deploymentId: deployment status
// plus the last week of analytics, gated by the deployment's API key.
func (h *Handler) DeployedStatus(c echo.Context) error {
	apiKey := bearerToken(c)
	if apiKey == "" {
		return c.JSON(http.StatusUnauthorized, map[string]any{"error": "API key required"})
	}

	deploymentID := c.Param("deploymentId")
	validID, ok := h.engine.ValidateAPIKey(c.Request().Context(), apiKey)
	if !ok || validID != deploymentID {
		return c.JSON(http.StatusUnauthorized, map[string]any{"error": "Invalid API key"})
	}

	status, err := h.engine.GetStatus(c.Request().Context(), deploymentID)
	if err != nil {
		return handleError(c, err)
	}

	d := status.Deployment
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"deploymentId": d.ID,
			"status":       d.Status,
			"version":      d.Version,
			"endpointUrl":  d.EndpointURL,
			"projectName":  d.ProjectName,
			"projectType":  d.ProjectType,
			"createdAt":    d.CreatedAt,
			"analytics":    status.Analytics,
		},
	})
}
