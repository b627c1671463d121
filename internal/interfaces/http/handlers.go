package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/agent-runtime/internal/domain/entity"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	version  string
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, version string, logger Logger) *Handlers {
	return &Handlers{services: services, version: version, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components,omitempty"`
}

// SubmitTaskRequest is the body of POST /agents/:agentType/tasks
type SubmitTaskRequest struct {
	UserID  string                 `json:"user_id"`
	Payload map[string]interface{} `json:"payload"`
}

// ResolveRequest is the body of POST /approvals/:id/resolve
type ResolveRequest struct {
	Action        entity.ResolveAction   `json:"action"`
	EditedPayload map[string]interface{} `json:"edited_payload,omitempty"`
}

// BrakeRequest is the body of PUT /users/:userId/brake
type BrakeRequest struct {
	Active *bool  `json:"active"`
	Reason string `json:"reason"`
}

// LevelRequest carries an autonomy level such as "L2". A null level clears an override.
type LevelRequest struct {
	Level *entity.AutonomyLevel `json:"level"`
}

// OrganizationRequest is the body of PUT /orgs/:orgId
type OrganizationRequest struct {
	Name         string               `json:"name"`
	DefaultLevel entity.AutonomyLevel `json:"default_level"`
	MaxAutonomy  entity.AutonomyLevel `json:"max_autonomy"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
	}
	status := http.StatusOK

	if h.services.Health != nil {
		response.Components = make(map[string]string)
		for name, err := range h.services.Health(c.Request.Context()) {
			if err != nil {
				response.Components[name] = err.Error()
				response.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			response.Components[name] = "ok"
		}
	}

	c.JSON(status, Response{Success: status == http.StatusOK, Data: response})
}

// SubmitTask handles POST /api/v1/agents/:agentType/tasks
func (h *Handlers) SubmitTask(c *gin.Context) {
	var req SubmitTaskRequest
	if !h.bind(c, &req) {
		return
	}

	taskID, err := h.services.Tasks.Submit(c.Request.Context(), entity.AgentType(c.Param("agentType")), req.UserID, req.Payload)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, Response{Success: true, Data: gin.H{"task_id": taskID}})
}

// ListApprovals handles GET /api/v1/users/:userId/approvals
func (h *Handlers) ListApprovals(c *gin.Context) {
	items, err := h.services.Approvals.GetPendingApprovals(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if items == nil {
		items = []*entity.ApprovalItem{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: items})
}

// GetApproval handles GET /api/v1/approvals/:id
func (h *Handlers) GetApproval(c *gin.Context) {
	item, err := h.services.Approvals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: item})
}

// ResolveApproval handles POST /api/v1/approvals/:id/resolve
func (h *Handlers) ResolveApproval(c *gin.Context) {
	var req ResolveRequest
	if !h.bind(c, &req) {
		return
	}

	item, err := h.services.Approvals.Resolve(c.Request.Context(), c.Param("id"), req.Action, req.EditedPayload)
	if err != nil {
		// The item is resolved even when the approved action then failed
		if item != nil && errors.Is(err, entity.ErrStrategyExecution) {
			c.JSON(http.StatusOK, Response{Success: true, Data: item, Error: err.Error()})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: item})
}

// GetBrake handles GET /api/v1/users/:userId/brake
func (h *Handlers) GetBrake(c *gin.Context) {
	state, err := h.services.Brakes.GetBrake(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: state})
}

// SetBrake handles PUT /api/v1/users/:userId/brake
func (h *Handlers) SetBrake(c *gin.Context) {
	var req BrakeRequest
	if !h.bind(c, &req) {
		return
	}
	if req.Active == nil {
		h.writeError(c, entity.NewValidationError("active", "required"))
		return
	}

	state, err := h.services.Brakes.SetBrake(c.Request.Context(), c.Param("userId"), *req.Active, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: state})
}

// GetAutonomy handles GET /api/v1/users/:userId/autonomy
func (h *Handlers) GetAutonomy(c *gin.Context) {
	cfg, err := h.services.Autonomy.ResolveAutonomy(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: cfg})
}

// SetAutonomy handles PUT /api/v1/users/:userId/autonomy. Levels above the
// organization ceiling are rejected.
func (h *Handlers) SetAutonomy(c *gin.Context) {
	var req LevelRequest
	if !h.bind(c, &req) {
		return
	}
	if req.Level == nil || !req.Level.IsValid() {
		h.writeError(c, entity.NewValidationError("level", "must be one of L0..L3"))
		return
	}

	cfg, err := h.services.Autonomy.SetPreference(c.Request.Context(), c.Param("userId"), *req.Level)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: cfg})
}

// SetOverride handles PUT /api/v1/orgs/:orgId/members/:userId/autonomy-override.
// The level is clamped to the ceiling; null clears the override.
func (h *Handlers) SetOverride(c *gin.Context) {
	var req LevelRequest
	if !h.bind(c, &req) {
		return
	}
	if req.Level != nil && !req.Level.IsValid() {
		h.writeError(c, entity.NewValidationError("level", "must be one of L0..L3"))
		return
	}

	cfg, err := h.services.Autonomy.SetOverride(c.Request.Context(), c.Param("orgId"), c.Param("userId"), req.Level)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: cfg})
}

// SaveOrganization handles PUT /api/v1/orgs/:orgId
func (h *Handlers) SaveOrganization(c *gin.Context) {
	var req OrganizationRequest
	if !h.bind(c, &req) {
		return
	}
	if !req.DefaultLevel.IsValid() || !req.MaxAutonomy.IsValid() {
		h.writeError(c, entity.NewValidationError("level", "must be one of L0..L3"))
		return
	}

	org := &entity.Organization{
		ID:           c.Param("orgId"),
		Name:         req.Name,
		DefaultLevel: req.DefaultLevel,
		MaxAutonomy:  req.MaxAutonomy,
	}
	if err := h.services.Autonomy.SaveOrganization(c.Request.Context(), org); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: org})
}

// AddMember handles PUT /api/v1/orgs/:orgId/members/:userId
func (h *Handlers) AddMember(c *gin.Context) {
	if err := h.services.Autonomy.AddMember(c.Request.Context(), c.Param("orgId"), c.Param("userId")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// GetActivity handles GET /api/v1/users/:userId/activity?limit=N
func (h *Handlers) GetActivity(c *gin.Context) {
	limit, ok := h.limit(c)
	if !ok {
		return
	}
	records, err := h.services.Activity.GetActivity(c.Request.Context(), c.Param("userId"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if records == nil {
		records = []*entity.ActivityRecord{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

// ListOutputs handles GET /api/v1/users/:userId/outputs?limit=N
func (h *Handlers) ListOutputs(c *gin.Context) {
	limit, ok := h.limit(c)
	if !ok {
		return
	}
	outputs, err := h.services.Activity.ListOutputs(c.Request.Context(), c.Param("userId"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if outputs == nil {
		outputs = []*entity.AgentOutput{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: outputs})
}

func (h *Handlers) limit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		h.writeError(c, entity.NewValidationError("limit", "must be a non-negative integer"))
		return 0, false
	}
	return limit, true
}

func (h *Handlers) bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.writeError(c, entity.NewValidationError("body", err.Error()))
		return false
	}
	return true
}
