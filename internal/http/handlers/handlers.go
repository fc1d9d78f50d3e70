package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/onetalk/router/internal/db"
	"github.com/onetalk/router/internal/dispatch"
	"github.com/onetalk/router/internal/models"
	"github.com/onetalk/router/internal/registry"
	"github.com/onetalk/router/internal/rules"
)

type Handler struct {
	Store       *db.Store
	Dispatcher  *dispatch.Dispatcher
	Agents      *registry.AgentRegistry
	Lines       *registry.LineRegistry
	Book        *rules.Book
	Departments []models.Department
	Validator   *validator.Validate
	Logger      zerolog.Logger
}

func (h *Handler) Healthz(c *gin.Context) {
	if h.Store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := h.Store.Ping(ctx); err != nil {
			writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type CallEventRequest struct {
	FromNumber string `json:"from_number" validate:"required"`
	ToNumber   string `json:"to_number" validate:"required"`
	Transcript string `json:"transcript"`
}

// @Summary Route an incoming call
// @Description Classify and assign an inbound call to an agent and line
// @Tags events
// @Accept json
// @Produce json
// @Success 200 {object} models.RoutingDecision
// @Failure 400 {object} map[string]any
// @Router /api/events/call [post]
func (h *Handler) IncomingCall(c *gin.Context) {
	var req CallEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	dec := h.Dispatcher.HandleIncomingCall(c.Request.Context(), req.FromNumber, req.ToNumber, req.Transcript)
	c.JSON(http.StatusOK, dec)
}

type SMSEventRequest struct {
	FromNumber string `json:"from_number" validate:"required"`
	ToNumber   string `json:"to_number" validate:"required"`
	Message    string `json:"message" validate:"required"`
}

// @Summary Route an incoming SMS
// @Tags events
// @Accept json
// @Produce json
// @Success 200 {object} models.RoutingDecision
// @Router /api/events/sms [post]
func (h *Handler) IncomingSMS(c *gin.Context) {
	var req SMSEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	dec := h.Dispatcher.HandleIncomingSMS(c.Request.Context(), req.FromNumber, req.ToNumber, req.Message)
	c.JSON(http.StatusOK, dec)
}

type CompleteRequest struct {
	DurationSec int `json:"duration_sec" validate:"gte=0"`
}

// @Summary Complete a routed communication
// @Description Release the assigned agent and line and record the handling duration
// @Tags events
// @Accept json
// @Produce json
// @Router /api/decisions/{id}/complete [post]
func (h *Handler) CompleteDecision(c *gin.Context) {
	id := c.Param("id")
	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	if err := h.Dispatcher.Complete(c.Request.Context(), id, time.Duration(req.DurationSec)*time.Second); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Decision not found", nil)
			return
		}
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Decision not found", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status reports availability and line utilization per department.
func (h *Handler) Status(c *gin.Context) {
	type deptStatus struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Escalation bool   `json:"escalation"`
		Available  int    `json:"agents_available"`
		Busy       int    `json:"agents_busy"`
		Offline    int    `json:"agents_offline"`
		LineUsed   int    `json:"line_utilization"`
		LineCap    int    `json:"line_capacity"`
	}
	out := make([]deptStatus, 0, len(h.Departments))
	for _, d := range h.Departments {
		av, busy, off := h.Agents.Counts(d.ID)
		used, capacity := h.Lines.Utilization(d.ID)
		out = append(out, deptStatus{
			ID: d.ID, Name: d.Name, Escalation: d.Escalation,
			Available: av, Busy: busy, Offline: off,
			LineUsed: used, LineCap: capacity,
		})
	}
	resp := gin.H{"departments": out}
	if h.Store != nil {
		// Unhandled events are the operational signal that staffing or
		// line capacity is short; keep them on the front page.
		if stats, err := h.Store.DailyStats(c.Request.Context(), time.Now().UTC()); err == nil {
			resp["unhandled_today"] = stats.Unhandled
		} else {
			h.Logger.Warn().Err(err).Msg("daily stats lookup failed")
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Stats(c *gin.Context) {
	if h.Store == nil {
		writeError(c, http.StatusServiceUnavailable, "PERSISTENCE_DISABLED", "No database configured", nil)
		return
	}
	day := time.Now().UTC()
	if v := c.Query("day"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "day must be YYYY-MM-DD", err.Error())
			return
		}
		day = parsed
	}
	stats, err := h.Store.DailyStats(c.Request.Context(), day)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to compute stats", err.Error())
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) DecisionsList(c *gin.Context) {
	if h.Store == nil {
		writeError(c, http.StatusServiceUnavailable, "PERSISTENCE_DISABLED", "No database configured", nil)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	items, err := h.Store.RecentDecisions(c.Request.Context(), limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list decisions", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit})
}

func (h *Handler) RulesList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.Book.Snapshot()})
}

type RuleRequest struct {
	Kind         string `json:"kind" validate:"required,oneof=keyword phone_pattern emergency_keyword vip_pattern"`
	Value        string `json:"value" validate:"required"`
	DepartmentID string `json:"department_id" validate:"required"`
	Priority     int    `json:"priority"`
}

// @Summary Create a routing rule
// @Tags rules
// @Accept json
// @Produce json
// @Router /api/rules [post]
func (h *Handler) RuleCreate(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	rule, err := h.Book.Add(models.RoutingRule{
		Kind:         models.RuleKind(req.Kind),
		Value:        req.Value,
		DepartmentID: req.DepartmentID,
		Priority:     req.Priority,
		Enabled:      true,
	})
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_RULE", "Rule rejected", err.Error())
		return
	}
	h.persist(c, func(ctx context.Context) error { return h.Store.UpsertRule(ctx, rule) })
	c.JSON(http.StatusCreated, rule)
}

func (h *Handler) RuleDelete(c *gin.Context) {
	id := c.Param("id")
	if !h.Book.Remove(id) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Rule not found", nil)
		return
	}
	h.persist(c, func(ctx context.Context) error { return h.Store.DeleteRule(ctx, id) })
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type EnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (h *Handler) RuleSetEnabled(c *gin.Context) {
	id := c.Param("id")
	var req EnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	if !h.Book.SetEnabled(id, *req.Enabled) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Rule not found", nil)
		return
	}
	h.persist(c, func(ctx context.Context) error { return h.Store.SetRuleEnabled(ctx, id, *req.Enabled) })
	c.JSON(http.StatusOK, gin.H{"status": "ok", "enabled": *req.Enabled})
}

func (h *Handler) AgentsList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.Agents.List(c.Query("department"))})
}

type AgentRequest struct {
	ID           string `json:"id" validate:"required"`
	Name         string `json:"name" validate:"required"`
	DepartmentID string `json:"department_id" validate:"required"`
	Role         string `json:"role" validate:"omitempty,oneof=lead member"`
}

func (h *Handler) AgentCreate(c *gin.Context) {
	var req AgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	agent := models.Agent{
		ID:           req.ID,
		Name:         req.Name,
		DepartmentID: req.DepartmentID,
		Role:         models.AgentRole(req.Role),
	}
	if err := h.Agents.Add(agent); err != nil {
		writeError(c, http.StatusConflict, "CONFLICT", "Agent already registered", err.Error())
		return
	}
	stored, _ := h.Agents.Get(req.ID)
	h.persist(c, func(ctx context.Context) error { return h.Store.UpsertAgent(ctx, stored) })
	c.JSON(http.StatusCreated, stored)
}

func (h *Handler) AgentDelete(c *gin.Context) {
	id := c.Param("id")
	if err := h.Agents.Remove(id); err != nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Agent not found", nil)
		return
	}
	h.persist(c, func(ctx context.Context) error { return h.Store.DeleteAgent(ctx, id) })
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type AgentStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=available busy offline"`
}

// @Summary Update agent availability
// @Description Apply an agent status transition; illegal transitions are rejected
// @Tags agents
// @Accept json
// @Produce json
// @Router /api/agents/{id}/status [patch]
func (h *Handler) AgentSetStatus(c *gin.Context) {
	id := c.Param("id")
	var req AgentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	status := models.AgentStatus(req.Status)
	if err := h.Dispatcher.SetAgentStatus(id, status); err != nil {
		if errors.Is(err, registry.ErrUnknownAgent) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Agent not found", nil)
			return
		}
		if errors.Is(err, registry.ErrInvalidTransition) {
			writeError(c, http.StatusConflict, "INVALID_TRANSITION", "Illegal status transition", err.Error())
			return
		}
		writeError(c, http.StatusInternalServerError, "INTERNAL", "Status update failed", err.Error())
		return
	}
	h.persist(c, func(ctx context.Context) error { return h.Store.UpdateAgentStatus(ctx, id, status) })
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) LinesList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.Lines.List(c.Query("department"))})
}

type LineRequest struct {
	Number       string `json:"number" validate:"required"`
	DepartmentID string `json:"department_id" validate:"required"`
	Capacity     int    `json:"capacity" validate:"required,gte=1"`
}

func (h *Handler) LineCreate(c *gin.Context) {
	var req LineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	line := models.Line{Number: req.Number, DepartmentID: req.DepartmentID, Capacity: req.Capacity}
	if err := h.Lines.Add(line); err != nil {
		writeError(c, http.StatusConflict, "CONFLICT", "Line already provisioned", err.Error())
		return
	}
	h.persist(c, func(ctx context.Context) error { return h.Store.UpsertLine(ctx, line) })
	c.JSON(http.StatusCreated, line)
}

func (h *Handler) LineDelete(c *gin.Context) {
	number := c.Param("number")
	if err := h.Lines.Remove(number); err != nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Line not found", nil)
		return
	}
	h.persist(c, func(ctx context.Context) error { return h.Store.DeleteLine(ctx, number) })
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// persist writes an admin change through to the database. The
// in-memory registries stay authoritative; a failed write is logged
// and retried naturally on the next restart seed.
func (h *Handler) persist(c *gin.Context, fn func(ctx context.Context) error) {
	if h.Store == nil {
		return
	}
	if err := fn(c.Request.Context()); err != nil {
		h.Logger.Error().Err(err).Str("path", c.FullPath()).Msg("write-through failed")
	}
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
