package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/onetalk/router/internal/config"
	"github.com/onetalk/router/internal/db"
	"github.com/onetalk/router/internal/dispatch"
	"github.com/onetalk/router/internal/http/handlers"
	"github.com/onetalk/router/internal/http/middleware"
	"github.com/onetalk/router/internal/models"
	"github.com/onetalk/router/internal/registry"
	"github.com/onetalk/router/internal/rules"

	_ "github.com/onetalk/router/docs"
)

func Router(
	cfg config.Config,
	store *db.Store,
	dispatcher *dispatch.Dispatcher,
	agents *registry.AgentRegistry,
	lines *registry.LineRegistry,
	book *rules.Book,
	departments []models.Department,
	logger zerolog.Logger,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:       store,
		Dispatcher:  dispatcher,
		Agents:      agents,
		Lines:       lines,
		Book:        book,
		Departments: departments,
		Validator:   validator.New(),
		Logger:      logger,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/status", h.Status)
		api.GET("/stats", h.Stats)
		api.GET("/decisions", h.DecisionsList)
		api.GET("/rules", h.RulesList)
		api.GET("/agents", h.AgentsList)
		api.GET("/lines", h.LinesList)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/events/call", h.IncomingCall)
		admin.POST("/events/sms", h.IncomingSMS)
		admin.POST("/decisions/:id/complete", h.CompleteDecision)
		admin.POST("/rules", h.RuleCreate)
		admin.DELETE("/rules/:id", h.RuleDelete)
		admin.PATCH("/rules/:id/enabled", h.RuleSetEnabled)
		admin.POST("/agents", h.AgentCreate)
		admin.DELETE("/agents/:id", h.AgentDelete)
		admin.PATCH("/agents/:id/status", h.AgentSetStatus)
		admin.POST("/lines", h.LineCreate)
		admin.DELETE("/lines/:number", h.LineDelete)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
