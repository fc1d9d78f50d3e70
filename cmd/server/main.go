package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/onetalk/router/internal/config"
	"github.com/onetalk/router/internal/db"
	"github.com/onetalk/router/internal/dispatch"
	httpapi "github.com/onetalk/router/internal/http"
	"github.com/onetalk/router/internal/models"
	"github.com/onetalk/router/internal/notify"
	"github.com/onetalk/router/internal/registry"
	"github.com/onetalk/router/internal/rules"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "onetalk-router").Logger()

	ctx := context.Background()

	var store *db.Store
	if cfg.DatabaseURL != "" {
		store, err = db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect db")
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to ensure schema")
		}
	} else {
		logger.Warn().Msg("no DATABASE_URL configured, running without persistence")
	}

	agents := registry.NewAgentRegistry()
	lines := registry.NewLineRegistry()
	book := rules.NewBook()
	var departments []models.Department

	if store != nil {
		departments, err = loadState(ctx, store, agents, lines, book)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load routing state")
		}
		if len(departments) == 0 && cfg.SeedDemoData {
			departments, err = seedDemoData(ctx, store, agents, lines, book)
			if err != nil {
				logger.Fatal().Err(err).Msg("failed to seed demo data")
			}
			logger.Info().Msg("seeded demo departments, agents, lines, and rules")
		}
	} else {
		departments = seedInMemory(agents, lines, book)
		logger.Info().Msg("loaded in-memory demo state")
	}

	engine := rules.NewEngine(cfg.VIPDepartment, cfg.EmergencyVocabulary()...)
	sinks := buildSinks(cfg, logger)

	var decisionLog dispatch.DecisionLog
	if store != nil {
		decisionLog = store
	}
	dispatcher := dispatch.New(dispatch.Options{
		Agents:               agents,
		Lines:                lines,
		Book:                 book,
		Engine:               engine,
		Log:                  decisionLog,
		Sinks:                sinks,
		Logger:               logger,
		DefaultDepartment:    cfg.DefaultDepartment,
		EscalationDepartment: cfg.EscalationDepartment,
		Grace:                cfg.DispatchGrace,
	})

	router := httpapi.Router(cfg, store, dispatcher, agents, lines, book, departments, logger)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: cfg.RequestTimeout,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}

// loadState rebuilds the in-memory registries from the database. A
// rule set that fails validation aborts startup rather than routing
// with a corrupt configuration.
func loadState(ctx context.Context, store *db.Store, agents *registry.AgentRegistry, lines *registry.LineRegistry, book *rules.Book) ([]models.Department, error) {
	departments, err := store.LoadDepartments(ctx)
	if err != nil {
		return nil, err
	}
	agentList, err := store.LoadAgents(ctx)
	if err != nil {
		return nil, err
	}
	lineList, err := store.LoadLines(ctx)
	if err != nil {
		return nil, err
	}
	ruleList, err := store.LoadRules(ctx)
	if err != nil {
		return nil, err
	}

	agents.Load(agentList)
	lines.Load(lineList)
	if err := book.Load(ruleList); err != nil {
		return nil, err
	}
	return departments, nil
}

func buildSinks(cfg config.Config, logger zerolog.Logger) []notify.Sink {
	var sinks []notify.Sink
	if cfg.SlackWebhookURL != "" {
		sinks = append(sinks, notify.NewSlack(cfg.SlackWebhookURL))
	}
	if cfg.HubSpotWebhookURL != "" {
		sinks = append(sinks, notify.NewHubSpot(cfg.HubSpotWebhookURL))
	}
	if cfg.OpenPhoneWebhookURL != "" {
		sinks = append(sinks, notify.NewOpenPhone(cfg.OpenPhoneWebhookURL))
	}
	if len(sinks) == 0 && cfg.Env == "dev" {
		logger.Info().Msg("no webhooks configured, using mock notification sink")
		sinks = append(sinks, &notify.MockSink{})
	}
	return sinks
}
