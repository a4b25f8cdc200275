package app

import (
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/yungbote/stylelens-backend/internal/db"
	"github.com/yungbote/stylelens-backend/internal/logger"
	"github.com/yungbote/stylelens-backend/internal/pipeline"
	"github.com/yungbote/stylelens-backend/internal/search"
	"github.com/yungbote/stylelens-backend/internal/services"
)

type App struct {
	Log          *logger.Logger
	DB           *gorm.DB
	Cfg          Config
	Repos        Repos
	Clients      Clients
	Catalog      services.CatalogService
	Orchestrator *pipeline.Orchestrator
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	reposet := wireRepos(theDB, log)

	clientset, err := wireClients(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	strategies := search.NewStrategies(log, clientset.Search, cfg.OpenSearchIndex)
	catalog := services.NewCatalogService(theDB, log, reposet.Items, reposet.Products, reposet.Mappings)

	orchestrator := pipeline.NewOrchestrator(
		log,
		theDB,
		reposet.Jobs,
		reposet.Items,
		reposet.Mappings,
		clientset.Tracker,
		clientset.Detector,
		clientset.Images,
		clientset.Embed,
		clientset.Caption,
		clientset.Attrs,
		strategies,
		catalog,
		cfg.MaxConcurrency,
		cfg.JobTimeout,
	)

	return &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Repos:        reposet,
		Clients:      clientset,
		Catalog:      catalog,
		Orchestrator: orchestrator,
	}, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	a.Clients.Close()
	if a.Log != nil {
		a.Log.Sync()
	}
}
