package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/dentaldesk/internal/api"
	"github.com/charlesng35/dentaldesk/internal/app"
	"github.com/charlesng35/dentaldesk/internal/app/maintenance"
	iauth "github.com/charlesng35/dentaldesk/internal/auth"
	"github.com/charlesng35/dentaldesk/internal/database"
	"github.com/charlesng35/dentaldesk/internal/docstore"
	"github.com/charlesng35/dentaldesk/internal/errorhandler"
	"github.com/charlesng35/dentaldesk/internal/middleware"
	"github.com/charlesng35/dentaldesk/internal/monitoring"
	"github.com/charlesng35/dentaldesk/internal/monitoring/checks"
	"github.com/charlesng35/dentaldesk/internal/realtime"
	"github.com/charlesng35/dentaldesk/internal/repository"
	"github.com/charlesng35/dentaldesk/internal/services"
	"github.com/charlesng35/dentaldesk/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Queue   *database.PendingWriteStore
	Catalog *services.Catalog
	Hub     *realtime.Hub
	Cleaner *maintenance.Cleaner
	Health  *monitoring.HealthManager
	Router  *gin.Engine
}

// bootstrapRuntime opens the database and wires repositories, services,
// background jobs and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	gormStore, err := docstore.NewGormStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise document store: %w", err)
	}
	var store docstore.Store = gormStore
	if cfg.Resilience.Breaker.Enabled {
		store = docstore.NewBreakerStore(gormStore, cfg.Resilience.Breaker.StoreConfig())
	}

	stack.Queue = database.NewPendingWriteStore(stack.DB)
	if pending, lenErr := stack.Queue.Len(ctx); lenErr == nil && pending > 0 {
		log.Info("pending writes awaiting replay", zap.Int("count", pending))
	}

	handler := errorhandler.New(append(
		cfg.Resilience.HandlerOptions(stack.Queue),
		errorhandler.WithLogger(logger.WithModule("errorhandler")),
	)...)

	stack.Catalog, err = services.NewCatalog(store, handler,
		repository.WithCacheOptions(cfg.Cache.ManagerOptions()...),
		repository.WithCleanupInterval(cfg.Cache.CleanupInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise repositories: %w", err)
	}

	tokens, err := iauth.NewTokenService(cfg.Auth.TokenServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise token service: %w", err)
	}

	stack.Hub = realtime.NewHub(stack.Catalog.Registry)

	if cfg.Maintenance.Enabled {
		stack.Cleaner = newCleaner(cfg, stack.Queue, stack.Catalog.Registry)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	if cfg.Monitoring.Health.Enabled {
		stack.Health = newHealthManager(cfg, stack)
	}

	metricsPath := ""
	if cfg.Monitoring.Prometheus.Enabled {
		metricsPath = cfg.Monitoring.Prometheus.Endpoint
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		Registry:       stack.Catalog.Registry,
		Tokens:         tokens,
		Hub:            stack.Hub,
		Health:         stack.Health,
		Patients:       stack.Catalog.Patients,
		Doctors:        stack.Catalog.Doctors,
		Quotes:         stack.Catalog.Quotes,
		TreatmentPlans: stack.Catalog.TreatmentPlans,
		Settings:       stack.Catalog.Settings,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RateLimiter:    middleware.NewRateLimiter(cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window),
		MetricsPath:    metricsPath,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func newCleaner(cfg *app.Config, queue errorhandler.Queue, registry *repository.Registry) *maintenance.Cleaner {
	m := cfg.Maintenance
	return maintenance.NewCleaner(queue, registry,
		maintenance.WithSchedules(m.DrainSchedule, m.SweepSchedule, m.PurgeSchedule),
		maintenance.WithDrainBatch(m.DrainBatch),
		maintenance.WithRetention(m.PendingRetention),
	)
}

func newHealthManager(cfg *app.Config, stack *runtimeStack) *monitoring.HealthManager {
	manager := monitoring.NewHealthManager(cfg.Monitoring.Health.ProbeTimeout)
	manager.RegisterLiveness(checks.Realtime(stack.Hub))
	manager.RegisterReadiness(checks.Database(stack.DB))
	manager.RegisterReadiness(checks.PendingWrites(stack.Queue, cfg.Monitoring.Health.PendingThreshold))
	return manager
}

// Shutdown gracefully stops background jobs and releases resources. It is
// safe to call on a partially built stack.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		// Let running jobs finish before the final pass.
		select {
		case <-s.Cleaner.Stop().Done():
		case <-ctx.Done():
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
		s.Cleaner = nil
	}

	if s.Hub != nil {
		s.Hub.Close()
	}

	if s.Catalog != nil {
		s.Catalog.Close()
		s.Catalog = nil
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
		s.DB = nil
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Prepare(db); err != nil {
		closeDatabase(db, logger.WithModule("database"))
		return nil, fmt.Errorf("prepare database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
