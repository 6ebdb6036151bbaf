package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	iauth "github.com/charlesng35/dentaldesk/internal/auth"
	"github.com/charlesng35/dentaldesk/internal/handlers"
	"github.com/charlesng35/dentaldesk/internal/middleware"
	"github.com/charlesng35/dentaldesk/internal/monitoring"
	"github.com/charlesng35/dentaldesk/internal/realtime"
	"github.com/charlesng35/dentaldesk/internal/repository"
	"github.com/charlesng35/dentaldesk/internal/services"
)

// Dependencies are the wired components the router exposes.
type Dependencies struct {
	Registry *repository.Registry
	Tokens   *iauth.TokenService
	Hub      *realtime.Hub
	// Health adds /health/live and /health/ready when set.
	Health *monitoring.HealthManager

	Patients       *services.PatientService
	Doctors        *services.DoctorService
	Quotes         *services.QuoteService
	TreatmentPlans *services.TreatmentPlanService
	Settings       *services.SettingsService

	CORSOrigins []string
	// RateLimiter throttles authenticated API calls; nil disables it.
	RateLimiter *middleware.RateLimiter
	// MetricsPath mounts the Prometheus handler; empty disables it.
	MetricsPath string
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("repository registry must be provided")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("token service must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(deps.CORSOrigins...))
	r.Use(middleware.SecurityHeaders())

	// Health endpoint (public)
	r.GET("/health", handlers.Health(deps.Registry))
	if deps.Health != nil {
		r.GET("/health/live", handlers.Liveness(deps.Health))
		r.GET("/health/ready", handlers.Readiness(deps.Health))
	}

	if deps.MetricsPath != "" {
		r.GET(deps.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.Tokens), deps.RateLimiter.Handler())

	registerClinicRoutes(api, handlers.NewClinicHandler(deps.Patients, deps.Doctors, deps.Quotes, deps.TreatmentPlans))

	if deps.Settings != nil {
		settings := handlers.NewSettingsHandler(deps.Settings)
		api.GET("/settings", settings.Get)
		api.PUT("/settings", settings.Update)
	}

	if deps.Hub != nil {
		rt := handlers.NewRealtimeHandler(deps.Hub, deps.Registry)
		api.GET("/realtime", rt.Stream)
	}

	for _, repo := range deps.Registry.All() {
		if repo.Collection() == services.SettingsCollection {
			continue
		}
		registerDocumentRoutes(api, repo)
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func registerDocumentRoutes(api *gin.RouterGroup, repo *repository.Repository) {
	handler := handlers.NewDocumentHandler(repo)

	group := api.Group("/" + repo.Collection())
	{
		group.GET("", handler.List)
		group.POST("", handler.Create)
		group.POST("/batch", handler.Batch)
		group.GET("/:id", handler.Get)
		group.PATCH("/:id", handler.Update)
		group.DELETE("/:id", handler.Delete)
	}
}

func registerClinicRoutes(api *gin.RouterGroup, handler *handlers.ClinicHandler) {
	api.GET("/patients/search", handler.SearchPatients)
	api.GET("/patients/stats", handler.PatientStats)
	api.GET("/patients/export", handler.ExportPatients)
	api.GET("/patients/:id/records", handler.PatientRecords)
	api.GET("/doctors/active", handler.ActiveDoctors)
	api.GET("/quotes/stats", handler.QuoteStats)
	api.GET("/quotes/export", handler.ExportQuotes)
	api.GET("/treatmentPlans/stats", handler.TreatmentPlanStats)
}
