package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	adherencedomain "github.com/MMatviiuk/medtrack/internal/adherence/domain"
	"github.com/MMatviiuk/medtrack/internal/clock"
	"github.com/MMatviiuk/medtrack/internal/config"
	daystatusdomain "github.com/MMatviiuk/medtrack/internal/daystatus/domain"
	doseeventdomain "github.com/MMatviiuk/medtrack/internal/doseevent/domain"
	medicationdomain "github.com/MMatviiuk/medtrack/internal/medication/domain"
	"github.com/MMatviiuk/medtrack/internal/observability"
	obsmiddleware "github.com/MMatviiuk/medtrack/internal/observability/logger"
	obsmetrics "github.com/MMatviiuk/medtrack/internal/observability/metrics"
	obstracing "github.com/MMatviiuk/medtrack/internal/observability/tracing"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	clock         clock.Clock
	tracking      *config.TrackingConfigHolder
	log           *zap.Logger
	medicationSvc medicationdomain.Service
	doseEventSvc  doseeventdomain.Service
	dayStatusSvc  daystatusdomain.Service
	adherenceSvc  adherencedomain.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Clock         clock.Clock
	Tracking      *config.TrackingConfigHolder `optional:"true"`
	Log           *zap.Logger
	MedicationSvc medicationdomain.Service
	DoseEventSvc  doseeventdomain.Service
	DayStatusSvc  daystatusdomain.Service
	AdherenceSvc  adherencedomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		clock:         p.Clock,
		tracking:      p.Tracking,
		log:           p.Log.Named("http"),
		medicationSvc: p.MedicationSvc,
		doseEventSvc:  p.DoseEventSvc,
		dayStatusSvc:  p.DayStatusSvc,
		adherenceSvc:  p.AdherenceSvc,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(OwnerRequired())

	// -------- Medications --------
	api.POST("/medications", s.CreateMedication)
	api.PATCH("/medications/:id", s.UpdateMedication)
	api.DELETE("/medications/:id", s.DeleteMedication)
	api.GET("/medications/:id/versions", s.ListMedicationVersions)

	// -------- Templates --------
	api.POST("/templates", s.CreateTemplate)

	// -------- Dose events --------
	api.GET("/events", s.ListEvents)
	api.POST("/events/:id/mark", s.MarkEvent)

	// -------- Calendar --------
	api.GET("/day-status", s.GetDayStatus)
	api.GET("/adherence", s.GetAdherence)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

func (s *Server) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

func (s *Server) defaultTimezone() string {
	return s.tracking.Get().DefaultTimezone
}
