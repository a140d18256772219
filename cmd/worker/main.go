package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	asynqfx "pulsecrm/pkg/asynq"
	"pulsecrm/pkg/config"
	"pulsecrm/pkg/db"
	"pulsecrm/pkg/featureflags"
	"pulsecrm/pkg/gen"
	"pulsecrm/pkg/health"
	"pulsecrm/pkg/logger"
	"pulsecrm/pkg/redis"
	"pulsecrm/pkg/taskname"
	"pulsecrm/services/actionqueue"
	"pulsecrm/services/broadcast"
	"pulsecrm/services/contact"
	"pulsecrm/services/discovery"
	"pulsecrm/services/eventqueue"
	"pulsecrm/services/execlog"
	"pulsecrm/services/messaging"
	"pulsecrm/services/tag"
	"pulsecrm/services/tenant"
	"pulsecrm/services/trigger"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		featureflags.Module,
		health.Module,
		asynqfx.Client,
		asynqfx.Server,

		tenant.Module,
		contact.Module,
		tag.Module,
		broadcast.Module,
		messaging.Module,
		trigger.Module,
		execlog.Module,
		eventqueue.Module,
		actionqueue.Module,
		discovery.Module,

		fx.Invoke(
			db.Otel,
			registerMigrations,
			registerHandlers,
			runHealthServer,
			eventqueue.StartProcessor,
			actionqueue.StartRegistry,
			discovery.StartScheduler,
		),
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func registerMigrations(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&tenant.Agency{},
		&tenant.User{},
		&contact.Contact{},
		&contact.Activity{},
		&tag.Tag{},
		&tag.ContactTag{},
		&broadcast.Broadcast{},
		&broadcast.Member{},
		&broadcast.Entry{},
		&trigger.Trigger{},
		&trigger.EventConfig{},
		&trigger.ActionConfig{},
		&eventqueue.Entry{},
		&actionqueue.Entry{},
		&execlog.EventLog{},
		&execlog.ActionLog{},
	)
}

func registerHandlers(mux *asynq.ServeMux, svc *discovery.Service, broadcasts broadcast.Store) {
	mux.HandleFunc(taskname.EngineTenantScan, svc.HandleTenantScan)
	mux.HandleFunc(taskname.EngineEventReceived, svc.HandleEventReceived)
	mux.Handle(taskname.BroadcastEntryFlush, broadcast.HandleEntryFlush(broadcasts))
}

func runHealthServer(lc fx.Lifecycle, cfg *config.Config, hs health.HealthService) {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", hs.Liveness)
	r.GET("/readyz", hs.Readiness)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					zap.L().Error("[HTTP] health server stopped", zap.Error(err))
				}
			}()
			zap.L().Info("[HTTP] health server started", zap.String("addr", cfg.Server.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
