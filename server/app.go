package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"provision/config"
	"provision/internal/configsvc"
	"provision/internal/db"
	"provision/internal/docstore"
	"provision/internal/health"
	"provision/internal/logs"
	"provision/internal/middleware"
	"provision/internal/provctrl"
	"provision/internal/registry"
	"provision/internal/repo"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type App struct {
	cfg        *config.Config
	Router     *mux.Router
	httpServer *http.Server

	db        *gorm.DB
	templates *docstore.Provider
	ctx       context.Context
	cancel    context.CancelFunc
	log       *logrus.Entry
}

// Initialize поднимает логи, БД, хранилище шаблонов и маршруты.
// connect == nil — подключение к Mongo по умолчанию.
func (a *App) Initialize(cfg *config.Config, connect docstore.Connector) error {
	a.cfg = cfg

	// 1) Логи
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})
	a.log = logs.Component("server")

	// 2) БД (опционально)
	if drv := a.cfg.Database.Driver; drv != "" {
		d, err := db.Open(drv, a.cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("db open: %w", err)
		}
		a.db = d
		if err := db.AutoMigrate(a.db); err != nil {
			return fmt.Errorf("db migrate: %w", err)
		}
		if n, err := db.NormalizeStoredMACs(a.db); err != nil {
			a.log.WithError(err).Warn("normalize stored mac addresses")
		} else if n > 0 {
			a.log.WithField("count", n).Info("stored mac addresses normalized")
		}
	}

	// 3) Хранилище шаблонов: подключение ленивое, здесь только параметры
	opts, err := docstore.OptionsFromConfig(a.cfg.Mongo)
	if err != nil {
		return err
	}
	if !a.cfg.Mongo.Enabled() {
		a.log.WithField("uri", opts.Redacted()).Info("mongo not configured, using defaults")
	}
	a.templates = docstore.NewProvider(opts, connect)
	tplStore := docstore.NewTemplateStore(a.templates)

	// 4) Роутер + middleware
	a.Router = mux.NewRouter()
	// LoggerMW снаружи Recoverer: запрос с паникой тоже попадает в access-лог
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.LoggerMW)
	a.Router.Use(middleware.Recoverer)

	// 5) Health
	if a.db != nil {
		health.RegisterRoutesWithDB(a.Router, a.db, map[string]health.Pinger{"templates": a.templates})
	} else {
		health.RegisterRoutes(a.Router)
	}

	// 6) API и точка провижининга — только с БД устройств
	resolver := configsvc.NewResolver(tplStore)
	if a.db != nil {
		profiles := repo.NewProfileStore(a.db)
		devices := repo.NewDeviceStore(a.db)

		configsvc.NewHTTP(profiles, devices, tplStore, resolver).RegisterRoutes(a.Router)

		builder := configsvc.NewBuilder(registry.NewLookup(devices), resolver, configsvc.NewRenderer())
		provctrl.New(builder, devices).RegisterRoutes(a.Router)
	} else {
		a.log.Warn("database not configured: provisioning and management endpoints are disabled")
	}

	_ = a.Router.Walk(func(rt *mux.Route, r *mux.Router, ancestors []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		a.log.Debugf("route: %-6v %s", methods, path)
		return nil
	})
	return nil
}

// WarmUp ждёт хранилище шаблонов не дольше mongo.startup_wait и создаёт индексы.
// Неудача не фатальна: Provider подключится при первом запросе.
func (a *App) WarmUp(ctx context.Context) error {
	if a.templates == nil {
		return ErrNotInitialized
	}
	store := docstore.NewTemplateStore(a.templates)
	attempt := func() error {
		actx, cancel := context.WithTimeout(ctx, a.templates.Options().ConnectTimeout*2)
		defer cancel()
		return store.EnsureIndexes(actx)
	}

	var err error
	if wait := a.cfg.Mongo.StartupWait; wait > 0 {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = wait
		err = backoff.RetryNotify(attempt, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
			a.log.WithFields(logrus.Fields{"error": err, "retry_in": next}).Warn("template store not ready")
		})
	} else {
		err = attempt()
	}
	if err != nil {
		a.log.WithFields(logrus.Fields{
			"uri":   a.templates.Options().Redacted(),
			"error": err,
		}).Error("template store unavailable at startup, will retry on demand")
		return err
	}
	a.log.Info("template store ready")
	return nil
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return ErrNotInitialized
	}
	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigs; a.cancel() }()

	_ = a.WarmUp(a.ctx)

	a.httpServer = &http.Server{
		Addr:         bind,
		Handler:      a.Router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	var runErr error
	select {
	case <-a.ctx.Done():
	case runErr = <-errc:
		a.log.WithError(runErr).Error("http server error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.httpServer.Shutdown(ctx)
	if err := a.templates.Close(ctx); err != nil {
		a.log.WithError(err).Warn("mongo disconnect")
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return runErr
}

var ErrNotInitialized = &initError{"server not initialized (call Initialize(cfg) first)"}

type initError struct{ s string }

func (e *initError) Error() string { return e.s }
