package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ZamarianPatrick/waterplant-backend/config"
	"github.com/ZamarianPatrick/waterplant-backend/lock"
	"github.com/ZamarianPatrick/waterplant-backend/notify"
	"github.com/ZamarianPatrick/waterplant-backend/scheduler"
	"github.com/ZamarianPatrick/waterplant-backend/store"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// Controller owns the server side process: database, locks, notifications,
// the scheduler with its connectivity monitor and the HTTP server.
type Controller interface {
	DB() *gorm.DB
	Scheduler() *scheduler.Scheduler
	Handler() http.Handler
	// Run serves until ctx is done and then shuts down gracefully.
	Run(ctx context.Context) error
	Close() error
}

type controller struct {
	settings   *config.Settings
	db         *gorm.DB
	redis      *redis.Client
	dispatcher *notify.Dispatcher
	scheduler  *scheduler.Scheduler
	router     *gin.Engine
	log        *zap.Logger
}

func NewController(version string, settings *config.Settings, log *zap.Logger) (Controller, error) {
	if settings.Auth.Secret == "" {
		return nil, errors.New("auth secret is required (auth.secret or AUTH_SECRET)")
	}

	db, err := store.Open(settings.Database, log)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	c := &controller{
		settings: settings,
		db:       db,
		log:      log,
	}

	locks, err := c.newLocker(settings.Lock)
	if err != nil {
		c.Close()
		return nil, err
	}

	var sender notify.Sender
	if settings.Mail.Enabled {
		sender = notify.NewSMTP(settings.Mail)
	} else {
		sender = notify.NewLogSender(log.Named("notify"))
	}
	c.dispatcher = notify.NewDispatcher(sender, log)

	c.scheduler = scheduler.New(db, locks, c.dispatcher, log,
		scheduler.WithStaleAfter(settings.Monitor.StaleAfter.Std()),
	)

	if settings.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	c.router = NewRouter(NewResolver(version, c.scheduler, log), settings.Auth, c.scheduler, log)

	return c, nil
}

func (c *controller) newLocker(cfg config.Lock) (lock.Locker, error) {
	switch cfg.Backend {
	case "", "memory":
		return lock.NewMemory(cfg.AcquireTimeout.Std()), nil

	case "redis":
		c.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		return lock.NewRedis(c.redis, cfg.TTL.Std(), cfg.AcquireTimeout.Std(), c.log), nil

	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

func (c *controller) DB() *gorm.DB {
	return c.db
}

func (c *controller) Scheduler() *scheduler.Scheduler {
	return c.scheduler
}

func (c *controller) Handler() http.Handler {
	return c.router
}

func (c *controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		c.scheduler.Monitor(ctx, c.settings.Monitor.Interval.Std())
	}()

	server := &http.Server{
		Addr:              c.settings.HTTP.Addr,
		Handler:           c.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		c.log.Info("listening", zap.String("addr", server.Addr))
		serveErr <- server.ListenAndServe()
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	cancel()
	<-monitorDone

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}

	c.dispatcher.Wait()
	c.log.Info("server stopped")
	return err
}

func (c *controller) Close() error {
	var errs []error
	if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	if c.db != nil {
		if sqlDB, err := c.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
