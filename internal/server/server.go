package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/farellandr/enrollhub/config"
	"github.com/farellandr/enrollhub/internal/auth"
	"github.com/farellandr/enrollhub/internal/booking"
	"github.com/farellandr/enrollhub/internal/gateway"
	"github.com/farellandr/enrollhub/internal/handlers"
	"github.com/farellandr/enrollhub/internal/mailer"
	"github.com/farellandr/enrollhub/internal/middleware"
	"github.com/farellandr/enrollhub/internal/mq"
	"github.com/farellandr/enrollhub/internal/obs"
	"github.com/farellandr/enrollhub/internal/reconcile"
)

const shutdownTimeout = 15 * time.Second

// App is the wired service. The CLI commands share it so a one-shot sweep
// runs exactly the code the server runs.
type App struct {
	Config  *config.Config
	DB      *gorm.DB
	Log     *logrus.Logger
	Gateway *gateway.Client
	Engine  *reconcile.Engine
	Poller  *reconcile.Poller
	Sweeper *reconcile.Sweeper
	Intake  *booking.Intake
	Issuer  *auth.Issuer

	closers []func(context.Context) error
}

func Build(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	app := &App{Config: cfg, Log: log}

	shutdownTracer, err := obs.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint, cfg.Server.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	app.closers = append(app.closers, shutdownTracer)

	db, err := config.InitDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.DB = db
	app.closers = append(app.closers, func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	smtp, err := mailer.NewSMTPMailer(cfg.Mail, cfg.Auth.QRSigningSecret(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mailer: %w", err)
	}

	var events reconcile.EventPublisher
	if cfg.Events.RabbitURL != "" {
		pub, err := mq.NewPublisher(cfg.Events.RabbitURL, cfg.Events.Exchange)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize event publisher: %w", err)
		}
		events = pub
		app.closers = append(app.closers, func(context.Context) error { return pub.Close() })
	} else {
		log.Info("RABBIT_URL not set, enrollment events are not published")
	}

	app.Gateway = gateway.NewClient(cfg.Gateway)
	app.Engine = reconcile.NewEngine(db, smtp, events, log)
	app.Poller = reconcile.NewPoller(db, app.Gateway, app.Engine, log)
	app.Sweeper = reconcile.NewSweeper(db, app.Poller, cfg.Sweep, log)
	app.Intake = booking.NewIntake(db, log)
	app.Issuer = auth.NewIssuer(cfg.Auth.JWTSecret)
	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start serves HTTP until ctx is cancelled, then drains in-flight requests.
func (a *App) Start(ctx context.Context) error {
	cfg := a.Config
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	limiter := middleware.NewInMemoryRateLimiter(cfg.RateLimit.StatusLimit, cfg.RateLimit.StatusWindow)

	h := handlers.New(handlers.Deps{
		DB:      a.DB,
		Intake:  a.Intake,
		Gateway: a.Gateway,
		Engine:  a.Engine,
		Poller:  a.Poller,
		Sweeper: a.Sweeper,
		Log:     a.Log,
	})

	router, err := NewRouter(h, limiter, a.Issuer, a.Log, cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	go limiter.Cleanup(ctx)
	if cfg.Sweep.Interval > 0 {
		go a.Sweeper.Run(ctx, cfg.Sweep.Interval)
		a.Log.WithField("interval", cfg.Sweep.Interval).Info("reconciliation sweeper enabled")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.WithField("port", cfg.Server.Port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.Log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// NewRouter builds the HTTP surface. Only trustedProxies may set the client
// IP through forwarding headers; with none, rate limiting keys on the peer.
func NewRouter(h *handlers.Handler, limiter middleware.Limiter, issuer *auth.Issuer, log *logrus.Logger, trustedProxies []string) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.Recovery(), middleware.RequestLogger(log))

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := r.Group("/v1")
	{
		workshops := public.Group("/workshops")
		{
			workshops.GET("", h.ListWorkshops)
			workshops.GET("/:slug", h.GetWorkshop)
		}

		public.POST("/bookings", h.CreateBooking)

		payments := public.Group("/payments")
		{
			payments.POST("/sessions", h.CreatePaymentSession)
			payments.POST("/webhook", h.PaymentWebhook)
			payments.GET("/status", middleware.RateLimit(limiter, "payment_status"), h.PaymentStatus)
			payments.GET("/return", h.PaymentReturn)
		}
	}

	admin := r.Group("/v1/admin")
	admin.Use(middleware.RequireRole(issuer, auth.RoleAdmin))
	{
		admin.POST("/batches/:id/recount", h.RecountBatch)
		admin.POST("/reconcile/sweep", h.RunSweep)
	}

	return r, nil
}
