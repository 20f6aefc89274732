package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/renderbank/renderbank/internal/auth"
	authdomain "github.com/renderbank/renderbank/internal/auth/domain"
	"github.com/renderbank/renderbank/internal/billing"
	billingdomain "github.com/renderbank/renderbank/internal/billing/domain"
	"github.com/renderbank/renderbank/internal/cache"
	"github.com/renderbank/renderbank/internal/config"
	"github.com/renderbank/renderbank/internal/ledger"
	"github.com/renderbank/renderbank/internal/migration"
	"github.com/renderbank/renderbank/internal/observability"
	obsmetrics "github.com/renderbank/renderbank/internal/observability/metrics"
	"github.com/renderbank/renderbank/internal/payment"
	paymentdomain "github.com/renderbank/renderbank/internal/payment/domain"
	"github.com/renderbank/renderbank/internal/ratelimit"
	"github.com/renderbank/renderbank/internal/renderer"
	"github.com/renderbank/renderbank/internal/tickets"
	ticketsdomain "github.com/renderbank/renderbank/internal/tickets/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	config.Module,
	observability.Module,
	migration.Module,
	cache.Module,
	ratelimit.Module,
	auth.Module,
	ledger.Module,
	renderer.Module,
	billing.Module,
	tickets.Module,
	payment.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, metrics *obsmetrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	return r
}

func registerGin(log *zap.Logger, metrics *obsmetrics.Metrics) *gin.Engine {
	return NewEngine(log, metrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
	log           *zap.Logger
	verifier      authdomain.Verifier
	ticketsSvc    ticketsdomain.Service
	billingSvc    billingdomain.Service
	paymentSvc    paymentdomain.Service
	submitLimiter *ratelimit.SubmitLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	Verifier      authdomain.Verifier
	TicketsSvc    ticketsdomain.Service
	BillingSvc    billingdomain.Service
	PaymentSvc    paymentdomain.Service
	SubmitLimiter *ratelimit.SubmitLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http"),
		verifier:      p.Verifier,
		ticketsSvc:    p.TicketsSvc,
		billingSvc:    p.BillingSvc,
		paymentSvc:    p.PaymentSvc,
		submitLimiter: p.SubmitLimiter,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1", s.AuthRequired())

	// -------- Generations --------
	v1.POST("/generations", s.SubmitRateLimit(), s.CreateGeneration)
	v1.GET("/generations/:id", s.GetGeneration)

	// -------- Tickets --------
	v1.GET("/tickets", s.GetTickets)
	v1.GET("/tickets/events", s.ListTicketEvents)
	v1.POST("/tickets/daily", s.ClaimDailyBonus)
}

func (s *Server) registerWebhookRoutes() {
	// Provider webhooks authenticate via signature, not bearer tokens.
	s.engine.POST("/webhooks/payments/:provider", s.HandlePaymentWebhook)
}
