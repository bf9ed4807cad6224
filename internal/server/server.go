package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/jijenga/referral/internal/auth"
	authdomain "github.com/jijenga/referral/internal/auth/domain"
	"github.com/jijenga/referral/internal/authorization"
	"github.com/jijenga/referral/internal/config"
	"github.com/jijenga/referral/internal/earning"
	earningdomain "github.com/jijenga/referral/internal/earning/domain"
	"github.com/jijenga/referral/internal/invitation"
	invitationdomain "github.com/jijenga/referral/internal/invitation/domain"
	"github.com/jijenga/referral/internal/observability"
	obsmiddleware "github.com/jijenga/referral/internal/observability/logger"
	obsmetrics "github.com/jijenga/referral/internal/observability/metrics"
	obstracing "github.com/jijenga/referral/internal/observability/tracing"
	"github.com/jijenga/referral/internal/payment"
	paymentdomain "github.com/jijenga/referral/internal/payment/domain"
	"github.com/jijenga/referral/internal/providers/email"
	"github.com/jijenga/referral/internal/providers/mpesa"
	"github.com/jijenga/referral/internal/ratelimit"
	"github.com/jijenga/referral/internal/referral"
	referraldomain "github.com/jijenga/referral/internal/referral/domain"
	"github.com/jijenga/referral/internal/referrallink"
	linkdomain "github.com/jijenga/referral/internal/referrallink/domain"
	"github.com/jijenga/referral/internal/user"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	auth.Module,
	user.Module,
	email.Module,
	mpesa.Module,
	invitation.Module,
	referrallink.Module,
	referral.Module,
	earning.Module,
	payment.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
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
	db            *gorm.DB
	genID         *snowflake.Node
	authSvc       authdomain.Service
	authzSvc      authorization.Service
	invitationSvc invitationdomain.Service
	linkSvc       linkdomain.Service
	referralSvc   referraldomain.Service
	earningSvc    earningdomain.Scheduler
	paymentSvc    paymentdomain.Service
	obsMetrics    *obsmetrics.Metrics
	intakeLimiter *ratelimit.EventIntakeLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	GenID         *snowflake.Node
	AuthSvc       authdomain.Service
	AuthzSvc      authorization.Service
	InvitationSvc invitationdomain.Service
	LinkSvc       linkdomain.Service
	ReferralSvc   referraldomain.Service
	EarningSvc    earningdomain.Scheduler
	PaymentSvc    paymentdomain.Service
	ObsMetrics    *obsmetrics.Metrics           `optional:"true"`
	IntakeLimiter *ratelimit.EventIntakeLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		genID:         p.GenID,
		authSvc:       p.AuthSvc,
		authzSvc:      p.AuthzSvc,
		invitationSvc: p.InvitationSvc,
		linkSvc:       p.LinkSvc,
		referralSvc:   p.ReferralSvc,
		earningSvc:    p.EarningSvc,
		paymentSvc:    p.PaymentSvc,
		obsMetrics:    p.ObsMetrics,
		intakeLimiter: p.IntakeLimiter,
	}

	svc.registerPublicRoutes()
	svc.registerAuthRoutes()
	svc.registerParticipantRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPublicRoutes() {
	s.engine.GET("/r/:code", s.TrackClick)
	s.engine.POST("/api/events", s.EventIntakeRateLimit(), s.IngestEvent)
}

func (s *Server) registerAuthRoutes() {
	authGroup := s.engine.Group("/auth")

	authGroup.POST("/register", s.Register)
	authGroup.POST("/login", s.Login)
	authGroup.POST("/admin/login", s.AdminLogin)

	authGroup.GET("/invitations/:token", s.GetInvitation)
}

func (s *Server) registerParticipantRoutes() {
	me := s.engine.Group("/api/me", auth.Middleware(s.authSvc, authdomain.KindParticipant))

	me.GET("/link", s.GetMyLink)
	me.GET("/referrals/:id", s.GetMyReferral)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", auth.Middleware(s.authSvc, authdomain.KindAdmin))

	admin.POST("/invitations",
		auth.RequireCapability(s.authzSvc, authorization.ObjectInvitation, authorization.ActionInvitationCreate),
		s.CreateInvitation,
	)

	admin.GET("/payments",
		auth.RequireCapability(s.authzSvc, authorization.ObjectPayment, authorization.ActionPaymentView),
		s.ListPayments,
	)
	admin.GET("/payments/:id",
		auth.RequireCapability(s.authzSvc, authorization.ObjectPayment, authorization.ActionPaymentView),
		s.GetPaymentByID,
	)
	admin.POST("/payments/batch",
		auth.RequireCapability(s.authzSvc, authorization.ObjectPayment, authorization.ActionPaymentBatch),
		s.CreatePaymentBatch,
	)
	admin.POST("/payments/:id/approve",
		auth.RequireCapability(s.authzSvc, authorization.ObjectPayment, authorization.ActionPaymentApprove),
		s.ApprovePayment,
	)
}
