package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/partnerledger/internal/audit/domain"
	commissiondomain "github.com/smallbiznis/partnerledger/internal/commission/domain"
	"github.com/smallbiznis/partnerledger/internal/config"
	notificationdomain "github.com/smallbiznis/partnerledger/internal/notification/domain"
	"github.com/smallbiznis/partnerledger/internal/observability/logger"
	"github.com/smallbiznis/partnerledger/internal/observability/metrics"
	partnerdomain "github.com/smallbiznis/partnerledger/internal/partner/domain"
	paymentdomain "github.com/smallbiznis/partnerledger/internal/payment/domain"
	payoutdomain "github.com/smallbiznis/partnerledger/internal/payout/domain"
	sysdomain "github.com/smallbiznis/partnerledger/internal/systemconfig/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(RunHTTP),
)

type Params struct {
	fx.In

	Cfg             config.Config
	Log             *zap.Logger
	DB              *gorm.DB
	Engine          *gin.Engine
	PaymentSvc      paymentdomain.Service
	CommissionSvc   commissiondomain.Service
	PartnerSvc      partnerdomain.Service
	PayoutSvc       payoutdomain.Service
	NotificationSvc notificationdomain.Service
	AuditSvc        auditdomain.Service
	Flags           sysdomain.Service
}

type Server struct {
	cfg             config.Config
	log             *zap.Logger
	db              *gorm.DB
	engine          *gin.Engine
	paymentSvc      paymentdomain.Service
	commissionSvc   commissiondomain.Service
	partnerSvc      partnerdomain.Service
	payoutSvc       payoutdomain.Service
	notificationSvc notificationdomain.Service
	auditSvc        auditdomain.Service
	flags           sysdomain.Service
	webhookLimiter  *webhookLimiter
}

func NewServer(p Params) *Server {
	return &Server{
		cfg:             p.Cfg,
		log:             p.Log.Named("server"),
		db:              p.DB,
		engine:          p.Engine,
		paymentSvc:      p.PaymentSvc,
		commissionSvc:   p.CommissionSvc,
		partnerSvc:      p.PartnerSvc,
		payoutSvc:       p.PayoutSvc,
		notificationSvc: p.NotificationSvc,
		auditSvc:        p.AuditSvc,
		flags:           p.Flags,
		webhookLimiter:  newWebhookLimiter(p.Cfg.Webhook.RateLimit, p.Cfg.Webhook.RateWindow),
	}
}

type EngineParams struct {
	fx.In

	Cfg     config.Config
	Metrics *metrics.HTTPMetrics `optional:"true"`
}

// NewEngine builds the gin engine with recovery, access logging and request
// metrics installed.
func NewEngine(p EngineParams) *gin.Engine {
	if p.Cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(logger.MiddlewareConfig{SkipPaths: []string{"/healthz", "/metrics"}}))
	r.Use(metrics.GinMiddleware(p.Metrics))
	return r
}

// Handler exposes the engine for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) RegisterRoutes() {
	r := s.engine
	r.GET("/healthz", s.Health)
	if s.cfg.Metrics.Enabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api/v1")
	api.POST("/webhooks/payments", s.WebhookRateLimit(), s.IngestPaymentEvent)

	op := api.Group("", s.OperatorAuth())

	op.GET("/commissions", s.ListCommissions)
	op.GET("/commissions/:id", s.GetCommission)
	op.POST("/commissions/:id/dispute", s.DisputeCommission)
	op.POST("/commissions/:id/resolve", s.ResolveCommissionDispute)
	op.POST("/commissions/:id/notes", s.AddCommissionNote)
	op.POST("/commissions/:id/reverse", s.ReverseCommission)
	op.POST("/commissions/:id/release-hold", s.ReleaseCommissionHold)

	op.POST("/partners", s.CreatePartner)
	op.GET("/partners/:id", s.GetPartner)
	op.GET("/partners/:id/payable", s.ListPayableCommissions)
	op.POST("/partners/:id/activate", s.ActivatePartner)
	op.POST("/partners/:id/suspend", s.SuspendPartner)
	op.POST("/partners/:id/fraud-flag", s.SetPartnerFraudFlag)
	op.POST("/partners/:id/risk", s.AssessPartnerRisk)

	op.POST("/payouts", s.CreatePayout)
	op.GET("/payouts", s.ListPayouts)
	op.GET("/payouts/:id", s.GetPayout)
	op.GET("/payouts/:id/commissions", s.ListPayoutCommissions)
	op.POST("/payouts/:id/ready", s.MarkPayoutReady)
	op.POST("/payouts/:id/execute", s.ExecutePayout)
	op.POST("/payouts/:id/paid", s.MarkPayoutPaid)
	op.POST("/payouts/:id/fail", s.MarkPayoutFailed)
	op.POST("/payouts/:id/cancel", s.CancelPayout)
	op.POST("/payouts/:id/reconcile", s.ReconcilePayout)
	op.POST("/payouts/:id/release-hold", s.ReleasePayoutHold)

	op.GET("/integrity", s.CheckIntegrity)

	op.GET("/notifications", s.ListNotifications)
	op.POST("/notifications/:id/resolve", s.ResolveNotification)

	op.PUT("/system-config/:key", s.SetSystemConfig)
	op.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) Health(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RunHTTP serves the engine for the lifetime of the fx app.
func RunHTTP(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func parseID(c *gin.Context, name string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}

func parseOptionalID(value string) (snowflake.ID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	id, err := snowflake.ParseString(value)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}

func parsePage(c *gin.Context) (limit, offset int, err error) {
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return 0, 0, newValidationError("limit", "invalid", "limit must be a non-negative integer")
		}
	}
	if raw := strings.TrimSpace(c.Query("offset")); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, newValidationError("offset", "invalid", "offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// parseMode maps the mode query parameter to a livemode filter.
func parseMode(value string) (*bool, error) {
	switch strings.TrimSpace(value) {
	case "":
		return nil, nil
	case config.ModeLive:
		live := true
		return &live, nil
	case config.ModeTest:
		live := false
		return &live, nil
	default:
		return nil, newValidationError("mode", "invalid", "mode must be live or test")
	}
}

func splitCSV(value string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
