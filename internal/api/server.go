package api

import (
	"database/sql"

	"github.com/gin-gonic/gin"
	"github.com/safar/go-order-recon/internal/config"
	"github.com/safar/go-order-recon/internal/metrics"
	"github.com/safar/go-order-recon/internal/store"
)

type Server struct {
	db      *sql.DB
	factory store.FactoryConfig
	matcher store.MatcherConfig

	webhookSecret string
	adminKey      string

	metrics *metrics.ReconMetrics
}

func NewServer(db *sql.DB, cfg *config.Config, m *metrics.ReconMetrics) *Server {
	return &Server{
		db: db,
		factory: store.FactoryConfig{
			Pricing:           cfg.Pricing,
			ReservationWindow: cfg.Recon.ReservationWindow,
			BankAccount:       cfg.Bank.AccountNumber,
		},
		matcher: store.MatcherConfig{
			RequireExactAmount: cfg.Bank.RequireExactAmount,
		},
		webhookSecret: cfg.Bank.WebhookSecret,
		adminKey:      cfg.Admin.APIKey,
		metrics:       m,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), RequestID())

	r.POST("/orders", s.CreateOrder)
	r.GET("/orders/:number", s.GetOrder)
	r.POST("/webhooks/bank", s.BankWebhook)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	admin := r.Group("/admin")
	admin.Use(AdminOnly(s.adminKey))
	admin.GET("/orders", s.ListOrders)
	admin.PATCH("/orders/:number/status", s.UpdateStatus)
	admin.POST("/orders/:number/refund", s.RefundPayment)
	admin.POST("/variants", s.CreateVariant)

	return r
}
