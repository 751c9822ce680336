package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akylbek/payment-system/payment-gateway/internal/handlers"
	"github.com/akylbek/payment-system/payment-gateway/internal/telemetry"
)

const serviceName = "payment-gateway"

// Service is everything the HTTP surface needs from the orchestrator.
type Service interface {
	handlers.PaymentService
	handlers.AuditLogService
}

func NewRouter(svc Service) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	})

	paymentHandler := handlers.NewPaymentHandler(svc)
	payments := r.Group("/payments")
	{
		payments.POST("/authorize", paymentHandler.Authorize)
		payments.POST("/capture/:id", paymentHandler.Capture)
		payments.POST("/refund/:id", paymentHandler.Refund)
		payments.GET("/:id", paymentHandler.GetPayment)
	}

	logHandler := handlers.NewTransactionLogHandler(svc)
	logs := r.Group("/transaction-logs/transaction/:id")
	{
		logs.GET("", logHandler.List)
		logs.GET("/status/:status", logHandler.ListByStatus)
	}

	return r
}
