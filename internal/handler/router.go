package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/flicky/go-storefront-api/internal/middleware"
)

type Handlers struct {
	Auth    *AuthHandler
	Product *ProductHandler
	Order   *OrderHandler
	Payment *PaymentHandler
	Health  *HealthHandler
}

func NewRouter(h Handlers, verifier middleware.TokenVerifier, log *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log))

	router.GET("/healthz", h.Health.Healthz)
	router.GET("/readyz", h.Health.Readyz)

	requireAuth := middleware.Auth(verifier)

	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", h.Auth.Register)
		auth.POST("/login", h.Auth.Login)

		products := v1.Group("/products")
		products.GET("", h.Product.List)
		products.GET("/categories", h.Product.Categories)
		products.GET("/:id", h.Product.GetByID)

		owned := products.Group("", requireAuth)
		owned.POST("", h.Product.Create)
		owned.PUT("/:id", h.Product.Update)
		owned.DELETE("/:id", h.Product.Delete)

		orders := v1.Group("/orders", requireAuth)
		orders.POST("", h.Order.CreateOrder)
		orders.GET("", h.Order.ListOrders)
		orders.GET("/:id", h.Order.GetOrder)

		v1.POST("/payment", requireAuth, h.Payment.ProcessPayment)
	}

	return router
}
