package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flicky/go-storefront-api/internal/apperr"
	"github.com/flicky/go-storefront-api/internal/dto"
	"github.com/flicky/go-storefront-api/internal/middleware"
	"github.com/flicky/go-storefront-api/internal/service"
)

type PaymentHandler struct {
	paymentService *service.PaymentService
	log            *slog.Logger
}

func NewPaymentHandler(paymentService *service.PaymentService, log *slog.Logger) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService, log: log}
}

func (h *PaymentHandler) ProcessPayment(c *gin.Context) {
	var req dto.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	res, err := h.paymentService.ProcessPayment(c.Request.Context(), middleware.GetUserID(c), req)
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.Kind == apperr.KindGatewayRejected {
			c.JSON(http.StatusBadRequest, dto.PaymentResponse{
				Success: false,
				Error:   appErr.Message,
				Code:    dto.CodeGatewayRejected,
				OrderID: req.OrderID,
			})
			return
		}
		writeError(c, h.log, err)
		return
	}

	order := toOrderResponse(res.Order)
	c.JSON(http.StatusOK, dto.PaymentResponse{
		Success:   true,
		Message:   res.Message,
		OrderID:   res.Order.ID,
		PaymentID: res.PaymentID,
		Order:     &order,
	})
}
