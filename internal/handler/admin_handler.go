package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lumora/internal/domain"
	"lumora/internal/repository"
	"lumora/internal/service"
)

type AdminHandler struct {
	authSvc     *service.AuthService
	refundSvc   *service.RefundService
	paymentRepo *repository.PaymentRepository
	earningRepo *repository.EarningRepository
	log         *zap.Logger
}

func NewAdminHandler(
	authSvc *service.AuthService,
	refundSvc *service.RefundService,
	paymentRepo *repository.PaymentRepository,
	earningRepo *repository.EarningRepository,
	log *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		authSvc:     authSvc,
		refundSvc:   refundSvc,
		paymentRepo: paymentRepo,
		earningRepo: earningRepo,
		log:         log,
	}
}

func (h *AdminHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, access, refresh, err := h.authSvc.Login(req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if user.Role != domain.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin access required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":          user,
		"access_token":  access,
		"refresh_token": refresh,
	})
}

func (h *AdminHandler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	access, err := h.authSvc.Refresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": access})
}

// ListPayments pages through payments, optionally filtered by rail and status.
func (h *AdminHandler) ListPayments(c *gin.Context) {
	limit, offset := pagination(c)
	payments, err := h.paymentRepo.ListFiltered(c.Query("rail"), c.Query("status"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list payments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (h *AdminHandler) GetPayment(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}
	p, err := h.paymentRepo.GetByID(uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
		return
	}
	earning, _ := h.earningRepo.GetByPaymentID(p.ID)
	c.JSON(http.StatusOK, gin.H{"payment": p, "earning": earning})
}

// Refund reverses a completed payment, in full or partially. amount_cents = 0
// (or omitted) refunds whatever has not been refunded yet.
func (h *AdminHandler) Refund(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}
	var req struct {
		AmountCents int64  `json:"amount_cents" binding:"min=0"`
		Reason      string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.refundSvc.Refund(c.Request.Context(), uint(id), req.AmountCents, req.Reason, domain.SourceAdmin)
	if err != nil {
		c.JSON(domain.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refund": outcome})
}
