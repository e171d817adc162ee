package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lumora/config"
	"lumora/internal/domain"
	"lumora/internal/models"
	"lumora/internal/repository"
	"lumora/pkg/payment"
)

type PaymentHandler struct {
	cfg          *config.Config
	paymentRepo  *repository.PaymentRepository
	userRepo     *repository.UserRepository
	referralRepo *repository.ReferralRepository
	card         payment.Provider
	stars        *payment.StarsProvider
	ton          *payment.TonProvider
	log          *zap.Logger
}

func NewPaymentHandler(
	cfg *config.Config,
	paymentRepo *repository.PaymentRepository,
	userRepo *repository.UserRepository,
	referralRepo *repository.ReferralRepository,
	card payment.Provider,
	stars *payment.StarsProvider,
	ton *payment.TonProvider,
	log *zap.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		cfg:          cfg,
		paymentRepo:  paymentRepo,
		userRepo:     userRepo,
		referralRepo: referralRepo,
		card:         card,
		stars:        stars,
		ton:          ton,
		log:          log,
	}
}

// Create opens a checkout for a pack purchase on the chosen rail. The caller
// is the bot backend, so the payer is identified by telegram_id rather than a
// session. The response carries whatever the payer needs to complete the
// charge: a redirect URL for CARD and STARS, transfer instructions for TON.
func (h *PaymentHandler) Create(c *gin.Context) {
	var req struct {
		TelegramID   int64  `json:"telegram_id" binding:"required"`
		Username     string `json:"username"`
		Tier         string `json:"tier" binding:"required,oneof=STARTER PLUS PRO"`
		Rail         string `json:"rail" binding:"required,oneof=CARD STARS TON"`
		ReferralCode string `json:"referral_code"`
		Style        string `json:"style"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.getOrCreateUser(req.TelegramID, req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve user"})
		return
	}
	if req.ReferralCode != "" {
		h.attachReferral(user, req.ReferralCode)
	}

	priceCents := domain.TierPriceCents[req.Tier]
	orderRef := uuid.NewString()
	meta, _ := json.Marshal(map[string]string{"style": req.Style})

	p := &models.Payment{
		UserID:      user.ID,
		Rail:        req.Rail,
		AmountCents: priceCents,
		Currency:    "USD",
		Status:      domain.PaymentPending,
		ProviderRef: orderRef,
		Tier:        req.Tier,
		Units:       domain.TierUnits[req.Tier],
		Metadata:    string(meta),
	}

	charge := payment.ChargeRequest{
		UserID:      user.ID,
		AmountCents: priceCents,
		Currency:    "USD",
		OrderRef:    orderRef,
		Description: fmt.Sprintf("%s pack (%d generations)", req.Tier, p.Units),
	}

	var resp *payment.ChargeResponse
	switch req.Rail {
	case domain.RailCard:
		p.RailAmount = priceCents
		p.RailCurrency = "USD"
		charge.RailAmount = priceCents
		resp, err = h.card.CreateCharge(c.Request.Context(), charge)
	case domain.RailStars:
		p.RailAmount = domain.TierStars[req.Tier]
		p.RailCurrency = "XTR"
		charge.RailAmount = p.RailAmount
		resp, err = h.stars.CreateCharge(c.Request.Context(), charge)
	case domain.RailTon:
		var rate float64
		rate, err = h.ton.GetRate(c.Request.Context())
		if err != nil || rate <= 0 {
			h.log.Error("ton rate fetch failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "exchange rate unavailable"})
			return
		}
		now := time.Now()
		expiry := now.Add(h.cfg.Payment.RateLockWindow)
		p.RailAmount = int64(float64(priceCents) / 100.0 / rate * 1e9)
		p.RailCurrency = "TON"
		p.RateLockedAt = &now
		p.RateLockExpiry = &expiry
		charge.RailAmount = p.RailAmount
		resp, err = h.ton.CreateCharge(c.Request.Context(), charge)
	}
	if err != nil {
		h.log.Error("charge creation failed",
			zap.String("rail", req.Rail),
			zap.String("provider_ref", orderRef),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment provider unavailable"})
		return
	}
	p.ExternalID = resp.ExternalID

	if err := h.paymentRepo.Create(p); err != nil {
		h.log.Error("payment create failed", zap.String("provider_ref", orderRef), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create payment"})
		return
	}
	h.log.Info("checkout opened",
		zap.Uint("payment_id", p.ID),
		zap.String("rail", p.Rail),
		zap.String("tier", p.Tier),
		zap.Int64("amount_cents", p.AmountCents))

	c.JSON(http.StatusCreated, gin.H{
		"payment":      p,
		"redirect_url": resp.RedirectURL,
		"instructions": resp.Instructions,
	})
}

// Get returns a single payment; the bot polls this while TON transfers settle.
func (h *PaymentHandler) Get(c *gin.Context) {
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
	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// List returns a payer's payment history, newest first.
func (h *PaymentHandler) List(c *gin.Context) {
	tgID, err := strconv.ParseInt(c.Query("telegram_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "telegram_id is required"})
		return
	}
	user, err := h.userRepo.GetByTelegramID(tgID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	limit, offset := pagination(c)
	payments, err := h.paymentRepo.ListByUser(user.ID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list payments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (h *PaymentHandler) getOrCreateUser(tgID int64, username string) (*models.User, error) {
	user, err := h.userRepo.GetByTelegramID(tgID)
	if err == nil {
		return user, nil
	}
	user = &models.User{TelegramID: tgID, Username: username, Role: domain.RoleUser}
	if err := h.userRepo.Create(user); err != nil {
		// Lost a race with a concurrent first purchase.
		return h.userRepo.GetByTelegramID(tgID)
	}
	return user, nil
}

// attachReferral binds the payer to the code owner if they are not already
// referred. Self-referrals and bad codes are ignored rather than failing the
// checkout.
func (h *PaymentHandler) attachReferral(user *models.User, code string) {
	existing, err := h.referralRepo.GetByReferredUserID(user.ID)
	if err != nil || existing != nil {
		return
	}
	rc, err := h.referralRepo.GetByCode(code)
	if err != nil || rc == nil || rc.UserID == user.ID {
		return
	}
	ref := &models.Referral{
		ReferrerID:     rc.UserID,
		ReferredUserID: user.ID,
		CommissionRate: domain.ReferralCommissionRate,
	}
	if err := h.referralRepo.CreateReferral(ref); err != nil {
		h.log.Warn("referral attach failed", zap.Uint("user_id", user.ID), zap.Error(err))
	}
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
