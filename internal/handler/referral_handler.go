package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lumora/internal/models"
	"lumora/internal/repository"
)

// ReferralHandler serves the bot's referral surface: each user's invite code
// and their commission history.
type ReferralHandler struct {
	referralRepo *repository.ReferralRepository
	earningRepo  *repository.EarningRepository
	userRepo     *repository.UserRepository
	log          *zap.Logger
}

func NewReferralHandler(
	referralRepo *repository.ReferralRepository,
	earningRepo *repository.EarningRepository,
	userRepo *repository.UserRepository,
	log *zap.Logger,
) *ReferralHandler {
	return &ReferralHandler{
		referralRepo: referralRepo,
		earningRepo:  earningRepo,
		userRepo:     userRepo,
		log:          log,
	}
}

// GetCode returns the caller's referral code, creating one on first use.
func (h *ReferralHandler) GetCode(c *gin.Context) {
	user, ok := h.resolveUser(c)
	if !ok {
		return
	}
	code, err := h.referralRepo.GetOrCreateCode(user.ID)
	if err != nil {
		h.log.Error("referral code failed", zap.Uint("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get referral code"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code.Code})
}

// GetEarnings returns the caller's referred users, per-payment commissions and
// the credited running total. Earnings cancelled by refunds stay visible with
// their cancel reason.
func (h *ReferralHandler) GetEarnings(c *gin.Context) {
	user, ok := h.resolveUser(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)
	referrals, err := h.referralRepo.ListByReferrerID(user.ID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list referrals"})
		return
	}
	earnings, err := h.earningRepo.ListByReferrer(user.ID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list earnings"})
		return
	}
	total, err := h.earningRepo.CreditedTotal(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to total earnings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"referrals":            referrals,
		"earnings":             earnings,
		"credited_total_cents": total,
	})
}

func (h *ReferralHandler) resolveUser(c *gin.Context) (*models.User, bool) {
	tgID, err := strconv.ParseInt(c.Query("telegram_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "telegram_id is required"})
		return nil, false
	}
	u, err := h.userRepo.GetByTelegramID(tgID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return nil, false
	}
	return u, true
}
