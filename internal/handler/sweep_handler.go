package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lumora/internal/service"
)

// SweepHandler exposes the reconciliation sweeps to the external scheduler.
// Routes sit behind the shared-secret middleware; each run is bounded by the
// sweep budget so an overlapping trigger cannot pile up.
type SweepHandler struct {
	card  *service.CardSweep
	chain *service.ChainMonitor
	jobs  *service.JobSweep
	log   *zap.Logger
}

func NewSweepHandler(card *service.CardSweep, chain *service.ChainMonitor, jobs *service.JobSweep, log *zap.Logger) *SweepHandler {
	return &SweepHandler{card: card, chain: chain, jobs: jobs, log: log}
}

// StalePending re-queries the card provider for payments stuck in PENDING.
func (h *SweepHandler) StalePending(c *gin.Context) {
	h.respond(c, "stale_pending")(h.card.Run(c.Request.Context()))
}

// ChainMonitor polls the TON wallet and reconciles open chain payments.
func (h *SweepHandler) ChainMonitor(c *gin.Context) {
	h.respond(c, "chain_monitor")(h.chain.Run(c.Request.Context()))
}

// StuckJobs fails silent generation jobs and refunds their payments.
func (h *SweepHandler) StuckJobs(c *gin.Context) {
	h.respond(c, "stuck_jobs")(h.jobs.Run(c.Request.Context()))
}

func (h *SweepHandler) respond(c *gin.Context, name string) func(*service.SweepResult, error) {
	return func(res *service.SweepResult, err error) {
		if err != nil {
			h.log.Error("sweep failed", zap.String("sweep", name), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "result": res})
			return
		}
		h.log.Info("sweep finished",
			zap.String("sweep", name),
			zap.Int("checked", res.Checked),
			zap.Int("promoted", res.Promoted),
			zap.Int("expired", res.Expired),
			zap.Int("deferred", res.Deferred))
		c.JSON(http.StatusOK, gin.H{"result": res})
	}
}
