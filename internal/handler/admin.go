package handler

import (
	"investledger/internal/service"
	"investledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// 管理端接口，管理员身份由上游网关鉴权后通过 X-Admin-ID 透传

type WithdrawalActionRequest struct {
	WithdrawalNo string `json:"withdrawal_no" binding:"required"`
}

type RejectWithdrawalRequest struct {
	WithdrawalNo string `json:"withdrawal_no" binding:"required"`
	Reason       string `json:"reason" binding:"required,max=512"`
}

// ProcessWithdrawal pending -> processing
// POST /api/v1/admin/withdrawal/process
func (h *Handler) ProcessWithdrawal(c *gin.Context) {
	var req WithdrawalActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	w, err := h.app.Withdrawal.StartProcessing(c.Request.Context(), req.WithdrawalNo, adminID(c))
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, w)
}

// ApproveWithdrawal processing -> approved
// POST /api/v1/admin/withdrawal/approve
func (h *Handler) ApproveWithdrawal(c *gin.Context) {
	var req WithdrawalActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	w, err := h.app.Withdrawal.Approve(c.Request.Context(), req.WithdrawalNo, adminID(c))
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, w)
}

// RejectWithdrawal pending|processing -> rejected
// POST /api/v1/admin/withdrawal/reject
func (h *Handler) RejectWithdrawal(c *gin.Context) {
	var req RejectWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	w, err := h.app.Withdrawal.Reject(c.Request.Context(), req.WithdrawalNo, adminID(c), req.Reason)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, w)
}

type AdjustBalanceRequest struct {
	UserID      int64           `json:"user_id" binding:"required,gt=0"`
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id" binding:"required,max=128"`
	Note        string          `json:"note" binding:"required,max=512"`
}

// AdjustBalance 人工调账
// POST /api/v1/admin/balance/adjust
func (h *Handler) AdjustBalance(c *gin.Context) {
	var req AdjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	res, err := h.app.Balance.AdjustBalance(c.Request.Context(), service.AdjustRequest{
		UserID:      req.UserID,
		Amount:      req.Amount,
		ReferenceID: req.ReferenceID,
		Note:        req.Note,
		AdminID:     adminID(c),
	})
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, gin.H{
		"balance":         res.Balance,
		"already_applied": res.AlreadyApplied,
	})
}

// ReconcileBalance 用流水重建余额并对比，repair=true 时覆盖快照
// GET /api/v1/admin/balance/reconcile?user_id=xxx&repair=false
func (h *Handler) ReconcileBalance(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	drift, err := h.app.Balance.Reconcile(c.Request.Context(), userID, c.Query("repair") == "true")
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, drift)
}

type BindReferrerRequest struct {
	UserID     int64 `json:"user_id" binding:"required,gt=0"`
	ReferredBy int64 `json:"referred_by" binding:"required,gt=0"`
}

// BindReferrer 同步用户系统的邀请关系
// POST /api/v1/admin/referral/bind
func (h *Handler) BindReferrer(c *gin.Context) {
	var req BindReferrerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if err := h.app.Referral.BindReferrer(c.Request.Context(), req.UserID, req.ReferredBy); err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, nil)
}

type SettleInvestmentRequest struct {
	InvestmentNo string `json:"investment_no" binding:"required"`
}

// SettleInvestment 手动结算单个理财
// POST /api/v1/admin/investment/settle
func (h *Handler) SettleInvestment(c *gin.Context) {
	var req SettleInvestmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	res, err := h.app.Investment.Settle(c.Request.Context(), req.InvestmentNo)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, res)
}

// RunAccrualSweep 触发一轮计息扫描
// POST /api/v1/admin/sweep/accrual
func (h *Handler) RunAccrualSweep(c *gin.Context) {
	stats, err := h.app.AccrualSweep.RunOnce(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, stats)
}

// RunWithdrawalTimeoutSweep 触发一轮提现超时扫描
// POST /api/v1/admin/sweep/withdrawal-timeout
func (h *Handler) RunWithdrawalTimeoutSweep(c *gin.Context) {
	stats, err := h.app.WithdrawalTimeout.RunOnce(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, stats)
}
