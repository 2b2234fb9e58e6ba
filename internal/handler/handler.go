package handler

import (
	"errors"
	"strconv"

	"investledger/internal/app"
	"investledger/internal/service"
	"investledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Handler 统一处理器，只做参数解析和错误映射，业务都在 service 里
type Handler struct {
	app *app.App
}

func NewHandler(a *app.App) *Handler {
	return &Handler{app: a}
}

// renderError 把服务层错误映射成业务码
func renderError(c *gin.Context, err error) {
	var insufficient *service.InsufficientFundsError
	switch {
	case errors.As(err, &insufficient):
		response.ErrorWithData(c, response.CodeInsufficientFunds, err.Error(), gin.H{
			"available": insufficient.Available,
			"required":  insufficient.Required,
		})
	case errors.Is(err, service.ErrInsufficientFunds):
		response.BusinessError(c, response.CodeInsufficientFunds, err.Error())
	case errors.Is(err, service.ErrPlanInactive):
		response.BusinessError(c, response.CodePlanInactive, err.Error())
	case errors.Is(err, service.ErrInvalidAmount):
		response.BusinessError(c, response.CodeInvalidAmount, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.Error(c, response.CodeNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidStateTransition):
		response.BusinessError(c, response.CodeInvalidState, err.Error())
	case errors.Is(err, service.ErrStoreUnavailable):
		response.Error(c, response.CodeServiceUnavailable, err.Error())
	default:
		logrus.WithField("request_id", c.GetString(requestIDKey)).WithError(err).Error("未分类的错误")
		response.ServerError(c, "服务器内部错误")
	}
}

func queryInt64(c *gin.Context, key string) (int64, bool) {
	v, err := strconv.ParseInt(c.Query(key), 10, 64)
	if err != nil || v <= 0 {
		response.ParamError(c, key+" 参数错误")
		return 0, false
	}
	return v, true
}

func queryPage(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

// ============================================================
// 账户
// ============================================================

// GetBalance 查询余额
// GET /api/v1/account/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	balance, err := h.app.Balance.GetBalance(c.Request.Context(), userID)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, balance)
}

// ListLedger 查询流水
// GET /api/v1/account/ledger?user_id=xxx&page=1&page_size=20
func (h *Handler) ListLedger(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	page, pageSize := queryPage(c)
	entries, total, err := h.app.Balance.ListLedger(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":  entries,
		"total": total,
	})
}

// ListCommissions 查询收到的推荐佣金
// GET /api/v1/account/commissions?user_id=xxx
func (h *Handler) ListCommissions(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	list, err := h.app.Referral.ListByReferrer(c.Request.Context(), userID)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, gin.H{"list": list})
}

// ============================================================
// 充值到账
// ============================================================

type DepositConfirmRequest struct {
	UserID         int64           `json:"user_id" binding:"required,gt=0"`
	OrderReference string          `json:"order_reference" binding:"required,max=128"`
	Amount         decimal.Decimal `json:"amount"`
}

// ConfirmDeposit 支付渠道到账回调，按 order_reference 幂等
// POST /api/v1/deposit/confirm
func (h *Handler) ConfirmDeposit(c *gin.Context) {
	var req DepositConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	res, err := h.app.Deposit.NotifyDepositConfirmed(c.Request.Context(), req.UserID, req.OrderReference, req.Amount)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, gin.H{
		"balance":         res.Balance,
		"already_applied": res.AlreadyApplied,
	})
}

// ============================================================
// 理财
// ============================================================

type PurchaseRequest struct {
	UserID int64           `json:"user_id" binding:"required,gt=0"`
	PlanID int64           `json:"plan_id" binding:"required,gt=0"`
	Amount decimal.Decimal `json:"amount"`
}

// PurchaseInvestment 购买理财
// POST /api/v1/investment/purchase
func (h *Handler) PurchaseInvestment(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	inv, err := h.app.Investment.Purchase(c.Request.Context(), service.PurchaseRequest{
		UserID: req.UserID,
		PlanID: req.PlanID,
		Amount: req.Amount,
	})
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, inv)
}

// ListInvestments 用户的理财列表
// GET /api/v1/investment/list?user_id=xxx
func (h *Handler) ListInvestments(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	list, err := h.app.Investment.List(c.Request.Context(), userID)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, gin.H{"list": list})
}

// GetInvestment 理财详情
// GET /api/v1/investment/detail?investment_no=xxx
func (h *Handler) GetInvestment(c *gin.Context) {
	investmentNo := c.Query("investment_no")
	if investmentNo == "" {
		response.ParamError(c, "investment_no 不能为空")
		return
	}
	inv, err := h.app.Investment.Get(c.Request.Context(), investmentNo)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, inv)
}

// ============================================================
// 提现
// ============================================================

type WithdrawRequest struct {
	UserID             int64           `json:"user_id" binding:"required,gt=0"`
	Amount             decimal.Decimal `json:"amount"`
	DestinationAddress string          `json:"destination_address" binding:"required,max=128"`
}

// RequestWithdrawal 发起提现
// POST /api/v1/withdrawal/request
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	w, err := h.app.Withdrawal.Request(c.Request.Context(), service.WithdrawRequest{
		UserID:             req.UserID,
		Amount:             req.Amount,
		DestinationAddress: req.DestinationAddress,
	})
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, w)
}

// GetWithdrawal 提现详情
// GET /api/v1/withdrawal/detail?withdrawal_no=xxx
func (h *Handler) GetWithdrawal(c *gin.Context) {
	withdrawalNo := c.Query("withdrawal_no")
	if withdrawalNo == "" {
		response.ParamError(c, "withdrawal_no 不能为空")
		return
	}
	w, err := h.app.Withdrawal.Get(c.Request.Context(), withdrawalNo)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, w)
}

// ListWithdrawals 用户的提现记录
// GET /api/v1/withdrawal/list?user_id=xxx&page=1&page_size=20
func (h *Handler) ListWithdrawals(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	page, pageSize := queryPage(c)
	list, total, err := h.app.Withdrawal.ListByUser(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":  list,
		"total": total,
	})
}
