package handler

import (
	"investledger/internal/app"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 配置路由
func SetupRouter(a *app.App) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(a)

	api := r.Group("/api/v1")
	{
		account := api.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
			account.GET("/ledger", h.ListLedger)
			account.GET("/commissions", h.ListCommissions)
		}

		deposit := api.Group("/deposit")
		{
			deposit.POST("/confirm", h.ConfirmDeposit)
		}

		investment := api.Group("/investment")
		{
			investment.POST("/purchase", h.PurchaseInvestment)
			investment.GET("/list", h.ListInvestments)
			investment.GET("/detail", h.GetInvestment)
		}

		withdrawal := api.Group("/withdrawal")
		{
			withdrawal.POST("/request", h.RequestWithdrawal)
			withdrawal.GET("/detail", h.GetWithdrawal)
			withdrawal.GET("/list", h.ListWithdrawals)
		}

		admin := api.Group("/admin", AdminMiddleware())
		{
			admin.POST("/withdrawal/process", h.ProcessWithdrawal)
			admin.POST("/withdrawal/approve", h.ApproveWithdrawal)
			admin.POST("/withdrawal/reject", h.RejectWithdrawal)
			admin.POST("/balance/adjust", h.AdjustBalance)
			admin.GET("/balance/reconcile", h.ReconcileBalance)
			admin.POST("/referral/bind", h.BindReferrer)
			admin.POST("/investment/settle", h.SettleInvestment)
			admin.POST("/sweep/accrual", h.RunAccrualSweep)
			admin.POST("/sweep/withdrawal-timeout", h.RunWithdrawalTimeoutSweep)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
