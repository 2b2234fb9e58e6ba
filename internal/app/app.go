package app

import (
	"investledger/internal/config"
	"investledger/internal/job"
	"investledger/internal/service"
	"investledger/pkg/clock"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// App 服务和任务的装配结果，HTTP 服务和 ledgerctl 共用
type App struct {
	DB     *gorm.DB
	Config *config.Config

	Balance    *service.BalanceService
	Deposit    *service.DepositService
	Investment *service.InvestmentService
	Withdrawal *service.WithdrawalService
	Referral   *service.ReferralService

	AccrualSweep      *job.AccrualSweep
	WithdrawalTimeout *job.WithdrawalTimeoutJob
	Outbox            *job.OutboxSender
}

// New 装配所有服务；rdb 为 nil 时扫描任务不加租约，publisher 为 nil 时不创建 outbox 投递任务
func New(db *gorm.DB, rdb redis.Cmdable, publisher job.Publisher, cfg *config.Config, clk clock.Clock) *App {
	biz := cfg.Business

	balance := service.NewBalanceService(db, cfg.Kafka.Topic.LedgerEvent)
	referral := service.NewReferralService(db, balance, biz.Referral, clk)
	investment := service.NewInvestmentService(db, balance, referral, biz.AccrualPeriod, clk)
	withdrawal := service.NewWithdrawalService(db, balance, biz.Withdrawal, cfg.Kafka.Topic.WithdrawalEvent, clk)

	a := &App{
		DB:     db,
		Config: cfg,

		Balance:    balance,
		Deposit:    service.NewDepositService(db, balance, referral),
		Investment: investment,
		Withdrawal: withdrawal,
		Referral:   referral,

		AccrualSweep:      job.NewAccrualSweep(db, investment, rdb, biz, clk),
		WithdrawalTimeout: job.NewWithdrawalTimeoutJob(withdrawal, rdb, biz, clk),
	}
	if publisher != nil {
		a.Outbox = job.NewOutboxSender(db, publisher, biz.MaxRetryCount)
	}
	return a
}
