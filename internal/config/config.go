package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	WorkerID int64  `mapstructure:"worker_id"`
	LogLevel string `mapstructure:"log_level"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql | postgres
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvent     string `mapstructure:"ledger_event"`
	WithdrawalEvent string `mapstructure:"withdrawal_event"`
}

type BusinessConfig struct {
	AccrualPeriod             time.Duration    `mapstructure:"accrual_period"`
	AccrualWorkers            int              `mapstructure:"accrual_workers"`
	SweepBatchSize            int              `mapstructure:"sweep_batch_size"`
	AccrualInterval           time.Duration    `mapstructure:"accrual_interval"`            // 0 表示不在进程内调度，由外部 cron 调用 ledgerctl
	WithdrawalTimeoutInterval time.Duration    `mapstructure:"withdrawal_timeout_interval"` // 同上
	MaxRetryCount             int              `mapstructure:"max_retry_count"`
	Withdrawal                WithdrawalConfig `mapstructure:"withdrawal"`
	Referral                  ReferralConfig   `mapstructure:"referral"`
}

type WithdrawalConfig struct {
	MinAmount    string        `mapstructure:"min_amount"`
	FeeRate      string        `mapstructure:"fee_rate"`
	HoldDuration time.Duration `mapstructure:"hold_duration"`
}

type ReferralConfig struct {
	DepositFirstOnly bool     `mapstructure:"deposit_first_only"`
	DepositRates     []string `mapstructure:"deposit_rates"`    // 下标即层级-1
	InvestmentRates  []string `mapstructure:"investment_rates"` // 同上
}

// MinAmountDecimal 最小提现金额
func (c WithdrawalConfig) MinAmountDecimal() decimal.Decimal {
	return mustDecimal(c.MinAmount)
}

// FeeRateDecimal 提现手续费率
func (c WithdrawalConfig) FeeRateDecimal() decimal.Decimal {
	return mustDecimal(c.FeeRate)
}

// DepositRateDecimals 充值佣金各级费率
func (c ReferralConfig) DepositRateDecimals() []decimal.Decimal {
	return mustDecimals(c.DepositRates)
}

// InvestmentRateDecimals 投资佣金各级费率
func (c ReferralConfig) InvestmentRateDecimals() []decimal.Decimal {
	return mustDecimals(c.InvestmentRates)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)

	v.SetDefault("kafka.topic.ledger_event", "ledger_event")
	v.SetDefault("kafka.topic.withdrawal_event", "withdrawal_event")

	v.SetDefault("business.accrual_period", 24*time.Hour)
	v.SetDefault("business.accrual_workers", 8)
	v.SetDefault("business.sweep_batch_size", 100)
	v.SetDefault("business.accrual_interval", 0)
	v.SetDefault("business.withdrawal_timeout_interval", time.Minute)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.withdrawal.min_amount", "10")
	v.SetDefault("business.withdrawal.fee_rate", "0.05")
	v.SetDefault("business.withdrawal.hold_duration", 72*time.Hour)
	v.SetDefault("business.referral.deposit_first_only", true)
	v.SetDefault("business.referral.deposit_rates", []string{"0.05"})
	v.SetDefault("business.referral.investment_rates", []string{})
}

// Load 读取并校验配置文件，环境变量 LEDGER_XXX_YYY 覆盖 xxx.yyy
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ledger")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig 服务启动时加载配置，失败直接退出
func LoadConfig(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}
	return cfg
}

// Validate 校验业务参数
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("不支持的数据库驱动: %s", c.Database.Driver)
	}
	if c.Business.AccrualPeriod <= 0 {
		return fmt.Errorf("business.accrual_period 必须大于0")
	}
	if c.Business.AccrualWorkers <= 0 {
		return fmt.Errorf("business.accrual_workers 必须大于0")
	}
	if c.Business.SweepBatchSize <= 0 {
		return fmt.Errorf("business.sweep_batch_size 必须大于0")
	}
	if c.Business.Withdrawal.HoldDuration <= 0 {
		return fmt.Errorf("business.withdrawal.hold_duration 必须大于0")
	}

	w := c.Business.Withdrawal
	minAmount, err := decimal.NewFromString(w.MinAmount)
	if err != nil || minAmount.IsNegative() {
		return fmt.Errorf("business.withdrawal.min_amount 不合法: %q", w.MinAmount)
	}
	feeRate, err := decimal.NewFromString(w.FeeRate)
	if err != nil || feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("business.withdrawal.fee_rate 不合法: %q", w.FeeRate)
	}

	for _, rates := range [][]string{c.Business.Referral.DepositRates, c.Business.Referral.InvestmentRates} {
		for _, r := range rates {
			d, err := decimal.NewFromString(r)
			if err != nil || d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
				return fmt.Errorf("佣金费率不合法: %q", r)
			}
		}
	}
	return nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func mustDecimals(list []string) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(list))
	for _, s := range list {
		out = append(out, mustDecimal(s))
	}
	return out
}
