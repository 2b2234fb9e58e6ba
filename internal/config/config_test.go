package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 8081
database:
  driver: postgres
  host: db.internal
  port: 5432
business:
  accrual_period: 1h
  withdrawal:
    min_amount: "20"
    fee_rate: "0.01"
    hold_duration: 24h
  referral:
    deposit_rates: ["0.05", "0.02"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileDefaultsAndEnv(t *testing.T) {
	t.Setenv("LEDGER_SERVER_PORT", "9090")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port, "env overrides file")
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, time.Hour, cfg.Business.AccrualPeriod)
	assert.Equal(t, 24*time.Hour, cfg.Business.Withdrawal.HoldDuration)
	assert.Equal(t, "20", cfg.Business.Withdrawal.MinAmountDecimal().String())
	assert.Equal(t, "0.01", cfg.Business.Withdrawal.FeeRateDecimal().String())
	assert.Len(t, cfg.Business.Referral.DepositRateDecimals(), 2)

	// 未配置的字段取默认值
	assert.Equal(t, 8, cfg.Business.AccrualWorkers)
	assert.Equal(t, 100, cfg.Business.SweepBatchSize)
	assert.Equal(t, "ledger_event", cfg.Kafka.Topic.LedgerEvent)
	assert.True(t, cfg.Business.Referral.DepositFirstOnly)
}

func TestLoad_RepositoryConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, time.Duration(0), cfg.Business.AccrualInterval)
	assert.Len(t, cfg.Business.Referral.InvestmentRates, 1)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database: DatabaseConfig{Driver: "mysql"},
			Business: BusinessConfig{
				AccrualPeriod:  24 * time.Hour,
				AccrualWorkers: 1,
				SweepBatchSize: 10,
				Withdrawal: WithdrawalConfig{
					MinAmount:    "10",
					FeeRate:      "0.05",
					HoldDuration: time.Hour,
				},
				Referral: ReferralConfig{DepositRates: []string{"0.05"}},
			},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"driver":       func(c *Config) { c.Database.Driver = "sqlite" },
		"period":       func(c *Config) { c.Business.AccrualPeriod = 0 },
		"workers":      func(c *Config) { c.Business.AccrualWorkers = 0 },
		"batch":        func(c *Config) { c.Business.SweepBatchSize = -1 },
		"hold":         func(c *Config) { c.Business.Withdrawal.HoldDuration = 0 },
		"min amount":   func(c *Config) { c.Business.Withdrawal.MinAmount = "abc" },
		"fee rate":     func(c *Config) { c.Business.Withdrawal.FeeRate = "1" },
		"deposit rate": func(c *Config) { c.Business.Referral.DepositRates = []string{"-0.1"} },
		"invest rate":  func(c *Config) { c.Business.Referral.InvestmentRates = []string{"2"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
