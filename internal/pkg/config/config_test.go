package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/BeanCounter/internal/pkg/loyalty"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loyalty.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	policy, err := cfg.Policy()
	require.NoError(t, err)
	defaults := loyalty.DefaultPolicy()
	assert.Equal(t, defaults.ClubThreshold, policy.ClubThreshold)
	assert.True(t, defaults.ClubRate.Equal(policy.ClubRate))
	assert.True(t, defaults.PremiumFoodRate.Equal(policy.PremiumFoodRate))
	assert.Equal(t, defaults.RedemptionCooldown, policy.RedemptionCooldown)
	assert.Equal(t, defaults.BillingPeriodDays, policy.BillingPeriodDays)
	assert.Equal(t, defaults.ChargeResultTimeout, policy.ChargeResultTimeout)
	assert.False(t, policy.RollingIncludesCurrentMonth)
	assert.Equal(t, BackendDB, cfg.Redemption.Backend)
	assert.True(t, cfg.Payment.Simulated)
	assert.True(t, cfg.Notifications.Async)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
tiers:
  club_threshold: 8000
  rolling_window_includes_current_month: true
discounts:
  club: "0.07"
redemption:
  max_per_day: 2
  cooldown: 90m
  backend: redis
subscription:
  charge_result_timeout: 15m
customers:
  default_timezone: Europe/Berlin
payment:
  simulated: false
  failing_customers: [a, b]
`)
	t.Setenv("LOYALTY_CLUB_THRESHOLD", "9000")
	t.Setenv("LOYALTY_PAYMENT_FAILING_CUSTOMERS", "x,y,z")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int64(9000), cfg.Tiers.ClubThreshold)
	assert.Equal(t, 90*time.Minute, cfg.Redemption.Cooldown)
	assert.Equal(t, BackendRedis, cfg.Redemption.Backend)
	assert.False(t, cfg.Payment.Simulated)
	assert.Equal(t, []string{"x", "y", "z"}, cfg.Payment.FailingCustomers)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.07").Equal(policy.ClubRate))
	assert.Equal(t, 2, policy.MaxFreeItemsPerDay)
	assert.Equal(t, "Europe/Berlin", policy.DefaultTimezone)
	assert.True(t, policy.RollingIncludesCurrentMonth)
	assert.Equal(t, 15*time.Minute, policy.ChargeResultTimeout)
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "tiers: [unclosed"))
	assert.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"threshold", func(c *Config) { c.Tiers.ClubThreshold = -1 }, "club_threshold"},
		{"rate not a number", func(c *Config) { c.Discounts.Club = "five" }, "discounts.club"},
		{"rate above one", func(c *Config) { c.Discounts.PremiumFood = "1.5" }, "premium_food"},
		{"backend", func(c *Config) { c.Redemption.Backend = "memcached" }, "redemption.backend"},
		{"timezone", func(c *Config) { c.Customers.DefaultTimezone = "Mars/Olympus" }, "default_timezone"},
		{"cron", func(c *Config) { c.Schedule.BillingCron = "every tuesday" }, "schedule.billing_cron"},
		{"queue", func(c *Config) { c.Notifications.QueueSize = -3 }, "queue_size"},
		{"charge timeout", func(c *Config) { c.Subscription.ChargeResultTimeout = -time.Minute }, "charge_result_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
			_, err = cfg.Policy()
			assert.Error(t, err)
		})
	}
}
