package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ManuelReschke/BeanCounter/internal/pkg/env"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/loyalty"
)

const (
	BackendDB    = "db"
	BackendRedis = "redis"

	DefaultPath = "config/loyalty.yml"
)

// Config holds the loyalty program settings.
type Config struct {
	Tiers struct {
		ClubThreshold                     int64 `yaml:"club_threshold"`
		RollingMonths                     int   `yaml:"rolling_months"`
		RollingWindowIncludesCurrentMonth bool  `yaml:"rolling_window_includes_current_month"`
	} `yaml:"tiers"`
	Discounts struct {
		Club           string `yaml:"club"`
		PremiumNonFood string `yaml:"premium_non_food"`
		PremiumFood    string `yaml:"premium_food"`
	} `yaml:"discounts"`
	Redemption struct {
		MaxPerDay int           `yaml:"max_per_day"`
		Cooldown  time.Duration `yaml:"cooldown"`
		Backend   string        `yaml:"backend"`
	} `yaml:"redemption"`
	Subscription struct {
		BillingPeriodDays   int           `yaml:"billing_period_days"`
		PremiumPrice        int64         `yaml:"premium_price"`
		ChargeConcurrency   int           `yaml:"charge_concurrency"`
		ChargeResultTimeout time.Duration `yaml:"charge_result_timeout"`
	} `yaml:"subscription"`
	Customers struct {
		DefaultTimezone    string `yaml:"default_timezone"`
		BirthdayWindowDays int    `yaml:"birthday_window_days"`
	} `yaml:"customers"`
	Schedule struct {
		BillingCron  string `yaml:"billing_cron"`
		ArchiveCron  string `yaml:"archive_cron"`
		BirthdayCron string `yaml:"birthday_cron"`
	} `yaml:"schedule"`
	Payment struct {
		Simulated        bool          `yaml:"simulated"`
		Delay            time.Duration `yaml:"delay"`
		FailingCustomers []string      `yaml:"failing_customers"`
	} `yaml:"payment"`
	Notifications struct {
		Channel   string `yaml:"channel"`
		Async     bool   `yaml:"async"`
		QueueSize int    `yaml:"queue_size"`
	} `yaml:"notifications"`
	ConflictRetries int `yaml:"conflict_retries"`
}

// PathFromEnv returns LOYALTY_CONFIG or DefaultPath.
func PathFromEnv() string {
	return env.GetEnv("LOYALTY_CONFIG", DefaultPath)
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	defaults := loyalty.DefaultPolicy()
	// Booleans cannot be told apart from unset, so their defaults go in first.
	cfg.Payment.Simulated = true
	cfg.Notifications.Async = true

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	cfg.Tiers.ClubThreshold = int64(env.GetEnvInt("LOYALTY_CLUB_THRESHOLD", int(cfg.Tiers.ClubThreshold)))
	cfg.Tiers.RollingWindowIncludesCurrentMonth = env.GetEnvBool("LOYALTY_ROLLING_INCLUDES_CURRENT_MONTH", cfg.Tiers.RollingWindowIncludesCurrentMonth)
	cfg.Redemption.MaxPerDay = env.GetEnvInt("LOYALTY_MAX_FREE_ITEMS_PER_DAY", cfg.Redemption.MaxPerDay)
	cfg.Redemption.Cooldown = env.GetEnvDuration("LOYALTY_REDEMPTION_COOLDOWN", cfg.Redemption.Cooldown)
	if v := env.GetEnv("LOYALTY_REDEMPTION_BACKEND", ""); v != "" {
		cfg.Redemption.Backend = v
	}
	cfg.Subscription.PremiumPrice = int64(env.GetEnvInt("LOYALTY_PREMIUM_PRICE", int(cfg.Subscription.PremiumPrice)))
	cfg.Subscription.ChargeResultTimeout = env.GetEnvDuration("LOYALTY_CHARGE_RESULT_TIMEOUT", cfg.Subscription.ChargeResultTimeout)
	if v := env.GetEnv("LOYALTY_DEFAULT_TIMEZONE", ""); v != "" {
		cfg.Customers.DefaultTimezone = v
	}
	if v := env.GetEnv("LOYALTY_BILLING_CRON", ""); v != "" {
		cfg.Schedule.BillingCron = v
	}
	if v := env.GetEnv("LOYALTY_ARCHIVE_CRON", ""); v != "" {
		cfg.Schedule.ArchiveCron = v
	}
	if v := env.GetEnv("LOYALTY_BIRTHDAY_CRON", ""); v != "" {
		cfg.Schedule.BirthdayCron = v
	}
	cfg.Payment.Simulated = env.GetEnvBool("LOYALTY_PAYMENT_SIMULATED", cfg.Payment.Simulated)
	cfg.Payment.Delay = env.GetEnvDuration("LOYALTY_PAYMENT_DELAY", cfg.Payment.Delay)
	if v := env.GetEnv("LOYALTY_PAYMENT_FAILING_CUSTOMERS", ""); v != "" {
		cfg.Payment.FailingCustomers = strings.Split(v, ",")
	}
	if v := env.GetEnv("LOYALTY_EVENTS_CHANNEL", ""); v != "" {
		cfg.Notifications.Channel = v
	}
	cfg.ConflictRetries = env.GetEnvInt("LOYALTY_CONFLICT_RETRIES", cfg.ConflictRetries)

	// Defaults
	if cfg.Tiers.ClubThreshold == 0 {
		cfg.Tiers.ClubThreshold = defaults.ClubThreshold
	}
	if cfg.Tiers.RollingMonths == 0 {
		cfg.Tiers.RollingMonths = defaults.RollingMonths
	}
	if cfg.Discounts.Club == "" {
		cfg.Discounts.Club = defaults.ClubRate.String()
	}
	if cfg.Discounts.PremiumNonFood == "" {
		cfg.Discounts.PremiumNonFood = defaults.PremiumNonFoodRate.String()
	}
	if cfg.Discounts.PremiumFood == "" {
		cfg.Discounts.PremiumFood = defaults.PremiumFoodRate.String()
	}
	if cfg.Redemption.MaxPerDay == 0 {
		cfg.Redemption.MaxPerDay = defaults.MaxFreeItemsPerDay
	}
	if cfg.Redemption.Cooldown == 0 {
		cfg.Redemption.Cooldown = defaults.RedemptionCooldown
	}
	if cfg.Redemption.Backend == "" {
		cfg.Redemption.Backend = BackendDB
	}
	if cfg.Subscription.BillingPeriodDays == 0 {
		cfg.Subscription.BillingPeriodDays = defaults.BillingPeriodDays
	}
	if cfg.Subscription.PremiumPrice == 0 {
		cfg.Subscription.PremiumPrice = defaults.PremiumPrice
	}
	if cfg.Subscription.ChargeConcurrency == 0 {
		cfg.Subscription.ChargeConcurrency = defaults.ChargeConcurrency
	}
	if cfg.Subscription.ChargeResultTimeout == 0 {
		cfg.Subscription.ChargeResultTimeout = defaults.ChargeResultTimeout
	}
	if cfg.Customers.DefaultTimezone == "" {
		cfg.Customers.DefaultTimezone = defaults.DefaultTimezone
	}
	if cfg.Customers.BirthdayWindowDays == 0 {
		cfg.Customers.BirthdayWindowDays = defaults.BirthdayWindowDays
	}
	if cfg.Schedule.BillingCron == "" {
		cfg.Schedule.BillingCron = "*/5 * * * *"
	}
	if cfg.Schedule.ArchiveCron == "" {
		cfg.Schedule.ArchiveCron = "15 * * * *"
	}
	if cfg.Schedule.BirthdayCron == "" {
		cfg.Schedule.BirthdayCron = "0 * * * *"
	}
	if cfg.Payment.Delay == 0 {
		cfg.Payment.Delay = 2 * time.Second
	}
	if cfg.Notifications.QueueSize == 0 {
		cfg.Notifications.QueueSize = 256
	}
	if cfg.ConflictRetries == 0 {
		cfg.ConflictRetries = defaults.ConflictRetries
	}

	return cfg, nil
}

// Validate checks ranges, rates, the timezone and cron specs.
func (c *Config) Validate() error {
	if c.Tiers.ClubThreshold <= 0 {
		return fmt.Errorf("tiers.club_threshold must be positive")
	}
	if c.Tiers.RollingMonths < 1 {
		return fmt.Errorf("tiers.rolling_months must be at least 1")
	}
	if _, _, _, err := c.rates(); err != nil {
		return err
	}
	if c.Redemption.MaxPerDay < 1 {
		return fmt.Errorf("redemption.max_per_day must be at least 1")
	}
	if c.Redemption.Cooldown < 0 {
		return fmt.Errorf("redemption.cooldown must not be negative")
	}
	if c.Redemption.Backend != BackendDB && c.Redemption.Backend != BackendRedis {
		return fmt.Errorf("redemption.backend must be %q or %q, got %q", BackendDB, BackendRedis, c.Redemption.Backend)
	}
	if c.Subscription.BillingPeriodDays < 1 {
		return fmt.Errorf("subscription.billing_period_days must be at least 1")
	}
	if c.Subscription.PremiumPrice < 0 {
		return fmt.Errorf("subscription.premium_price must not be negative")
	}
	if c.Subscription.ChargeConcurrency < 1 {
		return fmt.Errorf("subscription.charge_concurrency must be at least 1")
	}
	if c.Subscription.ChargeResultTimeout < 0 {
		return fmt.Errorf("subscription.charge_result_timeout must not be negative")
	}
	if _, err := time.LoadLocation(c.Customers.DefaultTimezone); err != nil {
		return fmt.Errorf("customers.default_timezone: %w", err)
	}
	if c.Customers.BirthdayWindowDays < 1 {
		return fmt.Errorf("customers.birthday_window_days must be at least 1")
	}
	for name, spec := range map[string]string{
		"schedule.billing_cron":  c.Schedule.BillingCron,
		"schedule.archive_cron":  c.Schedule.ArchiveCron,
		"schedule.birthday_cron": c.Schedule.BirthdayCron,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Payment.Delay < 0 {
		return fmt.Errorf("payment.delay must not be negative")
	}
	if c.Notifications.QueueSize < 1 {
		return fmt.Errorf("notifications.queue_size must be at least 1")
	}
	if c.ConflictRetries < 1 {
		return fmt.Errorf("conflict_retries must be at least 1")
	}
	return nil
}

func (c *Config) rates() (club, nonFood, food decimal.Decimal, err error) {
	parse := func(name, raw string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return decimal.Zero, fmt.Errorf("discounts.%s: %w", name, err)
		}
		if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
			return decimal.Zero, fmt.Errorf("discounts.%s must be between 0 and 1", name)
		}
		return d, nil
	}
	if club, err = parse("club", c.Discounts.Club); err != nil {
		return
	}
	if nonFood, err = parse("premium_non_food", c.Discounts.PremiumNonFood); err != nil {
		return
	}
	food, err = parse("premium_food", c.Discounts.PremiumFood)
	return
}

// Policy converts the validated config into engine settings.
func (c *Config) Policy() (loyalty.Policy, error) {
	if err := c.Validate(); err != nil {
		return loyalty.Policy{}, err
	}
	club, nonFood, food, err := c.rates()
	if err != nil {
		return loyalty.Policy{}, err
	}
	return loyalty.Policy{
		ClubThreshold:               c.Tiers.ClubThreshold,
		RollingMonths:               c.Tiers.RollingMonths,
		RollingIncludesCurrentMonth: c.Tiers.RollingWindowIncludesCurrentMonth,
		ClubRate:                    club,
		PremiumNonFoodRate:          nonFood,
		PremiumFoodRate:             food,
		MaxFreeItemsPerDay:          c.Redemption.MaxPerDay,
		RedemptionCooldown:          c.Redemption.Cooldown,
		BillingPeriodDays:           c.Subscription.BillingPeriodDays,
		PremiumPrice:                c.Subscription.PremiumPrice,
		DefaultTimezone:             c.Customers.DefaultTimezone,
		BirthdayWindowDays:          c.Customers.BirthdayWindowDays,
		ConflictRetries:             c.ConflictRetries,
		ChargeConcurrency:           c.Subscription.ChargeConcurrency,
		ChargeResultTimeout:         c.Subscription.ChargeResultTimeout,
	}, nil
}
