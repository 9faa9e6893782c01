package database

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/BeanCounter/internal/pkg/env"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/loyalty"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

var DB *gorm.DB

// Config holds the MySQL connection settings.
type Config struct {
	User        string
	Password    string
	Host        string
	Port        int
	Name        string
	AutoMigrate bool
}

// ConfigFromEnv reads DB_USER, DB_PASSWORD, DB_HOST, DB_PORT, DB_NAME and
// DB_AUTO_MIGRATE.
func ConfigFromEnv() Config {
	return Config{
		User:        env.GetEnv("DB_USER", ""),
		Password:    env.GetEnv("DB_PASSWORD", ""),
		Host:        env.GetEnv("DB_HOST", "127.0.0.1"),
		Port:        env.GetEnvInt("DB_PORT", 3306),
		Name:        env.GetEnv("DB_NAME", ""),
		AutoMigrate: env.GetEnvBool("DB_AUTO_MIGRATE", false),
	}
}

// DSN returns the go-sql-driver DSN. Times are stored and read as UTC.
func (c Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// SetupDatabase opens the MySQL connection, retrying while the server comes
// up, and optionally auto-migrates the loyalty tables.
func SetupDatabase(cfg Config) (*gorm.DB, error) {
	var err error
	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       cfg.DSN(),
			DefaultStringSize:         256,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{
			TranslateError: true,
			NowFunc:        func() time.Time { return time.Now().UTC() },
			Logger:         gormLogger(),
		})
		if err == nil {
			break
		}

		log.Warnf("[Database] Failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to database %s@%s: %w", cfg.Name, cfg.Host, err)
	}

	if cfg.AutoMigrate {
		if err := loyalty.AutoMigrate(DB); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
		log.Info("[Database] Auto-migrated loyalty tables")
	}
	return DB, nil
}

// GetDB returns the connection opened by SetupDatabase.
func GetDB() *gorm.DB {
	return DB
}

func gormLogger() logger.Interface {
	if env.IsDev() {
		return logger.Default.LogMode(logger.Info)
	}
	return logger.Default.LogMode(logger.Warn)
}
