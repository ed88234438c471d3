package database

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/customeros/mailbackend/internal/config"
)

var logLevels = map[string]logger.LogLevel{
	"SILENT": logger.Silent,
	"ERROR":  logger.Error,
	"WARN":   logger.Warn,
	"INFO":   logger.Info,
}

func NewConnection(dbConfig *config.DatabaseConfig) (*gorm.DB, error) {
	if err := validateConfig(dbConfig); err != nil {
		return nil, err
	}

	portInt, err := strconv.Atoi(dbConfig.Port)
	if err != nil {
		return nil, fmt.Errorf("invalid port number: %w", err)
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host, portInt, dbConfig.User, dbConfig.Password, dbConfig.DBName, dbConfig.SSLMode,
	)

	level, ok := logLevels[strings.ToUpper(dbConfig.LogLevel)]
	if !ok {
		level = logger.Warn
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(valueOrDefault(dbConfig.MaxIdleConn, 10))
	sqlDB.SetMaxOpenConns(valueOrDefault(dbConfig.MaxConn, 100))
	sqlDB.SetConnMaxLifetime(time.Duration(valueOrDefault(dbConfig.ConnMaxLifetime, 60)) * time.Minute)

	return db, nil
}

func valueOrDefault(value, def int) int {
	if value <= 0 {
		return def
	}
	return value
}

func validateConfig(dbConfig *config.DatabaseConfig) error {
	switch {
	case dbConfig == nil:
		return errors.New("database config is nil")
	case dbConfig.Host == "":
		return errors.New("database host config is empty")
	case dbConfig.Port == "":
		return errors.New("database port config is empty")
	case dbConfig.User == "":
		return errors.New("database user config is empty")
	case dbConfig.Password == "":
		return errors.New("database password config is empty")
	case dbConfig.DBName == "":
		return errors.New("database name config is empty")
	case dbConfig.SSLMode == "":
		return errors.New("database SSLMode config is empty")
	}
	return nil
}
