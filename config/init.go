package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	internalconfig "github.com/customeros/mailbackend/internal/config"
	cron_config "github.com/customeros/mailbackend/internal/cron/config"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/tracing"
)

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:       &internalconfig.AppConfig{},
		Logger:          &logger.Config{},
		Tracing:         &tracing.JaegerConfig{},
		DatabaseConfig:  &internalconfig.DatabaseConfig{},
		R2StorageConfig: &internalconfig.R2StorageConfig{},
		SyncDefaults:    &internalconfig.SyncDefaultsConfig{},
		Protocols:       &internalconfig.ProtocolConfig{},
		Cron:            &cron_config.Config{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		return nil, err
	}

	return config, nil
}
