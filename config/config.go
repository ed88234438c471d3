package config

import (
	internalconfig "github.com/customeros/mailbackend/internal/config"
	cron_config "github.com/customeros/mailbackend/internal/cron/config"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/tracing"
)

type Config struct {
	AppConfig       *internalconfig.AppConfig
	Logger          *logger.Config
	Tracing         *tracing.JaegerConfig
	DatabaseConfig  *internalconfig.DatabaseConfig
	R2StorageConfig *internalconfig.R2StorageConfig
	SyncDefaults    *internalconfig.SyncDefaultsConfig
	Protocols       *internalconfig.ProtocolConfig
	Cron            *cron_config.Config
}
