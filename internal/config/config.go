package config

import (
	"time"

	"github.com/customeros/mailbackend/internal/enum"
	"github.com/customeros/mailbackend/internal/models"
)

type AppConfig struct {
	APIPort     string `env:"PORT,required" envDefault:"12222"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	// BackendResolution selects how accounts are matched to protocols: chain, protocol or prefix
	BackendResolution string `env:"BACKEND_RESOLUTION" envDefault:"chain"`
	DemoEnabled       bool   `env:"DEMO_BACKEND_ENABLED" envDefault:"false"`
	// FolderConcurrency bounds how many folders of one account sync at the same time
	FolderConcurrency   int           `env:"SYNC_FOLDER_CONCURRENCY" envDefault:"2"`
	PushRefreshInterval time.Duration `env:"PUSH_REFRESH_INTERVAL" envDefault:"1m"`
	PodName             string        `env:"POD_NAME"`
	PodNamespace        string        `env:"POD_NAMESPACE" envDefault:"default"`
}

type DatabaseConfig struct {
	Host            string `env:"MAILBACKEND_POSTGRES_HOST,required"`
	Port            string `env:"MAILBACKEND_POSTGRES_PORT,required"`
	User            string `env:"MAILBACKEND_POSTGRES_USER,required"`
	DBName          string `env:"MAILBACKEND_POSTGRES_DB_NAME,required"`
	Password        string `env:"MAILBACKEND_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"MAILBACKEND_POSTGRES_DB_MAX_CONN" envDefault:"100"`
	MaxIdleConn     int    `env:"MAILBACKEND_POSTGRES_DB_MAX_IDLE_CONN" envDefault:"10"`
	ConnMaxLifetime int    `env:"MAILBACKEND_POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"MAILBACKEND_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"MAILBACKEND_POSTGRES_SSL_MODE" envDefault:"require"`
}

// R2StorageConfig is optional, without an account id message bodies stay in Postgres
type R2StorageConfig struct {
	AccountID       string `env:"CLOUDFLARE_R2_ACCOUNT_ID"`
	AccessKeyID     string `env:"CLOUDFLARE_R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"CLOUDFLARE_R2_ACCESS_KEY_SECRET"`
	MessageBucket   string `env:"BUCKET_NAME_MESSAGES" envDefault:"messages"`
}

func (c *R2StorageConfig) Enabled() bool {
	return c != nil && c.AccountID != "" && c.AccessKeyID != ""
}

// SyncDefaultsConfig applies to accounts without their own sync configuration
type SyncDefaultsConfig struct {
	ExpungePolicy       string   `env:"SYNC_EXPUNGE_POLICY" envDefault:"IMMEDIATELY"`
	SyncRemoteDeletions bool     `env:"SYNC_REMOTE_DELETIONS" envDefault:"true"`
	MaxAutoDownloadSize int64    `env:"SYNC_MAX_AUTO_DOWNLOAD_SIZE" envDefault:"131072"`
	DefaultVisibleLimit int      `env:"SYNC_DEFAULT_VISIBLE_LIMIT" envDefault:"25"`
	EarliestPollDays    int      `env:"SYNC_EARLIEST_POLL_DAYS" envDefault:"0"`
	SyncFlags           []string `env:"SYNC_FLAGS" envDefault:"SEEN,FLAGGED,ANSWERED,FORWARDED,DELETED"`
}

func (c *SyncDefaultsConfig) SyncConfig() models.SyncConfig {
	syncConfig := models.SyncConfig{
		ExpungePolicy:       enum.ExpungePolicy(c.ExpungePolicy),
		SyncRemoteDeletions: c.SyncRemoteDeletions,
		MaxAutoDownloadSize: c.MaxAutoDownloadSize,
		DefaultVisibleLimit: c.DefaultVisibleLimit,
	}
	if c.EarliestPollDays > 0 {
		earliest := time.Now().AddDate(0, 0, -c.EarliestPollDays)
		syncConfig.EarliestPollDate = &earliest
	}
	for _, f := range c.SyncFlags {
		syncConfig.SyncFlags = append(syncConfig.SyncFlags, enum.Flag(f))
	}
	return syncConfig
}

type ProtocolConfig struct {
	ConnectTimeout        time.Duration `env:"MAIL_CONNECT_TIMEOUT" envDefault:"30s"`
	CommandTimeout        time.Duration `env:"MAIL_COMMAND_TIMEOUT" envDefault:"60s"`
	PushReconnectInterval time.Duration `env:"MAIL_PUSH_RECONNECT_INTERVAL" envDefault:"30s"`
	PushReconnectBurst    int           `env:"MAIL_PUSH_RECONNECT_BURST" envDefault:"3"`
	SMTPSendTimeout       time.Duration `env:"SMTP_SEND_TIMEOUT" envDefault:"2m"`
	SMTPHeloName          string        `env:"SMTP_HELO_NAME" envDefault:"localhost"`
	// InsecureSkipVerify is only meant for local development against self-signed servers
	InsecureSkipVerify bool `env:"MAIL_TLS_INSECURE_SKIP_VERIFY" envDefault:"false"`
}
