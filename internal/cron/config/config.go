package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Account sync, every five minutes
	CronScheduleSyncAccounts string `env:"CRON_SCHEDULE_SYNC_ACCOUNTS" envDefault:"0 */5 * * * *"`
	// SyncWorkers bounds how many accounts sync at the same time
	SyncWorkers int `env:"CRON_SYNC_WORKERS" envDefault:"4"`
	// SyncTimeoutMinutes bounds a single account sync
	SyncTimeoutMinutes int `env:"CRON_SYNC_TIMEOUT_MINUTES" envDefault:"10"`
}
