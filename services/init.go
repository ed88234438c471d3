package services

import (
	"context"

	"github.com/customeros/mailbackend/config"
	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/repository"
	"github.com/customeros/mailbackend/services/accountsync"
	"github.com/customeros/mailbackend/services/backend"
	"github.com/customeros/mailbackend/services/demo"
	"github.com/customeros/mailbackend/services/events"
	"github.com/customeros/mailbackend/services/foldercreator"
	"github.com/customeros/mailbackend/services/imap"
	"github.com/customeros/mailbackend/services/pop3"
	"github.com/customeros/mailbackend/services/push"
	"github.com/customeros/mailbackend/services/smtp"
	"github.com/customeros/mailbackend/services/storage"
)

type Services struct {
	BackendManager *backend.Manager
	FolderCreator  interfaces.RemoteFolderCreatorFactory
	AccountSync    interfaces.AccountSyncService
	Push           *push.Supervisor
	// EventsService is nil when no broker is configured
	EventsService *events.EventsService
}

// InitBlobStorage returns the R2 message store, or nil when R2 is not configured
func InitBlobStorage(cfg *config.Config) (interfaces.StorageService, error) {
	if !cfg.R2StorageConfig.Enabled() {
		return nil, nil
	}
	blobs, err := storage.NewR2StorageService(cfg.R2StorageConfig)
	if err != nil {
		return nil, err
	}
	return blobs, nil
}

// Registrations lists the protocols the backend manager can build
func Registrations(cfg *config.Config, repos *repository.Repositories, log logger.Logger) []backend.Registration {
	protocols := cfg.Protocols

	senders := smtp.NewSenderFactory(smtp.Config{
		ConnectTimeout:     protocols.ConnectTimeout,
		SendTimeout:        protocols.SMTPSendTimeout,
		HeloName:           protocols.SMTPHeloName,
		InsecureSkipVerify: protocols.InsecureSkipVerify,
	}, log)

	imapFactory := imap.NewFactory(repos.StorageFactory, senders, imap.Config{
		ConnectTimeout:        protocols.ConnectTimeout,
		CommandTimeout:        protocols.CommandTimeout,
		InsecureSkipVerify:    protocols.InsecureSkipVerify,
		PushReconnectInterval: protocols.PushReconnectInterval,
		PushReconnectBurst:    protocols.PushReconnectBurst,
	}, log)
	pop3Factory := pop3.NewFactory(repos.StorageFactory, senders, pop3.Config{
		ConnectTimeout:     protocols.ConnectTimeout,
		InsecureSkipVerify: protocols.InsecureSkipVerify,
	}, log)

	registrations := []backend.Registration{
		imapFactory.Registration(),
		pop3Factory.Registration(),
		smtp.Registration(),
	}
	if cfg.AppConfig.DemoEnabled {
		registrations = append(registrations, demo.NewFactory(repos.StorageFactory, log).Registration())
	}
	return registrations
}

func InitServices(ctx context.Context, cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	manager := backend.NewManager(log, Registrations(cfg, repos, log),
		backend.WithResolutionMode(backend.ResolutionMode(cfg.AppConfig.BackendResolution)))

	syncer := accountsync.NewAccountSyncService(repos.AccountRepository, manager, accountsync.Config{
		Defaults:          cfg.SyncDefaults.SyncConfig(),
		FolderConcurrency: cfg.AppConfig.FolderConcurrency,
	}, log)

	svcs := &Services{
		BackendManager: manager,
		FolderCreator:  foldercreator.NewFactory(manager, log),
		AccountSync:    syncer,
	}

	callbacks := push.DirectCallbacks(ctx, syncer, log)
	if cfg.AppConfig.RabbitMQURL != "" {
		eventsService, err := events.NewEventsService(cfg.AppConfig.RabbitMQURL, log, events.DefaultPublisherConfig(), events.DefaultSubscriberConfig())
		if err != nil {
			return nil, err
		}
		svcs.EventsService = eventsService
		manager.AddListener(events.NewBackendChangedPublisher(eventsService.Publisher, log))
		callbacks = func(accountUUID string) interfaces.BackendPusherCallback {
			return events.NewPushCallback(accountUUID, eventsService.Publisher, log)
		}
	}

	svcs.Push = push.NewSupervisor(repos.AccountRepository, manager, callbacks, cfg.AppConfig.PushRefreshInterval, log)
	manager.AddListener(svcs.Push)

	return svcs, nil
}

func (s *Services) Close() {
	s.Push.Stop()
	if s.EventsService != nil {
		_ = s.EventsService.Close()
	}
	_ = s.BackendManager.Close()
}
