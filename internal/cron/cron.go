package cron

import (
	"context"
	"os"
	"sync"
	"time"

	cronv3 "github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/customeros/mailbackend/interfaces"
	cron_config "github.com/customeros/mailbackend/internal/cron/config"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/tracing"
	"github.com/customeros/mailbackend/internal/utils"
)

const (
	// GroupSync is the group for account sync jobs
	GroupSync = "sync"

	LeaseName = "mailbackend-cron-leader"
	// LeaseDuration is how long a lease lasts before needing renewal
	LeaseDuration = 15 * time.Second
	// RenewDeadline is how long a leader has to renew its lease
	RenewDeadline = 10 * time.Second
	// RetryPeriod is how long to wait between leadership attempts
	RetryPeriod = 2 * time.Second
)

var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupSync: new(sync.Mutex),
	},
}

type CronManager struct {
	cfg      *cron_config.Config
	log      logger.Logger
	cron     *cronv3.Cron
	k8s      kubernetes.Interface
	stopCh   chan struct{}
	stopOnce sync.Once
	jobIDs   map[string]cronv3.EntryID
	accounts interfaces.AccountRepository
	syncer   interfaces.AccountSyncService
}

func NewCronManager(cfg *cron_config.Config, log logger.Logger, k8s kubernetes.Interface, accounts interfaces.AccountRepository, syncer interfaces.AccountSyncService) *CronManager {
	return &CronManager{
		cfg:      cfg,
		log:      log,
		k8s:      k8s,
		stopCh:   make(chan struct{}),
		jobIDs:   make(map[string]cronv3.EntryID),
		accounts: accounts,
		syncer:   syncer,
	}
}

// Start initializes and starts the cron manager with leader election
// If k8s is nil, it will start in local mode without leader election
func (cm *CronManager) Start(podName, namespace string) error {
	if cm.k8s == nil || os.Getenv("LOCAL_DEV") == "true" {
		cm.log.Info("Starting cron manager in local mode")
		return cm.StartCron()
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      LeaseName,
			Namespace: namespace,
		},
		Client: cm.k8s.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: podName,
		},
	}

	errCh := make(chan error, 1)

	go func() {
		le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
			Lock:            lock,
			ReleaseOnCancel: true,
			LeaseDuration:   LeaseDuration,
			RenewDeadline:   RenewDeadline,
			RetryPeriod:     RetryPeriod,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(ctx context.Context) {
					if err := cm.StartCron(); err != nil {
						cm.log.Errorf("Could not start crons: %v", err)
					}
				},
				OnStoppedLeading: func() {
					cm.log.Info("Leader lost - stopping crons")
					cm.Stop()
				},
				OnNewLeader: func(identity string) {
					cm.log.Infof("New leader elected: %s", identity)
				},
			},
		})
		if err != nil {
			errCh <- err
			return
		}

		le.Run(context.Background())
	}()

	// Wait briefly to see if leader election fails immediately
	select {
	case err := <-errCh:
		cm.log.Warnf("Leader election failed, falling back to local mode: %v", err)
		return cm.StartCron()
	case <-time.After(5 * time.Second):
	}

	return nil
}

// Stop gracefully stops the cron manager and waits for running jobs
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		<-ctx.Done()
	}
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}

func (cm *CronManager) registerJobs(c *cronv3.Cron) error {
	if cm.cfg.CronScheduleHeartbeat != "" {
		podName := os.Getenv("POD_NAME")
		if podName == "" {
			podName = "local"
		}
		id, err := c.AddFunc(cm.cfg.CronScheduleHeartbeat, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.log.Infof("Cron heartbeat from pod: %s", podName)
		})
		if err != nil {
			return err
		}
		cm.jobIDs["heartbeat"] = id
		cm.log.Infof("Registered heartbeat job with schedule: %s", cm.cfg.CronScheduleHeartbeat)
	}

	if cm.cfg.CronScheduleSyncAccounts != "" {
		id, err := c.AddFunc(cm.cfg.CronScheduleSyncAccounts, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupSync].Lock()
			defer jobLocks.locks[GroupSync].Unlock()
			cm.syncAccounts()
		})
		if err != nil {
			return err
		}
		cm.jobIDs["sync_accounts"] = id
		cm.log.Infof("Registered account sync job with schedule: %s", cm.cfg.CronScheduleSyncAccounts)
	}

	return nil
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() error {
	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	if err := cm.registerJobs(c); err != nil {
		cm.log.Errorf("Could not register cron jobs: %v", err)
		return err
	}
	c.Start()
	cm.cron = c
	return nil
}

// syncAccounts syncs every stored account, SyncWorkers at a time
func (cm *CronManager) syncAccounts() {
	span, ctx := tracing.StartTracerSpan(context.Background(), "CronManager.syncAccounts")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	accounts, err := cm.accounts.GetAccounts(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to load accounts: %v", err)
		return
	}
	span.LogKV("accounts", len(accounts))

	workers := cm.cfg.SyncWorkers
	if workers <= 0 {
		workers = 1
	}
	timeout := time.Duration(cm.cfg.SyncTimeoutMinutes) * time.Minute
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	var failed int
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for _, account := range accounts {
		select {
		case <-cm.stopCh:
			cm.log.Info("Cron manager stopping, skipping remaining accounts")
			_ = g.Wait()
			return
		default:
		}

		g.Go(func() error {
			defer tracing.RecoverAndLogToJaeger(cm.log)

			accountCtx, cancel := context.WithTimeout(utils.WithAccount(ctx, account.UUID), timeout)
			defer cancel()

			if err := cm.syncer.SyncAccount(accountCtx, account); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	cm.log.Infof("Account sync completed: %d accounts, %d failed", len(accounts), failed)
}
