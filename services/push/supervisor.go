package push

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/tracing"
	"github.com/customeros/mailbackend/internal/utils"
	"github.com/customeros/mailbackend/services/accountsync"
)

const DEFAULT_REFRESH_INTERVAL = time.Minute

// CallbackFactory builds the callback a new pusher reports to
type CallbackFactory func(accountUUID string) interfaces.BackendPusherCallback

// Supervisor owns one pusher per push capable account. A refresh starts pushers for
// new accounts, re-targets changed folder lists and stops pushers of accounts that are
// gone or whose backend was rebuilt.
type Supervisor struct {
	accounts  interfaces.AccountRepository
	backends  interfaces.BackendProvider
	callbacks CallbackFactory
	interval  time.Duration
	log       logger.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	pushers map[string]*running
	wg      sync.WaitGroup
}

type running struct {
	backend interfaces.Backend
	pusher  interfaces.BackendPusher
	folders []string
}

var _ interfaces.BackendChangedListener = (*Supervisor)(nil)

func NewSupervisor(accounts interfaces.AccountRepository, backends interfaces.BackendProvider, callbacks CallbackFactory, interval time.Duration, log logger.Logger) *Supervisor {
	if interval <= 0 {
		interval = DEFAULT_REFRESH_INTERVAL
	}
	return &Supervisor{
		accounts:  accounts,
		backends:  backends,
		callbacks: callbacks,
		interval:  interval,
		log:       log,
		pushers:   make(map[string]*running),
	}
}

// Start refreshes once and then keeps refreshing until Stop or ctx is done
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.mu.Unlock()

	s.Refresh(runCtx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer tracing.RecoverAndLogToJaeger(s.log)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.Refresh(runCtx)
			}
		}
	}()
}

// Refresh reconciles the running pushers with the stored accounts
func (s *Supervisor) Refresh(ctx context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Supervisor.Refresh")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	accounts, err := s.accounts.GetAccounts(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		s.log.Errorf("[push] could not load accounts: %v", err)
		return
	}

	seen := make(map[string]struct{}, len(accounts))
	for _, account := range accounts {
		seen[account.UUID] = struct{}{}
		s.ensure(utils.WithAccount(ctx, account.UUID), account)
	}

	s.mu.Lock()
	var gone []*running
	for accountUUID, r := range s.pushers {
		if _, ok := seen[accountUUID]; !ok {
			gone = append(gone, r)
			delete(s.pushers, accountUUID)
		}
	}
	s.mu.Unlock()

	for _, r := range gone {
		r.pusher.Stop()
	}
	span.LogKV("accounts", len(accounts), "stopped", len(gone))
}

func (s *Supervisor) ensure(ctx context.Context, account *models.Account) {
	backend, err := s.backends.GetBackend(ctx, account)
	if err != nil {
		s.log.Warnf("[%s] no backend for push: %v", account.UUID, err)
		s.stop(account.UUID)
		return
	}
	if !backend.Capabilities().Has(enum.PushCapable) {
		s.stop(account.UUID)
		return
	}

	folders := accountsync.FoldersOf(account)

	s.mu.Lock()
	r, ok := s.pushers[account.UUID]
	if ok && r.backend == backend {
		if !slices.Equal(r.folders, folders) {
			r.folders = slices.Clone(folders)
			r.pusher.UpdateFolders(folders)
		}
		s.mu.Unlock()
		return
	}
	delete(s.pushers, account.UUID)
	runCtx := s.ctx
	s.mu.Unlock()

	if ok {
		r.pusher.Stop()
	}
	if runCtx == nil {
		runCtx = ctx
	}

	pusher := backend.CreatePusher(s.callbacks(account.UUID))
	pusher.UpdateFolders(folders)
	pusher.Start(runCtx)

	s.mu.Lock()
	s.pushers[account.UUID] = &running{backend: backend, pusher: pusher, folders: slices.Clone(folders)}
	s.mu.Unlock()
	s.log.Infof("[%s] push started for %d folders", account.UUID, len(folders))
}

func (s *Supervisor) stop(accountUUID string) {
	s.mu.Lock()
	r, ok := s.pushers[accountUUID]
	delete(s.pushers, accountUUID)
	s.mu.Unlock()
	if ok {
		r.pusher.Stop()
	}
}

// OnBackendChanged stops the pusher of an evicted backend, the next refresh starts a
// new one on the rebuilt backend.
func (s *Supervisor) OnBackendChanged(account *models.Account) {
	s.stop(account.UUID)
}

// Running reports the accounts that currently have a pusher
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]string, 0, len(s.pushers))
	for accountUUID := range s.pushers {
		result = append(result, accountUUID)
	}
	slices.Sort(result)
	return result
}

// Stop ends the refresh loop and every pusher
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	pushers := s.pushers
	s.pushers = make(map[string]*running)
	s.mu.Unlock()

	for _, r := range pushers {
		r.pusher.Stop()
	}
	s.wg.Wait()
}
