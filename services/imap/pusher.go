package imap

import (
	"context"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"golang.org/x/time/rate"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/tracing"
)

type idleFunc func(c *client.Client, stop <-chan struct{}) error

func defaultIdle(c *client.Client, stop <-chan struct{}) error {
	return c.Idle(stop, &client.IdleOptions{
		LogoutTimeout: DEFAULT_IMAP_LOGOUT,
		PollInterval:  DEFAULT_POLLING_PERIOD,
	})
}

// Pusher keeps one IDLE connection per folder and reports mailbox changes to its callback
type Pusher struct {
	backend  *Backend
	callback interfaces.BackendPusherCallback
	idle     idleFunc

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wanted  []string
	folders map[string]*folderPusher
	wg      sync.WaitGroup
}

type folderPusher struct {
	folder    string
	cancel    context.CancelFunc
	reconnect chan struct{}
	limiter   *rate.Limiter
}

var _ interfaces.BackendPusher = (*Pusher)(nil)

func NewPusher(b *Backend, callback interfaces.BackendPusherCallback) *Pusher {
	return &Pusher{
		backend:  b,
		callback: callback,
		idle:     defaultIdle,
		folders:  make(map[string]*folderPusher),
	}
}

// Start begins pushing the folders set through UpdateFolders. It returns immediately.
func (p *Pusher) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx != nil {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.reconcile()
}

func (p *Pusher) UpdateFolders(folderServerIDs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wanted = append([]string(nil), folderServerIDs...)
	if p.ctx != nil {
		p.reconcile()
	}
}

// reconcile starts and stops folder pushers to match wanted. Callers hold mu.
func (p *Pusher) reconcile() {
	wanted := make(map[string]struct{}, len(p.wanted))
	for _, folder := range p.wanted {
		wanted[folder] = struct{}{}
	}

	for folder, fp := range p.folders {
		if _, ok := wanted[folder]; !ok {
			fp.cancel()
			delete(p.folders, folder)
		}
	}

	for folder := range wanted {
		if _, running := p.folders[folder]; running {
			continue
		}
		ctx, cancel := context.WithCancel(p.ctx)
		cfg := p.backend.cfg
		fp := &folderPusher{
			folder:    folder,
			cancel:    cancel,
			reconnect: make(chan struct{}, 1),
			limiter:   rate.NewLimiter(rate.Every(cfg.PushReconnectInterval), cfg.PushReconnectBurst),
		}
		p.folders[folder] = fp
		p.wg.Add(1)
		go p.run(ctx, fp)
	}
}

// Stop ends every folder pusher and waits for their connections to close. A stopped
// pusher keeps its folder list and can be started again.
func (p *Pusher) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.ctx, p.cancel = nil, nil
	p.folders = make(map[string]*folderPusher)
	p.mu.Unlock()

	p.wg.Wait()
}

// Reconnect makes every folder pusher drop its connection and open a new one
func (p *Pusher) Reconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, fp := range p.folders {
		select {
		case fp.reconnect <- struct{}{}:
		default:
		}
	}
}

func (p *Pusher) run(ctx context.Context, fp *folderPusher) {
	defer p.wg.Done()
	b := p.backend

	for {
		if err := fp.limiter.Wait(ctx); err != nil {
			return
		}
		err := p.session(ctx, fp)
		if ctx.Err() != nil {
			return
		}

		var authErr *mailerrors.AuthenticationFailedError
		if mailerrors.As(err, &authErr) {
			b.log.Errorf("[%s][%s] Push stopped: %v", b.accountUUID, fp.folder, err)
			p.callback.OnPushError(err)
			return
		}
		if err != nil {
			b.log.Warnf("[%s][%s] IDLE error, reconnecting: %v", b.accountUUID, fp.folder, err)
		}
	}
}

// session runs IDLE on a dedicated connection until ctx ends, a reconnect is requested
// or the connection fails
func (p *Pusher) session(ctx context.Context, fp *folderPusher) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPPusher.session")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())
	tracing.TagFolder(span, fp.folder)
	b := p.backend

	cn, err := b.connect(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if _, err := cn.c.Select(fp.folder, true); err != nil {
		cn.logout()
		tracing.TraceErr(span, err)
		return mailerrors.NewMessagingError("failed to select "+fp.folder, err)
	}

	updates := make(chan client.Update, 100)
	cn.c.Updates = updates

	var stopOnce sync.Once
	stop := make(chan struct{})
	safeClose := func() {
		stopOnce.Do(func() {
			close(stop)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-fp.reconnect:
			b.log.Infof("[%s][%s] Reconnect requested", b.accountUUID, fp.folder)
		case <-stop:
		}
		safeClose()
	}()

	done := make(chan error, 1)
	cn.c.Timeout = 0
	go func() {
		done <- p.idle(cn.c, stop)
	}()

	b.log.Infof("[%s][%s] IDLE started", b.accountUUID, fp.folder)
	for {
		select {
		case update := <-updates:
			switch update.(type) {
			case *client.MailboxUpdate, *client.ExpungeUpdate, *client.MessageUpdate:
				p.callback.OnPushEvent(fp.folder)
			}
		case idleErr := <-done:
			safeClose()
			p.closeSession(cn, updates)
			if idleErr != nil && ctx.Err() == nil {
				tracing.TraceErr(span, idleErr)
				return mailerrors.NewMessagingError("IDLE failed", idleErr)
			}
			b.log.Infof("[%s][%s] IDLE stopped", b.accountUUID, fp.folder)
			return nil
		}
	}
}

// closeSession logs out while draining updates so the client never blocks on them
func (p *Pusher) closeSession(cn *connection, updates chan client.Update) {
	drained := make(chan struct{})
	go func() {
		for {
			select {
			case <-updates:
			case <-drained:
				return
			case <-time.After(10 * time.Second):
				return
			}
		}
	}()
	cn.logout()
	close(drained)
	cn.c.Updates = nil
}
