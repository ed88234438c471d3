package backend

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/tracing"
)

// Registration wires one protocol into the manager. Prefixes are the legacy uri
// prefixes that select this protocol. Codec may be nil for protocols without uris and
// Factory is nil for transport-only protocols, which then need Type.
type Registration struct {
	Type     enum.ServerType
	Factory  interfaces.BackendFactory
	Codec    interfaces.StoreURICodec
	Prefixes []string
}

// Manager caches one Backend per account. Each account has its own slot lock, so at
// most one backend is constructed per account at a time and accounts never wait on
// each other. Lock order is slot then m.mu.
type Manager struct {
	log      logger.Logger
	resolver interfaces.BackendFactoryResolver

	codecs       map[enum.ServerType]interfaces.StoreURICodec
	prefixCodecs []prefixCodec

	mu    sync.Mutex
	slots map[string]*slot

	listenersMu sync.Mutex
	listeners   atomic.Pointer[[]interfaces.BackendChangedListener]
}

type prefixCodec struct {
	prefix string
	codec  interfaces.StoreURICodec
}

type slot struct {
	mu      sync.Mutex
	backend interfaces.Backend
	builtOn models.Account
	// removed slots are out of m.slots and never build again
	removed bool
}

type Option func(*options)

type options struct {
	mode ResolutionMode
}

func WithResolutionMode(mode ResolutionMode) Option {
	return func(o *options) {
		o.mode = mode
	}
}

func NewManager(log logger.Logger, registrations []Registration, opts ...Option) *Manager {
	o := options{mode: ResolutionChain}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		log:    log,
		codecs: make(map[enum.ServerType]interfaces.StoreURICodec),
		slots:  make(map[string]*slot),
	}
	empty := make([]interfaces.BackendChangedListener, 0)
	m.listeners.Store(&empty)

	factories := make([]interfaces.BackendFactory, 0, len(registrations))
	var prefixes []PrefixEntry
	for _, r := range registrations {
		serverType := r.Type
		if r.Factory != nil {
			serverType = r.Factory.Type()
			factories = append(factories, r.Factory)
		}
		if r.Codec != nil {
			m.codecs[serverType] = r.Codec
		}
		for _, p := range r.Prefixes {
			if r.Factory != nil {
				prefixes = append(prefixes, PrefixEntry{Prefix: p, Factory: r.Factory})
			}
			if r.Codec != nil {
				m.prefixCodecs = append(m.prefixCodecs, prefixCodec{prefix: p, codec: r.Codec})
			}
		}
	}

	protocol := NewProtocolResolver(factories...)
	prefix := NewPrefixResolver(prefixes...)
	switch o.mode {
	case ResolutionProtocol:
		m.resolver = protocol
	case ResolutionPrefix:
		m.resolver = prefix
	default:
		m.resolver = ChainResolver{protocol, prefix}
	}
	return m
}

func (m *Manager) slotFor(accountUUID string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[accountUUID]
	if !ok {
		s = &slot{}
		m.slots[accountUUID] = s
	}
	return s
}

// GetBackend returns the cached backend of the account, building a new one when there
// is none or when the account's server settings changed since it was built.
func (m *Manager) GetBackend(ctx context.Context, account *models.Account) (interfaces.Backend, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Manager.GetBackend")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.UUID)

	s := m.slotFor(account.UUID)
	s.mu.Lock()
	for s.removed {
		s.mu.Unlock()
		s = m.slotFor(account.UUID)
		s.mu.Lock()
	}
	if s.backend != nil && s.builtOn.SameSettings(account) {
		b := s.backend
		s.mu.Unlock()
		span.LogKV("result.cached", true)
		return b, nil
	}

	backend, err := m.createBackend(ctx, account)
	if err != nil {
		s.mu.Unlock()
		tracing.TraceErr(span, err)
		return nil, err
	}
	replaced := s.backend
	s.backend = backend
	s.builtOn = *account
	s.mu.Unlock()

	if replaced != nil {
		m.log.Infof("[%s] server settings changed, backend replaced", account.UUID)
		m.closeBackend(account.UUID, replaced)
	}
	m.notify(account)
	return backend, nil
}

func (m *Manager) createBackend(ctx context.Context, account *models.Account) (interfaces.Backend, error) {
	factory, err := m.resolver.Resolve(account)
	if err != nil {
		return nil, err
	}

	resolved, err := m.resolveSettings(account, factory.Type())
	if err != nil {
		return nil, err
	}

	backend, err := factory.CreateBackend(ctx, resolved)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s backend", factory.Type())
	}
	m.log.Infof("[%s] created %s backend", account.UUID, factory.Type())
	return backend, nil
}

// resolveSettings bridges legacy-only accounts onto ServerSettings
func (m *Manager) resolveSettings(account *models.Account, serverType enum.ServerType) (*models.Account, error) {
	if !account.Incoming.IsZero() || account.LegacyStoreURI == "" {
		return account, nil
	}

	resolved := *account
	codec, ok := m.codecs[serverType]
	if !ok {
		return nil, &mailerrors.UnsupportedAccountTypeError{Type: serverType.String()}
	}
	incoming, err := codec.DecodeStoreURI(account.LegacyStoreURI)
	if err != nil {
		return nil, err
	}
	resolved.Incoming = incoming

	if resolved.Outgoing.IsZero() && account.LegacyTransportURI != "" {
		outgoing, err := m.DecodeStoreURI(account.LegacyTransportURI)
		if err != nil {
			return nil, err
		}
		resolved.Outgoing = outgoing
	}
	return &resolved, nil
}

// RemoveBackend evicts the account's backend and notifies listeners. Removing an
// account without a cached backend only notifies.
func (m *Manager) RemoveBackend(ctx context.Context, account *models.Account) {
	span, _ := opentracing.StartSpanFromContext(ctx, "Manager.RemoveBackend")
	defer span.Finish()
	tracing.TagAccount(span, account.UUID)

	m.mu.Lock()
	s, ok := m.slots[account.UUID]
	m.mu.Unlock()

	if ok {
		s.mu.Lock()
		removed := s.backend
		s.backend = nil
		s.builtOn = models.Account{}
		s.removed = true
		m.mu.Lock()
		if m.slots[account.UUID] == s {
			delete(m.slots, account.UUID)
		}
		m.mu.Unlock()
		s.mu.Unlock()

		if removed != nil {
			m.closeBackend(account.UUID, removed)
		}
	}
	m.notify(account)
}

// AddListener registers a listener. Listeners must be comparable, pointer receivers are.
func (m *Manager) AddListener(listener interfaces.BackendChangedListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	current := *m.listeners.Load()
	next := make([]interfaces.BackendChangedListener, len(current), len(current)+1)
	copy(next, current)
	next = append(next, listener)
	m.listeners.Store(&next)
}

func (m *Manager) RemoveListener(listener interfaces.BackendChangedListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	current := *m.listeners.Load()
	next := make([]interfaces.BackendChangedListener, 0, len(current))
	for _, l := range current {
		if l != listener {
			next = append(next, l)
		}
	}
	m.listeners.Store(&next)
}

// notify iterates a snapshot, listeners may add or remove listeners while being called
func (m *Manager) notify(account *models.Account) {
	for _, l := range *m.listeners.Load() {
		l.OnBackendChanged(account)
	}
}

func (m *Manager) closeBackend(accountUUID string, backend interfaces.Backend) {
	closer, ok := backend.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		m.log.Warnf("[%s] failed to close backend: %v", accountUUID, err)
	}
}

// Close releases every cached backend
func (m *Manager) Close() error {
	m.mu.Lock()
	slots := make(map[string]*slot, len(m.slots))
	for k, v := range m.slots {
		slots[k] = v
	}
	m.mu.Unlock()

	for accountUUID, s := range slots {
		s.mu.Lock()
		b := s.backend
		s.backend = nil
		s.mu.Unlock()
		if b != nil {
			m.closeBackend(accountUUID, b)
		}
	}
	return nil
}

// DecodeStoreURI routes uri to the codec of the first matching prefix
func (m *Manager) DecodeStoreURI(uri string) (models.ServerSettings, error) {
	for _, pc := range m.prefixCodecs {
		if strings.HasPrefix(uri, pc.prefix) {
			return pc.codec.DecodeStoreURI(uri)
		}
	}
	return models.ServerSettings{}, &mailerrors.UnsupportedAccountTypeError{Type: uriScheme(uri)}
}

func (m *Manager) CreateStoreURI(settings models.ServerSettings) (string, error) {
	codec, ok := m.codecs[settings.Type]
	if !ok {
		return "", &mailerrors.UnsupportedAccountTypeError{Type: settings.Type.String()}
	}
	return codec.CreateStoreURI(settings)
}
