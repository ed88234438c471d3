package backend

import (
	"strings"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/models"
)

type ResolutionMode string

const (
	// ResolutionChain tries the incoming server type first and the legacy store uri second
	ResolutionChain    ResolutionMode = "chain"
	ResolutionProtocol ResolutionMode = "protocol"
	ResolutionPrefix   ResolutionMode = "prefix"
)

// ProtocolResolver matches the incoming server type exactly
type ProtocolResolver struct {
	factories map[enum.ServerType]interfaces.BackendFactory
}

func NewProtocolResolver(factories ...interfaces.BackendFactory) *ProtocolResolver {
	r := &ProtocolResolver{factories: make(map[enum.ServerType]interfaces.BackendFactory, len(factories))}
	for _, f := range factories {
		r.factories[f.Type()] = f
	}
	return r
}

func (r *ProtocolResolver) Resolve(account *models.Account) (interfaces.BackendFactory, error) {
	serverType := account.Incoming.Type
	factory, ok := r.factories[serverType]
	if !ok {
		return nil, &mailerrors.UnsupportedAccountTypeError{Type: serverType.String()}
	}
	return factory, nil
}

type PrefixEntry struct {
	Prefix  string
	Factory interfaces.BackendFactory
}

// PrefixResolver matches the legacy store uri against prefixes in order. The first
// matching entry wins even if later entries would match as well.
type PrefixResolver struct {
	entries []PrefixEntry
}

func NewPrefixResolver(entries ...PrefixEntry) *PrefixResolver {
	return &PrefixResolver{entries: entries}
}

func (r *PrefixResolver) Resolve(account *models.Account) (interfaces.BackendFactory, error) {
	uri := account.LegacyStoreURI
	for _, e := range r.entries {
		if strings.HasPrefix(uri, e.Prefix) {
			return e.Factory, nil
		}
	}
	return nil, &mailerrors.UnsupportedAccountTypeError{Type: uriScheme(uri)}
}

// ChainResolver returns the first successful resolution
type ChainResolver []interfaces.BackendFactoryResolver

func (c ChainResolver) Resolve(account *models.Account) (interfaces.BackendFactory, error) {
	var lastErr error = &mailerrors.UnsupportedAccountTypeError{Type: account.Incoming.Type.String()}
	for _, r := range c {
		factory, err := r.Resolve(account)
		if err == nil {
			return factory, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func uriScheme(uri string) string {
	if idx := strings.Index(uri, ":"); idx >= 0 {
		return uri[:idx]
	}
	return uri
}
