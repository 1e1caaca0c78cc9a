// Package session decides which provider is active and hands out that
// provider's document store.
//
// A Manager is built once at process start. Initialize must run before
// anything else: it consumes a pending callback first, so a just-completed
// handshake wins over whatever was stored before, and only then derives the
// active provider from stored credentials (token before refresh).
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tonimelisma/keyviewer-cloud/internal/callback"
	"github.com/tonimelisma/keyviewer-cloud/internal/credential"
	"github.com/tonimelisma/keyviewer-cloud/internal/docstore"
	"github.com/tonimelisma/keyviewer-cloud/internal/provider"
)

// DefaultConfigDocument is the document SaveConfig and LoadConfig use.
const DefaultConfigDocument = "config.json"

var (
	// ErrNotSignedIn is returned by Documents when no provider is active.
	ErrNotSignedIn = errors.New("session: not signed in")

	// ErrUnknownProvider is returned for a kind with no configured session.
	ErrUnknownProvider = errors.New("session: unknown provider")
)

// Outcome is the result of EnsureActive.
type Outcome int

const (
	// OutcomeActive means a trusted credential is stored for the provider.
	OutcomeActive Outcome = iota + 1
	// OutcomeHandshakeInitiated means the user was sent to the provider; the
	// credential arrives later through the callback.
	OutcomeHandshakeInitiated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeActive:
		return "active"
	case OutcomeHandshakeInitiated:
		return "handshake initiated"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// CredentialStore is the credential persistence the Manager relies on.
// *credential.Store satisfies it.
type CredentialStore interface {
	Get(ctx context.Context, kind credential.Kind) (credential.Credential, bool)
	Set(ctx context.Context, cred credential.Credential) error
	ClearAll(ctx context.Context) error
}

// Consumer turns a pending callback into a stored credential.
// *callback.Handler satisfies it.
type Consumer interface {
	Consume(ctx context.Context, loc *callback.Location) credential.Kind
}

// DocumentsFactory builds the document store for one provider.
type DocumentsFactory func(ctx context.Context) (docstore.Documents, error)

// Options wires a Manager. Sessions and Documents are keyed by provider kind.
type Options struct {
	Store     CredentialStore
	Callback  Consumer
	Location  *callback.Location // nil when there is no pending callback
	Sessions  map[credential.Kind]provider.Session
	Documents map[credential.Kind]DocumentsFactory

	ConfigDocument string
	Logger         *slog.Logger
}

// Manager owns the derived session: the active provider and its memoized
// document store.
type Manager struct {
	store     CredentialStore
	consumer  Consumer
	location  *callback.Location
	sessions  map[credential.Kind]provider.Session
	factories map[credential.Kind]DocumentsFactory
	configDoc string
	logger    *slog.Logger

	mu     sync.Mutex
	active credential.Kind
	docs   map[credential.Kind]docstore.Documents
}

// New creates a Manager. No I/O happens until Initialize.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	configDoc := opts.ConfigDocument
	if configDoc == "" {
		configDoc = DefaultConfigDocument
	}

	return &Manager{
		store:     opts.Store,
		consumer:  opts.Callback,
		location:  opts.Location,
		sessions:  opts.Sessions,
		factories: opts.Documents,
		configDoc: configDoc,
		logger:    logger,
		docs:      make(map[credential.Kind]docstore.Documents),
	}
}

// Initialize derives the active provider and returns it.
func (m *Manager) Initialize(ctx context.Context) credential.Kind {
	if m.consumer != nil && m.location != nil {
		if kind := m.consumer.Consume(ctx, m.location); kind != credential.KindNone {
			m.setActive(kind)
			m.logger.Info("signed in from callback", slog.String("provider", kind.String()))

			return kind
		}
	}

	for _, kind := range credential.Kinds {
		if _, ok := m.store.Get(ctx, kind); ok {
			m.setActive(kind)
			m.logger.Debug("restored session", slog.String("provider", kind.String()))

			return kind
		}
	}

	m.setActive(credential.KindNone)

	return credential.KindNone
}

// EnsureActive makes kind the active provider if its stored credential
// validates or can be refreshed, and otherwise starts a handshake.
//
// Validation and refresh failures are not errors: they route to the next
// step. The only errors are an unknown kind, a failure to persist a
// refreshed credential, and a failure to navigate.
func (m *Manager) EnsureActive(ctx context.Context, kind credential.Kind) (Outcome, error) {
	sess, ok := m.sessions[kind]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownProvider, kind)
	}

	log := m.logger.With(slog.String("provider", kind.String()))

	if cred, found := m.store.Get(ctx, kind); found {
		err := sess.Validate(ctx, cred)
		if err == nil {
			m.setActive(kind)
			log.Debug("stored credential is valid")

			return OutcomeActive, nil
		}

		log.Info("stored credential not accepted", slog.String("error", err.Error()))

		if r, canRefresh := sess.(provider.Refresher); canRefresh {
			refreshed, rerr := r.Refresh(ctx, cred)
			if rerr == nil {
				if err := m.store.Set(ctx, refreshed); err != nil {
					return 0, fmt.Errorf("session: storing refreshed credential: %w", err)
				}

				m.setActive(kind)
				log.Info("credential refreshed")

				return OutcomeActive, nil
			}

			log.Info("refresh failed", slog.String("error", rerr.Error()))
		}
	}

	if err := sess.BeginHandshake(ctx); err != nil {
		return 0, fmt.Errorf("session: starting %s handshake: %w", kind, err)
	}

	return OutcomeHandshakeInitiated, nil
}

// SignOut removes every stored credential and resets the session.
func (m *Manager) SignOut(ctx context.Context) error {
	err := m.store.ClearAll(ctx)

	m.mu.Lock()
	m.active = credential.KindNone
	m.docs = make(map[credential.Kind]docstore.Documents)
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("session: signing out: %w", err)
	}

	m.logger.Info("signed out")

	return nil
}

// Active reports the active provider.
func (m *Manager) Active() credential.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.active
}

// Session returns the configured provider session for kind.
func (m *Manager) Session(kind credential.Kind) (provider.Session, bool) {
	s, ok := m.sessions[kind]

	return s, ok
}

func (m *Manager) setActive(kind credential.Kind) {
	m.mu.Lock()
	m.active = kind
	m.mu.Unlock()
}

// Documents returns the active provider's document store, building it on
// first use.
func (m *Manager) Documents(ctx context.Context) (docstore.Documents, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == credential.KindNone {
		return nil, ErrNotSignedIn
	}

	if d, ok := m.docs[m.active]; ok {
		return d, nil
	}

	factory, ok := m.factories[m.active]
	if !ok {
		return nil, fmt.Errorf("%w: no document store for %s", ErrUnknownProvider, m.active)
	}

	d, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: opening %s documents: %w", m.active, err)
	}

	m.docs[m.active] = d

	return d, nil
}

// SaveConfig saves the application config document.
func (m *Manager) SaveConfig(ctx context.Context, cfg any) (docstore.Entry, error) {
	d, err := m.Documents(ctx)
	if err != nil {
		return docstore.Entry{}, err
	}

	return d.Save(ctx, m.configDoc, cfg)
}

// LoadConfig loads the application config document.
func (m *Manager) LoadConfig(ctx context.Context) (json.RawMessage, bool, error) {
	d, err := m.Documents(ctx)
	if err != nil {
		return nil, false, err
	}

	return d.Load(ctx, m.configDoc)
}

// ConfigDocument is the name SaveConfig and LoadConfig use.
func (m *Manager) ConfigDocument() string {
	return m.configDoc
}
