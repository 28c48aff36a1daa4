// Package app is the lifecycle coordinator. It is the only component that
// writes to both the entity store and the remote provider for one logical
// operation, and it owns the compensation and reconciliation paths that keep
// the two sides consistent.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classmind/internal/authz"
	"classmind/pkg/domain"
	"classmind/pkg/faults"
	"classmind/pkg/provider"
	"classmind/pkg/storage"
	"classmind/pkg/store"
)

// Defaults mirror the platform's historical limits.
const (
	DefaultMaxUploadBytes    = 20 << 20
	DefaultMaxMessageLength  = 4000
	DefaultMaxThreadMessages = 100
)

var defaultAllowedExtensions = []string{".pdf", ".docx", ".doc", ".txt", ".md"}

// Config wires the coordinator's dependencies and limits.
type Config struct {
	Store    store.Store
	Sessions store.SessionStore
	Objects  storage.ObjectStore
	Gateway  provider.Gateway

	MaxUploadBytes    int64
	AllowedExtensions []string
	MaxMessageLength  int
	MaxThreadMessages int

	// Remote retry policy for transient provider failures.
	RemoteRetryMax     int
	RemoteRetryBackoff time.Duration
	RemoteCallTimeout  time.Duration

	// PresignTTL bounds document URL validity.
	PresignTTL time.Duration
}

// App coordinates multi-resource operations across the store, the object
// storage, and the provider gateway.
type App struct {
	store    store.Store
	sessions store.SessionStore
	objects  storage.ObjectStore
	gateway  provider.Gateway
	guard    *authz.Guard

	maxUploadBytes    int64
	allowedExtensions []string
	maxMessageLength  int
	maxThreadMessages int

	retryMax     int
	retryBackoff time.Duration
	callTimeout  time.Duration
	presignTTL   time.Duration

	// threadLocks serializes operations per thread; documentLocks per
	// document. Operations on distinct keys run concurrently.
	threadLocks   keyedMutex
	documentLocks keyedMutex
}

// New constructs the coordinator. Store, Sessions, Objects, and Gateway are
// required; zero limits fall back to defaults.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("provider gateway required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = defaultAllowedExtensions
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	if cfg.MaxThreadMessages <= 0 {
		cfg.MaxThreadMessages = DefaultMaxThreadMessages
	}
	if cfg.RemoteRetryMax < 0 {
		cfg.RemoteRetryMax = 0
	}
	if cfg.RemoteRetryBackoff <= 0 {
		cfg.RemoteRetryBackoff = 500 * time.Millisecond
	}
	if cfg.RemoteCallTimeout <= 0 {
		cfg.RemoteCallTimeout = 30 * time.Second
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 24 * time.Hour
	}
	return &App{
		store:             cfg.Store,
		sessions:          cfg.Sessions,
		objects:           cfg.Objects,
		gateway:           cfg.Gateway,
		guard:             authz.New(cfg.Store),
		maxUploadBytes:    cfg.MaxUploadBytes,
		allowedExtensions: cfg.AllowedExtensions,
		maxMessageLength:  cfg.MaxMessageLength,
		maxThreadMessages: cfg.MaxThreadMessages,
		retryMax:          cfg.RemoteRetryMax,
		retryBackoff:      cfg.RemoteRetryBackoff,
		callTimeout:       cfg.RemoteCallTimeout,
		presignTTL:        cfg.PresignTTL,
	}, nil
}

// withRetry runs a remote call with a per-call deadline, retrying transient
// failures up to the configured bound with doubling backoff.
func (a *App) withRetry(ctx context.Context, op func(context.Context) error) error {
	backoff := a.retryBackoff
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
		err := op(callCtx)
		cancel()
		if err == nil || !errors.Is(err, faults.ErrRemoteTransient) || attempt >= a.retryMax {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", faults.ErrRemoteTransient, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// markForCleanup appends a reconciliation entry for a remote resource whose
// deletion or compensation failed. The sweep retries it later.
func (a *App) markForCleanup(kind domain.ResourceKind, remoteID, entityID string, cause error, detail map[string]string) {
	now := time.Now().UTC()
	entry := domain.ReconciliationEntry{
		ID:        newID(),
		Kind:      kind,
		RemoteID:  remoteID,
		EntityID:  entityID,
		Detail:    detail,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cause != nil {
		entry.LastError = cause.Error()
	}
	if err := a.store.AppendReconciliation(entry); err != nil {
		// Last resort: record the mismatch in the log stream so operators
		// can reconcile by hand.
		logOrphan(kind, remoteID, entityID, cause, err)
	}
}
