// Package reconcile drains the reconciliation log: remote resources whose
// deletion failed during a user-facing operation are retried here until the
// provider confirms they are gone.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"classmind/pkg/domain"
	"classmind/pkg/provider"
	"classmind/pkg/storage"
	"classmind/pkg/store"
)

const (
	defaultInterval    = time.Minute
	defaultBatchSize   = 50
	defaultConcurrency = 4
)

// Config wires the sweeper.
type Config struct {
	Store   store.Store
	Gateway provider.Gateway
	Objects storage.ObjectStore

	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

// Sweeper retries pending remote deletions. Deletion is idempotent on the
// provider side (a missing resource deletes as success), so running the sweep
// concurrently with user operations is safe.
type Sweeper struct {
	store       store.Store
	gateway     provider.Gateway
	objects     storage.ObjectStore
	interval    time.Duration
	batchSize   int
	concurrency int
}

func New(cfg Config) (*Sweeper, error) {
	if cfg.Store == nil || cfg.Gateway == nil {
		return nil, fmt.Errorf("reconcile: store and gateway required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Sweeper{
		store:       cfg.Store,
		gateway:     cfg.Gateway,
		objects:     cfg.Objects,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
	}, nil
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil {
			slog.Error("reconciliation sweep failed", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce processes one batch of pending entries. Entries the provider
// cannot clean (posted messages) are left pending for operators; everything
// else is retried and marked done once the remote side is confirmed gone.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	entries, err := s.store.ListPendingReconciliations(s.batchSize)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, entry := range entries {
		g.Go(func() error {
			s.sweepEntry(ctx, entry)
			return nil
		})
	}
	return g.Wait()
}

func (s *Sweeper) sweepEntry(ctx context.Context, entry domain.ReconciliationEntry) {
	if entry.Kind == domain.KindMessage {
		// Provider messages cannot be deleted; the entry stays pending as an
		// operator signal.
		return
	}

	err := s.deleteRemote(ctx, entry)
	entry.Attempts++
	entry.UpdatedAt = time.Now().UTC()
	if err != nil {
		entry.LastError = err.Error()
		if updateErr := s.store.UpdateReconciliation(entry); updateErr != nil {
			slog.Error("record sweep attempt", "entry_id", entry.ID, "error", updateErr.Error())
		}
		slog.Warn("sweep retry failed",
			"entry_id", entry.ID, "kind", string(entry.Kind),
			"remote_id", entry.RemoteID, "attempts", entry.Attempts,
			"error", err.Error())
		return
	}

	if entry.Kind == domain.KindFile {
		s.finishDocumentCleanup(ctx, entry)
	}

	entry.Done = true
	entry.LastError = ""
	if err := s.store.UpdateReconciliation(entry); err != nil {
		slog.Error("mark entry done", "entry_id", entry.ID, "error", err.Error())
		return
	}
	slog.Info("swept remote resource",
		"entry_id", entry.ID, "kind", string(entry.Kind), "remote_id", entry.RemoteID)
}

func (s *Sweeper) deleteRemote(ctx context.Context, entry domain.ReconciliationEntry) error {
	if entry.RemoteID == "" {
		return nil
	}
	switch entry.Kind {
	case domain.KindAssistant:
		return s.gateway.DeleteAssistant(ctx, entry.RemoteID)
	case domain.KindThread:
		return s.gateway.DeleteThread(ctx, entry.RemoteID)
	case domain.KindFile:
		return s.gateway.DeleteFile(ctx, entry.RemoteID)
	case domain.KindVectorStore:
		return s.gateway.DeleteVectorStore(ctx, entry.RemoteID)
	default:
		return fmt.Errorf("unknown resource kind %q", entry.Kind)
	}
}

// finishDocumentCleanup completes a document deletion that stalled on the
// remote file: drop the stored bytes and the local row, which is still parked
// in pending_remote_cleanup.
func (s *Sweeper) finishDocumentCleanup(ctx context.Context, entry domain.ReconciliationEntry) {
	doc, ok, err := s.store.GetDocument(entry.EntityID)
	if err != nil || !ok {
		return
	}
	if doc.Status != domain.DocPendingCleanup {
		return
	}
	if doc.StorageKey != "" && s.objects != nil {
		if err := s.objects.Delete(ctx, doc.StorageKey); err != nil {
			slog.Warn("delete stored bytes", "document_id", doc.ID, "error", err.Error())
			return
		}
	}
	if err := s.store.DeleteDocument(doc.ID); err != nil {
		slog.Warn("delete document row", "document_id", doc.ID, "error", err.Error())
	}
}
