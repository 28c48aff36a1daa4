package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"classmind/pkg/domain"
	"classmind/pkg/faults"
)

const maxAssistantNameLength = 120

// defaultInstructions frames every assistant as a teaching aide grounded in
// the teacher's uploaded material.
const defaultInstructions = "You are a teaching assistant. Answer student " +
	"questions using the attached course documents. When the documents do " +
	"not cover a question, say so instead of guessing."

// CreateAssistant provisions the remote assistant first, then the local row.
// If the local write fails, the remote assistant is deleted again so no
// orphan survives; when even that fails a reconciliation entry is left.
func (a *App) CreateAssistant(ctx context.Context, caller domain.User, name, description string) (domain.Assistant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Assistant{}, faults.Validationf("assistant name required")
	}
	if len(name) > maxAssistantNameLength {
		return domain.Assistant{}, faults.Validationf("assistant name exceeds %d characters", maxAssistantNameLength)
	}

	var remoteID string
	err := a.withRetry(ctx, func(ctx context.Context) error {
		var err error
		remoteID, err = a.gateway.CreateAssistant(ctx, name, description, defaultInstructions)
		return err
	})
	if err != nil {
		return domain.Assistant{}, fmt.Errorf("create remote assistant: %w", err)
	}

	assistant := domain.Assistant{
		ID:          newID(),
		UserID:      caller.ID,
		Name:        name,
		Description: strings.TrimSpace(description),
		RemoteID:    remoteID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.store.SaveAssistant(assistant); err != nil {
		a.compensateRemote(domain.KindAssistant, remoteID, assistant.ID, func(ctx context.Context) error {
			return a.gateway.DeleteAssistant(ctx, remoteID)
		})
		return domain.Assistant{}, fmt.Errorf("%w: save assistant: %v", faults.ErrLocalWriteFailed, err)
	}
	return assistant, nil
}

// compensateRemote undoes a remote create whose local write failed. The
// compensation runs on a fresh context so caller cancellation cannot strand
// the resource; an unremovable resource lands in the reconciliation log.
func (a *App) compensateRemote(kind domain.ResourceKind, remoteID, entityID string, del func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.callTimeout)
	defer cancel()
	if err := a.withRetry(ctx, del); err != nil {
		a.markForCleanup(kind, remoteID, entityID, err, map[string]string{"origin": "create_compensation"})
	}
}

// GetAssistant loads one assistant the caller owns.
func (a *App) GetAssistant(ctx context.Context, caller domain.User, id string) (domain.Assistant, error) {
	assistant, ok, err := a.store.GetAssistant(id)
	if err != nil {
		return domain.Assistant{}, fmt.Errorf("%w: load assistant: %v", faults.ErrLocalWriteFailed, err)
	}
	if !ok {
		return domain.Assistant{}, fmt.Errorf("%w: assistant %s", faults.ErrNotFound, id)
	}
	if err := a.guard.Assistant(caller, assistant); err != nil {
		return domain.Assistant{}, err
	}
	return assistant, nil
}

// ListAssistants returns the caller's assistants.
func (a *App) ListAssistants(ctx context.Context, caller domain.User) ([]domain.Assistant, error) {
	return a.store.ListAssistantsByOwner(caller.ID)
}

// UpdateAssistant renames or re-describes an assistant on both sides. The
// remote update happens first; the local row only changes after it succeeds.
func (a *App) UpdateAssistant(ctx context.Context, caller domain.User, id, name, description string) (domain.Assistant, error) {
	assistant, err := a.GetAssistant(ctx, caller, id)
	if err != nil {
		return domain.Assistant{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = assistant.Name
	}
	if len(name) > maxAssistantNameLength {
		return domain.Assistant{}, faults.Validationf("assistant name exceeds %d characters", maxAssistantNameLength)
	}
	err = a.withRetry(ctx, func(ctx context.Context) error {
		return a.gateway.UpdateAssistant(ctx, assistant.RemoteID, name, description)
	})
	if err != nil {
		return domain.Assistant{}, fmt.Errorf("update remote assistant: %w", err)
	}
	assistant.Name = name
	assistant.Description = strings.TrimSpace(description)
	if err := a.store.SaveAssistant(assistant); err != nil {
		return domain.Assistant{}, fmt.Errorf("%w: save assistant: %v", faults.ErrLocalWriteFailed, err)
	}
	return assistant, nil
}

// DeleteAssistant tears down an assistant and everything hanging off it:
// threads first, then the vector store, then the assistant itself. Any remote
// deletion failure leaves a reconciliation marker, halts the cascade, and
// keeps the local assistant row so the operation can be retried. Documents
// are detached, never deleted; they still belong to the owner.
func (a *App) DeleteAssistant(ctx context.Context, caller domain.User, id string) error {
	assistant, err := a.GetAssistant(ctx, caller, id)
	if err != nil {
		return err
	}

	threads, err := a.store.ListThreadsByAssistant(assistant.ID)
	if err != nil {
		return fmt.Errorf("%w: list threads: %v", faults.ErrLocalWriteFailed, err)
	}
	for _, t := range threads {
		err := a.withRetry(ctx, func(ctx context.Context) error {
			return a.gateway.DeleteThread(ctx, t.RemoteID)
		})
		if err != nil {
			a.markForCleanup(domain.KindThread, t.RemoteID, t.ID, err, map[string]string{"origin": "assistant_cascade"})
			return fmt.Errorf("delete remote thread %s: %w", t.ID, err)
		}
		if err := a.store.DeleteThread(t.ID); err != nil {
			return fmt.Errorf("%w: delete thread %s: %v", faults.ErrLocalWriteFailed, t.ID, err)
		}
	}

	if vs, ok, err := a.store.GetVectorStoreByAssistant(assistant.ID); err != nil {
		return fmt.Errorf("%w: load vector store: %v", faults.ErrLocalWriteFailed, err)
	} else if ok {
		err := a.withRetry(ctx, func(ctx context.Context) error {
			return a.gateway.DeleteVectorStore(ctx, vs.RemoteID)
		})
		if err != nil {
			a.markForCleanup(domain.KindVectorStore, vs.RemoteID, vs.ID, err, map[string]string{"origin": "assistant_cascade"})
			return fmt.Errorf("delete remote vector store: %w", err)
		}
		if err := a.store.DeleteVectorStore(vs.ID); err != nil {
			return fmt.Errorf("%w: delete vector store: %v", faults.ErrLocalWriteFailed, err)
		}
	}

	docs, err := a.store.ListDocumentsByAssistant(assistant.ID)
	if err != nil {
		return fmt.Errorf("%w: list documents: %v", faults.ErrLocalWriteFailed, err)
	}
	for _, d := range docs {
		d.AssistantID = ""
		d.VectorStoreID = ""
		d.UpdatedAt = time.Now().UTC()
		if err := a.store.SaveDocument(d); err != nil {
			return fmt.Errorf("%w: detach document %s: %v", faults.ErrLocalWriteFailed, d.ID, err)
		}
	}

	err = a.withRetry(ctx, func(ctx context.Context) error {
		return a.gateway.DeleteAssistant(ctx, assistant.RemoteID)
	})
	if err != nil {
		a.markForCleanup(domain.KindAssistant, assistant.RemoteID, assistant.ID, err, map[string]string{"origin": "assistant_cascade"})
		return fmt.Errorf("delete remote assistant: %w", err)
	}
	if err := a.store.DeleteAssistant(assistant.ID); err != nil {
		return fmt.Errorf("%w: delete assistant: %v", faults.ErrLocalWriteFailed, err)
	}
	return nil
}
