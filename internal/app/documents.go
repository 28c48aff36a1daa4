package app

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"classmind/pkg/domain"
	"classmind/pkg/faults"
)

// UploadParams collects document upload input. AssistantID may be empty; a
// document is only indexed for retrieval once attached to a vector store.
type UploadParams struct {
	AssistantID string
	Filename    string
	MediaType   string
	Content     []byte
}

// UploadDocument validates the file, stores its bytes durably, records a
// processing row, and pushes the bytes to the provider. Remote failure flips
// the row to failed and keeps it so the upload can be retried or removed; no
// remote call happens before validation passes.
func (a *App) UploadDocument(ctx context.Context, caller domain.User, p UploadParams) (domain.Document, error) {
	filename := strings.TrimSpace(p.Filename)
	if filename == "" {
		return domain.Document{}, faults.Validationf("filename required")
	}
	ext := strings.ToLower(path.Ext(filename))
	if !a.extensionAllowed(ext) {
		return domain.Document{}, faults.Validationf("file type %q not allowed (want one of %s)", ext, strings.Join(a.allowedExtensions, ", "))
	}
	if len(p.Content) == 0 {
		return domain.Document{}, faults.Validationf("empty file")
	}
	if int64(len(p.Content)) > a.maxUploadBytes {
		return domain.Document{}, faults.Validationf("file exceeds %d byte limit", a.maxUploadBytes)
	}
	if p.AssistantID != "" {
		if _, err := a.GetAssistant(ctx, caller, p.AssistantID); err != nil {
			return domain.Document{}, err
		}
	}

	now := time.Now().UTC()
	doc := domain.Document{
		ID:          newID(),
		UserID:      caller.ID,
		AssistantID: p.AssistantID,
		Filename:    filename,
		MediaType:   p.MediaType,
		SizeBytes:   int64(len(p.Content)),
		Status:      domain.DocProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	doc.StorageKey = fmt.Sprintf("documents/%s/%s%s", caller.ID, doc.ID, ext)
	if ext == ".pdf" {
		// Best effort; a malformed PDF still uploads, the provider does its
		// own parsing.
		if pages, err := pdfPageCount(p.Content); err == nil {
			doc.PageCount = pages
		}
	}

	if err := a.objects.Put(ctx, doc.StorageKey, bytes.NewReader(p.Content), doc.SizeBytes, p.MediaType); err != nil {
		return domain.Document{}, fmt.Errorf("%w: store object: %v", faults.ErrLocalWriteFailed, err)
	}
	if err := a.store.SaveDocument(doc); err != nil {
		if delErr := a.objects.Delete(ctx, doc.StorageKey); delErr != nil {
			a.markForCleanup(domain.KindFile, "", doc.ID, delErr, map[string]string{
				"origin":      "upload_compensation",
				"storage_key": doc.StorageKey,
			})
		}
		return domain.Document{}, fmt.Errorf("%w: save document: %v", faults.ErrLocalWriteFailed, err)
	}

	var remoteID string
	uploadErr := a.withRetry(ctx, func(ctx context.Context) error {
		var err error
		remoteID, err = a.gateway.UploadFile(ctx, filename, bytes.NewReader(p.Content))
		return err
	})
	doc.UpdatedAt = time.Now().UTC()
	if uploadErr != nil {
		doc.Status = domain.DocFailed
		if err := a.store.SaveDocument(doc); err != nil {
			return doc, fmt.Errorf("%w: mark document failed: %v", faults.ErrLocalWriteFailed, err)
		}
		return doc, fmt.Errorf("upload file to provider: %w", uploadErr)
	}

	doc.RemoteID = remoteID
	doc.Status = domain.DocReady
	if url, err := a.objects.PresignGet(ctx, doc.StorageKey, a.presignTTL); err == nil {
		doc.FileURL = url
	}
	if err := a.store.SaveDocument(doc); err != nil {
		// Remote file exists but the local row still says processing. Leave
		// the file alone and log it; retrying the save is the sweep's job.
		a.markForCleanup(domain.KindFile, remoteID, doc.ID, err, map[string]string{"origin": "upload_finalize"})
		return doc, fmt.Errorf("%w: finalize document: %v", faults.ErrLocalWriteFailed, err)
	}
	return doc, nil
}

func (a *App) extensionAllowed(ext string) bool {
	for _, allowed := range a.allowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// GetDocument loads one document the caller owns.
func (a *App) GetDocument(ctx context.Context, caller domain.User, id string) (domain.Document, error) {
	doc, ok, err := a.store.GetDocument(id)
	if err != nil {
		return domain.Document{}, fmt.Errorf("%w: load document: %v", faults.ErrLocalWriteFailed, err)
	}
	if !ok {
		return domain.Document{}, fmt.Errorf("%w: document %s", faults.ErrNotFound, id)
	}
	if err := a.guard.Document(caller, doc); err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

// ListDocuments returns the caller's documents, optionally filtered to one
// assistant.
func (a *App) ListDocuments(ctx context.Context, caller domain.User, assistantID string) ([]domain.Document, error) {
	if assistantID == "" {
		return a.store.ListDocumentsByOwner(caller.ID)
	}
	if _, err := a.GetAssistant(ctx, caller, assistantID); err != nil {
		return nil, err
	}
	return a.store.ListDocumentsByAssistant(assistantID)
}

// AttachDocument indexes a ready document in the assistant's vector store,
// creating the store on first use. Attaching an already-attached pair is a
// no-op; a document indexed for another assistant must be detached first.
func (a *App) AttachDocument(ctx context.Context, caller domain.User, documentID, assistantID string) (domain.Document, error) {
	a.documentLocks.lock(documentID)
	defer a.documentLocks.unlock(documentID)

	doc, err := a.GetDocument(ctx, caller, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	assistant, err := a.GetAssistant(ctx, caller, assistantID)
	if err != nil {
		return domain.Document{}, err
	}
	if doc.Status != domain.DocReady {
		return domain.Document{}, faults.Validationf("document %s is %s, only ready documents can be attached", doc.ID, doc.Status)
	}
	if doc.AssistantID != "" && doc.AssistantID != assistantID {
		return domain.Document{}, faults.Validationf("document %s is associated with another assistant; detach it first", doc.ID)
	}

	vs, err := a.ensureVectorStore(ctx, assistant)
	if err != nil {
		return domain.Document{}, err
	}
	if doc.VectorStoreID == vs.ID {
		return doc, nil
	}

	err = a.withRetry(ctx, func(ctx context.Context) error {
		return a.gateway.AttachFileToVectorStore(ctx, vs.RemoteID, doc.RemoteID)
	})
	if err != nil {
		return domain.Document{}, fmt.Errorf("attach file to vector store: %w", err)
	}
	doc.AssistantID = assistantID
	doc.VectorStoreID = vs.ID
	doc.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveDocument(doc); err != nil {
		return domain.Document{}, fmt.Errorf("%w: save document: %v", faults.ErrLocalWriteFailed, err)
	}
	return doc, nil
}

// ensureVectorStore returns the assistant's vector store, provisioning the
// remote store and binding it to the remote assistant on first call. A local
// write failure after the remote create compensates by deleting the remote
// store again.
func (a *App) ensureVectorStore(ctx context.Context, assistant domain.Assistant) (domain.VectorStore, error) {
	vs, ok, err := a.store.GetVectorStoreByAssistant(assistant.ID)
	if err != nil {
		return domain.VectorStore{}, fmt.Errorf("%w: load vector store: %v", faults.ErrLocalWriteFailed, err)
	}
	if ok {
		return vs, nil
	}

	name := fmt.Sprintf("%s-library", assistant.Name)
	var remoteID string
	err = a.withRetry(ctx, func(ctx context.Context) error {
		var err error
		remoteID, err = a.gateway.CreateVectorStore(ctx, name)
		return err
	})
	if err != nil {
		return domain.VectorStore{}, fmt.Errorf("create remote vector store: %w", err)
	}

	err = a.withRetry(ctx, func(ctx context.Context) error {
		return a.gateway.AttachVectorStoreToAssistant(ctx, assistant.RemoteID, remoteID)
	})
	if err != nil {
		a.compensateRemote(domain.KindVectorStore, remoteID, assistant.ID, func(ctx context.Context) error {
			return a.gateway.DeleteVectorStore(ctx, remoteID)
		})
		return domain.VectorStore{}, fmt.Errorf("bind vector store to assistant: %w", err)
	}

	vs = domain.VectorStore{
		ID:          newID(),
		AssistantID: assistant.ID,
		Name:        name,
		RemoteID:    remoteID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.store.SaveVectorStore(vs); err != nil {
		a.compensateRemote(domain.KindVectorStore, remoteID, assistant.ID, func(ctx context.Context) error {
			return a.gateway.DeleteVectorStore(ctx, remoteID)
		})
		return domain.VectorStore{}, fmt.Errorf("%w: save vector store: %v", faults.ErrLocalWriteFailed, err)
	}
	return vs, nil
}

// DeleteDocument removes a document everywhere: the provider file, the
// object storage copy, then the local row. If the remote deletion fails the
// row flips to pending_remote_cleanup and the sweep finishes the job later;
// the local row and bytes stay until the remote side is confirmed gone.
func (a *App) DeleteDocument(ctx context.Context, caller domain.User, id string) error {
	a.documentLocks.lock(id)
	defer a.documentLocks.unlock(id)

	doc, err := a.GetDocument(ctx, caller, id)
	if err != nil {
		return err
	}

	if doc.RemoteID != "" {
		err := a.withRetry(ctx, func(ctx context.Context) error {
			return a.gateway.DeleteFile(ctx, doc.RemoteID)
		})
		if err != nil {
			if doc.Status.CanTransition(domain.DocPendingCleanup) {
				doc.Status = domain.DocPendingCleanup
				doc.UpdatedAt = time.Now().UTC()
				if saveErr := a.store.SaveDocument(doc); saveErr != nil {
					return fmt.Errorf("%w: mark document for cleanup: %v", faults.ErrLocalWriteFailed, saveErr)
				}
			}
			a.markForCleanup(domain.KindFile, doc.RemoteID, doc.ID, err, map[string]string{
				"origin":      "document_delete",
				"storage_key": doc.StorageKey,
			})
			return fmt.Errorf("delete remote file: %w", err)
		}
	}

	if doc.StorageKey != "" {
		if err := a.objects.Delete(ctx, doc.StorageKey); err != nil {
			return fmt.Errorf("%w: delete object: %v", faults.ErrLocalWriteFailed, err)
		}
	}
	if err := a.store.DeleteDocument(doc.ID); err != nil {
		return fmt.Errorf("%w: delete document: %v", faults.ErrLocalWriteFailed, err)
	}
	return nil
}
