// Package provider talks to the external AI platform that owns assistants,
// threads, messages, files, and vector stores. The gateway holds no state
// between calls; every handle it returns must be persisted by the caller.
package provider

import (
	"context"
	"io"
)

// Gateway is the typed surface over the remote provider. Calls are
// synchronous and classify failures as transient (faults.ErrRemoteTransient)
// or permanent (faults.ErrRemotePermanent). Delete calls treat a missing
// remote resource as success so cleanup retries stay idempotent.
type Gateway interface {
	CreateAssistant(ctx context.Context, name, description, instructions string) (string, error)
	UpdateAssistant(ctx context.Context, remoteID, name, description string) error
	DeleteAssistant(ctx context.Context, remoteID string) error

	CreateThread(ctx context.Context) (string, error)
	DeleteThread(ctx context.Context, remoteID string) error

	PostMessage(ctx context.Context, threadRemoteID, role, content string) (string, error)
	// RunAndWait runs the assistant on a thread and blocks until the run
	// finishes, returning the assistant's reply text.
	RunAndWait(ctx context.Context, threadRemoteID, assistantRemoteID string) (string, error)

	UploadFile(ctx context.Context, filename string, r io.Reader) (string, error)
	DeleteFile(ctx context.Context, remoteID string) error

	CreateVectorStore(ctx context.Context, name string) (string, error)
	DeleteVectorStore(ctx context.Context, remoteID string) error
	AttachFileToVectorStore(ctx context.Context, vectorStoreRemoteID, fileRemoteID string) error
	AttachVectorStoreToAssistant(ctx context.Context, assistantRemoteID, vectorStoreRemoteID string) error
}
