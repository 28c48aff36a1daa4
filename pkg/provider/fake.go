package provider

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// FakeGateway is an in-memory Gateway used by tests. Error fields inject
// failures per operation; Calls records the operation log so tests can assert
// that no remote call happened.
type FakeGateway struct {
	mu  sync.Mutex
	seq int

	Assistants       map[string]string          // remote id -> name
	Threads          map[string]bool            // remote id -> exists
	Files            map[string]string          // remote id -> filename
	VectorStores     map[string]string          // remote id -> name
	VectorStoreFiles map[string]map[string]bool // vs remote id -> file remote ids
	Messages         map[string][]string        // thread remote id -> contents
	Calls            []string

	// Reply is the text RunAndWait returns.
	Reply string

	CreateAssistantErr   error
	UpdateAssistantErr   error
	DeleteAssistantErr   error
	CreateThreadErr      error
	DeleteThreadErr      error
	PostMessageErr       error
	RunErr               error
	UploadFileErr        error
	DeleteFileErr        error
	CreateVectorStoreErr error
	DeleteVectorStoreErr error
	AttachFileErr        error
	AttachAssistantErr   error
}

// NewFakeGateway returns an empty fake provider.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		Assistants:       make(map[string]string),
		Threads:          make(map[string]bool),
		Files:            make(map[string]string),
		VectorStores:     make(map[string]string),
		VectorStoreFiles: make(map[string]map[string]bool),
		Messages:         make(map[string][]string),
		Reply:            "fake assistant reply",
	}
}

func (f *FakeGateway) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_fake_%d", prefix, f.seq)
}

func (f *FakeGateway) record(call string) {
	f.Calls = append(f.Calls, call)
}

// CallCount returns how many recorded calls start with op.
func (f *FakeGateway) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if len(c) >= len(op) && c[:len(op)] == op {
			n++
		}
	}
	return n
}

func (f *FakeGateway) CreateAssistant(_ context.Context, name, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateAssistant")
	if f.CreateAssistantErr != nil {
		return "", f.CreateAssistantErr
	}
	id := f.nextID("asst")
	f.Assistants[id] = name
	return id, nil
}

func (f *FakeGateway) UpdateAssistant(_ context.Context, remoteID, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateAssistant")
	if f.UpdateAssistantErr != nil {
		return f.UpdateAssistantErr
	}
	if _, ok := f.Assistants[remoteID]; ok {
		f.Assistants[remoteID] = name
	}
	return nil
}

func (f *FakeGateway) DeleteAssistant(_ context.Context, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteAssistant " + remoteID)
	if f.DeleteAssistantErr != nil {
		return f.DeleteAssistantErr
	}
	delete(f.Assistants, remoteID)
	return nil
}

func (f *FakeGateway) CreateThread(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateThread")
	if f.CreateThreadErr != nil {
		return "", f.CreateThreadErr
	}
	id := f.nextID("thread")
	f.Threads[id] = true
	return id, nil
}

func (f *FakeGateway) DeleteThread(_ context.Context, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteThread " + remoteID)
	if f.DeleteThreadErr != nil {
		return f.DeleteThreadErr
	}
	delete(f.Threads, remoteID)
	return nil
}

func (f *FakeGateway) PostMessage(_ context.Context, threadRemoteID, _, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PostMessage " + threadRemoteID)
	if f.PostMessageErr != nil {
		return "", f.PostMessageErr
	}
	f.Messages[threadRemoteID] = append(f.Messages[threadRemoteID], content)
	return f.nextID("msg"), nil
}

func (f *FakeGateway) RunAndWait(_ context.Context, threadRemoteID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RunAndWait " + threadRemoteID)
	if f.RunErr != nil {
		return "", f.RunErr
	}
	return f.Reply, nil
}

func (f *FakeGateway) UploadFile(_ context.Context, filename string, r io.Reader) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UploadFile " + filename)
	if f.UploadFileErr != nil {
		return "", f.UploadFileErr
	}
	if r != nil {
		_, _ = io.Copy(io.Discard, r)
	}
	id := f.nextID("file")
	f.Files[id] = filename
	return id, nil
}

func (f *FakeGateway) DeleteFile(_ context.Context, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteFile " + remoteID)
	if f.DeleteFileErr != nil {
		return f.DeleteFileErr
	}
	delete(f.Files, remoteID)
	return nil
}

func (f *FakeGateway) CreateVectorStore(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateVectorStore")
	if f.CreateVectorStoreErr != nil {
		return "", f.CreateVectorStoreErr
	}
	id := f.nextID("vs")
	f.VectorStores[id] = name
	f.VectorStoreFiles[id] = make(map[string]bool)
	return id, nil
}

func (f *FakeGateway) DeleteVectorStore(_ context.Context, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteVectorStore " + remoteID)
	if f.DeleteVectorStoreErr != nil {
		return f.DeleteVectorStoreErr
	}
	delete(f.VectorStores, remoteID)
	delete(f.VectorStoreFiles, remoteID)
	return nil
}

func (f *FakeGateway) AttachFileToVectorStore(_ context.Context, vectorStoreRemoteID, fileRemoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AttachFileToVectorStore " + fileRemoteID)
	if f.AttachFileErr != nil {
		return f.AttachFileErr
	}
	files, ok := f.VectorStoreFiles[vectorStoreRemoteID]
	if !ok {
		files = make(map[string]bool)
		f.VectorStoreFiles[vectorStoreRemoteID] = files
	}
	files[fileRemoteID] = true
	return nil
}

func (f *FakeGateway) AttachVectorStoreToAssistant(_ context.Context, assistantRemoteID, vectorStoreRemoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AttachVectorStoreToAssistant " + vectorStoreRemoteID)
	return f.AttachAssistantErr
}
