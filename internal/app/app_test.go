package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"classmind/pkg/domain"
	"classmind/pkg/provider"
	"classmind/pkg/storage"
	"classmind/pkg/store"
)

type fixture struct {
	app     *App
	store   *store.MemoryStore
	objects *storage.MemoryObjectStore
	gateway *provider.FakeGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, func(cfg *Config) {})
}

func newFixtureWith(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	objects := storage.NewMemoryObjectStore()
	gw := provider.NewFakeGateway()
	cfg := Config{
		Store:              st,
		Sessions:           store.NewJWTSessionStore("test-secret", time.Hour),
		Objects:            objects,
		Gateway:            gw,
		RemoteRetryMax:     2,
		RemoteRetryBackoff: time.Millisecond,
	}
	mutate(&cfg)
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{app: a, store: st, objects: objects, gateway: gw}
}

func (f *fixture) user(t *testing.T, email string) domain.User {
	t.Helper()
	u, err := f.app.SignUp(context.Background(), SignUpParams{
		Email:    email,
		Password: "correct-horse",
		FullName: "Test Teacher",
	})
	if err != nil {
		t.Fatalf("SignUp(%s): %v", email, err)
	}
	return u
}

func (f *fixture) assistant(t *testing.T, owner domain.User) domain.Assistant {
	t.Helper()
	a, err := f.app.CreateAssistant(context.Background(), owner, "Biology Helper", "answers biology questions")
	if err != nil {
		t.Fatalf("CreateAssistant: %v", err)
	}
	return a
}

// uploadReady uploads a small text document and fails the test unless it
// lands in the ready state.
func (f *fixture) uploadReady(t *testing.T, owner domain.User, assistantID string) domain.Document {
	t.Helper()
	doc, err := f.app.UploadDocument(context.Background(), owner, UploadParams{
		AssistantID: assistantID,
		Filename:    "notes.txt",
		MediaType:   "text/plain",
		Content:     []byte("photosynthesis turns light into sugar"),
	})
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	if doc.Status != domain.DocReady {
		t.Fatalf("status = %s, want ready", doc.Status)
	}
	return doc
}

func (f *fixture) pending(t *testing.T) []domain.ReconciliationEntry {
	t.Helper()
	entries, err := f.store.ListPendingReconciliations(100)
	if err != nil {
		t.Fatalf("ListPendingReconciliations: %v", err)
	}
	return entries
}

// failingStore wraps a Store and fails selected writes so tests can exercise
// the compensation paths.
type failingStore struct {
	store.Store
	failSaveAssistant   bool
	failSaveThread      bool
	failSaveVectorStore bool
	failAppendMessage   bool
}

var errStoreDown = errors.New("store down")

func (s *failingStore) SaveAssistant(a domain.Assistant) error {
	if s.failSaveAssistant {
		return errStoreDown
	}
	return s.Store.SaveAssistant(a)
}

func (s *failingStore) SaveThread(th domain.Thread) error {
	if s.failSaveThread {
		return errStoreDown
	}
	return s.Store.SaveThread(th)
}

func (s *failingStore) SaveVectorStore(v domain.VectorStore) error {
	if s.failSaveVectorStore {
		return errStoreDown
	}
	return s.Store.SaveVectorStore(v)
}

func (s *failingStore) AppendMessage(m domain.Message) error {
	if s.failAppendMessage {
		return errStoreDown
	}
	return s.Store.AppendMessage(m)
}

// flakyGateway fails an operation a fixed number of times before delegating,
// for retry tests.
type flakyGateway struct {
	provider.Gateway
	remaining int
	err       error
}

func (g *flakyGateway) CreateAssistant(ctx context.Context, name, description, instructions string) (string, error) {
	if g.remaining > 0 {
		g.remaining--
		return "", g.err
	}
	return g.Gateway.CreateAssistant(ctx, name, description, instructions)
}
