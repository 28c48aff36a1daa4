package store

import (
	"sort"
	"sync"
	"time"

	"classmind/pkg/domain"
)

// MemoryStore keeps all entities in-process. Tests use it in place of
// Postgres; ordering of list results matches the Gorm store's.
type MemoryStore struct {
	mu           sync.RWMutex
	schools      map[string]domain.School
	users        map[string]domain.User
	email        map[string]string // email -> user ID
	assistants   map[string]domain.Assistant
	documents    map[string]domain.Document
	threads      map[string]domain.Thread
	messages     map[string][]domain.Message // thread ID -> ordered messages
	vectorStores map[string]domain.VectorStore
	reconcile    []domain.ReconciliationEntry
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schools:      make(map[string]domain.School),
		users:        make(map[string]domain.User),
		email:        make(map[string]string),
		assistants:   make(map[string]domain.Assistant),
		documents:    make(map[string]domain.Document),
		threads:      make(map[string]domain.Thread),
		messages:     make(map[string][]domain.Message),
		vectorStores: make(map[string]domain.VectorStore),
	}
}

func (m *MemoryStore) SaveSchool(s domain.School) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schools[s.ID] = s
	return nil
}

func (m *MemoryStore) GetSchool(id string) (domain.School, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schools[id]
	return s, ok, nil
}

func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) ListUsersBySchool(schoolID string) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.User
	for _, u := range m.users {
		if u.SchoolID == schoolID {
			res = append(res, u)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) CountUsersBySchool(schoolID string) (int, error) {
	users, err := m.ListUsersBySchool(schoolID)
	if err != nil {
		return 0, err
	}
	return len(users), nil
}

func (m *MemoryStore) TouchLastLogin(userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	u.LastLogin = &at
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) SaveAssistant(a domain.Assistant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assistants[a.ID] = a
	return nil
}

func (m *MemoryStore) GetAssistant(id string) (domain.Assistant, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assistants[id]
	return a, ok, nil
}

func (m *MemoryStore) ListAssistantsByOwner(ownerID string) ([]domain.Assistant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Assistant
	for _, a := range m.assistants {
		if a.UserID == ownerID {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// DeleteAssistant mirrors the Gorm store's FK cascade: threads, their
// messages, and the vector store row disappear with the assistant.
func (m *MemoryStore) DeleteAssistant(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assistants, id)
	for tid, t := range m.threads {
		if t.AssistantID == id {
			delete(m.threads, tid)
			delete(m.messages, tid)
		}
	}
	for vid, v := range m.vectorStores {
		if v.AssistantID == id {
			delete(m.vectorStores, vid)
		}
	}
	return nil
}

func (m *MemoryStore) SaveDocument(d domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[d.ID] = d
	return nil
}

func (m *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	return d, ok, nil
}

func (m *MemoryStore) ListDocumentsByOwner(ownerID string) ([]domain.Document, error) {
	return m.listDocuments(func(d domain.Document) bool { return d.UserID == ownerID })
}

func (m *MemoryStore) ListDocumentsByAssistant(assistantID string) ([]domain.Document, error) {
	return m.listDocuments(func(d domain.Document) bool { return d.AssistantID == assistantID })
}

func (m *MemoryStore) listDocuments(match func(domain.Document) bool) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Document
	for _, d := range m.documents {
		if match(d) {
			res = append(res, d)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) DeleteDocument(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.documents, id)
	return nil
}

func (m *MemoryStore) SaveThread(t domain.Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[t.ID] = t
	return nil
}

func (m *MemoryStore) GetThread(id string) (domain.Thread, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[id]
	return t, ok, nil
}

func (m *MemoryStore) ListThreadsByOwner(ownerID string) ([]domain.Thread, error) {
	return m.listThreads(func(t domain.Thread) bool { return t.UserID == ownerID })
}

func (m *MemoryStore) ListThreadsByAssistant(assistantID string) ([]domain.Thread, error) {
	return m.listThreads(func(t domain.Thread) bool { return t.AssistantID == assistantID })
}

func (m *MemoryStore) listThreads(match func(domain.Thread) bool) ([]domain.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Thread
	for _, t := range m.threads {
		if match(t) {
			res = append(res, t)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].LastMessageAt.After(res[j].LastMessageAt) })
	return res, nil
}

func (m *MemoryStore) DeleteThread(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, id)
	delete(m.messages, id)
	return nil
}

func (m *MemoryStore) AppendMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ThreadID] = append(m.messages[msg.ThreadID], msg)
	if t, ok := m.threads[msg.ThreadID]; ok && t.LastMessageAt.Before(msg.CreatedAt) {
		t.LastMessageAt = msg.CreatedAt
		m.threads[msg.ThreadID] = t
	}
	return nil
}

func (m *MemoryStore) ListMessages(threadID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[threadID]
	res := make([]domain.Message, len(msgs))
	copy(res, msgs)
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) CountMessages(threadID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages[threadID]), nil
}

func (m *MemoryStore) SaveVectorStore(v domain.VectorStore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectorStores[v.ID] = v
	return nil
}

func (m *MemoryStore) GetVectorStoreByAssistant(assistantID string) (domain.VectorStore, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.vectorStores {
		if v.AssistantID == assistantID {
			return v, true, nil
		}
	}
	return domain.VectorStore{}, false, nil
}

func (m *MemoryStore) DeleteVectorStore(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vectorStores, id)
	return nil
}

func (m *MemoryStore) AppendReconciliation(e domain.ReconciliationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcile = append(m.reconcile, e)
	return nil
}

func (m *MemoryStore) ListPendingReconciliations(limit int) ([]domain.ReconciliationEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.ReconciliationEntry
	for _, e := range m.reconcile {
		if !e.Done {
			res = append(res, e)
		}
		if limit > 0 && len(res) == limit {
			break
		}
	}
	return res, nil
}

func (m *MemoryStore) UpdateReconciliation(e domain.ReconciliationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.reconcile {
		if m.reconcile[i].ID == e.ID {
			m.reconcile[i] = e
			return nil
		}
	}
	return nil
}
