package store

import (
	"time"

	"classmind/pkg/domain"
)

// Store defines persistence for schools, users, assistants, documents,
// threads, messages, vector stores, and the reconciliation log. It carries no
// authorization logic; ownership checks live in the guard so storage stays
// testable without auth fixtures.
type Store interface {
	// schools
	SaveSchool(domain.School) error
	GetSchool(id string) (domain.School, bool, error)

	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	ListUsersBySchool(schoolID string) ([]domain.User, error)
	CountUsersBySchool(schoolID string) (int, error)
	TouchLastLogin(userID string, at time.Time) error

	// assistants
	SaveAssistant(domain.Assistant) error
	GetAssistant(id string) (domain.Assistant, bool, error)
	ListAssistantsByOwner(ownerID string) ([]domain.Assistant, error)
	DeleteAssistant(id string) error

	// documents
	SaveDocument(domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	ListDocumentsByOwner(ownerID string) ([]domain.Document, error)
	ListDocumentsByAssistant(assistantID string) ([]domain.Document, error)
	DeleteDocument(id string) error

	// threads
	SaveThread(domain.Thread) error
	GetThread(id string) (domain.Thread, bool, error)
	ListThreadsByOwner(ownerID string) ([]domain.Thread, error)
	ListThreadsByAssistant(assistantID string) ([]domain.Thread, error)
	DeleteThread(id string) error

	// messages. AppendMessage inserts the row and advances the thread's
	// last_message_at in one transaction; both commit or neither does.
	AppendMessage(domain.Message) error
	ListMessages(threadID string, limit int) ([]domain.Message, error)
	CountMessages(threadID string) (int, error)

	// vector stores (at most one per assistant)
	SaveVectorStore(domain.VectorStore) error
	GetVectorStoreByAssistant(assistantID string) (domain.VectorStore, bool, error)
	DeleteVectorStore(id string) error

	// reconciliation log
	AppendReconciliation(domain.ReconciliationEntry) error
	ListPendingReconciliations(limit int) ([]domain.ReconciliationEntry, error)
	UpdateReconciliation(domain.ReconciliationEntry) error
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
