package domain

import "time"

type DocumentStatus string

const (
	DocProcessing     DocumentStatus = "processing"
	DocReady          DocumentStatus = "ready"
	DocFailed         DocumentStatus = "failed"
	DocPendingCleanup DocumentStatus = "pending_remote_cleanup"
)

// CanTransition reports whether a document status change is legal.
// processing -> ready|failed, ready -> pending_remote_cleanup; nothing else.
func (s DocumentStatus) CanTransition(to DocumentStatus) bool {
	switch s {
	case DocProcessing:
		return to == DocReady || to == DocFailed
	case DocReady:
		return to == DocPendingCleanup
	default:
		return false
	}
}

type UserRole string

const (
	RoleTeacher UserRole = "teacher"
	RoleAdmin   UserRole = "admin"
)

type MessageRole string

const (
	MsgUser      MessageRole = "user"
	MsgAssistant MessageRole = "assistant"
	MsgSystem    MessageRole = "system"
)

type SubscriptionTier string

const (
	TierBasic    SubscriptionTier = "basic"
	TierStandard SubscriptionTier = "standard"
	TierPremium  SubscriptionTier = "premium"
)

type School struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Tier      SubscriptionTier `json:"subscriptionTier"`
	MaxUsers  int              `json:"maxUsers"`
	CreatedAt time.Time        `json:"createdAt"`
}

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	FullName     string     `json:"fullName"`
	SchoolID     string     `json:"schoolId,omitempty"`
	Role         UserRole   `json:"role"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
}

// Assistant is the local record for a provider-side assistant. RemoteID is
// the provider handle; exactly one remote assistant exists per row.
type Assistant struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	RemoteID    string     `json:"remoteId"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastUsed    *time.Time `json:"lastUsed,omitempty"`
}

type Document struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	AssistantID string `json:"assistantId,omitempty"`
	// VectorStoreID is set once the remote file is indexed in an assistant's
	// vector store; empty means not attached.
	VectorStoreID string         `json:"vectorStoreId,omitempty"`
	Filename      string         `json:"filename"`
	MediaType     string         `json:"mediaType"`
	SizeBytes     int64          `json:"sizeBytes"`
	RemoteID      string         `json:"remoteId,omitempty"`
	StorageKey    string         `json:"-"`
	FileURL       string         `json:"fileUrl,omitempty"`
	Status        DocumentStatus `json:"status"`
	PageCount     int            `json:"pageCount,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

type Thread struct {
	ID            string    `json:"id"`
	AssistantID   string    `json:"assistantId"`
	UserID        string    `json:"userId"`
	Name          string    `json:"name,omitempty"`
	RemoteID      string    `json:"remoteId"`
	CreatedAt     time.Time `json:"createdAt"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

type Message struct {
	ID        string      `json:"id"`
	ThreadID  string      `json:"threadId"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"createdAt"`
}

// VectorStore is the provider-side searchable index over one assistant's
// ready documents.
type VectorStore struct {
	ID          string    `json:"id"`
	AssistantID string    `json:"assistantId"`
	Name        string    `json:"name"`
	RemoteID    string    `json:"remoteId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ResourceKind identifies the remote resource class a reconciliation entry
// refers to.
type ResourceKind string

const (
	KindAssistant   ResourceKind = "assistant"
	KindThread      ResourceKind = "thread"
	KindFile        ResourceKind = "file"
	KindVectorStore ResourceKind = "vector_store"
	// KindMessage entries are log-only: provider messages are not deletable,
	// so the sweep leaves them for manual reconciliation.
	KindMessage ResourceKind = "message"
)

// ReconciliationEntry marks a remote resource whose deletion failed and must
// be retried by the sweep. Done flips once the remote side is confirmed gone.
type ReconciliationEntry struct {
	ID        string            `json:"id"`
	Kind      ResourceKind      `json:"kind"`
	RemoteID  string            `json:"remoteId"`
	EntityID  string            `json:"entityId"`
	Attempts  int               `json:"attempts"`
	LastError string            `json:"lastError,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
	Done      bool              `json:"done"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}
