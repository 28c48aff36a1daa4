package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type SchoolModel struct {
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"not null"`
	Tier      string    `gorm:"not null"`
	MaxUsers  int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type UserModel struct {
	ID           string     `gorm:"primaryKey"`
	Email        string     `gorm:"uniqueIndex;not null"`
	FullName     string     `gorm:"not null"`
	SchoolID     string     `gorm:"index"`
	Role         string     `gorm:"not null"`
	PasswordHash string     `gorm:"not null"`
	CreatedAt    time.Time  `gorm:"not null"`
	LastLogin    *time.Time
}

type AssistantModel struct {
	ID          string     `gorm:"primaryKey"`
	UserID      string     `gorm:"not null;index"`
	Name        string     `gorm:"not null"`
	Description string
	RemoteID    string     `gorm:"uniqueIndex;not null"`
	CreatedAt   time.Time  `gorm:"not null"`
	LastUsed    *time.Time
}

type DocumentModel struct {
	ID            string    `gorm:"primaryKey"`
	UserID        string    `gorm:"not null;index"`
	AssistantID   string    `gorm:"index"`
	VectorStoreID string    `gorm:"index"`
	Filename      string    `gorm:"not null"`
	MediaType     string    `gorm:"not null"`
	SizeBytes     int64     `gorm:"not null"`
	RemoteID      string    `gorm:"index"`
	StorageKey    string
	FileURL       string
	Status        string    `gorm:"not null;index"`
	PageCount     int
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type ThreadModel struct {
	ID            string    `gorm:"primaryKey"`
	AssistantID   string    `gorm:"not null;index"`
	UserID        string    `gorm:"not null;index"`
	Name          string
	RemoteID      string    `gorm:"uniqueIndex;not null"`
	CreatedAt     time.Time `gorm:"not null"`
	LastMessageAt time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID        string    `gorm:"primaryKey"`
	ThreadID  string    `gorm:"not null;index"`
	Role      string    `gorm:"not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

type VectorStoreModel struct {
	ID          string    `gorm:"primaryKey"`
	AssistantID string    `gorm:"uniqueIndex;not null"`
	Name        string    `gorm:"not null"`
	RemoteID    string    `gorm:"uniqueIndex;not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

type ReconciliationModel struct {
	ID        string         `gorm:"primaryKey"`
	Kind      string         `gorm:"not null;index"`
	RemoteID  string         `gorm:"not null"`
	EntityID  string         `gorm:"index"`
	Attempts  int            `gorm:"not null"`
	LastError string
	Detail    datatypes.JSON `gorm:"type:jsonb"`
	Done      bool           `gorm:"not null;index"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}
