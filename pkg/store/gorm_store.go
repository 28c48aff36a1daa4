package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"classmind/pkg/domain"
)

const migrateLockID int64 = 52815281

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent instances do not race each other.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&SchoolModel{}, &UserModel{}, &AssistantModel{}, &DocumentModel{},
			&ThreadModel{}, &MessageModel{}, &VectorStoreModel{}, &ReconciliationModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'message_models'
					AND constraint_name = 'message_models_thread_id_fkey'
				) THEN
					ALTER TABLE message_models
					ADD CONSTRAINT message_models_thread_id_fkey
					FOREIGN KEY (thread_id) REFERENCES thread_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'thread_models'
					AND constraint_name = 'thread_models_assistant_id_fkey'
				) THEN
					ALTER TABLE thread_models
					ADD CONSTRAINT thread_models_assistant_id_fkey
					FOREIGN KEY (assistant_id) REFERENCES assistant_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'vector_store_models'
					AND constraint_name = 'vector_store_models_assistant_id_fkey'
				) THEN
					ALTER TABLE vector_store_models
					ADD CONSTRAINT vector_store_models_assistant_id_fkey
					FOREIGN KEY (assistant_id) REFERENCES assistant_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveSchool stores or updates a school.
func (s *GormStore) SaveSchool(sc domain.School) error {
	model := SchoolModel{
		ID:        sc.ID,
		Name:      sc.Name,
		Tier:      string(sc.Tier),
		MaxUsers:  sc.MaxUsers,
		CreatedAt: sc.CreatedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "tier", "max_users"}),
	}).Create(&model).Error
}

// GetSchool retrieves a school by ID.
func (s *GormStore) GetSchool(id string) (domain.School, bool, error) {
	var model SchoolModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.School{}, false, nil
		}
		return domain.School{}, false, err
	}
	return domain.School{
		ID:        model.ID,
		Name:      model.Name,
		Tier:      domain.SubscriptionTier(model.Tier),
		MaxUsers:  model.MaxUsers,
		CreatedAt: model.CreatedAt,
	}, true, nil
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "full_name", "school_id", "role", "password_hash", "last_login"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsersBySchool returns the users of one school ordered by created_at.
func (s *GormStore) ListUsersBySchool(schoolID string) ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Where("school_id = ?", schoolID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// CountUsersBySchool returns how many users reference a school.
func (s *GormStore) CountUsersBySchool(schoolID string) (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("school_id = ?", schoolID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// TouchLastLogin records a successful login time.
func (s *GormStore) TouchLastLogin(userID string, at time.Time) error {
	return s.db.Model(&UserModel{}).Where("id = ?", userID).Update("last_login", at).Error
}

// SaveAssistant stores or updates an assistant.
func (s *GormStore) SaveAssistant(a domain.Assistant) error {
	model := AssistantModel{
		ID:          a.ID,
		UserID:      a.UserID,
		Name:        a.Name,
		Description: a.Description,
		RemoteID:    a.RemoteID,
		CreatedAt:   a.CreatedAt,
		LastUsed:    a.LastUsed,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "last_used"}),
	}).Create(&model).Error
}

// GetAssistant retrieves an assistant.
func (s *GormStore) GetAssistant(id string) (domain.Assistant, bool, error) {
	var model AssistantModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Assistant{}, false, nil
		}
		return domain.Assistant{}, false, err
	}
	return assistantFromModel(model), true, nil
}

// ListAssistantsByOwner returns assistants owned by a user.
func (s *GormStore) ListAssistantsByOwner(ownerID string) ([]domain.Assistant, error) {
	var models []AssistantModel
	if err := s.db.Where("user_id = ?", ownerID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Assistant, 0, len(models))
	for _, m := range models {
		res = append(res, assistantFromModel(m))
	}
	return res, nil
}

// DeleteAssistant removes the assistant row. Threads, messages, and the
// vector store row go with it via FK cascade.
func (s *GormStore) DeleteAssistant(id string) error {
	return s.db.Delete(&AssistantModel{}, "id = ?", id).Error
}

// SaveDocument stores or updates a document.
func (s *GormStore) SaveDocument(d domain.Document) error {
	model := documentToModel(d)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"assistant_id", "vector_store_id", "remote_id", "storage_key", "file_url", "status", "page_count", "updated_at"}),
	}).Create(&model).Error
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocumentsByOwner returns documents owned by a user.
func (s *GormStore) ListDocumentsByOwner(ownerID string) ([]domain.Document, error) {
	return s.listDocuments("user_id = ?", ownerID)
}

// ListDocumentsByAssistant returns documents attached to an assistant.
func (s *GormStore) ListDocumentsByAssistant(assistantID string) ([]domain.Document, error) {
	return s.listDocuments("assistant_id = ?", assistantID)
}

func (s *GormStore) listDocuments(cond string, arg any) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Where(cond, arg).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// DeleteDocument removes a document row.
func (s *GormStore) DeleteDocument(id string) error {
	return s.db.Delete(&DocumentModel{}, "id = ?", id).Error
}

// SaveThread stores or updates a thread.
func (s *GormStore) SaveThread(t domain.Thread) error {
	model := ThreadModel{
		ID:            t.ID,
		AssistantID:   t.AssistantID,
		UserID:        t.UserID,
		Name:          t.Name,
		RemoteID:      t.RemoteID,
		CreatedAt:     t.CreatedAt,
		LastMessageAt: t.LastMessageAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "last_message_at"}),
	}).Create(&model).Error
}

// GetThread retrieves a thread.
func (s *GormStore) GetThread(id string) (domain.Thread, bool, error) {
	var model ThreadModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Thread{}, false, nil
		}
		return domain.Thread{}, false, err
	}
	return threadFromModel(model), true, nil
}

// ListThreadsByOwner returns threads owned by a user, most recent first.
func (s *GormStore) ListThreadsByOwner(ownerID string) ([]domain.Thread, error) {
	return s.listThreads("user_id = ?", ownerID)
}

// ListThreadsByAssistant returns threads of one assistant.
func (s *GormStore) ListThreadsByAssistant(assistantID string) ([]domain.Thread, error) {
	return s.listThreads("assistant_id = ?", assistantID)
}

func (s *GormStore) listThreads(cond string, arg any) ([]domain.Thread, error) {
	var models []ThreadModel
	if err := s.db.Where(cond, arg).Order("last_message_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Thread, 0, len(models))
	for _, m := range models {
		res = append(res, threadFromModel(m))
	}
	return res, nil
}

// DeleteThread removes a thread row; its messages follow via FK cascade.
func (s *GormStore) DeleteThread(id string) error {
	return s.db.Delete(&ThreadModel{}, "id = ?", id).Error
}

// AppendMessage inserts a message and advances the thread's last_message_at
// in one transaction.
func (s *GormStore) AppendMessage(m domain.Message) error {
	model := MessageModel{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		Role:      string(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Model(&ThreadModel{}).
			Where("id = ? AND last_message_at < ?", m.ThreadID, m.CreatedAt).
			Update("last_message_at", m.CreatedAt).Error
	})
}

// ListMessages returns thread messages ordered by creation time.
func (s *GormStore) ListMessages(threadID string, limit int) ([]domain.Message, error) {
	var models []MessageModel
	tx := s.db.Where("thread_id = ?", threadID).Order("created_at ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		res = append(res, domain.Message{
			ID:        m.ID,
			ThreadID:  m.ThreadID,
			Role:      domain.MessageRole(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	return res, nil
}

// CountMessages returns the number of messages in a thread.
func (s *GormStore) CountMessages(threadID string) (int, error) {
	var count int64
	if err := s.db.Model(&MessageModel{}).Where("thread_id = ?", threadID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SaveVectorStore stores or updates a vector store record.
func (s *GormStore) SaveVectorStore(v domain.VectorStore) error {
	model := VectorStoreModel{
		ID:          v.ID,
		AssistantID: v.AssistantID,
		Name:        v.Name,
		RemoteID:    v.RemoteID,
		CreatedAt:   v.CreatedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&model).Error
}

// GetVectorStoreByAssistant returns the assistant's vector store, if any.
func (s *GormStore) GetVectorStoreByAssistant(assistantID string) (domain.VectorStore, bool, error) {
	var model VectorStoreModel
	if err := s.db.First(&model, "assistant_id = ?", assistantID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.VectorStore{}, false, nil
		}
		return domain.VectorStore{}, false, err
	}
	return domain.VectorStore{
		ID:          model.ID,
		AssistantID: model.AssistantID,
		Name:        model.Name,
		RemoteID:    model.RemoteID,
		CreatedAt:   model.CreatedAt,
	}, true, nil
}

// DeleteVectorStore removes a vector store row.
func (s *GormStore) DeleteVectorStore(id string) error {
	return s.db.Delete(&VectorStoreModel{}, "id = ?", id).Error
}

// AppendReconciliation adds a cleanup marker.
func (s *GormStore) AppendReconciliation(e domain.ReconciliationEntry) error {
	model, err := reconciliationToModel(e)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// ListPendingReconciliations returns entries not yet marked done, oldest
// first.
func (s *GormStore) ListPendingReconciliations(limit int) ([]domain.ReconciliationEntry, error) {
	var models []ReconciliationModel
	tx := s.db.Where("done = ?", false).Order("created_at ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ReconciliationEntry, 0, len(models))
	for _, m := range models {
		entry, err := reconciliationFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, entry)
	}
	return res, nil
}

// UpdateReconciliation persists attempt counters and the done flag.
func (s *GormStore) UpdateReconciliation(e domain.ReconciliationEntry) error {
	return s.db.Model(&ReconciliationModel{}).
		Where("id = ?", e.ID).
		Updates(map[string]any{
			"attempts":   e.Attempts,
			"last_error": e.LastError,
			"done":       e.Done,
			"updated_at": time.Now().UTC(),
		}).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		FullName:     u.FullName,
		SchoolID:     u.SchoolID,
		Role:         string(u.Role),
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		LastLogin:    u.LastLogin,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		FullName:     m.FullName,
		SchoolID:     m.SchoolID,
		Role:         domain.UserRole(m.Role),
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		LastLogin:    m.LastLogin,
	}
}

func assistantFromModel(m AssistantModel) domain.Assistant {
	return domain.Assistant{
		ID:          m.ID,
		UserID:      m.UserID,
		Name:        m.Name,
		Description: m.Description,
		RemoteID:    m.RemoteID,
		CreatedAt:   m.CreatedAt,
		LastUsed:    m.LastUsed,
	}
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:            d.ID,
		UserID:        d.UserID,
		AssistantID:   d.AssistantID,
		VectorStoreID: d.VectorStoreID,
		Filename:      d.Filename,
		MediaType:     d.MediaType,
		SizeBytes:     d.SizeBytes,
		RemoteID:      d.RemoteID,
		StorageKey:    d.StorageKey,
		FileURL:       d.FileURL,
		Status:        string(d.Status),
		PageCount:     d.PageCount,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:            m.ID,
		UserID:        m.UserID,
		AssistantID:   m.AssistantID,
		VectorStoreID: m.VectorStoreID,
		Filename:      m.Filename,
		MediaType:     m.MediaType,
		SizeBytes:     m.SizeBytes,
		RemoteID:      m.RemoteID,
		StorageKey:    m.StorageKey,
		FileURL:       m.FileURL,
		Status:        domain.DocumentStatus(m.Status),
		PageCount:     m.PageCount,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func threadFromModel(m ThreadModel) domain.Thread {
	return domain.Thread{
		ID:            m.ID,
		AssistantID:   m.AssistantID,
		UserID:        m.UserID,
		Name:          m.Name,
		RemoteID:      m.RemoteID,
		CreatedAt:     m.CreatedAt,
		LastMessageAt: m.LastMessageAt,
	}
}

func reconciliationToModel(e domain.ReconciliationEntry) (ReconciliationModel, error) {
	var detail datatypes.JSON
	if len(e.Detail) > 0 {
		raw, err := json.Marshal(e.Detail)
		if err != nil {
			return ReconciliationModel{}, fmt.Errorf("encode reconciliation detail: %w", err)
		}
		detail = datatypes.JSON(raw)
	}
	return ReconciliationModel{
		ID:        e.ID,
		Kind:      string(e.Kind),
		RemoteID:  e.RemoteID,
		EntityID:  e.EntityID,
		Attempts:  e.Attempts,
		LastError: e.LastError,
		Detail:    detail,
		Done:      e.Done,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}, nil
}

func reconciliationFromModel(m ReconciliationModel) (domain.ReconciliationEntry, error) {
	entry := domain.ReconciliationEntry{
		ID:        m.ID,
		Kind:      domain.ResourceKind(m.Kind),
		RemoteID:  m.RemoteID,
		EntityID:  m.EntityID,
		Attempts:  m.Attempts,
		LastError: m.LastError,
		Done:      m.Done,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if len(m.Detail) > 0 {
		if err := json.Unmarshal(m.Detail, &entry.Detail); err != nil {
			return domain.ReconciliationEntry{}, fmt.Errorf("decode reconciliation detail: %w", err)
		}
	}
	return entry, nil
}
