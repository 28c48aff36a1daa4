package store

import (
	"testing"
	"time"

	"classmind/pkg/domain"
)

func TestAppendMessageAdvancesThreadTimestamp(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := s.SaveThread(domain.Thread{ID: "t1", AssistantID: "a1", UserID: "u1", RemoteID: "thread_r1", CreatedAt: base, LastMessageAt: base}); err != nil {
		t.Fatalf("save thread: %v", err)
	}

	for i := 0; i < 3; i++ {
		msg := domain.Message{
			ID:        "m" + string(rune('1'+i)),
			ThreadID:  "t1",
			Role:      domain.MsgUser,
			Content:   "hello",
			CreatedAt: base.Add(time.Duration(i+1) * time.Minute),
		}
		if err := s.AppendMessage(msg); err != nil {
			t.Fatalf("append message %d: %v", i, err)
		}
	}

	thread, ok, err := s.GetThread("t1")
	if err != nil || !ok {
		t.Fatalf("get thread: ok=%v err=%v", ok, err)
	}
	want := base.Add(3 * time.Minute)
	if !thread.LastMessageAt.Equal(want) {
		t.Fatalf("last message at = %v, want %v", thread.LastMessageAt, want)
	}

	msgs, err := s.ListMessages("t1", 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("messages out of order at index %d", i)
		}
	}
}

func TestAppendMessageIgnoresStaleTimestamp(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	latest := base.Add(time.Hour)
	if err := s.SaveThread(domain.Thread{ID: "t1", AssistantID: "a1", UserID: "u1", RemoteID: "thread_r1", CreatedAt: base, LastMessageAt: latest}); err != nil {
		t.Fatalf("save thread: %v", err)
	}
	if err := s.AppendMessage(domain.Message{ID: "m1", ThreadID: "t1", Role: domain.MsgUser, Content: "old", CreatedAt: base}); err != nil {
		t.Fatalf("append: %v", err)
	}
	thread, _, _ := s.GetThread("t1")
	if !thread.LastMessageAt.Equal(latest) {
		t.Fatalf("stale message moved last_message_at backwards: %v", thread.LastMessageAt)
	}
}

func TestDeleteAssistantCascades(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	_ = s.SaveAssistant(domain.Assistant{ID: "a1", UserID: "u1", Name: "Bio", RemoteID: "asst_r1", CreatedAt: now})
	_ = s.SaveThread(domain.Thread{ID: "t1", AssistantID: "a1", UserID: "u1", RemoteID: "thread_r1", CreatedAt: now, LastMessageAt: now})
	_ = s.AppendMessage(domain.Message{ID: "m1", ThreadID: "t1", Role: domain.MsgUser, Content: "q", CreatedAt: now})
	_ = s.SaveVectorStore(domain.VectorStore{ID: "v1", AssistantID: "a1", Name: "Bio docs", RemoteID: "vs_r1", CreatedAt: now})

	if err := s.DeleteAssistant("a1"); err != nil {
		t.Fatalf("delete assistant: %v", err)
	}
	if _, ok, _ := s.GetThread("t1"); ok {
		t.Fatalf("thread survived assistant deletion")
	}
	if n, _ := s.CountMessages("t1"); n != 0 {
		t.Fatalf("messages survived assistant deletion: %d", n)
	}
	if _, ok, _ := s.GetVectorStoreByAssistant("a1"); ok {
		t.Fatalf("vector store survived assistant deletion")
	}
}

func TestReconciliationLifecycle(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	entry := domain.ReconciliationEntry{
		ID: "r1", Kind: domain.KindThread, RemoteID: "thread_r9",
		EntityID: "t9", CreatedAt: now, UpdatedAt: now,
	}
	if err := s.AppendReconciliation(entry); err != nil {
		t.Fatalf("append: %v", err)
	}
	pending, err := s.ListPendingReconciliations(10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected 1 pending entry, got %d (err=%v)", len(pending), err)
	}

	entry.Done = true
	entry.Attempts = 1
	if err := s.UpdateReconciliation(entry); err != nil {
		t.Fatalf("update: %v", err)
	}
	pending, _ = s.ListPendingReconciliations(10)
	if len(pending) != 0 {
		t.Fatalf("done entry still pending")
	}
}
