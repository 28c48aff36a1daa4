package authz

import (
	"errors"
	"testing"
	"time"

	"classmind/pkg/domain"
	"classmind/pkg/faults"
	"classmind/pkg/store"
)

func fixtures(t *testing.T) (*Guard, *store.MemoryStore, domain.User, domain.User) {
	t.Helper()
	s := store.NewMemoryStore()
	now := time.Now().UTC()
	alice := domain.User{ID: "u-alice", Email: "alice@school.edu", Role: domain.RoleTeacher, CreatedAt: now}
	bob := domain.User{ID: "u-bob", Email: "bob@school.edu", Role: domain.RoleTeacher, CreatedAt: now}
	for _, u := range []domain.User{alice, bob} {
		if err := s.SaveUser(u); err != nil {
			t.Fatalf("save user: %v", err)
		}
	}
	return New(s), s, alice, bob
}

func TestDocumentOwnerChain(t *testing.T) {
	g, _, alice, bob := fixtures(t)
	doc := domain.Document{ID: "d1", UserID: alice.ID, Filename: "syllabus.pdf", Status: domain.DocReady}

	if err := g.Document(alice, doc); err != nil {
		t.Fatalf("owner read denied: %v", err)
	}
	if err := g.Document(bob, doc); !errors.Is(err, faults.ErrAuthorizationDenied) {
		t.Fatalf("cross-owner read allowed: %v", err)
	}
}

func TestMessageWalksThreadChain(t *testing.T) {
	g, s, alice, bob := fixtures(t)
	now := time.Now().UTC()
	if err := s.SaveThread(domain.Thread{ID: "t1", AssistantID: "a1", UserID: alice.ID, RemoteID: "thread_r1", CreatedAt: now, LastMessageAt: now}); err != nil {
		t.Fatalf("save thread: %v", err)
	}
	msg := domain.Message{ID: "m1", ThreadID: "t1", Role: domain.MsgUser, Content: "hi", CreatedAt: now}

	if err := g.Message(alice, msg); err != nil {
		t.Fatalf("owner denied via thread chain: %v", err)
	}
	if err := g.Message(bob, msg); !errors.Is(err, faults.ErrAuthorizationDenied) {
		t.Fatalf("cross-owner allowed via thread chain: %v", err)
	}
}

func TestVectorStoreWalksAssistantChain(t *testing.T) {
	g, s, alice, bob := fixtures(t)
	now := time.Now().UTC()
	if err := s.SaveAssistant(domain.Assistant{ID: "a1", UserID: alice.ID, Name: "Bio", RemoteID: "asst_r1", CreatedAt: now}); err != nil {
		t.Fatalf("save assistant: %v", err)
	}
	vs := domain.VectorStore{ID: "v1", AssistantID: "a1", Name: "Bio docs", RemoteID: "vs_r1"}

	if err := g.VectorStore(alice, vs); err != nil {
		t.Fatalf("owner denied via assistant chain: %v", err)
	}
	if err := g.VectorStore(bob, vs); !errors.Is(err, faults.ErrAuthorizationDenied) {
		t.Fatalf("cross-owner allowed via assistant chain: %v", err)
	}
}

func TestSchoolViewRequiresAdminOfSameSchool(t *testing.T) {
	g, _, _, _ := fixtures(t)
	admin := domain.User{ID: "u-admin", Role: domain.RoleAdmin, SchoolID: "s1"}
	teacher := domain.User{ID: "u-teacher", Role: domain.RoleTeacher, SchoolID: "s1"}

	if err := g.School(admin, "s1"); err != nil {
		t.Fatalf("same-school admin denied: %v", err)
	}
	if err := g.School(admin, "s2"); !errors.Is(err, faults.ErrAuthorizationDenied) {
		t.Fatalf("cross-school admin allowed: %v", err)
	}
	if err := g.School(teacher, "s1"); !errors.Is(err, faults.ErrAuthorizationDenied) {
		t.Fatalf("teacher allowed school view: %v", err)
	}
}
