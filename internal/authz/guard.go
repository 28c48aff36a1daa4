// Package authz decides, from the caller's identity, which rows are visible
// or mutable. It mirrors the row-level policy the store enforces so the
// coordinator never starts a remote mutation whose local counterpart would be
// rejected afterwards.
package authz

import (
	"fmt"

	"classmind/pkg/domain"
	"classmind/pkg/faults"
	"classmind/pkg/store"
)

// Guard walks the ownership chains: Message -> Thread -> User,
// VectorStore -> Assistant -> User, Document -> User.
type Guard struct {
	store store.Store
}

// New builds a guard over the given store.
func New(s store.Store) *Guard {
	return &Guard{store: s}
}

func deny(what string) error {
	return fmt.Errorf("%w: %s", faults.ErrAuthorizationDenied, what)
}

// Assistant allows access only to the owning user.
func (g *Guard) Assistant(caller domain.User, a domain.Assistant) error {
	if a.UserID != caller.ID {
		return deny("assistant belongs to another user")
	}
	return nil
}

// Document allows access only to the owning user.
func (g *Guard) Document(caller domain.User, d domain.Document) error {
	if d.UserID != caller.ID {
		return deny("document belongs to another user")
	}
	return nil
}

// Thread allows access only to the owning user.
func (g *Guard) Thread(caller domain.User, t domain.Thread) error {
	if t.UserID != caller.ID {
		return deny("thread belongs to another user")
	}
	return nil
}

// Message resolves the owning thread and applies the thread rule.
func (g *Guard) Message(caller domain.User, m domain.Message) error {
	thread, ok, err := g.store.GetThread(m.ThreadID)
	if err != nil {
		return fmt.Errorf("resolve owning thread: %w", err)
	}
	if !ok {
		return deny("message thread missing")
	}
	return g.Thread(caller, thread)
}

// VectorStore resolves the owning assistant and applies the assistant rule.
func (g *Guard) VectorStore(caller domain.User, v domain.VectorStore) error {
	assistant, ok, err := g.store.GetAssistant(v.AssistantID)
	if err != nil {
		return fmt.Errorf("resolve owning assistant: %w", err)
	}
	if !ok {
		return deny("vector store assistant missing")
	}
	return g.Assistant(caller, assistant)
}

// School permits school-scoped aggregate views for admins of that school
// only.
func (g *Guard) School(caller domain.User, schoolID string) error {
	if caller.Role != domain.RoleAdmin {
		return deny("school views require admin role")
	}
	if caller.SchoolID == "" || caller.SchoolID != schoolID {
		return deny("admin belongs to another school")
	}
	return nil
}
