package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"classmind/pkg/domain"
	"classmind/pkg/faults"
	"classmind/pkg/store"
)

func TestCreateThread(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "teacher@example.com")
	a := f.assistant(t, owner)

	th, err := f.app.CreateThread(context.Background(), owner, a.ID, "office hours")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if th.Name != "office hours" {
		t.Fatalf("name = %q", th.Name)
	}
	if !f.gateway.Threads[th.RemoteID] {
		t.Fatal("remote thread missing")
	}
	if th.LastMessageAt.IsZero() {
		t.Fatal("last_message_at not initialized")
	}
}

func TestCreateThreadDefaultName(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "teacher@example.com")
	a := f.assistant(t, owner)

	th, err := f.app.CreateThread(context.Background(), owner, a.ID, "")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if !strings.HasPrefix(th.Name, "Chat ") {
		t.Fatalf("name = %q, want generated", th.Name)
	}
}

func TestCreateThreadLocalFailureCompensates(t *testing.T) {
	mem := store.NewMemoryStore()
	f := newFixtureWith(t, func(cfg *Config) {
		cfg.Store = &failingStore{Store: mem, failSaveThread: true}
	})
	owner := f.user(t, "teacher@example.com")
	a := f.assistant(t, owner)

	_, err := f.app.CreateThread(context.Background(), owner, a.ID, "")
	if !errors.Is(err, faults.ErrLocalWriteFailed) {
		t.Fatalf("err = %v, want ErrLocalWriteFailed", err)
	}
	if len(f.gateway.Threads) != 0 {
		t.Fatalf("remote threads = %v, want none", f.gateway.Threads)
	}
}

func TestPostMessage(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "teacher@example.com")
	a := f.assistant(t, owner)
	ctx := context.Background()
	th, _ := f.app.CreateThread(ctx, owner, a.ID, "")

	msg, err := f.app.PostMessage(ctx, owner, th.ID, domain.MsgUser, "what is osmosis?")
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if msg.Role != domain.MsgUser {
		t.Fatalf("role = %s", msg.Role)
	}
	if got := f.gateway.Messages[th.RemoteID]; len(got) != 1 || got[0] != "what is osmosis?" {
		t.Fatalf("remote messages = %v", got)
	}
	after, _, _ := f.store.GetThread(th.ID)
	if !after.LastMessageAt.After(th.LastMessageAt) {
		t.Fatal("last_message_at not advanced")
	}
}

func TestPostMessageValidation(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "teacher@example.com")
	a := f.assistant(t, owner)
	ctx := context.Background()
	th, _ := f.app.CreateThread(ctx, owner, a.ID, "")

	long := strings.Repeat("a", DefaultMaxMessageLength+1)
	cases := []struct {
		name    string
		role    domain.MessageRole
		content string
	}{
		{"empty content", domain.MsgUser, "   "},
		{"too long", domain.MsgUser, long},
		{"assistant role", domain.MsgAssistant, "spoofed reply"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.app.PostMessage(ctx, owner, th.ID, tc.role, tc.content); !errors.Is(err, faults.ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
		})
	}
	if n := f.gateway.CallCount("PostMessage"); n != 0 {
		t.Fatalf("PostMessage calls = %d, want 0", n)
	}
}

// A full thread rejects before the provider sees anything.
func TestPostMessageThreadFull(t *testing.T) {
	f := newFixtureWith(t, func(cfg *Config) {
		cfg.MaxThreadMessages = 2
	})
	owner := f.user(t, "teacher@example.com")
	a := f.assistant(t, owner)
	ctx := context.Background()
	th, _ := f.app.CreateThread(ctx, owner, a.ID, "")

	for i := 0; i < 2; i++ {
		if _, err := f.app.PostMessage(ctx, owner, th.ID, domain.MsgUser, "q"); err != nil {
			t.Fatalf("PostMessage %d: %v", i, err)
		}
	}
	calls := f.gateway.CallCount("PostMessage")
	if _, err := f.app.PostMessage(ctx, owner, th.ID, domain.MsgUser, "one too many"); !errors.Is(err, faults.ErrThreadFull) {
		t.Fatalf("err = %v, want ErrThreadFull", err)
	}
	if n := f.gateway.CallCount("PostMessage"); n != calls {
		t.Fatalf("PostMessage calls = %d, want %d (no remote call past the cap)", n, calls)
	}
}

// Concurrent posts serialize per thread: the ceiling holds exactly, with no
// overshoot from racing capacity checks.
func TestPostMessageConcurrentCapacity(t *testing.T) {
	const limit = 5
	f := newFixtureWith(t, func(cfg *Config) {
		cfg.MaxThreadMessages = limit
	})
	owner := f.user(t, "teacher@example.com")
	a := f.assistant(t, owner)
	ctx := context.Background()
	th, _ := f.app.CreateThread(ctx, owner, a.ID, "")

	var wg sync.WaitGroup
	errs := make(chan error, limit*3)
	for i := 0; i < limit*3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.app.PostMessage(ctx, owner, th.ID, domain.MsgUser, "concurrent")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, full int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, faults.ErrThreadFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != limit || full != limit*2 {
		t.Fatalf("ok=%d full=%d, want %d/%d", ok, full, limit, limit*2)
	}
	if n, _ := f.store.CountMessages(th.ID); n != limit {
		t.Fatalf("stored messages = %d, want %d", n, limit)
	}
}

// A local append failure after the remote post leaves a log-only marker; the
// provider offers no message deletion.
func TestPostMessageLocalFailureLeavesMarker(t *testing.T) {
	mem := store.NewMemoryStore()
	fs := &failingStore{Store: mem}
	f := newFixtureWith(t, func(cfg *Config) {
		cfg.Store = fs
	})
	owner := f.user(t, "teacher@example.com")
	a := f.assistant(t, owner)
	ctx := context.Background()
	th, _ := f.app.CreateThread(ctx, owner, a.ID, "")

	fs.failAppendMessage = true
	_, err := f.app.PostMessage(ctx, owner, th.ID, domain.MsgUser, "lost locally")
	if !errors.Is(err, faults.ErrLocalWriteFailed) {
		t.Fatalf("err = %v, want ErrLocalWriteFailed", err)
	}
	entries, _ := mem.ListPendingReconciliations(10)
	if len(entries) != 1 || entries[0].Kind != domain.KindMessage {
		t.Fatalf("entries = %+v, want one message marker", entries)
	}
}

func TestRunAssistant(t *testing.T) {
	f := newFixture(t)
	f.gateway.Reply = "osmosis moves water across a membrane"
	owner := f.user(t, "teacher@example.com")
	a := f.assistant(t, owner)
	ctx := context.Background()
	th, _ := f.app.CreateThread(ctx, owner, a.ID, "")
	if _, err := f.app.PostMessage(ctx, owner, th.ID, domain.MsgUser, "what is osmosis?"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}

	reply, err := f.app.RunAssistant(ctx, owner, th.ID)
	if err != nil {
		t.Fatalf("RunAssistant: %v", err)
	}
	if reply.Role != domain.MsgAssistant || reply.Content != f.gateway.Reply {
		t.Fatalf("reply = %+v", reply)
	}
	msgs, _ := f.app.ListMessages(ctx, owner, th.ID, 0)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	after, _, _ := f.store.GetAssistant(a.ID)
	if after.LastUsed == nil {
		t.Fatal("last_used not touched")
	}
}

func TestRunAssistantRemoteFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.RunErr = fmt.Errorf("%w: run failed", faults.ErrRemotePermanent)
	owner := f.user(t, "teacher@example.com")
	a := f.assistant(t, owner)
	ctx := context.Background()
	th, _ := f.app.CreateThread(ctx, owner, a.ID, "")

	if _, err := f.app.RunAssistant(ctx, owner, th.ID); !errors.Is(err, faults.ErrRemotePermanent) {
		t.Fatalf("err = %v, want ErrRemotePermanent", err)
	}
	if n, _ := f.store.CountMessages(th.ID); n != 0 {
		t.Fatalf("messages = %d, want 0", n)
	}
}

func TestDeleteThread(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "teacher@example.com")
	a := f.assistant(t, owner)
	ctx := context.Background()
	th, _ := f.app.CreateThread(ctx, owner, a.ID, "")

	if err := f.app.DeleteThread(ctx, owner, th.ID); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}
	if len(f.gateway.Threads) != 0 {
		t.Fatal("remote thread survived")
	}
	if _, ok, _ := f.store.GetThread(th.ID); ok {
		t.Fatal("local row survived")
	}
}

func TestDeleteThreadRemoteFailureKeepsRow(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "teacher@example.com")
	a := f.assistant(t, owner)
	ctx := context.Background()
	th, _ := f.app.CreateThread(ctx, owner, a.ID, "")

	f.gateway.DeleteThreadErr = fmt.Errorf("%w: 503", faults.ErrRemoteTransient)
	if err := f.app.DeleteThread(ctx, owner, th.ID); err == nil {
		t.Fatal("DeleteThread succeeded despite remote failure")
	}
	if _, ok, _ := f.store.GetThread(th.ID); !ok {
		t.Fatal("local row deleted despite remote failure")
	}
	entries := f.pending(t)
	if len(entries) != 1 || entries[0].Kind != domain.KindThread {
		t.Fatalf("entries = %+v, want one thread marker", entries)
	}
}
