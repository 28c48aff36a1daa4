package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"classmind/pkg/domain"
	"classmind/pkg/faults"
)

// CreateThread opens a conversation against an assistant: remote thread
// first, local row second, with remote compensation when the local write
// fails.
func (a *App) CreateThread(ctx context.Context, caller domain.User, assistantID, name string) (domain.Thread, error) {
	assistant, err := a.GetAssistant(ctx, caller, assistantID)
	if err != nil {
		return domain.Thread{}, err
	}

	var remoteID string
	err = a.withRetry(ctx, func(ctx context.Context) error {
		var err error
		remoteID, err = a.gateway.CreateThread(ctx)
		return err
	})
	if err != nil {
		return domain.Thread{}, fmt.Errorf("create remote thread: %w", err)
	}

	now := time.Now().UTC()
	thread := domain.Thread{
		ID:            newID(),
		AssistantID:   assistant.ID,
		UserID:        caller.ID,
		Name:          strings.TrimSpace(name),
		RemoteID:      remoteID,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	if thread.Name == "" {
		thread.Name = fmt.Sprintf("Chat %s", now.Format("2006-01-02 15:04"))
	}
	if err := a.store.SaveThread(thread); err != nil {
		a.compensateRemote(domain.KindThread, remoteID, thread.ID, func(ctx context.Context) error {
			return a.gateway.DeleteThread(ctx, remoteID)
		})
		return domain.Thread{}, fmt.Errorf("%w: save thread: %v", faults.ErrLocalWriteFailed, err)
	}
	return thread, nil
}

// GetThread loads one thread the caller owns.
func (a *App) GetThread(ctx context.Context, caller domain.User, id string) (domain.Thread, error) {
	thread, ok, err := a.store.GetThread(id)
	if err != nil {
		return domain.Thread{}, fmt.Errorf("%w: load thread: %v", faults.ErrLocalWriteFailed, err)
	}
	if !ok {
		return domain.Thread{}, fmt.Errorf("%w: thread %s", faults.ErrNotFound, id)
	}
	if err := a.guard.Thread(caller, thread); err != nil {
		return domain.Thread{}, err
	}
	return thread, nil
}

// ListThreads returns the caller's threads, optionally filtered to one
// assistant.
func (a *App) ListThreads(ctx context.Context, caller domain.User, assistantID string) ([]domain.Thread, error) {
	if assistantID == "" {
		return a.store.ListThreadsByOwner(caller.ID)
	}
	if _, err := a.GetAssistant(ctx, caller, assistantID); err != nil {
		return nil, err
	}
	return a.store.ListThreadsByAssistant(assistantID)
}

// DeleteThread removes a thread remotely then locally. Remote failure leaves
// a reconciliation marker and keeps the local row.
func (a *App) DeleteThread(ctx context.Context, caller domain.User, id string) error {
	a.threadLocks.lock(id)
	defer a.threadLocks.unlock(id)

	thread, err := a.GetThread(ctx, caller, id)
	if err != nil {
		return err
	}
	err = a.withRetry(ctx, func(ctx context.Context) error {
		return a.gateway.DeleteThread(ctx, thread.RemoteID)
	})
	if err != nil {
		a.markForCleanup(domain.KindThread, thread.RemoteID, thread.ID, err, map[string]string{"origin": "thread_delete"})
		return fmt.Errorf("delete remote thread: %w", err)
	}
	if err := a.store.DeleteThread(thread.ID); err != nil {
		return fmt.Errorf("%w: delete thread: %v", faults.ErrLocalWriteFailed, err)
	}
	return nil
}

// PostMessage appends a user message to a thread on both sides. Validation
// and the capacity check run before any remote call; operations on the same
// thread are serialized so the capacity check cannot race.
func (a *App) PostMessage(ctx context.Context, caller domain.User, threadID string, role domain.MessageRole, content string) (domain.Message, error) {
	switch role {
	case domain.MsgUser, domain.MsgSystem:
	case "":
		role = domain.MsgUser
	default:
		return domain.Message{}, faults.Validationf("role %q cannot be posted", role)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, faults.Validationf("message content required")
	}
	if len(content) > a.maxMessageLength {
		return domain.Message{}, faults.Validationf("message exceeds %d character limit", a.maxMessageLength)
	}

	a.threadLocks.lock(threadID)
	defer a.threadLocks.unlock(threadID)

	thread, err := a.GetThread(ctx, caller, threadID)
	if err != nil {
		return domain.Message{}, err
	}
	count, err := a.store.CountMessages(thread.ID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: count messages: %v", faults.ErrLocalWriteFailed, err)
	}
	if count >= a.maxThreadMessages {
		return domain.Message{}, fmt.Errorf("%w: thread holds %d messages", faults.ErrThreadFull, count)
	}

	err = a.withRetry(ctx, func(ctx context.Context) error {
		_, err := a.gateway.PostMessage(ctx, thread.RemoteID, string(role), content)
		return err
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("post remote message: %w", err)
	}

	msg := domain.Message{
		ID:        newID(),
		ThreadID:  thread.ID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.AppendMessage(msg); err != nil {
		// The remote message exists and cannot be deleted; record the
		// mismatch so operators can see it.
		a.markForCleanup(domain.KindMessage, thread.RemoteID, msg.ID, err, map[string]string{
			"origin":  "post_message",
			"role":    string(role),
			"content": truncate(content, 200),
		})
		return domain.Message{}, fmt.Errorf("%w: append message: %v", faults.ErrLocalWriteFailed, err)
	}
	return msg, nil
}

// RunAssistant executes the thread's assistant against the conversation and
// stores the reply as an assistant message. The reply is kept even when the
// thread is at capacity; the limit gates new prompts, not answers already
// paid for.
func (a *App) RunAssistant(ctx context.Context, caller domain.User, threadID string) (domain.Message, error) {
	a.threadLocks.lock(threadID)
	defer a.threadLocks.unlock(threadID)

	thread, err := a.GetThread(ctx, caller, threadID)
	if err != nil {
		return domain.Message{}, err
	}
	assistant, ok, err := a.store.GetAssistant(thread.AssistantID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: load assistant: %v", faults.ErrLocalWriteFailed, err)
	}
	if !ok {
		return domain.Message{}, fmt.Errorf("%w: assistant %s", faults.ErrNotFound, thread.AssistantID)
	}

	var reply string
	err = a.withRetry(ctx, func(ctx context.Context) error {
		var err error
		reply, err = a.gateway.RunAndWait(ctx, thread.RemoteID, assistant.RemoteID)
		return err
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("run assistant: %w", err)
	}

	msg := domain.Message{
		ID:        newID(),
		ThreadID:  thread.ID,
		Role:      domain.MsgAssistant,
		Content:   reply,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.AppendMessage(msg); err != nil {
		a.markForCleanup(domain.KindMessage, thread.RemoteID, msg.ID, err, map[string]string{
			"origin": "run_assistant",
			"role":   string(domain.MsgAssistant),
		})
		return domain.Message{}, fmt.Errorf("%w: append reply: %v", faults.ErrLocalWriteFailed, err)
	}

	now := time.Now().UTC()
	assistant.LastUsed = &now
	if err := a.store.SaveAssistant(assistant); err != nil {
		slog.Warn("touch assistant last_used", "assistant_id", assistant.ID, "error", err.Error())
	}
	return msg, nil
}

// ListMessages returns a thread's messages in chronological order.
func (a *App) ListMessages(ctx context.Context, caller domain.User, threadID string, limit int) ([]domain.Message, error) {
	thread, err := a.GetThread(ctx, caller, threadID)
	if err != nil {
		return nil, err
	}
	return a.store.ListMessages(thread.ID, limit)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
