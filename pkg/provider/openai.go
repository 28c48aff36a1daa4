package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"classmind/pkg/faults"
)

const assistantsBetaHeader = "assistants=v2"

// OpenAIClient implements Gateway against the OpenAI Assistants API (or any
// endpoint speaking the same dialect). baseURL should include the /v1
// prefix, e.g. "https://api.openai.com/v1".
type OpenAIClient struct {
	baseURL      string
	apiKey       string
	model        string
	httpClient   *http.Client
	pollInterval time.Duration
	runTimeout   time.Duration
}

// OpenAIOptions tunes timeouts on the client.
type OpenAIOptions struct {
	CallTimeout  time.Duration
	PollInterval time.Duration
	RunTimeout   time.Duration
}

// NewOpenAIClient builds the provider client. apiKey can be empty for
// self-hosted compatible endpoints that skip authentication.
func NewOpenAIClient(baseURL, apiKey, model string, opts OpenAIOptions) *OpenAIClient {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 2 * time.Minute
	}
	return &OpenAIClient{
		baseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:       strings.TrimSpace(apiKey),
		model:        strings.TrimSpace(model),
		httpClient:   &http.Client{Timeout: opts.CallTimeout},
		pollInterval: opts.PollInterval,
		runTimeout:   opts.RunTimeout,
	}
}

// CreateAssistant creates a remote assistant with file search enabled.
func (c *OpenAIClient) CreateAssistant(ctx context.Context, name, description, instructions string) (string, error) {
	if c.model == "" {
		return "", fmt.Errorf("%w: assistant model required", faults.ErrRemotePermanent)
	}
	body := map[string]any{
		"name":         name,
		"description":  description,
		"instructions": instructions,
		"model":        c.model,
		"tools":        []map[string]string{{"type": "file_search"}},
	}
	var out idResponse
	if err := c.doJSON(ctx, http.MethodPost, "/assistants", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// UpdateAssistant mirrors local name/description edits to the provider.
func (c *OpenAIClient) UpdateAssistant(ctx context.Context, remoteID, name, description string) error {
	body := map[string]any{"name": name, "description": description}
	return c.doJSON(ctx, http.MethodPost, "/assistants/"+remoteID, body, nil)
}

// DeleteAssistant removes a remote assistant. Missing assistants are treated
// as already deleted.
func (c *OpenAIClient) DeleteAssistant(ctx context.Context, remoteID string) error {
	return c.delete(ctx, "/assistants/"+remoteID)
}

// CreateThread creates an empty remote conversation thread.
func (c *OpenAIClient) CreateThread(ctx context.Context) (string, error) {
	var out idResponse
	if err := c.doJSON(ctx, http.MethodPost, "/threads", map[string]any{}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// DeleteThread removes a remote thread; missing threads count as deleted.
func (c *OpenAIClient) DeleteThread(ctx context.Context, remoteID string) error {
	return c.delete(ctx, "/threads/"+remoteID)
}

// PostMessage appends a message to a remote thread.
func (c *OpenAIClient) PostMessage(ctx context.Context, threadRemoteID, role, content string) (string, error) {
	body := map[string]any{"role": role, "content": content}
	var out idResponse
	if err := c.doJSON(ctx, http.MethodPost, "/threads/"+threadRemoteID+"/messages", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// RunAndWait starts a run and polls until it completes, then returns the
// newest assistant message text from the thread.
func (c *OpenAIClient) RunAndWait(ctx context.Context, threadRemoteID, assistantRemoteID string) (string, error) {
	var run runResponse
	body := map[string]any{"assistant_id": assistantRemoteID}
	if err := c.doJSON(ctx, http.MethodPost, "/threads/"+threadRemoteID+"/runs", body, &run); err != nil {
		return "", err
	}

	deadline := time.Now().Add(c.runTimeout)
	for {
		switch run.Status {
		case "completed":
			return c.latestAssistantMessage(ctx, threadRemoteID)
		case "failed", "cancelled", "expired", "incomplete":
			return "", fmt.Errorf("%w: run ended with status %s", faults.ErrRemotePermanent, run.Status)
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: run %s timed out", faults.ErrRemoteTransient, run.ID)
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", faults.ErrRemoteTransient, ctx.Err())
		case <-time.After(c.pollInterval):
		}
		if err := c.doJSON(ctx, http.MethodGet, "/threads/"+threadRemoteID+"/runs/"+run.ID, nil, &run); err != nil {
			return "", err
		}
	}
}

func (c *OpenAIClient) latestAssistantMessage(ctx context.Context, threadRemoteID string) (string, error) {
	var out messageListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/threads/"+threadRemoteID+"/messages?order=desc&limit=10", nil, &out); err != nil {
		return "", err
	}
	for _, msg := range out.Data {
		if msg.Role != "assistant" {
			continue
		}
		var text strings.Builder
		for _, part := range msg.Content {
			if part.Type == "text" {
				text.WriteString(part.Text.Value)
			}
		}
		if text.Len() > 0 {
			return text.String(), nil
		}
	}
	return "", fmt.Errorf("%w: run completed without an assistant message", faults.ErrRemotePermanent)
}

// UploadFile uploads document bytes with purpose=assistants.
func (c *OpenAIClient) UploadFile(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return "", fmt.Errorf("%w: %v", faults.ErrRemoteTransient, err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("%w: %v", faults.ErrRemoteTransient, err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("%w: read upload: %v", faults.ErrRemoteTransient, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", faults.ErrRemoteTransient, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &buf)
	if err != nil {
		return "", fmt.Errorf("%w: %v", faults.ErrRemotePermanent, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.setAuth(req)

	var out idResponse
	if err := c.roundTrip(req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// DeleteFile removes a provider file; missing files count as deleted.
func (c *OpenAIClient) DeleteFile(ctx context.Context, remoteID string) error {
	return c.delete(ctx, "/files/"+remoteID)
}

// CreateVectorStore creates a named remote vector store.
func (c *OpenAIClient) CreateVectorStore(ctx context.Context, name string) (string, error) {
	var out idResponse
	if err := c.doJSON(ctx, http.MethodPost, "/vector_stores", map[string]any{"name": name}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// DeleteVectorStore removes a remote vector store; missing stores count as
// deleted.
func (c *OpenAIClient) DeleteVectorStore(ctx context.Context, remoteID string) error {
	return c.delete(ctx, "/vector_stores/"+remoteID)
}

// AttachFileToVectorStore adds an uploaded file to a vector store. The
// provider treats re-adding an existing file as a no-op, matching the
// coordinator's idempotent attach contract.
func (c *OpenAIClient) AttachFileToVectorStore(ctx context.Context, vectorStoreRemoteID, fileRemoteID string) error {
	body := map[string]any{"file_id": fileRemoteID}
	return c.doJSON(ctx, http.MethodPost, "/vector_stores/"+vectorStoreRemoteID+"/files", body, nil)
}

// AttachVectorStoreToAssistant points the assistant's file search tool at a
// vector store.
func (c *OpenAIClient) AttachVectorStoreToAssistant(ctx context.Context, assistantRemoteID, vectorStoreRemoteID string) error {
	body := map[string]any{
		"tool_resources": map[string]any{
			"file_search": map[string]any{
				"vector_store_ids": []string{vectorStoreRemoteID},
			},
		},
	}
	return c.doJSON(ctx, http.MethodPost, "/assistants/"+assistantRemoteID, body, nil)
}

func (c *OpenAIClient) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", faults.ErrRemotePermanent, err)
	}
	c.setAuth(req)
	err = c.roundTrip(req, nil)
	if err != nil && errors.Is(err, faults.ErrNotFound) {
		return nil
	}
	return err
}

func (c *OpenAIClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", faults.ErrRemotePermanent, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", faults.ErrRemotePermanent, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)
	return c.roundTrip(req, out)
}

func (c *OpenAIClient) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("OpenAI-Beta", assistantsBetaHeader)
}

func (c *OpenAIClient) roundTrip(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures and client timeouts are retryable.
		return fmt.Errorf("%w: %v", faults.ErrRemoteTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error.Message
		if msg == "" {
			msg = resp.Status
		}
		return classifyStatus(resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", faults.ErrRemoteTransient, err)
	}
	return nil
}

// classifyStatus maps provider status codes onto the fault taxonomy.
// 404 is kept distinct so delete paths can treat it as already-clean.
func classifyStatus(status int, msg string) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", faults.ErrNotFound, msg)
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return fmt.Errorf("%w: %s", faults.ErrRemoteTransient, msg)
	default:
		return fmt.Errorf("%w: %s", faults.ErrRemotePermanent, msg)
	}
}

type idResponse struct {
	ID string `json:"id"`
}

type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type messageListResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
