package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"classmind/internal/app"
	"classmind/pkg/domain"
	"classmind/pkg/faults"
	"classmind/pkg/provider"
	"classmind/pkg/storage"
	"classmind/pkg/store"
)

type testEnv struct {
	srv     *httptest.Server
	gateway *provider.FakeGateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gw := provider.NewFakeGateway()
	a, err := app.New(app.Config{
		Store:              store.NewMemoryStore(),
		Sessions:           store.NewJWTSessionStore("test-secret", time.Hour),
		Objects:            storage.NewMemoryObjectStore(),
		Gateway:            gw,
		MaxThreadMessages:  4,
		RemoteRetryMax:     1,
		RemoteRetryBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	srv := httptest.NewServer(New(Config{App: a}).Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, gateway: gw}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func (e *testEnv) signupAndLogin(t *testing.T, email string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"email": email, "password": "correct-horse", "fullName": "Test Teacher",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": email, "password": "correct-horse",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	body := decode[struct {
		Token string `json:"token"`
	}](t, resp)
	if body.Token == "" {
		t.Fatal("empty token")
	}
	return body.Token
}

func (e *testEnv) createAssistant(t *testing.T, token string) domain.Assistant {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/assistants", token, map[string]string{
		"name": "History Helper",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create assistant status = %d", resp.StatusCode)
	}
	return decode[domain.Assistant](t, resp)
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	resp, err := http.Get(e.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestAuthFlow(t *testing.T) {
	e := newTestEnv(t)
	token := e.signupAndLogin(t, "teacher@example.com")

	resp := e.do(t, http.MethodGet, "/auth/me", token, nil)
	me := decode[domain.User](t, resp)
	if me.Email != "teacher@example.com" {
		t.Fatalf("me = %+v", me)
	}

	resp = e.do(t, http.MethodGet, "/auth/me", "garbage-token", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", resp.StatusCode)
	}

	resp = e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "teacher@example.com", "password": "wrong",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d, want 401", resp.StatusCode)
	}
}

func TestAssistantLifecycle(t *testing.T) {
	e := newTestEnv(t)
	token := e.signupAndLogin(t, "teacher@example.com")
	a := e.createAssistant(t, token)

	resp := e.do(t, http.MethodPatch, "/assistants/"+a.ID, token, map[string]string{
		"name": "Renamed Helper",
	})
	updated := decode[domain.Assistant](t, resp)
	if updated.Name != "Renamed Helper" {
		t.Fatalf("updated = %+v", updated)
	}

	resp = e.do(t, http.MethodDelete, "/assistants/"+a.ID, token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	resp = e.do(t, http.MethodGet, "/assistants/"+a.ID, token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestCrossOwnerForbidden(t *testing.T) {
	e := newTestEnv(t)
	owner := e.signupAndLogin(t, "owner@example.com")
	intruder := e.signupAndLogin(t, "intruder@example.com")
	a := e.createAssistant(t, owner)

	resp := e.do(t, http.MethodGet, "/assistants/"+a.ID, intruder, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestDocumentUpload(t *testing.T) {
	e := newTestEnv(t)
	token := e.signupAndLogin(t, "teacher@example.com")
	a := e.createAssistant(t, token)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("assistantId", a.ID); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := mw.CreateFormFile("file", "syllabus.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("week one: the roman republic")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status = %d: %s", resp.StatusCode, body)
	}
	doc := decode[domain.Document](t, resp)
	if doc.Status != domain.DocReady {
		t.Fatalf("status = %s, want ready", doc.Status)
	}

	resp = e.do(t, http.MethodPost, "/documents/"+doc.ID+"/attach", token, map[string]string{
		"assistantId": a.ID,
	})
	attached := decode[domain.Document](t, resp)
	if attached.VectorStoreID == "" {
		t.Fatal("document not attached")
	}
}

func TestThreadConversation(t *testing.T) {
	e := newTestEnv(t)
	e.gateway.Reply = "the republic fell in 27 BC"
	token := e.signupAndLogin(t, "teacher@example.com")
	a := e.createAssistant(t, token)

	resp := e.do(t, http.MethodPost, "/threads", token, map[string]string{
		"assistantId": a.ID, "name": "rome",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create thread status = %d", resp.StatusCode)
	}
	th := decode[domain.Thread](t, resp)

	resp = e.do(t, http.MethodPost, "/threads/"+th.ID+"/messages", token, map[string]string{
		"content": "when did the republic fall?",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("post message status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = e.do(t, http.MethodPost, "/threads/"+th.ID+"/run", token, nil)
	reply := decode[domain.Message](t, resp)
	if reply.Role != domain.MsgAssistant || reply.Content != e.gateway.Reply {
		t.Fatalf("reply = %+v", reply)
	}

	resp = e.do(t, http.MethodGet, "/threads/"+th.ID+"/messages", token, nil)
	list := decode[struct {
		Count int `json:"count"`
	}](t, resp)
	if list.Count != 2 {
		t.Fatalf("count = %d, want 2", list.Count)
	}
}

func TestThreadFullMapsToConflict(t *testing.T) {
	e := newTestEnv(t)
	token := e.signupAndLogin(t, "teacher@example.com")
	a := e.createAssistant(t, token)

	resp := e.do(t, http.MethodPost, "/threads", token, map[string]string{"assistantId": a.ID})
	th := decode[domain.Thread](t, resp)
	for i := 0; i < 4; i++ {
		resp := e.do(t, http.MethodPost, "/threads/"+th.ID+"/messages", token, map[string]string{
			"content": fmt.Sprintf("question %d", i),
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("message %d status = %d", i, resp.StatusCode)
		}
	}
	resp = e.do(t, http.MethodPost, "/threads/"+th.ID+"/messages", token, map[string]string{
		"content": "one too many",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestProviderFailureMapsToBadGateway(t *testing.T) {
	e := newTestEnv(t)
	e.gateway.CreateAssistantErr = fmt.Errorf("%w: 503", faults.ErrRemoteTransient)
	token := e.signupAndLogin(t, "teacher@example.com")

	resp := e.do(t, http.MethodPost, "/assistants", token, map[string]string{"name": "Doomed"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
}

func TestValidationMapsToBadRequest(t *testing.T) {
	e := newTestEnv(t)
	token := e.signupAndLogin(t, "teacher@example.com")

	resp := e.do(t, http.MethodPost, "/assistants", token, map[string]string{"name": "  "})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/assistants", "/documents", "/threads"} {
		resp := e.do(t, http.MethodGet, path, "", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("GET %s status = %d, want 401", path, resp.StatusCode)
		}
	}
}
