package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/caravel-sh/caravel/internal/auth"
	"github.com/caravel-sh/caravel/internal/timeline"
)

// writeData wraps v in the server's response envelope.
func writeData(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"data":%s}`, raw)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, msg)
}

func TestLogin_StoresToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/login" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Email != "ana@example.com" || req.Password != "secret" {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeData(t, w, AuthResponse{AccessToken: "tok-login"})
	}))
	defer server.Close()

	tokens := auth.NewMemoryStore()
	client := New(server.URL, tokens)

	if err := client.Login(context.Background(), "ana@example.com", "secret"); err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	if tokens.Token() != "tok-login" {
		t.Errorf("stored token = %q, want tok-login", tokens.Token())
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	}))
	defer server.Close()

	tokens := auth.NewMemoryStore()
	client := New(server.URL, tokens)

	err := client.Login(context.Background(), "ana@example.com", "wrong")
	if err == nil {
		t.Fatal("Login() succeeded with bad credentials")
	}
	if !strings.Contains(err.Error(), "invalid credentials") {
		t.Errorf("error = %v, want server message surfaced", err)
	}
	if tokens.HasToken() {
		t.Error("token stored despite failed login")
	}
}

func TestDo_BearerHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeData(t, w, timeline.User{ID: "u1", Username: "ana"})
	}))
	defer server.Close()

	tokens := auth.NewMemoryStore()
	tokens.SetToken("tok-1")
	client := New(server.URL, tokens)

	if _, err := client.Me(context.Background()); err != nil {
		t.Fatalf("Me() failed: %v", err)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("Authorization = %q, want Bearer tok-1", gotAuth)
	}
}

func TestDo_RefreshRetryOn401(t *testing.T) {
	var mu sync.Mutex
	var meCalls, refreshCalls int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.URL.Path {
		case "/api/v1/users/me":
			meCalls++
			if r.Header.Get("Authorization") != "Bearer tok-fresh" {
				writeError(w, http.StatusUnauthorized, "token expired")
				return
			}
			writeData(t, w, timeline.User{ID: "u1", Username: "ana"})
		case "/api/v1/auth/refresh":
			refreshCalls++
			writeData(t, w, AuthResponse{AccessToken: "tok-fresh"})
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer server.Close()

	tokens := auth.NewMemoryStore()
	tokens.SetToken("tok-stale")
	client := New(server.URL, tokens)

	user, err := client.Me(context.Background())
	if err != nil {
		t.Fatalf("Me() failed: %v", err)
	}
	if user.Username != "ana" {
		t.Errorf("Username = %q, want ana", user.Username)
	}

	mu.Lock()
	defer mu.Unlock()
	if refreshCalls != 1 {
		t.Errorf("refresh calls = %d, want 1", refreshCalls)
	}
	if meCalls != 2 {
		t.Errorf("me calls = %d, want 2 (original + retry)", meCalls)
	}
	if tokens.Token() != "tok-fresh" {
		t.Errorf("stored token = %q, want tok-fresh", tokens.Token())
	}
}

func TestDo_RefreshFailureSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusUnauthorized, "refresh token expired")
	}))
	defer server.Close()

	tokens := auth.NewMemoryStore()
	tokens.SetToken("tok-stale")
	client := New(server.URL, tokens)

	if _, err := client.Me(context.Background()); err == nil {
		t.Fatal("Me() succeeded, want error after failed refresh")
	}
}

func TestGetSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := "/api/v1/workspaces/ws-1/sessions/sess-1"
		if r.URL.Path != want {
			t.Errorf("path = %q, want %q", r.URL.Path, want)
		}
		writeData(t, w, timeline.Session{
			ID:    "sess-1",
			Title: "deploy",
			Timeline: timeline.Page{
				Data: []timeline.Entry{{
					ID:          "e1",
					ContentType: timeline.ContentTypeMessage,
					Content:     timeline.MessageContent{Sender: timeline.SenderUser, Message: "hi"},
					CreatedAt:   "2026-08-01T10:00:00Z",
				}},
				PageInfo: timeline.PageInfo{Page: 1, Size: 1, Total: 12},
			},
		})
	}))
	defer server.Close()

	client := New(server.URL, auth.NewMemoryStore())
	session, err := client.GetSession(context.Background(), "ws-1", "sess-1")
	if err != nil {
		t.Fatalf("GetSession() failed: %v", err)
	}
	if session.Title != "deploy" {
		t.Errorf("Title = %q, want deploy", session.Title)
	}
	if len(session.Timeline.Data) != 1 || session.Timeline.PageInfo.Total != 12 {
		t.Errorf("Timeline = %+v", session.Timeline)
	}
}

func TestTimelineBefore_Params(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("before"); got != "2026-08-01T10:00:00Z" {
			t.Errorf("before = %q", got)
		}
		if got := q.Get("limit"); got != "20" {
			t.Errorf("limit = %q, want 20", got)
		}
		writeData(t, w, timeline.CursorPage{
			Data: []timeline.Entry{{
				ID:          "e0",
				ContentType: timeline.ContentTypeMessage,
				Content:     timeline.MessageContent{Sender: timeline.SenderAgent, Message: "older"},
				CreatedAt:   "2026-08-01T09:59:00Z",
			}},
			HasMore: true,
		})
	}))
	defer server.Close()

	client := New(server.URL, auth.NewMemoryStore())
	page, err := client.TimelineBefore(context.Background(), "ws-1", "sess-1", "2026-08-01T10:00:00Z", 20)
	if err != nil {
		t.Fatalf("TimelineBefore() failed: %v", err)
	}
	if len(page.Data) != 1 || !page.HasMore {
		t.Errorf("page = %+v", page)
	}
}

func TestTimelinePager_BindsSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/workspaces/ws-9/sessions/sess-9/") {
			t.Errorf("path = %q", r.URL.Path)
		}
		writeData(t, w, timeline.CursorPage{})
	}))
	defer server.Close()

	client := New(server.URL, auth.NewMemoryStore())
	pager := client.TimelinePager("ws-9", "sess-9")
	if _, err := pager.Before(context.Background(), "cursor", 5); err != nil {
		t.Fatalf("Before() failed: %v", err)
	}
}

func TestStreamEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{"http to ws", "http://example.com:8080", "ws://example.com:8080/api/v1/workspaces/ws-1/sessions/sess-1/ws"},
		{"https to wss", "https://example.com", "wss://example.com/api/v1/workspaces/ws-1/sessions/sess-1/ws"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(tt.baseURL, auth.NewMemoryStore())
			got, err := client.StreamEndpoint("ws-1", "sess-1")
			if err != nil {
				t.Fatalf("StreamEndpoint() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("StreamEndpoint() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWithAPIPrefix(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/users/me" {
			t.Errorf("path = %q, want /api/v2/users/me", r.URL.Path)
		}
		writeData(t, w, timeline.User{})
	}))
	defer server.Close()

	client := New(server.URL, auth.NewMemoryStore(), WithAPIPrefix("/api/v2"))
	if _, err := client.Me(context.Background()); err != nil {
		t.Fatalf("Me() failed: %v", err)
	}
}
