// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newTestClient creates a Client backed by the given httptest.Server,
// already holding both tokens.
func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:     server.URL + "/api/v1",
		Token:       "session-token",
		MatrixToken: "matrix-token",
		HTTPClient:  server.Client(),
		Logger:      slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func writeData(t *testing.T, writer http.ResponseWriter, data any) {
	t.Helper()
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(map[string]any{"data": data}); err != nil {
		t.Errorf("encoding response: %v", err)
	}
}

func TestNewClient_SchemeValidation(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"https", "https://conact.chat/api/v1", false},
		{"http", "http://localhost:3000/api/v1", false},
		{"trailing slash", "https://conact.chat/api/v1/", false},
		{"websocket", "wss://conact.chat/api/v1", true},
		{"no scheme", "conact.chat/api/v1", true},
		{"no host", "https:///api/v1", true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewClient(Config{BaseURL: test.baseURL})
			if (err != nil) != test.wantErr {
				t.Errorf("NewClient(%q) error = %v, wantErr %v", test.baseURL, err, test.wantErr)
			}
		})
	}
}

func TestClient_Headers(t *testing.T) {
	var receivedAuth, receivedMatrix, receivedAccept, receivedPath string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		receivedAuth = request.Header.Get("Authorization")
		receivedMatrix = request.Header.Get("X-Matrix-Token")
		receivedAccept = request.Header.Get("Accept")
		receivedPath = request.URL.Path
		writeData(t, writer, User{ID: "u1", MatrixUserID: "@alice:conact.chat", DisplayName: "Alice"})
	}))
	defer server.Close()

	client := newTestClient(t, server)
	user, err := client.Me(context.Background())
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if user.DisplayName != "Alice" || user.MatrixUserID != "@alice:conact.chat" {
		t.Errorf("user = %+v", user)
	}
	if receivedAuth != "Bearer session-token" {
		t.Errorf("Authorization = %q, want %q", receivedAuth, "Bearer session-token")
	}
	if receivedMatrix != "matrix-token" {
		t.Errorf("X-Matrix-Token = %q, want %q", receivedMatrix, "matrix-token")
	}
	if receivedAccept != "application/json" {
		t.Errorf("Accept = %q", receivedAccept)
	}
	if receivedPath != "/api/v1/auth/me" {
		t.Errorf("path = %q, want /api/v1/auth/me", receivedPath)
	}
}

func TestClient_LoginAdoptsTokens(t *testing.T) {
	var loginBody map[string]string
	var laterAuth, laterMatrix string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(writer http.ResponseWriter, request *http.Request) {
		if request.Header.Get("Authorization") != "" {
			t.Errorf("login sent Authorization %q before any session existed", request.Header.Get("Authorization"))
		}
		if request.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", request.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(request.Body).Decode(&loginBody); err != nil {
			t.Errorf("decoding login body: %v", err)
		}
		writeData(t, writer, AuthResult{
			User:              User{ID: "u1", MatrixUserID: "@alice:conact.chat"},
			Token:             "fresh-session",
			MatrixAccessToken: "fresh-matrix",
			MatrixDeviceID:    "DEVICE",
		})
	})
	mux.HandleFunc("GET /api/v1/guilds", func(writer http.ResponseWriter, request *http.Request) {
		laterAuth = request.Header.Get("Authorization")
		laterMatrix = request.Header.Get("X-Matrix-Token")
		writeData(t, writer, []Guild{{ID: "g1", Name: "Guild"}})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL + "/api/v1", HTTPClient: server.Client(), Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	result, err := client.Login(context.Background(), "alice", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.MatrixDeviceID != "DEVICE" {
		t.Errorf("MatrixDeviceID = %q", result.MatrixDeviceID)
	}
	if loginBody["username"] != "alice" || loginBody["password"] != "hunter2" {
		t.Errorf("login body = %v", loginBody)
	}
	if client.Token() != "fresh-session" {
		t.Errorf("Token() = %q, want fresh-session", client.Token())
	}

	guilds, err := client.Guilds(context.Background())
	if err != nil {
		t.Fatalf("Guilds: %v", err)
	}
	if len(guilds) != 1 || guilds[0].ID != "g1" {
		t.Errorf("guilds = %+v", guilds)
	}
	if laterAuth != "Bearer fresh-session" || laterMatrix != "fresh-matrix" {
		t.Errorf("after login: Authorization = %q, X-Matrix-Token = %q", laterAuth, laterMatrix)
	}
}

func TestClient_ErrorEnvelope(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantCode    string
		wantMessage string
		check       func(error) bool
	}{
		{
			name:        "envelope",
			status:      http.StatusForbidden,
			body:        `{"error":{"code":"MISSING_PERMISSION","message":"manageChannels required"}}`,
			wantCode:    "MISSING_PERMISSION",
			wantMessage: "manageChannels required",
			check:       IsForbidden,
		},
		{
			name:        "plain text",
			status:      http.StatusNotFound,
			body:        "no such guild",
			wantMessage: "no such guild",
			check:       IsNotFound,
		},
		{
			name:        "empty body",
			status:      http.StatusConflict,
			wantMessage: "Conflict",
			check:       IsConflict,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
				writer.WriteHeader(test.status)
				io.WriteString(writer, test.body)
			}))
			defer server.Close()

			client := newTestClient(t, server)
			_, err := client.Guild(context.Background(), "g1")
			if err == nil {
				t.Fatal("expected error")
			}
			var apiError *APIError
			if !errors.As(err, &apiError) {
				t.Fatalf("error %T is not *APIError", err)
			}
			if apiError.StatusCode != test.status {
				t.Errorf("StatusCode = %d, want %d", apiError.StatusCode, test.status)
			}
			if apiError.Code != test.wantCode {
				t.Errorf("Code = %q, want %q", apiError.Code, test.wantCode)
			}
			if apiError.Message != test.wantMessage {
				t.Errorf("Message = %q, want %q", apiError.Message, test.wantMessage)
			}
			if !test.check(err) {
				t.Errorf("status predicate false for %v", err)
			}
			if IsUnauthorized(err) {
				t.Error("IsUnauthorized true for a non-401")
			}
		})
	}
}

func TestClient_UnauthorizedHook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusUnauthorized)
		io.WriteString(writer, `{"error":{"code":"TOKEN_EXPIRED","message":"session expired"}}`)
	}))
	defer server.Close()

	var hooked []*APIError
	client, err := NewClient(Config{
		BaseURL:        server.URL,
		Token:          "stale",
		HTTPClient:     server.Client(),
		Logger:         slog.New(slog.DiscardHandler),
		OnUnauthorized: func(err *APIError) { hooked = append(hooked, err) },
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.Friends(context.Background())
	if !IsUnauthorized(err) {
		t.Fatalf("Friends error = %v, want 401", err)
	}
	if len(hooked) != 1 {
		t.Fatalf("OnUnauthorized called %d times, want 1", len(hooked))
	}
	if hooked[0].Code != "TOKEN_EXPIRED" {
		t.Errorf("hook error code = %q", hooked[0].Code)
	}
}

func TestClient_PathEscaping(t *testing.T) {
	var escapedPath string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		escapedPath = request.URL.EscapedPath()
		writer.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	if err := client.AcceptFriendRequest(context.Background(), "a/b c"); err != nil {
		t.Fatalf("AcceptFriendRequest: %v", err)
	}
	if want := "/api/v1/friends/a%2Fb%20c/accept"; escapedPath != want {
		t.Errorf("path = %q, want %q", escapedPath, want)
	}
}

func TestClient_DirectoryQuery(t *testing.T) {
	var query map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		query = request.URL.Query()
		writeData(t, writer, []Guild{})
	}))
	defer server.Close()

	client := newTestClient(t, server)
	if _, err := client.Directory(context.Background(), "go & rust", 20, 0); err != nil {
		t.Fatalf("Directory: %v", err)
	}
	if got := query["search"]; len(got) != 1 || got[0] != "go & rust" {
		t.Errorf("search = %v", got)
	}
	if got := query["limit"]; len(got) != 1 || got[0] != "20" {
		t.Errorf("limit = %v", got)
	}
	if _, present := query["offset"]; present {
		t.Error("zero offset was sent")
	}
}

func TestClient_JoinVoiceChannel(t *testing.T) {
	var method, path string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		method = request.Method
		path = request.URL.Path
		writeData(t, writer, map[string]string{"token": "sfu-jwt", "serverUrl": "wss://sfu.conact.chat"})
	}))
	defer server.Close()

	client := newTestClient(t, server)
	grant, err := client.JoinVoiceChannel(context.Background(), "g1", "c2")
	if err != nil {
		t.Fatalf("JoinVoiceChannel: %v", err)
	}
	if method != http.MethodPost || path != "/api/v1/guilds/g1/channels/c2/join" {
		t.Errorf("request = %s %s", method, path)
	}
	if grant.Token != "sfu-jwt" || grant.ServerURL != "wss://sfu.conact.chat" {
		t.Errorf("grant = %+v", grant)
	}
}

func TestClient_NullData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		io.WriteString(writer, `{"data":null}`)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	thread, err := client.DMThread(context.Background(), "t1")
	if err != nil {
		t.Fatalf("DMThread: %v", err)
	}
	if thread.ID != "" || thread.OtherUser != nil {
		t.Errorf("thread = %+v, want zero value", thread)
	}
}

func TestClient_KickSendsReason(t *testing.T) {
	var method string
	var body struct {
		Reason string `json:"reason"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		method = request.Method
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		writer.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	if err := client.KickMember(context.Background(), "g1", "u2", "spam"); err != nil {
		t.Fatalf("KickMember: %v", err)
	}
	if method != http.MethodDelete || body.Reason != "spam" {
		t.Errorf("method = %s, reason = %q", method, body.Reason)
	}
}
