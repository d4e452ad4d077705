// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/conact/conact/lib/netutil"
)

// Config holds configuration for creating a backend Client.
type Config struct {
	// BaseURL is the API root, including any version prefix (e.g.,
	// "https://conact.chat/api/v1").
	BaseURL string

	// Token is the backend session token. Empty until Login or
	// Register, which set it.
	Token string

	// MatrixToken is the Matrix access token, forwarded so the
	// backend can act on the user's homeserver account.
	MatrixToken string

	// HTTPClient is used for all requests. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// OnUnauthorized is called after any 401 response, before the
	// error is returned.
	OnUnauthorized func(err *APIError)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client is a typed backend REST client. It is safe for concurrent use.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	onUnauthorized func(*APIError)
	logger         *slog.Logger

	mu          sync.RWMutex
	token       string
	matrixToken string
}

// NewClient creates a Client. The base URL must be http or https.
func NewClient(config Config) (*Client, error) {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("backend: parsing base URL: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return nil, fmt.Errorf("backend: base URL must be http or https (got %q)", config.BaseURL)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("backend: base URL has no host (got %q)", config.BaseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:        baseURL,
		httpClient:     httpClient,
		onUnauthorized: config.OnUnauthorized,
		logger:         logger,
		token:          config.Token,
		matrixToken:    config.MatrixToken,
	}, nil
}

// SetCredentials replaces the tokens sent with every request.
func (client *Client) SetCredentials(token, matrixToken string) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.token = token
	client.matrixToken = matrixToken
}

// Token returns the current session token.
func (client *Client) Token() string {
	client.mu.RLock()
	defer client.mu.RUnlock()
	return client.token
}

type dataEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// do sends one request and decodes the "data" member of the response
// into result, which may be nil. query may be nil.
func (client *Client) do(ctx context.Context, method, path string, query url.Values, requestBody, result any) error {
	target := client.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("backend: encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return fmt.Errorf("backend: creating request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	client.mu.RLock()
	if client.token != "" {
		request.Header.Set("Authorization", "Bearer "+client.token)
	}
	if client.matrixToken != "" {
		request.Header.Set("X-Matrix-Token", client.matrixToken)
	}
	client.mu.RUnlock()

	response, err := client.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return fmt.Errorf("backend: reading response body: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		apiError := parseAPIError(response.StatusCode, body)
		if response.StatusCode == http.StatusUnauthorized && client.onUnauthorized != nil {
			client.logger.Warn("backend session rejected", "method", method, "path", path)
			client.onUnauthorized(apiError)
		}
		return apiError
	}

	if result == nil || len(body) == 0 {
		return nil
	}
	var envelope dataEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("backend: decoding %s %s response: %w", method, path, err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, result); err != nil {
		return fmt.Errorf("backend: decoding %s %s data: %w", method, path, err)
	}
	return nil
}

func (client *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	return client.do(ctx, http.MethodGet, path, query, nil, result)
}

func (client *Client) post(ctx context.Context, path string, requestBody, result any) error {
	return client.do(ctx, http.MethodPost, path, nil, requestBody, result)
}

func (client *Client) put(ctx context.Context, path string, requestBody, result any) error {
	return client.do(ctx, http.MethodPut, path, nil, requestBody, result)
}

func (client *Client) patch(ctx context.Context, path string, requestBody, result any) error {
	return client.do(ctx, http.MethodPatch, path, nil, requestBody, result)
}

func (client *Client) delete(ctx context.Context, path string, requestBody any) error {
	return client.do(ctx, http.MethodDelete, path, nil, requestBody, nil)
}

// segment escapes one path segment.
func segment(value string) string {
	return url.PathEscape(value)
}
