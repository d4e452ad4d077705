// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"net/url"
)

// Register creates an account and adopts its session tokens.
func (client *Client) Register(ctx context.Context, username, password, displayName string) (*AuthResult, error) {
	request := struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName,omitempty"`
	}{username, password, displayName}
	return client.authenticate(ctx, "/auth/register", request)
}

// Login signs in and adopts the session tokens.
func (client *Client) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	request := struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{username, password}
	return client.authenticate(ctx, "/auth/login", request)
}

func (client *Client) authenticate(ctx context.Context, path string, request any) (*AuthResult, error) {
	var result AuthResult
	if err := client.post(ctx, path, request, &result); err != nil {
		return nil, err
	}
	client.SetCredentials(result.Token, result.MatrixAccessToken)
	client.logger.Info("backend session established", "user_id", result.User.MatrixUserID)
	return &result, nil
}

// Me returns the signed-in user.
func (client *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := client.get(ctx, "/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SearchUsers finds users by name.
func (client *Client) SearchUsers(ctx context.Context, query string) ([]User, error) {
	var users []User
	err := client.get(ctx, "/auth/users/search", url.Values{"q": {query}}, &users)
	return users, err
}

// User returns one user by backend ID.
func (client *Client) User(ctx context.Context, userID string) (*User, error) {
	var user User
	if err := client.get(ctx, "/auth/users/"+segment(userID), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
