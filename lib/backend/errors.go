// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int

	// Code is the backend's machine-readable error code, when given.
	Code string

	Message string
}

func (err *APIError) Error() string {
	if err.Code != "" {
		return fmt.Sprintf("backend: HTTP %d: %s (%s)", err.StatusCode, err.Message, err.Code)
	}
	return fmt.Sprintf("backend: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsUnauthorized reports whether err is a 401: the session token is
// missing, expired or revoked.
func IsUnauthorized(err error) bool {
	return hasStatus(err, http.StatusUnauthorized)
}

// IsForbidden reports whether err is a 403.
func IsForbidden(err error) bool {
	return hasStatus(err, http.StatusForbidden)
}

// IsNotFound reports whether err is a 404.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsConflict reports whether err is a 409, such as a friend request
// that already exists.
func IsConflict(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

func hasStatus(err error, status int) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == status
}

type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// parseAPIError builds an APIError from an error response body. Bodies
// that are not the backend's error envelope are carried verbatim.
func parseAPIError(statusCode int, body []byte) *APIError {
	apiError := &APIError{StatusCode: statusCode}
	var envelope errorEnvelope
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
		apiError.Code = envelope.Error.Code
		apiError.Message = envelope.Error.Message
	}
	if apiError.Message == "" {
		apiError.Message = string(body)
	}
	if apiError.Message == "" {
		apiError.Message = http.StatusText(statusCode)
	}
	return apiError
}
