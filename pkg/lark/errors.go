package lark

import (
	"errors"
	"fmt"
)

// Platform status codes that mean the bearer credential is no longer accepted.
const (
	codeInvalidTenantToken = 99991663
	codeInvalidAccessToken = 99991668
	codeInvalidAppToken    = 99991664
)

var (
	// ErrMissingCredentials is returned when the client is built without an app id or secret
	ErrMissingCredentials = errors.New("lark app id and secret are required")

	// ErrEmptyToken is returned when a token endpoint answers success without a token
	ErrEmptyToken = errors.New("token endpoint returned an empty token")
)

// CredentialError means the platform rejected the configured application credentials.
// The client stays unusable until it is reconfigured.
type CredentialError struct {
	Code    int
	Message string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("lark credential exchange rejected (code %d): %s", e.Code, e.Message)
}

// APIError is a non-zero status envelope returned by a single platform call
type APIError struct {
	Code     int
	Message  string
	Endpoint string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lark api %s failed (code %d): %s", e.Endpoint, e.Code, e.Message)
}

// TokenRejected reports whether the platform refused the bearer token itself
func (e *APIError) TokenRejected() bool {
	switch e.Code {
	case codeInvalidTenantToken, codeInvalidAccessToken, codeInvalidAppToken:
		return true
	}
	return false
}

// IsCredentialError checks if the error is or wraps a CredentialError
func IsCredentialError(err error) bool {
	var credErr *CredentialError
	return errors.As(err, &credErr)
}

// IsAPIError checks if the error is or wraps an APIError
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// APIErrorCode returns the platform status code carried by err, or 0
func APIErrorCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
