package sso

import (
	"context"
	"errors"

	"github.com/platinummonkey/larkbridge/pkg/lark"
	"golang.org/x/oauth2"
)

var (
	// ErrAuthExchange is returned when the authorization code is rejected, invalid or expired
	ErrAuthExchange = errors.New("authorization code exchange failed")

	// ErrUserInfoFetch is returned when the remote identity cannot be fetched with the user token
	ErrUserInfoFetch = errors.New("remote identity fetch failed")

	// ErrNotLinked is returned when unlinking an account that carries no binding
	ErrNotLinked = errors.New("account not linked")

	// ErrMissingCode is returned when a login is attempted without an authorization code
	ErrMissingCode = errors.New("authorization code is required")
)

// LoginState is the progress of a single SSO login
type LoginState int

const (
	StateAwaitingCode LoginState = iota
	StateTokenExchanged
	StateAccountResolved
)

func (s LoginState) String() string {
	switch s {
	case StateAwaitingCode:
		return "awaiting_code"
	case StateTokenExchanged:
		return "token_exchanged"
	case StateAccountResolved:
		return "account_resolved"
	default:
		return "unknown"
	}
}

// LocalAccountView is the minimal account view handed back to the host application after login
type LocalAccountView struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Avatar  string `json:"avatar,omitempty"`
	OpenID  string `json:"open_id"`
	UnionID string `json:"union_id,omitempty"`
}

// IdentityProvider is the part of the platform client the bridge needs.
// *lark.Client satisfies it.
type IdentityProvider interface {
	LoginURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
	UserInfo(ctx context.Context, token *oauth2.Token) (*lark.RemoteIdentity, error)
}

var _ IdentityProvider = (*lark.Client)(nil)

const (
	// DefaultFallbackDomain completes the email of accounts created without one
	DefaultFallbackDomain = "lark"
	// DefaultTenantID owns accounts created by SSO when none is configured
	DefaultTenantID int64 = 1
)

// Config configures the identity bridge
type Config struct {
	// DefaultTenantID owns accounts created on first login
	DefaultTenantID int64
	// FallbackDomain builds remoteUserId@FallbackDomain when the identity has no email
	FallbackDomain string
}

func (c Config) withDefaults() Config {
	if c.DefaultTenantID == 0 {
		c.DefaultTenantID = DefaultTenantID
	}
	if c.FallbackDomain == "" {
		c.FallbackDomain = DefaultFallbackDomain
	}
	return c
}
