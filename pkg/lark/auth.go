package lark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"golang.org/x/oauth2"
)

const (
	pathTenantToken = "/open-apis/auth/v3/tenant_access_token/internal"
	pathUserToken   = "/open-apis/authen/v2/oauth/token"
	pathUserInfo    = "/open-apis/authen/v1/user_info"

	opTenantToken = "tenant_access_token"
	opUserToken   = "user_access_token"
	opUserInfo    = "user_info"
)

type tenantTokenResponse struct {
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int64  `json:"expire"`
}

type userTokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// exchangeServiceToken trades app id and secret for a tenant access token. Only a
// status envelope from the platform counts as a credential rejection; transport and
// gateway failures are returned as they are.
func (c *Client) exchangeServiceToken(ctx context.Context) (*ServiceToken, error) {
	body := map[string]string{
		"app_id":     c.cfg.AppID,
		"app_secret": c.cfg.AppSecret,
	}

	var data json.RawMessage
	err := c.exec(ctx, opTenantToken, func(ctx context.Context) error {
		var err error
		data, err = c.raw(ctx, opTenantToken, http.MethodPost, pathTenantToken, nil, body, larkcore.AccessTokenTypeNone)
		return err
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code > 0 {
			return nil, &CredentialError{Code: apiErr.Code, Message: apiErr.Message}
		}
		return nil, fmt.Errorf("service token exchange failed: %w", err)
	}

	var resp tenantTokenResponse
	if err := decodeInto(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode service token: %w", err)
	}
	if resp.TenantAccessToken == "" {
		return nil, ErrEmptyToken
	}

	return &ServiceToken{
		Value:     resp.TenantAccessToken,
		ExpiresAt: time.Now().Add(time.Duration(resp.Expire) * time.Second),
	}, nil
}

// LoginURL builds the authorization page URL the user is redirected to
func (c *Client) LoginURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for a user-scoped token.
// The token is not cached; it only lives for the duration of a login.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	body := map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     c.cfg.AppID,
		"client_secret": c.cfg.AppSecret,
		"code":          code,
	}
	if c.cfg.RedirectURL != "" {
		body["redirect_uri"] = c.cfg.RedirectURL
	}

	var data json.RawMessage
	err := c.exec(ctx, opUserToken, func(ctx context.Context) error {
		var err error
		data, err = c.raw(ctx, opUserToken, http.MethodPost, pathUserToken, nil, body, larkcore.AccessTokenTypeNone)
		return err
	})
	if err != nil {
		return nil, err
	}

	var resp userTokenResponse
	if err := decodeInto(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode user token: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, ErrEmptyToken
	}

	token := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		RefreshToken: resp.RefreshToken,
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	if resp.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	return token, nil
}

// UserInfo fetches the identity behind a user-scoped token. A rejection of the user
// token never touches the service token cache.
func (c *Client) UserInfo(ctx context.Context, token *oauth2.Token) (*RemoteIdentity, error) {
	if token == nil || token.AccessToken == "" {
		return nil, ErrEmptyToken
	}

	var raw RawUser
	err := c.exec(ctx, opUserInfo, func(ctx context.Context) error {
		resp, err := c.sdk.Authen.V1.UserInfo.Get(ctx, larkcore.WithUserAccessToken(token.AccessToken))
		if err != nil {
			return sdkFailure(opUserInfo, err)
		}
		if err := checkCode(opUserInfo, resp.CodeError); err != nil {
			return err
		}
		if resp.Data != nil {
			raw = RawUser{
				UserID:          deref(resp.Data.UserId),
				OpenID:          deref(resp.Data.OpenId),
				UnionID:         deref(resp.Data.UnionId),
				Name:            deref(resp.Data.Name),
				EnName:          deref(resp.Data.EnName),
				Email:           deref(resp.Data.Email),
				EnterpriseEmail: deref(resp.Data.EnterpriseEmail),
				Mobile:          deref(resp.Data.Mobile),
				AvatarURL:       deref(resp.Data.AvatarUrl),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return MapIdentity(&raw), nil
}
