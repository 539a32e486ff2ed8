package lark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	larksdk "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/platinummonkey/larkbridge/pkg/observability"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL         = "https://open.feishu.cn"
	DefaultAuthorizeURL    = "https://accounts.feishu.cn/open-apis/authen/v1/authorize"
	DefaultApprovalURLBase = "https://applink.feishu.cn/client/approval"

	defaultTimeout           = 10 * time.Second
	defaultIdentityCacheSize = 1024
	defaultIdentityCacheTTL  = 5 * time.Minute
	tracerName               = "github.com/platinummonkey/larkbridge/pkg/lark"
)

// Config holds the platform client configuration
type Config struct {
	AppID     string
	AppSecret string

	BaseURL         string
	AuthorizeURL    string
	RedirectURL     string
	Scopes          []string
	ApprovalURLBase string

	HTTPClient   *http.Client
	Timeout      time.Duration
	SafetyMargin time.Duration

	// Identity lookups by remote user id are cached; size 0 uses the default, negative disables
	IdentityCacheSize int
	IdentityCacheTTL  time.Duration

	TokenStore TokenStore
	Logger     *logrus.Logger
	Metrics    *observability.Metrics
}

// Client executes authenticated requests against the platform open API.
//
// Requests go through the open platform SDK with its token cache disabled; the service
// token always comes from the client's own TokenCache.
type Client struct {
	cfg        Config
	sdk        *larksdk.Client
	tokens     *TokenCache
	oauth      *oauth2.Config
	identities *lru.LRU[string, *RemoteIdentity]
	tracer     trace.Tracer
	logger     *logrus.Logger
	metrics    *observability.Metrics
}

// envelope is the platform response wrapper; code is independent of the HTTP status
type envelope struct {
	Code             int             `json:"code"`
	Msg              string          `json:"msg"`
	ErrorDescription string          `json:"error_description"`
	Data             json.RawMessage `json:"data"`
}

func (e *envelope) message() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.ErrorDescription
}

// sendFunc performs one SDK request; token carries the bearer to use
type sendFunc func(ctx context.Context, token larkcore.RequestOptionFunc) error

// NewClient creates a new platform client
func NewClient(cfg Config) (*Client, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = DefaultAuthorizeURL
	}
	if cfg.ApprovalURLBase == "" {
		cfg.ApprovalURLBase = DefaultApprovalURLBase
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SafetyMargin == 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	c := &Client{
		cfg: cfg,
		sdk: larksdk.NewClient(cfg.AppID, cfg.AppSecret,
			larksdk.WithOpenBaseUrl(cfg.BaseURL),
			larksdk.WithEnableTokenCache(false),
			larksdk.WithHttpClient(httpClient),
			larksdk.WithLogger(sdkLogger{logger: cfg.Logger}),
			larksdk.WithLogLevel(larkcore.LogLevelWarn),
		),
		tracer:  otel.Tracer(tracerName),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		oauth: &oauth2.Config{
			ClientID:     cfg.AppID,
			ClientSecret: cfg.AppSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthorizeURL,
				TokenURL: cfg.BaseURL + pathUserToken,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
	}

	if cfg.IdentityCacheSize >= 0 {
		size := cfg.IdentityCacheSize
		if size == 0 {
			size = defaultIdentityCacheSize
		}
		ttl := cfg.IdentityCacheTTL
		if ttl <= 0 {
			ttl = defaultIdentityCacheTTL
		}
		c.identities = lru.NewLRU[string, *RemoteIdentity](size, nil, ttl)
	}

	c.tokens = NewTokenCache(c.exchangeServiceToken,
		WithSafetyMargin(cfg.SafetyMargin),
		WithTokenStore(cfg.TokenStore),
		WithTokenLogger(cfg.Logger),
		WithTokenMetrics(cfg.Metrics),
	)

	return c, nil
}

// Tokens exposes the service token cache
func (c *Client) Tokens() *TokenCache {
	return c.tokens
}

// Call performs an authenticated request and decodes the envelope data into out.
// A non-zero envelope code is returned as *APIError.
func (c *Client) Call(ctx context.Context, method, endpoint string, query url.Values, body, out interface{}) error {
	return c.call(ctx, endpoint, method, endpoint, query, body, out)
}

func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) error {
	return c.withServiceToken(ctx, op, func(ctx context.Context, token larkcore.RequestOptionFunc) error {
		data, err := c.raw(ctx, op, method, path, query, body, larkcore.AccessTokenTypeTenant, token)
		if err != nil {
			return err
		}
		if out != nil {
			if err := decodeInto(data, out); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", op, err)
			}
		}
		return nil
	})
}

// withServiceToken runs send with the cached service token. A rejected token is dropped
// from the cache so the next call exchanges a fresh one.
func (c *Client) withServiceToken(ctx context.Context, op string, send sendFunc) error {
	token, err := c.tokens.Get(ctx)
	if err != nil {
		return err
	}

	err = c.exec(ctx, op, func(ctx context.Context) error {
		return send(ctx, larkcore.WithTenantAccessToken(token.Value))
	})
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.TokenRejected() {
		c.tokens.Invalidate(ctx)
	}
	return err
}

// exec runs one platform call inside a client span and records its outcome
func (c *Client) exec(ctx context.Context, op string, send func(ctx context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "lark "+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("lark.operation", op))

	start := time.Now()
	err := send(ctx)
	code := 0
	if err != nil {
		code = APIErrorCode(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	c.metrics.RecordAPICall(op, code, err, time.Since(start))

	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"operation": op,
			"code":      code,
		}).WithError(err).Warn("Lark API call failed")
	}
	return err
}

// raw sends an untyped request through the SDK and unwraps the envelope itself.
// It serves endpoints without a typed SDK binding and the token endpoints, which answer
// with top-level fields instead of a data object.
func (c *Client) raw(ctx context.Context, op, method, path string, query url.Values, body interface{}, tokenType larkcore.AccessTokenType, opts ...larkcore.RequestOptionFunc) (json.RawMessage, error) {
	req := &larkcore.ApiReq{
		HttpMethod:                method,
		ApiPath:                   path,
		Body:                      body,
		QueryParams:               larkcore.QueryParams{},
		PathParams:                larkcore.PathParams{},
		SupportedAccessTokenTypes: []larkcore.AccessTokenType{tokenType},
	}
	for key, values := range query {
		req.QueryParams[key] = values
	}

	resp, err := c.sdk.Do(ctx, req, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}

	env := &envelope{}
	if err := json.Unmarshal(resp.RawBody, env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{Code: -resp.StatusCode, Message: strings.TrimSpace(string(resp.RawBody)), Endpoint: op}
		}
		return nil, fmt.Errorf("failed to decode %s envelope: %w", op, err)
	}
	if env.Code != 0 {
		return nil, &APIError{Code: env.Code, Message: env.message(), Endpoint: op}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Code: -resp.StatusCode, Message: http.StatusText(resp.StatusCode), Endpoint: op}
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return resp.RawBody, nil
	}
	return env.Data, nil
}

// checkCode turns the status part of a typed SDK response into an *APIError
func checkCode(op string, status larkcore.CodeError) error {
	if status.Code == 0 {
		return nil
	}
	return &APIError{Code: status.Code, Message: status.Msg, Endpoint: op}
}

// sdkFailure wraps an error the SDK returned before a status envelope was decoded
func sdkFailure(op string, err error) error {
	return fmt.Errorf("%s request failed: %w", op, err)
}

func decodeInto(data json.RawMessage, out interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// sdkLogger adapts logrus to the SDK's logger interface
type sdkLogger struct {
	logger *logrus.Logger
}

func (l sdkLogger) Debug(ctx context.Context, args ...interface{}) {
	l.logger.WithContext(ctx).Debug(args...)
}

func (l sdkLogger) Info(ctx context.Context, args ...interface{}) {
	l.logger.WithContext(ctx).Info(args...)
}

func (l sdkLogger) Warn(ctx context.Context, args ...interface{}) {
	l.logger.WithContext(ctx).Warn(args...)
}

func (l sdkLogger) Error(ctx context.Context, args ...interface{}) {
	l.logger.WithContext(ctx).Error(args...)
}
