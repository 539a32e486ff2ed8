package sso

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/larkbridge/pkg/accounts"
	"github.com/platinummonkey/larkbridge/pkg/lark"
	"github.com/platinummonkey/larkbridge/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Bridge turns a platform authorization code into a local account
type Bridge struct {
	provider    IdentityProvider
	repo        accounts.AccountRepository
	provisioner *Provisioner
	logger      *logrus.Logger
	metrics     *observability.Metrics
}

// NewBridge creates a new identity bridge
func NewBridge(provider IdentityProvider, repo accounts.AccountRepository, cfg Config, logger *logrus.Logger, metrics *observability.Metrics) *Bridge {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bridge{
		provider:    provider,
		repo:        repo,
		provisioner: NewProvisioner(repo, cfg),
		logger:      logger,
		metrics:     metrics,
	}
}

// LoginURL returns the platform authorization page for state
func (b *Bridge) LoginURL(state string) string {
	return b.provider.LoginURL(state)
}

// loginFlow carries one login through AwaitingCode, TokenExchanged and AccountResolved
type loginFlow struct {
	state    LoginState
	identity *lark.RemoteIdentity
	account  *accounts.Account
	created  bool
	started  time.Time
}

func (f *loginFlow) advance(next LoginState) {
	f.state = next
}

// Login exchanges code for a user token, fetches the remote identity and resolves it to a
// local account. The user token is discarded once the identity is known.
func (b *Bridge) Login(ctx context.Context, code string) (*LocalAccountView, error) {
	flow := &loginFlow{state: StateAwaitingCode, started: time.Now()}

	if code == "" {
		b.metrics.RecordSSOLogin("exchange_failed")
		return nil, fmt.Errorf("%w: %w", ErrAuthExchange, ErrMissingCode)
	}

	token, err := b.provider.ExchangeCode(ctx, code)
	if err != nil {
		b.metrics.RecordSSOLogin("exchange_failed")
		b.logger.WithError(err).Warn("SSO code exchange failed")
		return nil, fmt.Errorf("%w: %w", ErrAuthExchange, err)
	}
	flow.advance(StateTokenExchanged)

	identity, err := b.provider.UserInfo(ctx, token)
	if err != nil {
		b.metrics.RecordSSOLogin("userinfo_failed")
		b.logger.WithError(err).Warn("SSO identity fetch failed")
		return nil, fmt.Errorf("%w: %w", ErrUserInfoFetch, err)
	}
	flow.identity = identity

	account, created, err := b.provisioner.Provision(ctx, identity)
	if err != nil {
		b.metrics.RecordSSOLogin("error")
		b.logger.WithError(err).WithFields(logrus.Fields{
			"remote_user_id": identity.RemoteUserID,
			"state":          flow.state.String(),
		}).Error("SSO account resolution failed")
		if errors.Is(err, ErrMissingRemoteID) {
			return nil, fmt.Errorf("%w: %w", ErrUserInfoFetch, err)
		}
		return nil, err
	}
	flow.account = account
	flow.created = created
	flow.advance(StateAccountResolved)

	outcome := "updated"
	if created {
		outcome = "created"
	}
	b.metrics.RecordSSOLogin(outcome)
	b.logger.WithFields(logrus.Fields{
		"account_id":     account.ID,
		"remote_user_id": identity.RemoteUserID,
		"outcome":        outcome,
		"duration":       time.Since(flow.started),
	}).Info("SSO login resolved")

	return flow.view(), nil
}

func (f *loginFlow) view() *LocalAccountView {
	return &LocalAccountView{
		ID:      f.account.ID,
		Name:    f.account.Name,
		Email:   f.account.Email,
		Avatar:  f.account.Avatar,
		OpenID:  f.identity.OpenID,
		UnionID: f.identity.UnionID,
	}
}

// Unlink removes the platform binding from an account
func (b *Bridge) Unlink(ctx context.Context, accountID int64) error {
	account, err := b.repo.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.ClearBinding() {
		return ErrNotLinked
	}
	if err := b.repo.Update(ctx, account); err != nil {
		return fmt.Errorf("failed to unlink account %d: %w", accountID, err)
	}

	b.logger.WithField("account_id", accountID).Info("SSO binding removed")
	return nil
}
