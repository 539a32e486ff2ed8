package sso

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/larkbridge/pkg/accounts"
	"github.com/platinummonkey/larkbridge/pkg/lark"
)

// ErrMissingRemoteID is returned when a remote identity carries no user id to bind
var ErrMissingRemoteID = errors.New("remote identity has no user id")

// Provisioner resolves remote identities to local accounts, creating them on first login
type Provisioner struct {
	repo accounts.AccountRepository
	cfg  Config
	now  func() time.Time
}

// NewProvisioner creates a new account provisioner
func NewProvisioner(repo accounts.AccountRepository, cfg Config) *Provisioner {
	return &Provisioner{
		repo: repo,
		cfg:  cfg.withDefaults(),
		now:  time.Now,
	}
}

// Provision finds the account for identity, creating one when nothing matches.
// The returned bool reports whether the account was created.
func (p *Provisioner) Provision(ctx context.Context, identity *lark.RemoteIdentity) (*accounts.Account, bool, error) {
	if identity == nil || identity.RemoteUserID == "" {
		return nil, false, ErrMissingRemoteID
	}

	account, err := p.lookup(ctx, identity)
	if errors.Is(err, accounts.ErrNotFound) {
		account, err = p.create(ctx, identity)
		if errors.Is(err, accounts.ErrBindingConflict) {
			// a concurrent login bound the identity first
			account, err = p.repo.FindByBoundRemoteID(ctx, identity.RemoteUserID)
			if err != nil {
				return nil, false, fmt.Errorf("failed to reload account bound to %s: %w", identity.RemoteUserID, err)
			}
			account, err = p.update(ctx, account, identity)
			return account, false, err
		}
		return account, err == nil, err
	}
	if err != nil {
		return nil, false, err
	}

	account, err = p.update(ctx, account, identity)
	return account, false, err
}

// lookup tries the stored binding first, then email or username
func (p *Provisioner) lookup(ctx context.Context, identity *lark.RemoteIdentity) (*accounts.Account, error) {
	account, err := p.repo.FindByBoundRemoteID(ctx, identity.RemoteUserID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, accounts.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up binding for %s: %w", identity.RemoteUserID, err)
	}

	account, err = p.repo.FindByEmailOrUsername(ctx, p.cfg.DefaultTenantID, identity.Email, identity.RemoteUserID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to look up account for %s: %w", identity.RemoteUserID, err)
	}

	existing, err := account.Binding()
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.RemoteUserID != "" && existing.RemoteUserID != identity.RemoteUserID {
		return nil, fmt.Errorf("account %d is bound to another remote user: %w", account.ID, accounts.ErrBindingConflict)
	}
	return account, nil
}

func (p *Provisioner) create(ctx context.Context, identity *lark.RemoteIdentity) (*accounts.Account, error) {
	now := p.now()
	name := identity.DisplayName
	if name == "" {
		name = identity.RemoteUserID
	}

	account := &accounts.Account{
		TenantID:    p.cfg.DefaultTenantID,
		Username:    identity.RemoteUserID,
		Email:       p.emailFor(identity),
		Name:        name,
		Avatar:      identity.AvatarURL,
		Mobile:      identity.Mobile,
		Position:    identity.Position,
		IsActive:    true,
		LastLoginAt: &now,
	}
	if err := account.SetBinding(bindingFor(identity)); err != nil {
		return nil, err
	}

	if err := p.repo.Insert(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account for %s: %w", identity.RemoteUserID, err)
	}
	return account, nil
}

func (p *Provisioner) update(ctx context.Context, account *accounts.Account, identity *lark.RemoteIdentity) (*accounts.Account, error) {
	now := p.now()
	if identity.DisplayName != "" {
		account.Name = identity.DisplayName
	}
	if identity.AvatarURL != "" {
		account.Avatar = identity.AvatarURL
	}
	if account.Email == "" {
		account.Email = p.emailFor(identity)
	}
	account.LastLoginAt = &now

	if err := account.SetBinding(bindingFor(identity)); err != nil {
		return nil, err
	}

	if err := p.repo.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to update account %d: %w", account.ID, err)
	}
	return account, nil
}

func (p *Provisioner) emailFor(identity *lark.RemoteIdentity) string {
	if identity.Email != "" {
		return identity.Email
	}
	return identity.RemoteUserID + "@" + p.cfg.FallbackDomain
}

func bindingFor(identity *lark.RemoteIdentity) *accounts.AccountBinding {
	return &accounts.AccountBinding{
		OpenID:       identity.OpenID,
		UnionID:      identity.UnionID,
		RemoteUserID: identity.RemoteUserID,
		Position:     identity.Position,
	}
}
