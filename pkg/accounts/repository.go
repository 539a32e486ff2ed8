package accounts

import "context"

// AccountRepository persists local accounts. Implementations enforce that a remote user id
// is bound to at most one account and report violations as ErrBindingConflict.
type AccountRepository interface {
	FindByID(ctx context.Context, id int64) (*Account, error)
	// FindByEmailOrUsername matches either column within a tenant; an empty value never matches
	FindByEmailOrUsername(ctx context.Context, tenantID int64, email, username string) (*Account, error)
	FindByBoundRemoteID(ctx context.Context, remoteUserID string) (*Account, error)
	Insert(ctx context.Context, account *Account) error
	Update(ctx context.Context, account *Account) error
}

// DepartmentRepository persists local departments keyed by (tenant, code)
type DepartmentRepository interface {
	FindByCode(ctx context.Context, tenantID int64, code string) (*Department, error)
	Insert(ctx context.Context, dept *Department) error
	Update(ctx context.Context, dept *Department) error
}
