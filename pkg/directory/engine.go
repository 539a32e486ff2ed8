package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/larkbridge/pkg/accounts"
	"github.com/platinummonkey/larkbridge/pkg/lark"
	"github.com/platinummonkey/larkbridge/pkg/observability"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("larkbridge/directory")

var (
	// ErrMissingTenant is returned before any platform call when a sync has no target tenant
	ErrMissingTenant = errors.New("directory sync requires a tenant id")

	// ErrMissingRemoteID is recorded for items without their natural key
	ErrMissingRemoteID = errors.New("item has no remote id")
)

// Directory lists the platform organization page by page. *lark.Client satisfies it.
type Directory interface {
	ListDepartments(ctx context.Context, parentID string, pageSize int, pageToken string) (*lark.Page[*lark.RemoteDepartment], error)
	ListUsers(ctx context.Context, departmentID string, pageSize int, pageToken string) (*lark.Page[*lark.RemoteIdentity], error)
}

var _ Directory = (*lark.Client)(nil)

// Options selects what a Sync call reconciles
type Options struct {
	SyncDepartments bool
	SyncUsers       bool
	// DepartmentScope is the remote department to start from; empty means the whole organization
	DepartmentScope string
	// IncludeSubDepartments syncs the members of every department below the scope, not only its direct members
	IncludeSubDepartments bool
	// ForceSync rewrites the mutable fields of records that already exist locally.
	// Without it existing records are counted as skipped and left untouched.
	ForceSync bool
	TenantID  int64
	PageSize  int
}

// Config configures the engine
type Config struct {
	MaxErrors int
	// FallbackDomain builds remoteUserId@FallbackDomain for users without an email
	FallbackDomain string
}

// Engine reconciles platform departments and users into local storage
type Engine struct {
	dir         Directory
	accounts    accounts.AccountRepository
	departments accounts.DepartmentRepository
	cfg         Config
	logger      *logrus.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// NewEngine creates a new sync engine
func NewEngine(dir Directory, accountRepo accounts.AccountRepository, deptRepo accounts.DepartmentRepository, cfg Config, logger *logrus.Logger, metrics *observability.Metrics) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = DefaultMaxErrors
	}
	if cfg.FallbackDomain == "" {
		cfg.FallbackDomain = "lark"
	}
	return &Engine{
		dir:         dir,
		accounts:    accountRepo,
		departments: deptRepo,
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

// run holds the state of one Sync call
type run struct {
	opts   Options
	scope  string
	result *Result
	// departments resolved during this run, remote id to local id
	deptIDs map[string]int64
	// remote departments listed during this run, in listing order
	listed []string
	// users already handled, so members of several departments count once
	seenUsers map[string]struct{}
}

// Sync runs one reconciliation. Departments are always synced before users and pages are
// fetched strictly in sequence. Item failures are recorded in the result and never abort
// the run; a failed page stops its category. On cancellation the partial result is
// returned together with the context error.
func (e *Engine) Sync(ctx context.Context, opts Options) (*Result, error) {
	if (opts.SyncDepartments || opts.SyncUsers) && opts.TenantID == 0 {
		return nil, ErrMissingTenant
	}

	scope := opts.DepartmentScope
	if scope == "" {
		scope = lark.RootDepartmentID
	}

	ctx, span := tracer.Start(ctx, "directory.Sync", trace.WithAttributes(
		attribute.Int64("tenant_id", opts.TenantID),
		attribute.String("scope", scope),
		attribute.Bool("departments", opts.SyncDepartments),
		attribute.Bool("users", opts.SyncUsers),
		attribute.Bool("force", opts.ForceSync),
	))
	defer span.End()

	r := &run{
		opts:      opts,
		scope:     scope,
		result:    newResult(e.cfg.MaxErrors, e.now()),
		deptIDs:   make(map[string]int64),
		seenUsers: make(map[string]struct{}),
	}

	var err error
	if opts.SyncDepartments {
		err = e.syncDepartments(ctx, r)
	}
	if err == nil && opts.SyncUsers {
		err = e.syncUsers(ctx, r)
	}

	result := r.result
	result.FinishedAt = e.now()
	e.metrics.RecordSyncRun(err, result.Duration())

	fields := logrus.Fields{
		"tenant_id":           opts.TenantID,
		"scope":               scope,
		"departments_created": result.Departments.Created,
		"departments_updated": result.Departments.Updated,
		"departments_skipped": result.Departments.Skipped,
		"users_created":       result.Users.Created,
		"users_updated":       result.Users.Updated,
		"users_skipped":       result.Users.Skipped,
		"errors":              result.ErrorCount,
		"duration":            result.Duration(),
	}

	if err != nil {
		result.addError(CategorySync, scope, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "sync interrupted")
		e.logger.WithFields(fields).WithError(err).Warn("Directory sync interrupted")
		return result, err
	}

	span.SetAttributes(attribute.Int("errors", result.ErrorCount))
	span.SetStatus(codes.Ok, "")
	e.logger.WithFields(fields).Info("Directory sync finished")
	return result, nil
}

func (e *Engine) syncDepartments(ctx context.Context, r *run) error {
	fetch := func(ctx context.Context, pageToken string) (*lark.Page[*lark.RemoteDepartment], error) {
		return e.dir.ListDepartments(ctx, r.scope, r.opts.PageSize, pageToken)
	}

	err := lark.Paginate(ctx, fetch, func(page *lark.Page[*lark.RemoteDepartment]) error {
		for _, remote := range page.Items {
			if err := ctx.Err(); err != nil {
				return err
			}
			e.applyDepartment(ctx, r, remote)
		}
		return nil
	})
	return e.pageFailure(ctx, r, CategoryDepartments, r.scope, err)
}

// pageFailure records a failed page fetch and stops the category. Only cancellation is returned.
func (e *Engine) pageFailure(ctx context.Context, r *run, category, scope string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	r.result.addError(category, scope, fmt.Errorf("page fetch failed: %w", err))
	e.logger.WithError(err).WithFields(logrus.Fields{
		"category": category,
		"scope":    scope,
	}).Warn("Directory page fetch failed, skipping rest of category")
	return nil
}

func (e *Engine) applyDepartment(ctx context.Context, r *run, remote *lark.RemoteDepartment) {
	remoteID := ""
	if remote != nil {
		remoteID = remote.RemoteDeptID
	}

	outcome, err := e.upsertDepartment(ctx, r, remote)
	if err != nil {
		outcome = OutcomeFailed
		r.result.addError(CategoryDepartments, remoteID, err)
		e.logger.WithError(err).WithField("remote_dept_id", remoteID).Debug("Department sync failed")
	} else {
		r.result.Departments.record(outcome)
		r.listed = append(r.listed, remoteID)
	}
	e.metrics.RecordSyncItem(CategoryDepartments, outcome)
}

func (e *Engine) upsertDepartment(ctx context.Context, r *run, remote *lark.RemoteDepartment) (string, error) {
	if remote == nil || remote.RemoteDeptID == "" {
		return "", ErrMissingRemoteID
	}

	existing, err := e.departments.FindByCode(ctx, r.opts.TenantID, remote.RemoteDeptID)
	if errors.Is(err, accounts.ErrNotFound) {
		dept := &accounts.Department{TenantID: r.opts.TenantID, Code: remote.RemoteDeptID}
		applyRemoteDepartment(dept, remote)
		if err := e.departments.Insert(ctx, dept); err != nil {
			return "", err
		}
		r.deptIDs[remote.RemoteDeptID] = dept.ID
		return OutcomeCreated, nil
	}
	if err != nil {
		return "", err
	}

	r.deptIDs[remote.RemoteDeptID] = existing.ID
	if !r.opts.ForceSync {
		return OutcomeSkipped, nil
	}
	applyRemoteDepartment(existing, remote)
	if err := e.departments.Update(ctx, existing); err != nil {
		return "", err
	}
	return OutcomeUpdated, nil
}

// applyRemoteDepartment copies the mutable remote fields onto dept
func applyRemoteDepartment(dept *accounts.Department, remote *lark.RemoteDepartment) {
	dept.Name = remote.Name
	dept.EnglishName = remote.EnglishName
	dept.ParentCode = remote.ParentRemoteDeptID
	dept.LeaderRemoteUserID = remote.LeaderRemoteUserID
	dept.IsActive = remote.StatusCode != lark.StatusDeleted
}

func (e *Engine) syncUsers(ctx context.Context, r *run) error {
	scopes := []string{r.scope}
	if r.opts.IncludeSubDepartments {
		descendants, err := e.descendants(ctx, r)
		if err != nil {
			return err
		}
		scopes = append(scopes, descendants...)
	}

	for _, deptID := range scopes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.syncMembers(ctx, r, deptID); err != nil {
			return err
		}
	}
	return nil
}

// descendants lists the departments below the scope, reusing the department pass when it ran
func (e *Engine) descendants(ctx context.Context, r *run) ([]string, error) {
	if r.opts.SyncDepartments {
		return r.listed, nil
	}

	var ids []string
	fetch := func(ctx context.Context, pageToken string) (*lark.Page[*lark.RemoteDepartment], error) {
		return e.dir.ListDepartments(ctx, r.scope, r.opts.PageSize, pageToken)
	}
	err := lark.Paginate(ctx, fetch, func(page *lark.Page[*lark.RemoteDepartment]) error {
		for _, d := range page.Items {
			if d != nil && d.RemoteDeptID != "" {
				ids = append(ids, d.RemoteDeptID)
			}
		}
		return nil
	})
	if err := e.pageFailure(ctx, r, CategoryUsers, r.scope, err); err != nil {
		return nil, err
	}
	return ids, nil
}

func (e *Engine) syncMembers(ctx context.Context, r *run, deptID string) error {
	fetch := func(ctx context.Context, pageToken string) (*lark.Page[*lark.RemoteIdentity], error) {
		return e.dir.ListUsers(ctx, deptID, r.opts.PageSize, pageToken)
	}

	err := lark.Paginate(ctx, fetch, func(page *lark.Page[*lark.RemoteIdentity]) error {
		for _, remote := range page.Items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if remote != nil && remote.RemoteUserID != "" {
				if _, seen := r.seenUsers[remote.RemoteUserID]; seen {
					continue
				}
				r.seenUsers[remote.RemoteUserID] = struct{}{}
			}
			e.applyUser(ctx, r, remote)
		}
		return nil
	})
	return e.pageFailure(ctx, r, CategoryUsers, deptID, err)
}

func (e *Engine) applyUser(ctx context.Context, r *run, remote *lark.RemoteIdentity) {
	outcome, err := e.upsertUser(ctx, r, remote)
	if err != nil {
		outcome = OutcomeFailed
		remoteID := ""
		if remote != nil {
			remoteID = remote.RemoteUserID
		}
		r.result.addError(CategoryUsers, remoteID, err)
		e.logger.WithError(err).WithField("remote_user_id", remoteID).Debug("User sync failed")
	} else {
		r.result.Users.record(outcome)
	}
	e.metrics.RecordSyncItem(CategoryUsers, outcome)
}

func (e *Engine) upsertUser(ctx context.Context, r *run, remote *lark.RemoteIdentity) (string, error) {
	if remote == nil || remote.RemoteUserID == "" {
		return "", ErrMissingRemoteID
	}

	account, err := e.findAccount(ctx, r.opts.TenantID, remote)
	if errors.Is(err, accounts.ErrNotFound) {
		account = nil
	} else if err != nil {
		return "", err
	}
	if account != nil && !r.opts.ForceSync {
		return OutcomeSkipped, nil
	}

	deptID, err := e.localDepartment(ctx, r, remote.DepartmentIDs)
	if err != nil {
		return "", err
	}

	if account == nil {
		account = &accounts.Account{
			TenantID: r.opts.TenantID,
			Username: remote.RemoteUserID,
		}
		e.applyRemoteUser(account, remote, deptID)
		if err := account.SetBinding(bindingFor(remote)); err != nil {
			return "", err
		}
		if err := e.accounts.Insert(ctx, account); err != nil {
			return "", err
		}
		return OutcomeCreated, nil
	}

	e.applyRemoteUser(account, remote, deptID)
	if err := mergeBinding(account, remote); err != nil {
		return "", err
	}
	if err := e.accounts.Update(ctx, account); err != nil {
		return "", err
	}
	return OutcomeUpdated, nil
}

func (e *Engine) findAccount(ctx context.Context, tenantID int64, remote *lark.RemoteIdentity) (*accounts.Account, error) {
	account, err := e.accounts.FindByBoundRemoteID(ctx, remote.RemoteUserID)
	if !errors.Is(err, accounts.ErrNotFound) {
		return account, err
	}
	account, err = e.accounts.FindByEmailOrUsername(ctx, tenantID, remote.Email, remote.RemoteUserID)
	if err != nil {
		return nil, err
	}
	existing, err := account.Binding()
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.RemoteUserID != "" && existing.RemoteUserID != remote.RemoteUserID {
		return nil, fmt.Errorf("account %d is bound to %s: %w", account.ID, existing.RemoteUserID, accounts.ErrBindingConflict)
	}
	return account, nil
}

// localDepartment resolves the local id of the user's first department, or nil when unknown locally
func (e *Engine) localDepartment(ctx context.Context, r *run, remoteIDs []string) (*int64, error) {
	if len(remoteIDs) == 0 {
		return nil, nil
	}
	code := remoteIDs[0]
	if id, ok := r.deptIDs[code]; ok {
		return &id, nil
	}

	dept, err := e.departments.FindByCode(ctx, r.opts.TenantID, code)
	if errors.Is(err, accounts.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve department %s: %w", code, err)
	}
	r.deptIDs[code] = dept.ID
	return &dept.ID, nil
}

// applyRemoteUser copies the mutable remote profile fields onto account
func (e *Engine) applyRemoteUser(account *accounts.Account, remote *lark.RemoteIdentity, deptID *int64) {
	account.Name = remote.DisplayName
	if account.Name == "" {
		account.Name = remote.RemoteUserID
	}
	switch {
	case remote.Email != "":
		account.Email = remote.Email
	case account.Email == "":
		account.Email = remote.RemoteUserID + "@" + e.cfg.FallbackDomain
	}
	account.Avatar = remote.AvatarURL
	account.Mobile = remote.Mobile
	account.Position = remote.Position
	account.IsActive = isActive(remote.StatusCode)
	if deptID != nil {
		id := *deptID
		account.DepartmentID = &id
	}
}

func isActive(status string) bool {
	switch status {
	case lark.StatusFrozen, lark.StatusResigned, lark.StatusDeleted:
		return false
	default:
		return true
	}
}

func bindingFor(remote *lark.RemoteIdentity) *accounts.AccountBinding {
	return &accounts.AccountBinding{
		OpenID:       remote.OpenID,
		UnionID:      remote.UnionID,
		RemoteUserID: remote.RemoteUserID,
		Position:     remote.Position,
	}
}

// mergeBinding merges the remote binding fields into the account's stored binding
func mergeBinding(account *accounts.Account, remote *lark.RemoteIdentity) error {
	existing, err := account.Binding()
	if err != nil {
		return err
	}
	return account.SetBinding(accounts.MergeBinding(existing, bindingFor(remote)))
}
