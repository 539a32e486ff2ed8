package accounts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	bindingIndex = "idx_accounts_binding_remote_user"

	pqUniqueViolation = "23505"

	accountColumns = `id, tenant_id, department_id, username, email, name, avatar, mobile, position,
		is_active, attributes, last_login_at, created_at, updated_at`
	departmentColumns = `id, tenant_id, code, name, english_name, parent_code, leader_remote_user_id,
		is_active, created_at, updated_at`
)

// PostgresStore implements AccountRepository and DepartmentRepository on PostgreSQL.
// The binding lives in the attributes JSONB column.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore creates a new PostgreSQL-backed store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Accounts returns the store as an AccountRepository
func (s *PostgresStore) Accounts() AccountRepository { return (*pgAccounts)(s) }

// Departments returns the store as a DepartmentRepository
func (s *PostgresStore) Departments() DepartmentRepository { return (*pgDepartments)(s) }

type pgAccounts PostgresStore

type pgDepartments PostgresStore

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		a         Account
		deptID    sql.NullInt64
		attrsJSON []byte
		lastLogin sql.NullTime
	)
	err := row.Scan(&a.ID, &a.TenantID, &deptID, &a.Username, &a.Email, &a.Name, &a.Avatar,
		&a.Mobile, &a.Position, &a.IsActive, &attrsJSON, &lastLogin, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	if deptID.Valid {
		a.DepartmentID = &deptID.Int64
	}
	if lastLogin.Valid {
		a.LastLoginAt = &lastLogin.Time
	}
	if len(attrsJSON) > 0 {
		if err := json.Unmarshal(attrsJSON, &a.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attributes of account %d: %w", a.ID, err)
		}
	}
	return &a, nil
}

func marshalAttributes(attrs map[string]json.RawMessage) ([]byte, error) {
	if len(attrs) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	return data, nil
}

// translateError maps the binding unique index violation to ErrBindingConflict
func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation && pqErr.Constraint == bindingIndex {
		return ErrBindingConflict
	}
	return err
}

func (s *pgAccounts) FindByID(ctx context.Context, id int64) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (s *pgAccounts) FindByEmailOrUsername(ctx context.Context, tenantID int64, email, username string) (*Account, error) {
	if email == "" && username == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE tenant_id = $1
			AND (($2 <> '' AND email = $2) OR ($3 <> '' AND username = $3))
		ORDER BY id
		LIMIT 1`, tenantID, email, username)
	return scanAccount(row)
}

func (s *pgAccounts) FindByBoundRemoteID(ctx context.Context, remoteUserID string) (*Account, error) {
	if remoteUserID == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE attributes->'binding'->>'remoteUserId' = $1`, remoteUserID)
	return scanAccount(row)
}

func (s *pgAccounts) Insert(ctx context.Context, a *Account) error {
	attrs, err := marshalAttributes(a.Attributes)
	if err != nil {
		return err
	}

	now := s.now()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (
			tenant_id, department_id, username, email, name, avatar, mobile, position,
			is_active, attributes, last_login_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING id`,
		a.TenantID, a.DepartmentID, a.Username, a.Email, a.Name, a.Avatar, a.Mobile, a.Position,
		a.IsActive, attrs, a.LastLoginAt, now,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to insert account %q: %w", a.Username, translateError(err))
	}

	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

func (s *pgAccounts) Update(ctx context.Context, a *Account) error {
	attrs, err := marshalAttributes(a.Attributes)
	if err != nil {
		return err
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET department_id = $2, username = $3, email = $4, name = $5, avatar = $6, mobile = $7,
			position = $8, is_active = $9, attributes = $10, last_login_at = $11, updated_at = $12
		WHERE id = $1`,
		a.ID, a.DepartmentID, a.Username, a.Email, a.Name, a.Avatar, a.Mobile,
		a.Position, a.IsActive, attrs, a.LastLoginAt, now,
	)
	if err != nil {
		return fmt.Errorf("failed to update account %d: %w", a.ID, translateError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	a.UpdatedAt = now
	return nil
}

func scanDepartment(row rowScanner) (*Department, error) {
	var d Department
	err := row.Scan(&d.ID, &d.TenantID, &d.Code, &d.Name, &d.EnglishName, &d.ParentCode,
		&d.LeaderRemoteUserID, &d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan department: %w", err)
	}
	return &d, nil
}

func (s *pgDepartments) FindByCode(ctx context.Context, tenantID int64, code string) (*Department, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+departmentColumns+`
		FROM departments
		WHERE tenant_id = $1 AND code = $2`, tenantID, code)
	return scanDepartment(row)
}

func (s *pgDepartments) Insert(ctx context.Context, d *Department) error {
	now := s.now()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO departments (
			tenant_id, code, name, english_name, parent_code, leader_remote_user_id,
			is_active, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id`,
		d.TenantID, d.Code, d.Name, d.EnglishName, d.ParentCode, d.LeaderRemoteUserID, d.IsActive, now,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("failed to insert department %q: %w", d.Code, err)
	}

	d.CreatedAt = now
	d.UpdatedAt = now
	return nil
}

func (s *pgDepartments) Update(ctx context.Context, d *Department) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE departments
		SET name = $2, english_name = $3, parent_code = $4, leader_remote_user_id = $5,
			is_active = $6, updated_at = $7
		WHERE id = $1`,
		d.ID, d.Name, d.EnglishName, d.ParentCode, d.LeaderRemoteUserID, d.IsActive, now,
	)
	if err != nil {
		return fmt.Errorf("failed to update department %q: %w", d.Code, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	d.UpdatedAt = now
	return nil
}
