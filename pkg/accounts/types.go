package accounts

import (
	"encoding/json"
	"errors"
	"time"
)

// BindingKey is the attribute under which an account's platform binding is stored
const BindingKey = "binding"

var (
	// ErrNotFound is returned when no account or department matches a lookup
	ErrNotFound = errors.New("not found")

	// ErrBindingConflict is returned when a remote user id is already bound to another account
	ErrBindingConflict = errors.New("remote user is already bound to another account")
)

// Account is a local user account of the host application
type Account struct {
	ID           int64                      `json:"id"`
	TenantID     int64                      `json:"tenant_id"`
	DepartmentID *int64                     `json:"department_id,omitempty"`
	Username     string                     `json:"username"`
	Email        string                     `json:"email"`
	Name         string                     `json:"name"`
	Avatar       string                     `json:"avatar,omitempty"`
	Mobile       string                     `json:"mobile,omitempty"`
	Position     string                     `json:"position,omitempty"`
	IsActive     bool                       `json:"is_active"`
	Attributes   map[string]json.RawMessage `json:"attributes,omitempty"`
	LastLoginAt  *time.Time                 `json:"last_login_at,omitempty"`
	CreatedAt    time.Time                  `json:"created_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}

// Department is a local organizational unit, keyed by its remote department id (Code)
type Department struct {
	ID                 int64     `json:"id"`
	TenantID           int64     `json:"tenant_id"`
	Code               string    `json:"code"`
	Name               string    `json:"name"`
	EnglishName        string    `json:"english_name,omitempty"`
	ParentCode         string    `json:"parent_code,omitempty"`
	LeaderRemoteUserID string    `json:"leader_remote_user_id,omitempty"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without touching stored state
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.DepartmentID != nil {
		id := *a.DepartmentID
		c.DepartmentID = &id
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		c.LastLoginAt = &t
	}
	if a.Attributes != nil {
		c.Attributes = make(map[string]json.RawMessage, len(a.Attributes))
		for k, v := range a.Attributes {
			c.Attributes[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}

// Clone returns a copy of the department
func (d *Department) Clone() *Department {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
