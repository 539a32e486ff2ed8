package directory

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/platinummonkey/larkbridge/pkg/accounts"
	"github.com/platinummonkey/larkbridge/pkg/lark"
	"github.com/sirupsen/logrus"
)

// fakeDirectory serves fixed listings split into pages of pageSize items.
// Page tokens are the decimal index of the next page.
type fakeDirectory struct {
	mu          sync.Mutex
	pageSize    int
	departments map[string][]*lark.RemoteDepartment
	users       map[string][]*lark.RemoteIdentity
	// fail the page with this index for a scope
	failDeptPage map[string]int
	failUserPage map[string]int
	// called before serving a user page
	beforeUserPage func(deptID, token string)
	calls          []string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		pageSize:     2,
		departments:  make(map[string][]*lark.RemoteDepartment),
		users:        make(map[string][]*lark.RemoteIdentity),
		failDeptPage: make(map[string]int),
		failUserPage: make(map[string]int),
	}
}

func (f *fakeDirectory) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeDirectory) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func pageOf[T any](items []T, size int, token string, failAt int, hasFail bool) (*lark.Page[T], error) {
	index := 0
	if token != "" {
		var err error
		if index, err = strconv.Atoi(token); err != nil {
			return nil, fmt.Errorf("bad page token %q", token)
		}
	}
	if hasFail && index == failAt {
		return nil, &lark.APIError{Code: 1254000, Message: "backend busy", Endpoint: "list"}
	}

	start := index * size
	if start > len(items) {
		start = len(items)
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}

	page := &lark.Page[T]{Items: items[start:end]}
	if end < len(items) {
		page.HasMore = true
		page.NextPageToken = strconv.Itoa(index + 1)
	}
	return page, nil
}

func (f *fakeDirectory) ListDepartments(ctx context.Context, parentID string, pageSize int, pageToken string) (*lark.Page[*lark.RemoteDepartment], error) {
	f.record("departments:" + parentID + ":" + pageToken)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	failAt, hasFail := f.failDeptPage[parentID]
	return pageOf(f.departments[parentID], f.pageSize, pageToken, failAt, hasFail)
}

func (f *fakeDirectory) ListUsers(ctx context.Context, departmentID string, pageSize int, pageToken string) (*lark.Page[*lark.RemoteIdentity], error) {
	f.record("users:" + departmentID + ":" + pageToken)
	if f.beforeUserPage != nil {
		f.beforeUserPage(departmentID, pageToken)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	failAt, hasFail := f.failUserPage[departmentID]
	return pageOf(f.users[departmentID], f.pageSize, pageToken, failAt, hasFail)
}

func remoteUser(id, name string, depts ...string) *lark.RemoteIdentity {
	return &lark.RemoteIdentity{
		RemoteUserID:  id,
		OpenID:        "ou_" + id,
		DisplayName:   name,
		Email:         id + "@corp.example",
		DepartmentIDs: depts,
		StatusCode:    lark.StatusActive,
	}
}

func remoteDept(id, name, parent string) *lark.RemoteDepartment {
	return &lark.RemoteDepartment{
		RemoteDeptID:       id,
		Name:               name,
		ParentRemoteDeptID: parent,
		StatusCode:         lark.StatusActive,
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestEngine(dir Directory, store *accounts.MemoryStore, cfg Config) *Engine {
	return NewEngine(dir, store.Accounts(), store.Departments(), cfg, quietLogger(), nil)
}

// failingInserts rejects inserts of the listed usernames
type failingInserts struct {
	accounts.AccountRepository
	usernames map[string]bool
}

func (f *failingInserts) Insert(ctx context.Context, a *accounts.Account) error {
	if f.usernames[a.Username] {
		return fmt.Errorf("insert %s: constraint violation", a.Username)
	}
	return f.AccountRepository.Insert(ctx, a)
}
