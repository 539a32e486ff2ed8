package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/platinummonkey/larkbridge/pkg/accounts"
	"github.com/platinummonkey/larkbridge/pkg/lark"
	"github.com/platinummonkey/larkbridge/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlatform struct {
	mu        sync.Mutex
	messages  []*lark.Message
	approvals []*lark.ApprovalRequest
	queries   []string
	failFor   map[string]error
}

func (f *fakePlatform) SendMessage(ctx context.Context, msg *lark.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	if err := f.failFor[msg.ReceiveID]; err != nil {
		return "", err
	}
	return "om_" + msg.ReceiveID, nil
}

func (f *fakePlatform) CreateApproval(ctx context.Context, req *lark.ApprovalRequest) (*lark.ApprovalCreated, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals = append(f.approvals, req)
	return &lark.ApprovalCreated{InstanceCode: "inst-1", URL: "https://approval.example?instanceCode=inst-1"}, nil
}

func (f *fakePlatform) GetApproval(ctx context.Context, instanceCode string) (*lark.ApprovalStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, instanceCode)
	return &lark.ApprovalStatus{InstanceCode: instanceCode, Status: lark.ApprovalPending}, nil
}

func (f *fakePlatform) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages) + len(f.approvals) + len(f.queries)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func addAccount(t *testing.T, store *accounts.MemoryStore, username string, binding *accounts.AccountBinding) int64 {
	t.Helper()
	account := &accounts.Account{TenantID: 1, Username: username, Email: username + "@corp.example"}
	if binding != nil {
		require.NoError(t, account.SetBinding(binding))
	}
	require.NoError(t, store.Accounts().Insert(context.Background(), account))
	return account.ID
}

func TestDispatcher_Notify(t *testing.T) {
	store := accounts.NewMemoryStore()
	platform := &fakePlatform{}
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	d := NewDispatcher(platform, store.Accounts(), quietLogger(), metrics)

	alice := addAccount(t, store, "alice", &accounts.AccountBinding{OpenID: "ou_1", RemoteUserID: "u1"})
	legacy := addAccount(t, store, "legacy", &accounts.AccountBinding{RemoteUserID: "u9"})

	id, err := d.Notify(context.Background(), alice, Text("deploy finished"))
	require.NoError(t, err)
	assert.Equal(t, "om_ou_1", id)
	assert.Equal(t, lark.IDTypeOpenID, platform.messages[0].ReceiveIDType)
	assert.Equal(t, lark.TextContent{Text: "deploy finished"}, platform.messages[0].Content)

	_, err = d.Notify(context.Background(), legacy, Text("hi"))
	require.NoError(t, err)
	assert.Equal(t, "u9", platform.messages[1].ReceiveID)
	assert.Equal(t, lark.IDTypeUserID, platform.messages[1].ReceiveIDType)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("message", "success")))
}

func TestDispatcher_UnboundAccountMakesNoCalls(t *testing.T) {
	store := accounts.NewMemoryStore()
	platform := &fakePlatform{}
	d := NewDispatcher(platform, store.Accounts(), quietLogger(), nil)

	unbound := addAccount(t, store, "bob", nil)
	ctx := context.Background()

	_, err := d.Notify(ctx, unbound, Text("hi"))
	assert.ErrorIs(t, err, ErrUnboundAccount)

	_, err = d.SendApprovalNotification(ctx, unbound, ApprovalCard{Title: "Expense"})
	assert.ErrorIs(t, err, ErrUnboundAccount)

	_, err = d.CreateApproval(ctx, unbound, "TPL", nil)
	assert.ErrorIs(t, err, ErrUnboundAccount)

	_, err = d.Notify(ctx, 404, Text("hi"))
	assert.ErrorIs(t, err, accounts.ErrNotFound)

	assert.Zero(t, platform.calls())
}

func TestDispatcher_CreateApprovalRequiresOpenID(t *testing.T) {
	store := accounts.NewMemoryStore()
	platform := &fakePlatform{}
	d := NewDispatcher(platform, store.Accounts(), quietLogger(), nil)

	userOnly := addAccount(t, store, "legacy", &accounts.AccountBinding{RemoteUserID: "u9"})
	_, err := d.CreateApproval(context.Background(), userOnly, "TPL", nil)
	assert.ErrorIs(t, err, ErrUnboundAccount)
	assert.Zero(t, platform.calls())

	alice := addAccount(t, store, "alice", &accounts.AccountBinding{OpenID: "ou_1", RemoteUserID: "u1"})
	form := []lark.FormField{{ID: "amount", Type: "amount", Value: 42}}
	created, err := d.CreateApproval(context.Background(), alice, "TPL", form)
	require.NoError(t, err)
	assert.Equal(t, "inst-1", created.InstanceCode)
	assert.Equal(t, &lark.ApprovalRequest{TemplateCode: "TPL", OpenID: "ou_1", Form: form}, platform.approvals[0])

	status, err := d.ApprovalStatus(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, lark.ApprovalPending, status.Status)
}

func TestDispatcher_NotifyMany(t *testing.T) {
	store := accounts.NewMemoryStore()
	platform := &fakePlatform{failFor: map[string]error{"ou_2": &lark.APIError{Code: 230013, Message: "bot has no availability to this user"}}}
	d := NewDispatcher(platform, store.Accounts(), quietLogger(), nil)

	ids := []int64{
		addAccount(t, store, "alice", &accounts.AccountBinding{OpenID: "ou_1"}),
		addAccount(t, store, "bob", &accounts.AccountBinding{OpenID: "ou_2"}),
		addAccount(t, store, "carol", nil),
		addAccount(t, store, "dan", &accounts.AccountBinding{OpenID: "ou_4"}),
	}

	deliveries := d.NotifyMany(context.Background(), ids, Text("maintenance tonight"))
	require.Len(t, deliveries, 4)

	assert.Equal(t, Delivery{AccountID: ids[0], MessageID: "om_ou_1"}, deliveries[0])
	assert.Equal(t, 230013, lark.APIErrorCode(deliveries[1].Err))
	assert.ErrorIs(t, deliveries[2].Err, ErrUnboundAccount)
	assert.Equal(t, "om_ou_4", deliveries[3].MessageID)
	assert.NoError(t, deliveries[3].Err)
	assert.Len(t, platform.messages, 3)
}

func TestDispatcher_WithPlatformClient(t *testing.T) {
	var (
		mu       sync.Mutex
		received map[string]interface{}
		query    string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/open-apis/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 0, "tenant_access_token": "t-1", "expire": 7200})
	})
	mux.HandleFunc("/open-apis/im/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		query = r.URL.Query().Get("receive_id_type")
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 0, "data": map[string]string{"message_id": "om_real"}})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := lark.NewClient(lark.Config{AppID: "cli_test", AppSecret: "secret", BaseURL: server.URL, Logger: quietLogger()})
	require.NoError(t, err)

	store := accounts.NewMemoryStore()
	alice := addAccount(t, store, "alice", &accounts.AccountBinding{OpenID: "ou_1"})
	d := NewDispatcher(client, store.Accounts(), quietLogger(), nil)

	id, err := d.SendApprovalNotification(context.Background(), alice, ApprovalCard{
		Title:   "Expense report",
		Body:    "**Amount**: 42 USD",
		Actions: []CardAction{{Label: "Review", URL: "https://app.example/expenses/7"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "om_real", id)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "open_id", query)
	assert.Equal(t, "ou_1", received["receive_id"])
	assert.Equal(t, "interactive", received["msg_type"])

	var card map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(received["content"].(string)), &card))
	header := card["header"].(map[string]interface{})
	assert.Equal(t, "Expense report", header["title"].(map[string]interface{})["content"])
}

func TestDispatcher_PlatformFailureIsWrapped(t *testing.T) {
	store := accounts.NewMemoryStore()
	boom := errors.New("connection reset")
	platform := &fakePlatform{failFor: map[string]error{"ou_1": boom}}
	d := NewDispatcher(platform, store.Accounts(), quietLogger(), nil)

	alice := addAccount(t, store, "alice", &accounts.AccountBinding{OpenID: "ou_1"})
	_, err := d.Notify(context.Background(), alice, Text("hi"))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUnboundAccount)
}
