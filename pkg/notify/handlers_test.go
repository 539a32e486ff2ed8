package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/larkbridge/pkg/accounts"
	"github.com/platinummonkey/larkbridge/pkg/lark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, platform *fakePlatform) (*mux.Router, *accounts.MemoryStore) {
	t.Helper()
	store := accounts.NewMemoryStore()
	router := mux.NewRouter()
	NewDispatcher(platform, store.Accounts(), quietLogger(), nil).RegisterRoutes(router)
	return router, store
}

func do(router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_Message(t *testing.T) {
	platform := &fakePlatform{failFor: map[string]error{"ou_err": &lark.APIError{Code: 230002, Message: "bot not in chat", Endpoint: "send_message"}}}
	router, store := newTestRouter(t, platform)
	alice := strconv.FormatInt(addAccount(t, store, "alice", &accounts.AccountBinding{OpenID: "ou_1"}), 10)
	bob := strconv.FormatInt(addAccount(t, store, "bob", nil), 10)
	broken := strconv.FormatInt(addAccount(t, store, "eve", &accounts.AccountBinding{OpenID: "ou_err"}), 10)

	rec := do(router, http.MethodPost, "/notify/accounts/"+alice+"/messages", `{"text":"hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp messageResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "om_ou_1", resp.MessageID)

	rec = do(router, http.MethodPost, "/notify/accounts/"+alice+"/messages", `{"card":{"title":"Expense","body":"42 USD"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.IsType(t, lark.Card{}, platform.messages[1].Content)

	tests := []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{"unbound account", "/notify/accounts/" + bob + "/messages", `{"text":"hi"}`, http.StatusConflict},
		{"unknown account", "/notify/accounts/999/messages", `{"text":"hi"}`, http.StatusNotFound},
		{"platform error", "/notify/accounts/" + broken + "/messages", `{"text":"hi"}`, http.StatusBadGateway},
		{"empty body", "/notify/accounts/" + alice + "/messages", `{}`, http.StatusBadRequest},
		{"invalid json", "/notify/accounts/" + alice + "/messages", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, do(router, http.MethodPost, tt.target, tt.body).Code)
		})
	}
}

func TestHandlers_Approvals(t *testing.T) {
	platform := &fakePlatform{}
	router, store := newTestRouter(t, platform)
	alice := strconv.FormatInt(addAccount(t, store, "alice", &accounts.AccountBinding{OpenID: "ou_1"}), 10)

	rec := do(router, http.MethodPost, "/notify/accounts/"+alice+"/approvals",
		`{"template_code":"TPL","form":[{"id":"reason","type":"input","value":"offsite"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created lark.ApprovalCreated
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, "inst-1", created.InstanceCode)
	assert.Equal(t, "TPL", platform.approvals[0].TemplateCode)
	assert.Equal(t, "offsite", platform.approvals[0].Form[0].Value)

	rec = do(router, http.MethodPost, "/notify/accounts/"+alice+"/approvals", `{"form":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodGet, "/notify/approvals/inst-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status lark.ApprovalStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, lark.ApprovalPending, status.Status)
	assert.Equal(t, []string{"inst-1"}, platform.queries)
}
