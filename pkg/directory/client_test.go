package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/platinummonkey/larkbridge/pkg/accounts"
	"github.com/platinummonkey/larkbridge/pkg/lark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSync_WithPlatformClient drives the engine through the real client against a stub
// open platform serving two user pages.
func TestSync_WithPlatformClient(t *testing.T) {
	var mu sync.Mutex
	var userTokens []string

	mux := http.NewServeMux()
	mux.HandleFunc("/open-apis/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 0, "tenant_access_token": "t-1", "expire": 7200})
	})
	mux.HandleFunc("/open-apis/contact/v3/departments/0/children", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 0,
			"data": map[string]interface{}{
				"has_more": false,
				"items": []map[string]interface{}{
					{"department_id": "d1", "name": "Engineering", "parent_department_id": "0"},
				},
			},
		})
	})
	mux.HandleFunc("/open-apis/contact/v3/users/find_by_department", func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("page_token")
		mu.Lock()
		userTokens = append(userTokens, token)
		mu.Unlock()

		data := map[string]interface{}{
			"has_more":   true,
			"page_token": "next",
			"items": []map[string]interface{}{
				{"user_id": "u1", "open_id": "ou_1", "name": "Alice", "department_ids": []string{"d1"}},
			},
		}
		if token == "next" {
			data = map[string]interface{}{
				"has_more": false,
				"items": []map[string]interface{}{
					{"user_id": "u2", "open_id": "ou_2", "en_name": "Bob", "email": "bob@corp.example"},
				},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 0, "data": data})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := lark.NewClient(lark.Config{AppID: "cli_test", AppSecret: "secret", BaseURL: server.URL, Logger: quietLogger()})
	require.NoError(t, err)

	store := accounts.NewMemoryStore()
	result, err := newTestEngine(client, store, Config{}).Sync(context.Background(), Options{
		SyncDepartments: true,
		SyncUsers:       true,
		TenantID:        1,
		PageSize:        1,
	})
	require.NoError(t, err)

	assert.Equal(t, Counters{Created: 1}, result.Departments)
	assert.Equal(t, Counters{Created: 2}, result.Users)
	assert.Equal(t, []string{"", "next"}, userTokens)

	alice, err := store.Accounts().FindByBoundRemoteID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1@lark", alice.Email)
	require.NotNil(t, alice.DepartmentID)

	bob, err := store.Accounts().FindByBoundRemoteID(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, "Bob", bob.Name)
}
