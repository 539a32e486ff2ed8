package lark

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_GetUserIsCached(t *testing.T) {
	stub := newStubPlatform(t)
	var lookups atomic.Int32
	stub.handle("/open-apis/contact/v3/users/u1", func(w http.ResponseWriter, r *http.Request) {
		lookups.Add(1)
		assert.Equal(t, "user_id", r.URL.Query().Get("user_id_type"))
		writeJSON(w, ok(map[string]interface{}{
			"user": map[string]interface{}{"user_id": "u1", "name": "Alice"},
		}))
	})
	client := stub.client(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		identity, err := client.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Alice", identity.DisplayName)
	}
	assert.Equal(t, int32(1), lookups.Load())
}

func TestClient_ListUsers(t *testing.T) {
	stub := newStubPlatform(t)
	stub.handle(pathUsersByDept, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "d1", q.Get("department_id"))
		assert.Equal(t, "100", q.Get("page_size"))
		assert.Equal(t, "tok", q.Get("page_token"))
		writeJSON(w, ok(map[string]interface{}{
			"has_more":   true,
			"page_token": "next",
			"items": []map[string]interface{}{
				{"user_id": "u1", "name": "Alice"},
				{"user_id": "u2", "en_name": "Bob"},
			},
		}))
	})
	client := stub.client(t)

	page, err := client.ListUsers(context.Background(), "d1", 1000, "tok")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Bob", page.Items[1].DisplayName)
	assert.Equal(t, "next", page.NextPageToken)
	assert.True(t, page.HasMore)
}

func TestClient_ListDepartments(t *testing.T) {
	stub := newStubPlatform(t)
	stub.handle("/open-apis/contact/v3/departments/0/children", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("fetch_child"))
		assert.Empty(t, r.URL.Query().Get("page_token"))
		writeJSON(w, ok(map[string]interface{}{
			"has_more": false,
			"items": []map[string]interface{}{
				{"department_id": "d1", "name": "Engineering", "parent_department_id": "0"},
			},
		}))
	})
	client := stub.client(t)

	page, err := client.ListDepartments(context.Background(), "", 0, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "d1", page.Items[0].RemoteDeptID)
	assert.True(t, page.Done())
}

func TestClient_SearchUsersStopsAtLimit(t *testing.T) {
	stub := newStubPlatform(t)
	var calls atomic.Int32
	stub.handle(pathSearchUsers, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "ali", r.URL.Query().Get("query"))
		users := []map[string]interface{}{
			{"user_id": "u1", "name": "Alice"},
			{"user_id": "u2", "name": "Alicia"},
		}
		writeJSON(w, ok(map[string]interface{}{
			"has_more":   true,
			"page_token": "p" + string(rune('0'+n)),
			"users":      users,
		}))
	})
	client := stub.client(t)

	results, err := client.SearchUsers(context.Background(), "ali", 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, int32(2), calls.Load())
}
