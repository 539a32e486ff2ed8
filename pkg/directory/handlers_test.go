package directory

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/larkbridge/pkg/accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRoutes(t *testing.T) {
	scheduler, err := NewScheduler(newTestEngine(smallOrg(), accounts.NewMemoryStore(), Config{}), fullSync(1), "", time.Minute, quietLogger())
	require.NoError(t, err)
	router := mux.NewRouter()
	scheduler.RegisterRoutes(router)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/directory/sync", nil))
	assert.Equal(t, http.StatusAccepted, rr.Code)

	require.Eventually(t, func() bool { return scheduler.Status().Result != nil }, 2*time.Second, 10*time.Millisecond)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/directory/sync", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var status struct {
		Running bool   `json:"running"`
		Result  Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.False(t, status.Running)
	assert.Equal(t, 3, status.Result.Users.Created)
	assert.Equal(t, 3, status.Result.Departments.Created)
}
