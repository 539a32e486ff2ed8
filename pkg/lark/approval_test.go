package lark

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_CreateApproval(t *testing.T) {
	stub := newStubPlatform(t)
	stub.handle(pathApprovalInstances, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		writeJSON(w, ok(map[string]string{"instance_code": "INST-1"}))
	})
	client := stub.client(t)

	created, err := client.CreateApproval(context.Background(), &ApprovalRequest{
		TemplateCode: "TPL",
		OpenID:       "ou_1",
		Form:         []FormField{{ID: "reason", Type: "input", Value: "offsite"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "INST-1", created.InstanceCode)
	assert.Equal(t, DefaultApprovalURLBase+"?instanceCode=INST-1", created.URL)

	body := stub.lastBody(pathApprovalInstances)
	assert.Equal(t, "TPL", body["approval_code"])
	assert.Equal(t, "ou_1", body["open_id"])
	assert.JSONEq(t, `[{"id":"reason","type":"input","value":"offsite"}]`, body["form"].(string))
}

func TestClient_CreateApprovalValidation(t *testing.T) {
	client := newStubPlatform(t).client(t)

	_, err := client.CreateApproval(context.Background(), &ApprovalRequest{OpenID: "ou_1"})
	assert.ErrorIs(t, err, ErrMissingTemplate)

	_, err = client.CreateApproval(context.Background(), &ApprovalRequest{TemplateCode: "TPL"})
	assert.ErrorIs(t, err, ErrEmptyReceiver)
}

func TestClient_GetApproval(t *testing.T) {
	stub := newStubPlatform(t)
	stub.handle(pathApprovalInstances+"/INST-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ok(map[string]interface{}{
			"status": ApprovalPending,
			"task_list": []map[string]string{
				{"open_id": "ou_a", "node_name": "Manager", "status": ApprovalApproved},
				{"open_id": "ou_b", "node_name": "Finance", "status": ApprovalPending},
				{"open_id": "ou_c", "node_name": "CFO", "status": ApprovalPending},
			},
		}))
	})
	client := stub.client(t)

	status, err := client.GetApproval(context.Background(), "INST-1")
	require.NoError(t, err)
	assert.Equal(t, ApprovalPending, status.Status)
	assert.Equal(t, "Finance", status.CurrentNodeName)
	assert.Len(t, status.Approvers, 3)
}
