package lark

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapIdentity(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want RemoteIdentity
	}{
		{
			name: "full contact user",
			raw: `{"user_id":"u1","open_id":"ou_1","union_id":"on_1","name":"张三","en_name":"Zhang San",
				"email":"zs@x.com","mobile":"+86100","job_title":"Engineer","employee_type":1,
				"department_ids":["d1","d2"],"avatar":{"avatar_72":"a72","avatar_240":"a240"},
				"status":{"is_activated":true}}`,
			want: RemoteIdentity{
				RemoteUserID: "u1", OpenID: "ou_1", UnionID: "on_1",
				DisplayName: "张三", EnglishName: "Zhang San", Email: "zs@x.com", Mobile: "+86100",
				Position: "Engineer", EmployeeTypeCode: 1, DepartmentIDs: []string{"d1", "d2"},
				AvatarURL: "a240", StatusCode: StatusActive,
			},
		},
		{
			name: "english name fallback",
			raw:  `{"user_id":"u2","en_name":"Bob","enterprise_email":"bob@corp.com","avatar_url":"https://a"}`,
			want: RemoteIdentity{RemoteUserID: "u2", DisplayName: "Bob", EnglishName: "Bob", Email: "bob@corp.com", AvatarURL: "https://a"},
		},
		{
			name: "absent optionals stay empty",
			raw:  `{"user_id":"u3"}`,
			want: RemoteIdentity{RemoteUserID: "u3"},
		},
		{
			name: "resigned wins over frozen",
			raw:  `{"user_id":"u4","name":"Dee","status":{"is_frozen":true,"is_resigned":true,"is_activated":true}}`,
			want: RemoteIdentity{RemoteUserID: "u4", DisplayName: "Dee", StatusCode: StatusResigned},
		},
		{
			name: "frozen",
			raw:  `{"user_id":"u5","status":{"is_frozen":true,"is_activated":true}}`,
			want: RemoteIdentity{RemoteUserID: "u5", StatusCode: StatusFrozen},
		},
		{
			name: "not activated",
			raw:  `{"user_id":"u6","status":{}}`,
			want: RemoteIdentity{RemoteUserID: "u6", StatusCode: StatusInactive},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw RawUser
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &raw))
			assert.Equal(t, &tt.want, MapIdentity(&raw))
		})
	}
}

func TestMapIdentity_Nil(t *testing.T) {
	assert.Equal(t, &RemoteIdentity{}, MapIdentity(nil))
}

func TestMapDepartment(t *testing.T) {
	var raw RawDepartment
	require.NoError(t, json.Unmarshal([]byte(`{"department_id":"d1","open_department_id":"od-1",
		"parent_department_id":"0","name":"研发","i18n_name":{"en_us":"R&D"},"leader_user_id":"u1"}`), &raw))

	assert.Equal(t, &RemoteDepartment{
		RemoteDeptID:       "d1",
		Name:               "研发",
		EnglishName:        "R&D",
		ParentRemoteDeptID: "0",
		LeaderRemoteUserID: "u1",
		StatusCode:         StatusActive,
	}, MapDepartment(&raw))

	var deleted RawDepartment
	require.NoError(t, json.Unmarshal([]byte(`{"open_department_id":"od-2","i18n_name":{"en_us":"Ops"},"status":{"is_deleted":true}}`), &deleted))
	dept := MapDepartment(&deleted)
	assert.Equal(t, "od-2", dept.RemoteDeptID)
	assert.Equal(t, "Ops", dept.Name)
	assert.Equal(t, StatusDeleted, dept.StatusCode)
}
