package lark

import (
	"time"

	larkcontact "github.com/larksuite/oapi-sdk-go/v3/service/contact/v3"
)

// ServiceToken is a tenant-level access token and the moment it stops being accepted
type ServiceToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidAt reports whether the token can still be used at now, keeping margin in reserve
func (t *ServiceToken) ValidAt(now time.Time, margin time.Duration) bool {
	if t == nil || t.Value == "" {
		return false
	}
	return now.Before(t.ExpiresAt.Add(-margin))
}

// RemoteIdentity is a platform user normalized for local use
type RemoteIdentity struct {
	RemoteUserID     string   `json:"remote_user_id"`
	OpenID           string   `json:"open_id"`
	UnionID          string   `json:"union_id"`
	DisplayName      string   `json:"display_name"`
	EnglishName      string   `json:"english_name,omitempty"`
	AvatarURL        string   `json:"avatar_url,omitempty"`
	Mobile           string   `json:"mobile,omitempty"`
	Email            string   `json:"email,omitempty"`
	DepartmentIDs    []string `json:"department_ids,omitempty"`
	Position         string   `json:"position,omitempty"`
	EmployeeTypeCode int      `json:"employee_type_code,omitempty"`
	StatusCode       string   `json:"status_code,omitempty"`
}

// RemoteDepartment is a platform department normalized for local use
type RemoteDepartment struct {
	RemoteDeptID       string `json:"remote_dept_id"`
	Name               string `json:"name"`
	EnglishName        string `json:"english_name,omitempty"`
	ParentRemoteDeptID string `json:"parent_remote_dept_id,omitempty"`
	LeaderRemoteUserID string `json:"leader_remote_user_id,omitempty"`
	StatusCode         string `json:"status_code,omitempty"`
}

// Identity status codes derived from the platform's status flags
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusFrozen   = "frozen"
	StatusResigned = "resigned"
	StatusDeleted  = "deleted"
)

// RawUser covers both the contact API user object and the authen user_info payload
type RawUser struct {
	UserID          string     `json:"user_id"`
	OpenID          string     `json:"open_id"`
	UnionID         string     `json:"union_id"`
	Name            string     `json:"name"`
	EnName          string     `json:"en_name"`
	Nickname        string     `json:"nickname"`
	Email           string     `json:"email"`
	EnterpriseEmail string     `json:"enterprise_email"`
	Mobile          string     `json:"mobile"`
	AvatarURL       string     `json:"avatar_url"`
	Avatar          *RawAvatar `json:"avatar"`
	DepartmentIDs   []string   `json:"department_ids"`
	JobTitle        string     `json:"job_title"`
	EmployeeType    int        `json:"employee_type"`
	Status          *RawStatus `json:"status"`
}

// RawAvatar holds the avatar renditions of a contact API user
type RawAvatar struct {
	Avatar72     string `json:"avatar_72"`
	Avatar240    string `json:"avatar_240"`
	Avatar640    string `json:"avatar_640"`
	AvatarOrigin string `json:"avatar_origin"`
}

// RawStatus holds the user status flags of a contact API user
type RawStatus struct {
	IsFrozen    bool `json:"is_frozen"`
	IsResigned  bool `json:"is_resigned"`
	IsActivated bool `json:"is_activated"`
	IsExited    bool `json:"is_exited"`
}

// RawDepartment is the contact API department object
type RawDepartment struct {
	DepartmentID       string `json:"department_id"`
	OpenDepartmentID   string `json:"open_department_id"`
	ParentDepartmentID string `json:"parent_department_id"`
	Name               string `json:"name"`
	I18nName           *struct {
		EnUS string `json:"en_us"`
	} `json:"i18n_name"`
	LeaderUserID string `json:"leader_user_id"`
	Status       *struct {
		IsDeleted bool `json:"is_deleted"`
	} `json:"status"`
}

func rawUserFromContact(user *larkcontact.User) *RawUser {
	if user == nil {
		return nil
	}
	raw := &RawUser{
		UserID:          deref(user.UserId),
		OpenID:          deref(user.OpenId),
		UnionID:         deref(user.UnionId),
		Name:            deref(user.Name),
		EnName:          deref(user.EnName),
		Nickname:        deref(user.Nickname),
		Email:           deref(user.Email),
		EnterpriseEmail: deref(user.EnterpriseEmail),
		Mobile:          deref(user.Mobile),
		DepartmentIDs:   user.DepartmentIds,
		JobTitle:        deref(user.JobTitle),
		EmployeeType:    deref(user.EmployeeType),
	}
	if user.Avatar != nil {
		raw.Avatar = &RawAvatar{
			Avatar72:     deref(user.Avatar.Avatar72),
			Avatar240:    deref(user.Avatar.Avatar240),
			Avatar640:    deref(user.Avatar.Avatar640),
			AvatarOrigin: deref(user.Avatar.AvatarOrigin),
		}
	}
	if user.Status != nil {
		raw.Status = &RawStatus{
			IsFrozen:    deref(user.Status.IsFrozen),
			IsResigned:  deref(user.Status.IsResigned),
			IsActivated: deref(user.Status.IsActivated),
			IsExited:    deref(user.Status.IsExited),
		}
	}
	return raw
}

func rawDepartmentFromContact(dept *larkcontact.Department) *RawDepartment {
	if dept == nil {
		return nil
	}
	raw := &RawDepartment{
		DepartmentID:       deref(dept.DepartmentId),
		OpenDepartmentID:   deref(dept.OpenDepartmentId),
		ParentDepartmentID: deref(dept.ParentDepartmentId),
		Name:               deref(dept.Name),
		LeaderUserID:       deref(dept.LeaderUserId),
	}
	if dept.I18nName != nil {
		raw.I18nName = &struct {
			EnUS string `json:"en_us"`
		}{EnUS: deref(dept.I18nName.EnUs)}
	}
	if dept.Status != nil {
		raw.Status = &struct {
			IsDeleted bool `json:"is_deleted"`
		}{IsDeleted: deref(dept.Status.IsDeleted)}
	}
	return raw
}

// MapIdentity normalizes a raw user payload. Absent optional fields stay empty.
func MapIdentity(raw *RawUser) *RemoteIdentity {
	if raw == nil {
		return &RemoteIdentity{}
	}

	identity := &RemoteIdentity{
		RemoteUserID:     raw.UserID,
		OpenID:           raw.OpenID,
		UnionID:          raw.UnionID,
		DisplayName:      firstNonEmpty(raw.Name, raw.EnName, raw.Nickname),
		EnglishName:      raw.EnName,
		Mobile:           raw.Mobile,
		Email:            firstNonEmpty(raw.Email, raw.EnterpriseEmail),
		Position:         raw.JobTitle,
		EmployeeTypeCode: raw.EmployeeType,
		StatusCode:       userStatusCode(raw.Status),
	}

	identity.AvatarURL = raw.AvatarURL
	if identity.AvatarURL == "" && raw.Avatar != nil {
		identity.AvatarURL = firstNonEmpty(raw.Avatar.Avatar240, raw.Avatar.Avatar640, raw.Avatar.AvatarOrigin, raw.Avatar.Avatar72)
	}

	if len(raw.DepartmentIDs) > 0 {
		identity.DepartmentIDs = append([]string(nil), raw.DepartmentIDs...)
	}

	return identity
}

// MapDepartment normalizes a raw department payload
func MapDepartment(raw *RawDepartment) *RemoteDepartment {
	if raw == nil {
		return &RemoteDepartment{}
	}

	dept := &RemoteDepartment{
		RemoteDeptID:       firstNonEmpty(raw.DepartmentID, raw.OpenDepartmentID),
		Name:               raw.Name,
		ParentRemoteDeptID: raw.ParentDepartmentID,
		LeaderRemoteUserID: raw.LeaderUserID,
		StatusCode:         StatusActive,
	}
	if raw.I18nName != nil {
		dept.EnglishName = raw.I18nName.EnUS
	}
	if dept.Name == "" {
		dept.Name = dept.EnglishName
	}
	if raw.Status != nil && raw.Status.IsDeleted {
		dept.StatusCode = StatusDeleted
	}

	return dept
}

func userStatusCode(status *RawStatus) string {
	switch {
	case status == nil:
		return ""
	case status.IsResigned || status.IsExited:
		return StatusResigned
	case status.IsFrozen:
		return StatusFrozen
	case !status.IsActivated:
		return StatusInactive
	default:
		return StatusActive
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
