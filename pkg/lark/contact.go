package lark

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkcontact "github.com/larksuite/oapi-sdk-go/v3/service/contact/v3"
)

const (
	// RootDepartmentID is the scope of the whole organization
	RootDepartmentID = "0"

	pathUsersByDept = "/open-apis/contact/v3/users/find_by_department"
	pathSearchUsers = "/open-apis/search/v1/user"
)

const (
	opGetUser         = "get_user"
	opListUsers       = "list_users"
	opListDepartments = "list_departments"
	opSearchUsers     = "search_users"

	idTypeUser       = "user_id"
	idTypeDepartment = "department_id"
)

// GetUser looks up a single identity by remote user id. Results are cached briefly.
func (c *Client) GetUser(ctx context.Context, remoteUserID string) (*RemoteIdentity, error) {
	if c.identities != nil {
		if identity, ok := c.identities.Get(remoteUserID); ok {
			return identity, nil
		}
	}

	req := larkcontact.NewGetUserReqBuilder().
		UserId(remoteUserID).
		UserIdType(idTypeUser).
		DepartmentIdType(idTypeDepartment).
		Build()

	var user *larkcontact.User
	err := c.withServiceToken(ctx, opGetUser, func(ctx context.Context, token larkcore.RequestOptionFunc) error {
		resp, err := c.sdk.Contact.V3.User.Get(ctx, req, token)
		if err != nil {
			return sdkFailure(opGetUser, err)
		}
		if err := checkCode(opGetUser, resp.CodeError); err != nil {
			return err
		}
		if resp.Data != nil {
			user = resp.Data.User
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	identity := MapIdentity(rawUserFromContact(user))
	if c.identities != nil {
		c.identities.Add(remoteUserID, identity)
	}
	return identity, nil
}

// ListUsers returns one page of the direct members of a department
func (c *Client) ListUsers(ctx context.Context, departmentID string, pageSize int, pageToken string) (*Page[*RemoteIdentity], error) {
	if departmentID == "" {
		departmentID = RootDepartmentID
	}

	builder := larkcontact.NewFindByDepartmentUserReqBuilder().
		DepartmentId(departmentID).
		DepartmentIdType(idTypeDepartment).
		UserIdType(idTypeUser).
		PageSize(clampPageSize(pageSize))
	if pageToken != "" {
		builder = builder.PageToken(pageToken)
	}
	req := builder.Build()

	page := &Page[*RemoteIdentity]{}
	err := c.withServiceToken(ctx, opListUsers, func(ctx context.Context, token larkcore.RequestOptionFunc) error {
		resp, err := c.sdk.Contact.V3.User.FindByDepartment(ctx, req, token)
		if err != nil {
			return sdkFailure(opListUsers, err)
		}
		if err := checkCode(opListUsers, resp.CodeError); err != nil {
			return err
		}
		if resp.Data == nil {
			return nil
		}
		page.HasMore = deref(resp.Data.HasMore)
		page.NextPageToken = deref(resp.Data.PageToken)
		page.Items = make([]*RemoteIdentity, 0, len(resp.Data.Items))
		for _, user := range resp.Data.Items {
			page.Items = append(page.Items, MapIdentity(rawUserFromContact(user)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// ListDepartments returns one page of all departments below parentID, recursively
func (c *Client) ListDepartments(ctx context.Context, parentID string, pageSize int, pageToken string) (*Page[*RemoteDepartment], error) {
	if parentID == "" {
		parentID = RootDepartmentID
	}

	builder := larkcontact.NewChildrenDepartmentReqBuilder().
		DepartmentId(parentID).
		DepartmentIdType(idTypeDepartment).
		UserIdType(idTypeUser).
		FetchChild(true).
		PageSize(clampPageSize(pageSize))
	if pageToken != "" {
		builder = builder.PageToken(pageToken)
	}
	req := builder.Build()

	page := &Page[*RemoteDepartment]{}
	err := c.withServiceToken(ctx, opListDepartments, func(ctx context.Context, token larkcore.RequestOptionFunc) error {
		resp, err := c.sdk.Contact.V3.Department.Children(ctx, req, token)
		if err != nil {
			return sdkFailure(opListDepartments, err)
		}
		if err := checkCode(opListDepartments, resp.CodeError); err != nil {
			return err
		}
		if resp.Data == nil {
			return nil
		}
		page.HasMore = deref(resp.Data.HasMore)
		page.NextPageToken = deref(resp.Data.PageToken)
		page.Items = make([]*RemoteDepartment, 0, len(resp.Data.Items))
		for _, dept := range resp.Data.Items {
			page.Items = append(page.Items, MapDepartment(rawDepartmentFromContact(dept)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// SearchUsers runs a free-text user search and returns up to limit identities
func (c *Client) SearchUsers(ctx context.Context, text string, limit int) ([]*RemoteIdentity, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	var results []*RemoteIdentity
	fetch := func(ctx context.Context, pageToken string) (*Page[*RemoteIdentity], error) {
		query := url.Values{}
		query.Set("query", text)
		query.Set("page_size", strconv.Itoa(clampPageSize(limit-len(results))))
		if pageToken != "" {
			query.Set("page_token", pageToken)
		}

		var resp struct {
			HasMore   bool      `json:"has_more"`
			PageToken string    `json:"page_token"`
			Users     []RawUser `json:"users"`
		}
		if err := c.call(ctx, opSearchUsers, http.MethodGet, pathSearchUsers, query, nil, &resp); err != nil {
			return nil, err
		}

		page := &Page[*RemoteIdentity]{NextPageToken: resp.PageToken, HasMore: resp.HasMore}
		for i := range resp.Users {
			page.Items = append(page.Items, MapIdentity(&resp.Users[i]))
		}
		return page, nil
	}

	err := Paginate(ctx, fetch, func(page *Page[*RemoteIdentity]) error {
		results = append(results, page.Items...)
		if len(results) >= limit {
			results = results[:limit]
			page.HasMore = false
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
