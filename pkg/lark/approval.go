package lark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkapproval "github.com/larksuite/oapi-sdk-go/v3/service/approval/v4"
)

const (
	pathApprovalInstances = "/open-apis/approval/v4/instances"

	opCreateApproval = "create_approval"
	opGetApproval    = "get_approval"
)

// Approval instance and task states reported by the platform
const (
	ApprovalPending  = "PENDING"
	ApprovalApproved = "APPROVED"
	ApprovalRejected = "REJECTED"
	ApprovalCanceled = "CANCELED"
	ApprovalDeleted  = "DELETED"
)

// ErrMissingTemplate is returned when an approval is requested without a template code
var ErrMissingTemplate = errors.New("approval template code is required")

// FormField is one widget value of an approval form
type FormField struct {
	ID    string      `json:"id"`
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// ApprovalRequest creates an approval instance on behalf of OpenID
type ApprovalRequest struct {
	TemplateCode string
	OpenID       string
	Form         []FormField
}

// ApprovalCreated identifies a newly created approval instance
type ApprovalCreated struct {
	InstanceCode string `json:"instance_code"`
	URL          string `json:"url"`
}

// ApproverState is the progress of one approval task
type ApproverState struct {
	OpenID   string `json:"open_id"`
	UserID   string `json:"user_id"`
	NodeName string `json:"node_name"`
	Status   string `json:"status"`
}

// ApprovalStatus is the current state of an approval instance
type ApprovalStatus struct {
	InstanceCode    string          `json:"instance_code"`
	Status          string          `json:"status"`
	CurrentNodeName string          `json:"current_node_name"`
	Approvers       []ApproverState `json:"approvers"`
}

// CreateApproval starts an approval instance and returns its code and detail link
func (c *Client) CreateApproval(ctx context.Context, in *ApprovalRequest) (*ApprovalCreated, error) {
	if in == nil || in.TemplateCode == "" {
		return nil, ErrMissingTemplate
	}
	if in.OpenID == "" {
		return nil, ErrEmptyReceiver
	}

	form := in.Form
	if form == nil {
		form = []FormField{}
	}
	formJSON, err := json.Marshal(form)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal approval form: %w", err)
	}

	req := larkapproval.NewCreateInstanceReqBuilder().
		InstanceCreate(larkapproval.NewInstanceCreateBuilder().
			ApprovalCode(in.TemplateCode).
			OpenId(in.OpenID).
			Form(string(formJSON)).
			Build()).
		Build()

	var instanceCode string
	err = c.withServiceToken(ctx, opCreateApproval, func(ctx context.Context, token larkcore.RequestOptionFunc) error {
		resp, err := c.sdk.Approval.V4.Instance.Create(ctx, req, token)
		if err != nil {
			return sdkFailure(opCreateApproval, err)
		}
		if err := checkCode(opCreateApproval, resp.CodeError); err != nil {
			return err
		}
		if resp.Data != nil {
			instanceCode = deref(resp.Data.InstanceCode)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &ApprovalCreated{
		InstanceCode: instanceCode,
		URL:          c.approvalURL(instanceCode),
	}, nil
}

// GetApproval queries the status of an approval instance
func (c *Client) GetApproval(ctx context.Context, instanceCode string) (*ApprovalStatus, error) {
	req := larkapproval.NewGetInstanceReqBuilder().
		InstanceId(instanceCode).
		Build()

	status := &ApprovalStatus{InstanceCode: instanceCode, Approvers: []ApproverState{}}
	err := c.withServiceToken(ctx, opGetApproval, func(ctx context.Context, token larkcore.RequestOptionFunc) error {
		resp, err := c.sdk.Approval.V4.Instance.Get(ctx, req, token)
		if err != nil {
			return sdkFailure(opGetApproval, err)
		}
		if err := checkCode(opGetApproval, resp.CodeError); err != nil {
			return err
		}
		if resp.Data == nil {
			return nil
		}
		status.Status = deref(resp.Data.Status)
		for _, task := range resp.Data.TaskList {
			if task == nil {
				continue
			}
			approver := ApproverState{
				OpenID:   deref(task.OpenId),
				UserID:   deref(task.UserId),
				NodeName: deref(task.NodeName),
				Status:   deref(task.Status),
			}
			status.Approvers = append(status.Approvers, approver)
			if status.CurrentNodeName == "" && approver.Status == ApprovalPending {
				status.CurrentNodeName = approver.NodeName
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return status, nil
}

func (c *Client) approvalURL(instanceCode string) string {
	if instanceCode == "" {
		return ""
	}
	return c.cfg.ApprovalURLBase + "?instanceCode=" + url.QueryEscape(instanceCode)
}
