package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/larkbridge/pkg/accounts"
	"github.com/platinummonkey/larkbridge/pkg/async"
	"github.com/platinummonkey/larkbridge/pkg/lark"
	"github.com/platinummonkey/larkbridge/pkg/observability"
	"github.com/sirupsen/logrus"
)

// ErrUnboundAccount is returned when the target account has no platform binding to address
var ErrUnboundAccount = errors.New("account has no platform binding")

const (
	kindMessage        = "message"
	kindApproval       = "approval"
	kindApprovalCard   = "approval_card"
	kindApprovalStatus = "approval_status"

	// DefaultFanout bounds concurrent sends in NotifyMany
	DefaultFanout = 4
)

// Platform is the part of the platform client the dispatcher needs. *lark.Client satisfies it.
type Platform interface {
	SendMessage(ctx context.Context, msg *lark.Message) (string, error)
	CreateApproval(ctx context.Context, req *lark.ApprovalRequest) (*lark.ApprovalCreated, error)
	GetApproval(ctx context.Context, instanceCode string) (*lark.ApprovalStatus, error)
}

var _ Platform = (*lark.Client)(nil)

// Delivery is the outcome of one message in NotifyMany
type Delivery struct {
	AccountID int64
	MessageID string
	Err       error
}

// Dispatcher sends messages and approval requests to local accounts through their binding
type Dispatcher struct {
	platform Platform
	accounts accounts.AccountRepository
	logger   *logrus.Logger
	metrics  *observability.Metrics
	fanout   int
}

// NewDispatcher creates a new notification dispatcher
func NewDispatcher(platform Platform, repo accounts.AccountRepository, logger *logrus.Logger, metrics *observability.Metrics) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		platform: platform,
		accounts: repo,
		logger:   logger,
		metrics:  metrics,
		fanout:   DefaultFanout,
	}
}

// resolve loads the binding of accountID. No platform call happens before it succeeds.
func (d *Dispatcher) resolve(ctx context.Context, accountID int64) (*accounts.AccountBinding, error) {
	account, err := d.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %d: %w", accountID, err)
	}
	binding, err := account.Binding()
	if err != nil {
		return nil, err
	}
	if binding == nil || (binding.OpenID == "" && binding.RemoteUserID == "") {
		return nil, fmt.Errorf("account %d: %w", accountID, ErrUnboundAccount)
	}
	return binding, nil
}

// receiver addresses the binding by open id, falling back to the remote user id
func receiver(binding *accounts.AccountBinding) (string, lark.IDType) {
	if binding.OpenID != "" {
		return binding.OpenID, lark.IDTypeOpenID
	}
	return binding.RemoteUserID, lark.IDTypeUserID
}

// Notify sends content to the account and returns the platform message id
func (d *Dispatcher) Notify(ctx context.Context, accountID int64, content lark.MessageContent) (string, error) {
	return d.send(ctx, kindMessage, accountID, content)
}

func (d *Dispatcher) send(ctx context.Context, kind string, accountID int64, content lark.MessageContent) (string, error) {
	binding, err := d.resolve(ctx, accountID)
	if err != nil {
		return "", err
	}

	receiveID, idType := receiver(binding)
	messageID, err := d.platform.SendMessage(ctx, &lark.Message{
		Content:       content,
		ReceiveID:     receiveID,
		ReceiveIDType: idType,
	})
	d.metrics.RecordNotification(kind, err)
	if err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"account_id": accountID,
			"kind":       kind,
		}).Warn("Notification failed")
		return "", fmt.Errorf("failed to notify account %d: %w", accountID, err)
	}
	return messageID, nil
}

// NotifyMany sends content to every account, a few at a time, and reports each outcome
// in the order of accountIDs. One failing account does not stop the others.
func (d *Dispatcher) NotifyMany(ctx context.Context, accountIDs []int64, content lark.MessageContent) []Delivery {
	deliveries := make([]Delivery, len(accountIDs))
	indices := make([]int, len(accountIDs))
	for i, id := range accountIDs {
		indices[i] = i
		deliveries[i].AccountID = id
	}

	errs := async.Batch(ctx, indices, d.fanout, func(ctx context.Context, i int) error {
		messageID, err := d.Notify(ctx, accountIDs[i], content)
		deliveries[i].MessageID = messageID
		return err
	})
	for i := range deliveries {
		deliveries[i].Err = errs[i]
	}
	return deliveries
}

// CreateApproval starts an approval instance on behalf of the account
func (d *Dispatcher) CreateApproval(ctx context.Context, accountID int64, templateCode string, form []lark.FormField) (*lark.ApprovalCreated, error) {
	binding, err := d.resolve(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if binding.OpenID == "" {
		return nil, fmt.Errorf("account %d has no open id: %w", accountID, ErrUnboundAccount)
	}

	created, err := d.platform.CreateApproval(ctx, &lark.ApprovalRequest{
		TemplateCode: templateCode,
		OpenID:       binding.OpenID,
		Form:         form,
	})
	d.metrics.RecordNotification(kindApproval, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create approval for account %d: %w", accountID, err)
	}

	d.logger.WithFields(logrus.Fields{
		"account_id":    accountID,
		"instance_code": created.InstanceCode,
	}).Info("Approval created")
	return created, nil
}

// ApprovalStatus returns the current state of an approval instance
func (d *Dispatcher) ApprovalStatus(ctx context.Context, instanceCode string) (*lark.ApprovalStatus, error) {
	status, err := d.platform.GetApproval(ctx, instanceCode)
	d.metrics.RecordNotification(kindApprovalStatus, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query approval %s: %w", instanceCode, err)
	}
	return status, nil
}

// SendApprovalNotification sends an interactive approval card to the account
func (d *Dispatcher) SendApprovalNotification(ctx context.Context, accountID int64, card ApprovalCard) (string, error) {
	return d.send(ctx, kindApprovalCard, accountID, card.Card())
}
