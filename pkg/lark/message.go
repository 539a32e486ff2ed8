package lark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
)

const (
	pathMessages  = "/open-apis/im/v1/messages"
	opSendMessage = "send_message"
)

// MessageType is the platform msg_type of a message
type MessageType string

const (
	MessageText        MessageType = "text"
	MessagePost        MessageType = "post"
	MessageInteractive MessageType = "interactive"
)

// IDType tells the platform how to interpret a receive id
type IDType string

const (
	IDTypeOpenID  IDType = "open_id"
	IDTypeUnionID IDType = "union_id"
	IDTypeUserID  IDType = "user_id"
	IDTypeEmail   IDType = "email"
	IDTypeChatID  IDType = "chat_id"
)

var (
	// ErrEmptyReceiver is returned when a message has no target
	ErrEmptyReceiver = errors.New("message receive id is required")
	// ErrEmptyContent is returned when a message has no content
	ErrEmptyContent = errors.New("message content is required")
)

// MessageContent is one of TextContent, PostContent or Card
type MessageContent interface {
	MsgType() MessageType
	isMessageContent()
}

// Message is an outbound message to a single receiver
type Message struct {
	Content       MessageContent
	ReceiveID     string
	ReceiveIDType IDType
}

// TextContent is a plain text message
type TextContent struct {
	Text string `json:"text"`
}

func (TextContent) MsgType() MessageType { return MessageText }
func (TextContent) isMessageContent()    {}

// PostElement is one inline element of a rich text line
type PostElement struct {
	Tag    string `json:"tag"`
	Text   string `json:"text,omitempty"`
	Href   string `json:"href,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// PostContent is a rich text message made of lines of inline elements
type PostContent struct {
	Title string
	Lines [][]PostElement
}

func (PostContent) MsgType() MessageType { return MessagePost }
func (PostContent) isMessageContent()    {}

// MarshalJSON renders the post under the default locale
func (p PostContent) MarshalJSON() ([]byte, error) {
	lines := p.Lines
	if lines == nil {
		lines = [][]PostElement{}
	}
	return json.Marshal(map[string]interface{}{
		"zh_cn": map[string]interface{}{
			"title":   p.Title,
			"content": lines,
		},
	})
}

// Card is an interactive message card
type Card struct {
	Config   *CardConfig   `json:"config,omitempty"`
	Header   *CardHeader   `json:"header,omitempty"`
	Elements []CardElement `json:"elements"`
}

func (Card) MsgType() MessageType { return MessageInteractive }
func (Card) isMessageContent()    {}

// CardConfig controls card rendering
type CardConfig struct {
	WideScreenMode bool `json:"wide_screen_mode"`
	EnableForward  bool `json:"enable_forward"`
}

// CardHeader is the colored title bar of a card
type CardHeader struct {
	Title    CardText `json:"title"`
	Template string   `json:"template,omitempty"`
}

// CardText is a text node; Tag is plain_text or lark_md
type CardText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

// CardElement is a card body element; Tag is div, hr or action
type CardElement struct {
	Tag     string       `json:"tag"`
	Text    *CardText    `json:"text,omitempty"`
	Actions []CardButton `json:"actions,omitempty"`
}

// CardButton is a link button inside an action element
type CardButton struct {
	Tag  string   `json:"tag"`
	Text CardText `json:"text"`
	URL  string   `json:"url,omitempty"`
	Type string   `json:"type,omitempty"`
}

// SendMessage delivers msg and returns the platform message id
func (c *Client) SendMessage(ctx context.Context, msg *Message) (string, error) {
	if msg == nil || msg.Content == nil {
		return "", ErrEmptyContent
	}
	if msg.ReceiveID == "" {
		return "", ErrEmptyReceiver
	}
	idType := msg.ReceiveIDType
	if idType == "" {
		idType = IDTypeOpenID
	}

	content, err := json.Marshal(msg.Content)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message content: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(string(idType)).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(msg.ReceiveID).
			MsgType(string(msg.Content.MsgType())).
			Content(string(content)).
			Uuid(uuid.NewString()).
			Build()).
		Build()

	var messageID string
	err = c.withServiceToken(ctx, opSendMessage, func(ctx context.Context, token larkcore.RequestOptionFunc) error {
		resp, err := c.sdk.Im.V1.Message.Create(ctx, req, token)
		if err != nil {
			return sdkFailure(opSendMessage, err)
		}
		if err := checkCode(opSendMessage, resp.CodeError); err != nil {
			return err
		}
		if resp.Data != nil {
			messageID = deref(resp.Data.MessageId)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return messageID, nil
}
