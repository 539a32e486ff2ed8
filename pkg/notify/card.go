package notify

import "github.com/platinummonkey/larkbridge/pkg/lark"

// CardAction is a link button on an approval card
type CardAction struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// ApprovalCard is the content of an approval notification
type ApprovalCard struct {
	Title   string       `json:"title"`
	Body    string       `json:"body"`
	Actions []CardAction `json:"actions,omitempty"`
	// Template is the header color; empty uses blue
	Template string `json:"template,omitempty"`
}

// Card renders the approval card as an interactive message card
func (c ApprovalCard) Card() lark.Card {
	template := c.Template
	if template == "" {
		template = "blue"
	}

	card := lark.Card{
		Config: &lark.CardConfig{WideScreenMode: true, EnableForward: false},
		Header: &lark.CardHeader{
			Title:    lark.CardText{Tag: "plain_text", Content: c.Title},
			Template: template,
		},
		Elements: []lark.CardElement{},
	}

	if c.Body != "" {
		card.Elements = append(card.Elements, lark.CardElement{
			Tag:  "div",
			Text: &lark.CardText{Tag: "lark_md", Content: c.Body},
		})
	}

	if len(c.Actions) > 0 {
		buttons := make([]lark.CardButton, 0, len(c.Actions))
		for i, action := range c.Actions {
			kind := "default"
			if i == 0 {
				kind = "primary"
			}
			buttons = append(buttons, lark.CardButton{
				Tag:  "button",
				Text: lark.CardText{Tag: "plain_text", Content: action.Label},
				URL:  action.URL,
				Type: kind,
			})
		}
		card.Elements = append(card.Elements, lark.CardElement{Tag: "hr"}, lark.CardElement{Tag: "action", Actions: buttons})
	}

	return card
}

// Text builds a plain text message content
func Text(text string) lark.TextContent {
	return lark.TextContent{Text: text}
}
