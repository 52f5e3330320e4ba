package message

// Channel-specific content models. A template's Content field for structured
// channels is the JSON encoding of one of these; free-text channels keep the
// rendered string directly.

// EmailContent is the payload carried by email templates
type EmailContent struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url,omitempty"` // comma separated attachment URLs
}

// SMSContent is the payload carried by SMS templates. Content holds the raw
// placeholder payload for the provider-side template; the provider fills it.
type SMSContent struct {
	TemplateCode string `json:"template_code"`
	Content      string `json:"content"`
	URL          string `json:"url,omitempty"`
}

// DingTalkContent is the payload carried by DingTalk robot templates.
// SendType starts as a numeric code and is mapped to the provider's msgtype
// name by the type-mapping stage before publish.
type DingTalkContent struct {
	SendType string `json:"send_type"`
	Content  string `json:"content"`
}

// FeishuContent is the payload carried by Feishu robot templates
type FeishuContent struct {
	SendType string `json:"send_type"`
	Content  string `json:"content"`
}

// WeComContent is the payload carried by Enterprise WeChat robot templates
type WeComContent struct {
	SendType string `json:"send_type"`
	Content  string `json:"content"`
}

// WeChatMPContent is the payload carried by WeChat service account templates.
// Content holds the raw placeholder payload for the provider-side template.
type WeChatMPContent struct {
	TemplateID string `json:"template_id"`
	URL        string `json:"url,omitempty"`
	Content    string `json:"content"`
}

// PushContent is the payload carried by app push templates
type PushContent struct {
	Title        string `json:"title"`
	Body         string `json:"body"`
	ClickType    string `json:"click_type"`
	URL          string `json:"url,omitempty"`
	Intent       string `json:"intent,omitempty"`
	Payload      string `json:"payload,omitempty"`
	ChannelLevel string `json:"channel_level,omitempty"`
}

// DingTalk robot send-type codes as stored in templates
const (
	DingTalkTypeText       = "10"
	DingTalkTypeLink       = "20"
	DingTalkTypeMarkdown   = "30"
	DingTalkTypeActionCard = "40"
	DingTalkTypeFeedCard   = "50"
)

// DingTalkTypeNames maps internal numeric send-type codes to the msgtype
// vocabulary the DingTalk API expects. Built once; treat as read-only.
var DingTalkTypeNames = map[string]string{
	DingTalkTypeText:       "text",
	DingTalkTypeLink:       "link",
	DingTalkTypeMarkdown:   "markdown",
	DingTalkTypeActionCard: "actionCard",
	DingTalkTypeFeedCard:   "feedCard",
}
