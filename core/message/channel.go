// Package message defines the data model shared by the send chain, the
// channel handlers and the delivery confirmation tracker.
package message

// Channel identifies a delivery medium by its wire code
type Channel int

// Supported channels. The codes are part of the stored envelope format and
// must stay stable.
const (
	ChannelEmail         Channel = 10
	ChannelSMS           Channel = 20
	ChannelDingTalkRobot Channel = 30
	ChannelWeChatMP      Channel = 40
	ChannelPush          Channel = 50
	ChannelFeishuRobot   Channel = 60
	ChannelWeComRobot    Channel = 70
)

// ReceiverDelimiter separates receivers in a raw send request
const ReceiverDelimiter = ","

var channelNames = map[Channel]string{
	ChannelEmail:         "email",
	ChannelSMS:           "sms",
	ChannelDingTalkRobot: "dingTalkRobot",
	ChannelWeChatMP:      "weChatServiceAccount",
	ChannelPush:          "push",
	ChannelFeishuRobot:   "feishuRobot",
	ChannelWeComRobot:    "weComRobot",
}

// String returns the handler name for the channel
func (c Channel) String() string {
	if name, ok := channelNames[c]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether the channel code is supported
func (c Channel) Valid() bool {
	_, ok := channelNames[c]
	return ok
}

// Channels returns all supported channel codes
func Channels() []Channel {
	return []Channel{
		ChannelEmail,
		ChannelSMS,
		ChannelDingTalkRobot,
		ChannelWeChatMP,
		ChannelPush,
		ChannelFeishuRobot,
		ChannelWeComRobot,
	}
}

// structuredContentChannels lists channels whose payload is not free text, so
// placeholder expansion writes the structured content field directly instead
// of substituting into the template body.
var structuredContentChannels = map[Channel]bool{
	ChannelSMS:      true,
	ChannelWeChatMP: true,
}

// HasStructuredContent reports whether the channel carries a structured
// payload instead of free-text template content.
func (c Channel) HasStructuredContent() bool {
	return structuredContentChannels[c]
}
