package messaging

// Template is a partial match over a message. Empty fields match anything;
// every key in Metadata must be present on the message with the same value.
type Template struct {
	To       string
	From     string
	Metadata Metadata
}

// Matches reports whether msg satisfies the template.
func (t Template) Matches(msg Message) bool {
	if t.To != "" && t.To != msg.To {
		return false
	}
	if t.From != "" && t.From != msg.From {
		return false
	}
	for k, v := range t.Metadata {
		if got, ok := msg.Metadata[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// Matches is the function form of Template.Matches. A nil template
// matches every message.
func Matches(t *Template, msg Message) bool {
	if t == nil {
		return true
	}
	return t.Matches(msg)
}

// ProtocolTemplate matches any message of the given protocol.
func ProtocolTemplate(protocol string) Template {
	return Template{Metadata: Metadata{KeyProtocol: protocol}}
}

// RequestTemplate matches requests of the given protocol.
func RequestTemplate(protocol string) Template {
	return Template{Metadata: Metadata{
		KeyProtocol:     protocol,
		KeyPerformative: string(Request),
	}}
}

// ReplyTemplate matches replies to the message sent with replyWith.
func ReplyTemplate(replyWith string) Template {
	return Template{Metadata: Metadata{KeyInReplyTo: replyWith}}
}
