package protocol

import (
	"github.com/boristopalov/fishery/pkg/messaging"
)

// NewRequest builds a request message for p carrying body as JSON.
func NewRequest(to string, p Protocol, body any) (messaging.Message, error) {
	encoded, err := Encode(body)
	if err != nil {
		return messaging.Message{}, err
	}
	return messaging.NewMessage(to, messaging.Request, string(p), encoded), nil
}

// NewReply answers in under the response protocol of p.
func NewReply(in messaging.Message, performative messaging.Performative, p Protocol, body any) (messaging.Message, error) {
	encoded, err := Encode(body)
	if err != nil {
		return messaging.Message{}, err
	}
	return messaging.Reply(in, performative, string(p.Response()), encoded), nil
}

// Of returns the protocol of a message.
func Of(msg messaging.Message) Protocol {
	return Protocol(msg.Protocol())
}

// RequestTemplate matches requests of protocol p.
func RequestTemplate(p Protocol) messaging.Template {
	return messaging.RequestTemplate(string(p))
}
