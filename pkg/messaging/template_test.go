package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTemplateMatches(t *testing.T) {
	msg := Message{
		From: "fisher1@localhost",
		To:   "owner@localhost",
		Metadata: Metadata{
			KeyPerformative: string(Request),
			KeyProtocol:     "if_can_enter_request",
			KeyLanguage:     LanguageJSON,
		},
	}

	tests := []struct {
		name string
		tmpl Template
		want bool
	}{
		{"empty template matches anything", Template{}, true},
		{"recipient equal", Template{To: "owner@localhost"}, true},
		{"recipient differs", Template{To: "water_caretaker@localhost"}, false},
		{"sender equal", Template{From: "fisher1@localhost"}, true},
		{"sender differs", Template{From: "fisher2@localhost"}, false},
		{"protocol template", ProtocolTemplate("if_can_enter_request"), true},
		{"request template", RequestTemplate("if_can_enter_request"), true},
		{"wrong protocol", ProtocolTemplate("register_exit_request"), false},
		{"metadata key missing on message", Template{Metadata: Metadata{KeyInReplyTo: "x"}}, false},
		{"metadata key with empty value is not a wildcard", Template{Metadata: Metadata{KeyInReplyTo: ""}}, false},
		{"all fields", Template{
			To:   "owner@localhost",
			From: "fisher1@localhost",
			Metadata: Metadata{
				KeyProtocol:     "if_can_enter_request",
				KeyPerformative: string(Request),
			},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tmpl.Matches(msg))
			assert.Equal(t, tt.want, Matches(&tt.tmpl, msg))
		})
	}

	t.Run("request template ignores queries on the same protocol", func(t *testing.T) {
		query := NewMessage("owner@localhost", QueryIf, "if_can_enter_request", "{}")
		assert.False(t, RequestTemplate("if_can_enter_request").Matches(query))
		assert.True(t, ProtocolTemplate("if_can_enter_request").Matches(query))
		assert.True(t, Template{Metadata: Metadata{KeyPerformative: string(QueryIf)}}.Matches(query))
	})

	t.Run("nil template matches", func(t *testing.T) {
		assert.True(t, Matches(nil, msg))
	})

	t.Run("matching leaves message untouched", func(t *testing.T) {
		before := msg.Metadata.Clone()
		RequestTemplate("if_can_enter_request").Matches(msg)
		assert.Equal(t, before, msg.Metadata)
	})
}

func TestMessageWithCopiesMetadata(t *testing.T) {
	orig := NewMessage("owner@localhost", Request, "if_can_enter_request", "{}")
	changed := orig.With(KeyPerformative, string(Agree))

	assert.Equal(t, Request, orig.Performative())
	assert.Equal(t, Agree, changed.Performative())
	assert.Equal(t, LanguageJSON, changed.Get(KeyLanguage))
}
