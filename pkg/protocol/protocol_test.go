package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/fishery/pkg/messaging"
)

func TestProtocolSet(t *testing.T) {
	assert.True(t, IfCanEnterRequest.Valid())
	assert.True(t, RegisterFishDataResponse.Valid())
	assert.False(t, Protocol("fishing-access").Valid())

	assert.Equal(t, IfCanEnterResponse, IfCanEnterRequest.Response())
	assert.Equal(t, IfCanTakeFishResponse, IfCanTakeFishRequest.Response())
	assert.Equal(t, RegisterExitResponse, RegisterExitRequest.Response())
	assert.Equal(t, SendWaterQualityAlarm, SendWaterQualityAlarm.Response())
}

func TestWireFieldNames(t *testing.T) {
	exit := MustEncode(ExitRequest{
		Fisherman:   "fisher1@localhost",
		FishesTaken: 3,
		ExitTime:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	assert.JSONEq(t, `{"fisherman":"fisher1@localhost","fishes_taken":3,"exit_time":"2024-05-01T12:00:00Z"}`, exit)

	enter := MustEncode(EnterRequest{FishermanData: FishermanData{JID: "fisher1@localhost"}})
	assert.JSONEq(t, `{"fisherman_data":{"jid":"fisher1@localhost"}}`, enter)

	water := MustEncode(WaterQualityAlarm{ZScore: 1.5, PHData: []float64{7, 8}})
	assert.JSONEq(t, `{"z_score":1.5,"ph_data":[7,8]}`, water)
}

func TestDecode(t *testing.T) {
	t.Run("typed body per protocol", func(t *testing.T) {
		v, err := Decode(IfCanTakeFishRequest, `{"species":"carp","size":42.5,"mass":3.1}`)
		require.NoError(t, err)
		fish, ok := v.(*TakeFishRequest)
		require.True(t, ok)
		assert.Equal(t, "carp", fish.Species)
		assert.Equal(t, 42.5, fish.Size)
	})

	t.Run("protocol taken from the message", func(t *testing.T) {
		msg, err := NewRequest("owner@localhost", SendWaterQualityAlarm, WaterQualityAlarm{ZScore: 0.4, PHData: []float64{7.1}})
		require.NoError(t, err)
		assert.Equal(t, SendWaterQualityAlarm, Of(msg))

		v, err := Decode(Of(msg), msg.Body)
		require.NoError(t, err)
		alarm, ok := v.(*WaterQualityAlarm)
		require.True(t, ok)
		assert.Equal(t, 0.4, alarm.ZScore)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := Decode(IfCanEnterRequest, `{"fisherman_data":`)
		assert.ErrorIs(t, err, ErrMalformedBody)
	})

	t.Run("unknown protocol", func(t *testing.T) {
		_, err := Decode(Protocol("fishing-access"), `{}`)
		assert.ErrorIs(t, err, ErrUnknownProtocol)
	})
}

func TestNewReplyUsesResponseProtocol(t *testing.T) {
	req, err := NewRequest("owner@localhost", IfCanEnterRequest, EnterRequest{FishermanData: FishermanData{JID: "fisher1@localhost"}})
	require.NoError(t, err)
	req.From = "fisher1@localhost"
	req = req.With(messaging.KeyReplyWith, "rw-1").With(messaging.KeyConversationID, "c-1")

	reply, err := NewReply(req, messaging.Agree, IfCanEnterRequest, EnterResponse{Allow: true})
	require.NoError(t, err)
	assert.Equal(t, string(IfCanEnterResponse), reply.Protocol())
	assert.Equal(t, "rw-1", reply.InReplyTo())
	assert.Equal(t, "c-1", reply.ConversationID())
	assert.Equal(t, "fisher1@localhost", reply.To)
	assert.True(t, RequestTemplate(IfCanEnterRequest).Matches(req))
	assert.False(t, RequestTemplate(IfCanEnterRequest).Matches(reply))
}
