package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNATSSubjectMapping(t *testing.T) {
	assert.Equal(t, "chatsync.conversations", subject("conversations"))
	assert.Equal(t, "chatsync.messages.c1", subject("messages:c1"))
	assert.Equal(t, "chatsync.typing.c1", subject("typing:c1"))
}

func TestMarshalPayloadPassesRawThrough(t *testing.T) {
	raw := json.RawMessage(`{"already":"encoded"}`)
	got, err := marshalPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = marshalPayload(map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, string(got))
}

func TestFrameRoundTrip(t *testing.T) {
	f := frame{Action: actionPublish, Scope: "typing:c1", Event: "typing", Payload: json.RawMessage(`{"user_id":"u1","is_typing":true}`)}
	b, err := json.Marshal(f)
	require.NoError(t, err)

	var back frame
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, f.Scope, back.Scope)
	assert.Equal(t, f.Event, back.Event)
	assert.JSONEq(t, string(f.Payload), string(back.Payload))
}
