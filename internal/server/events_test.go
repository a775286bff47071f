package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDecodeEnvelope verifies frame parsing: valid envelopes round-trip,
// while non-JSON frames and frames without an event name are rejected.
func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"event":"sendMessage","data":{"receiver":"111"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventSendMessage, env.Event)
	assert.JSONEq(t, `{"receiver":"111"}`, string(env.Data))

	_, err = DecodeEnvelope([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeEnvelope([]byte(`{"data":{}}`))
	assert.Error(t, err)

	// A missing data field is valid; handlers decide whether a payload is
	// required.
	env, err = DecodeEnvelope([]byte(`{"event":"reject-call"}`))
	require.NoError(t, err)
	assert.Empty(t, env.Data)
}

// TestEncodeEnvelope verifies outbound framing, including the payload-free
// form used by call-rejected.
func TestEncodeEnvelope(t *testing.T) {
	frame, err := EncodeEnvelope(EventActiveUsers, []string{"111", "222"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"activeUsers","data":["111","222"]}`, string(frame))

	frame, err = EncodeEnvelope(EventCallRejected, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"call-rejected"}`, string(frame))
}

// TestEncodeEnvelopePreservesRawPayloads verifies that raw JSON payloads are
// embedded untouched, which is what keeps relayed messages byte-compatible.
func TestEncodeEnvelopePreservesRawPayloads(t *testing.T) {
	raw := json.RawMessage(`{"sender":"222","receiver":"111","text":"hi","extra":[1,2,3]}`)
	frame, err := EncodeEnvelope(EventReceiveMessage, raw)
	require.NoError(t, err)

	env, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, EventReceiveMessage, env.Event)
	assert.JSONEq(t, string(raw), string(env.Data))
}

// TestDecodePayloadMissing verifies that handlers see an error for events
// that arrive without their required payload.
func TestDecodePayloadMissing(t *testing.T) {
	var reg registration
	err := decodePayload(nil, &reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}
