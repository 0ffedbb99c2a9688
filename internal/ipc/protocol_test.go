package ipc

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest_FlattensPayload(t *testing.T) {
	t.Parallel()

	req, frame, err := NewRequest(CmdPeek, PeekParams{LastN: 20, Offset: 5})
	require.NoError(t, err)

	assert.Equal(t, "peek_request", req.Type)
	_, err = uuid.Parse(req.SessionID)
	assert.NoError(t, err, "sessionId must be a UUID")

	// Payload fields sit at the top level of the frame
	var fields map[string]any
	require.NoError(t, json.Unmarshal(frame, &fields))
	assert.Equal(t, "peek_request", fields["type"])
	assert.Equal(t, req.SessionID, fields["sessionId"])
	assert.Equal(t, float64(20), fields["lastN"])
	assert.Equal(t, float64(5), fields["offset"])
}

func TestRequest_DecodePayload(t *testing.T) {
	t.Parallel()

	frame := []byte(`{"type":"details_request","sessionId":"abc","itemType":"network","id":"1000.7"}`)

	var req Request
	require.NoError(t, json.Unmarshal(frame, &req))
	assert.Equal(t, "details_request", req.Type)
	assert.Equal(t, "details", req.Name())
	assert.Equal(t, "abc", req.SessionID)

	var params DetailsParams
	require.NoError(t, req.Decode(&params))
	assert.Equal(t, "network", params.ItemType)
	assert.Equal(t, "1000.7", params.ID)
}

func TestSuccessResponse_EchoesSessionID(t *testing.T) {
	t.Parallel()

	req, _, err := NewRequest(CmdStatus, nil)
	require.NoError(t, err)

	resp := SuccessResponse(req, StatusData{NetworkCount: 3})
	assert.Equal(t, "status_response", resp.Type)
	assert.Equal(t, req.SessionID, resp.SessionID)
	assert.True(t, resp.OK())

	var data StatusData
	require.NoError(t, resp.DecodeData(&data))
	assert.Equal(t, 3, data.NetworkCount)
}

func TestErrorResponse(t *testing.T) {
	t.Parallel()

	req, _, err := NewRequest(CmdStopSession, nil)
	require.NoError(t, err)

	resp := CodedErrorResponse(req, CodeNoSession, "no active session")
	assert.Equal(t, "stop_session_response", resp.Type)
	assert.Equal(t, req.SessionID, resp.SessionID)
	assert.False(t, resp.OK())
	assert.Equal(t, "no active session", resp.Error)
	assert.Equal(t, CodeNoSession, resp.ErrorCode)
}

func TestResponse_RoundTrip(t *testing.T) {
	t.Parallel()

	req, _, err := NewRequest(CmdPeek, PeekParams{LastN: 1})
	require.NoError(t, err)

	resp := SuccessResponse(req, PeekData{
		Network:      []NetworkRequest{{RequestID: "1.1", URL: "https://example.com", Method: "GET", Status: 200}},
		Console:      []ConsoleMessage{{Type: "log", Text: "hello", Timestamp: 1700000000000}},
		NetworkTotal: 1,
		ConsoleTotal: 1,
	})

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded Response
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, resp.SessionID, decoded.SessionID)

	var peek PeekData
	require.NoError(t, decoded.DecodeData(&peek))
	require.Len(t, peek.Network, 1)
	assert.Equal(t, "1.1", peek.Network[0].RequestID)
	assert.Equal(t, 200, peek.Network[0].Status)
	require.Len(t, peek.Console, 1)
	assert.Equal(t, "hello", peek.Console[0].Text)
}
