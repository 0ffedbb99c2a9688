package cdp

import (
	"testing"
)

func TestParseMessage_Response(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      string
		wantID     int64
		wantResult string
	}{
		{
			name:       "successful response",
			input:      `{"id":1,"result":{"frameId":"ABC123"}}`,
			wantID:     1,
			wantResult: `{"frameId":"ABC123"}`,
		},
		{
			name:       "response with null result",
			input:      `{"id":42,"result":null}`,
			wantID:     42,
			wantResult: `null`,
		},
		{
			name:       "response with empty result",
			input:      `{"id":5,"result":{}}`,
			wantID:     5,
			wantResult: `{}`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, evt, err := parseMessage([]byte(tt.input))
			if err != nil {
				t.Fatalf("unexpected parse error: %v", err)
			}
			if evt != nil {
				t.Errorf("expected event to be nil, got %+v", evt)
			}
			if resp == nil {
				t.Fatal("expected response, got nil")
			}
			if resp.ID != tt.wantID {
				t.Errorf("expected ID %d, got %d", tt.wantID, resp.ID)
			}
			if string(resp.Result) != tt.wantResult {
				t.Errorf("expected result %s, got %s", tt.wantResult, string(resp.Result))
			}
		})
	}
}

func TestParseMessage_ResponseWithError(t *testing.T) {
	t.Parallel()

	input := `{"id":1,"error":{"code":-32000,"message":"Target closed","data":"extra info"}}`

	resp, evt, err := parseMessage([]byte(input))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if evt != nil {
		t.Errorf("expected event to be nil, got %+v", evt)
	}
	if resp == nil {
		t.Fatal("expected response, got nil")
	}
	if resp.Error == nil {
		t.Fatal("expected error, got nil")
	}
	if resp.Error.Code != -32000 {
		t.Errorf("expected code -32000, got %d", resp.Error.Code)
	}
	if resp.Error.Message != "Target closed" {
		t.Errorf("expected message 'Target closed', got %s", resp.Error.Message)
	}
	if resp.Error.Data != "extra info" {
		t.Errorf("expected data 'extra info', got %s", resp.Error.Data)
	}
}

func TestParseMessage_Event(t *testing.T) {
	t.Parallel()

	input := `{"method":"Network.requestWillBeSent","params":{"requestId":"1.1"},"sessionId":"SESSION1"}`

	resp, evt, err := parseMessage([]byte(input))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if resp != nil {
		t.Errorf("expected response to be nil, got %+v", resp)
	}
	if evt == nil {
		t.Fatal("expected event, got nil")
	}
	if evt.Method != "Network.requestWillBeSent" {
		t.Errorf("expected method Network.requestWillBeSent, got %s", evt.Method)
	}
	if string(evt.Params) != `{"requestId":"1.1"}` {
		t.Errorf("unexpected params: %s", string(evt.Params))
	}
	if evt.SessionID != "SESSION1" {
		t.Errorf("expected session SESSION1, got %s", evt.SessionID)
	}
}

func TestParseMessage_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "not json", input: `{not valid`},
		{name: "no id or method", input: `{"result":{}}`},
		{name: "empty object", input: `{}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, evt, err := parseMessage([]byte(tt.input))
			if err == nil {
				t.Error("expected parse error, got nil")
			}
			if resp != nil || evt != nil {
				t.Errorf("expected nil response and event, got %+v %+v", resp, evt)
			}
		})
	}
}

func TestError_Error(t *testing.T) {
	t.Parallel()

	e := &Error{Code: -32601, Message: "method not found"}
	if got := e.Error(); got != "cdp error -32601: method not found" {
		t.Errorf("unexpected error string: %s", got)
	}

	e.Data = "Page.doesNotExist"
	if got := e.Error(); got != "cdp error -32601: method not found (Page.doesNotExist)" {
		t.Errorf("unexpected error string with data: %s", got)
	}
}
