package websocket

import "testing"

func TestPayloadOf(t *testing.T) {
	if _, ok := payloadOf(nil); ok {
		t.Error("payloadOf(nil) reported a payload")
	}
	if _, ok := payloadOf([]any{"not a map"}); ok {
		t.Error("payloadOf accepted a non-map argument")
	}

	payload, ok := payloadOf([]any{map[string]any{"boardId": "b1"}, "extra"})
	if !ok {
		t.Fatal("payloadOf rejected a valid payload")
	}
	if payload["boardId"] != "b1" {
		t.Errorf("Unexpected payload: %v", payload)
	}
}

func TestFieldAccessors(t *testing.T) {
	payload := map[string]any{
		"boardId": "b1",
		"count":   float64(3),
		"shape":   map[string]any{"id": "s1"},
	}

	if got := stringField(payload, "boardId"); got != "b1" {
		t.Errorf("stringField(boardId): got %q", got)
	}
	if got := stringField(payload, "count"); got != "" {
		t.Errorf("stringField on a number: got %q, want empty", got)
	}
	if got := stringField(payload, "missing"); got != "" {
		t.Errorf("stringField on a missing key: got %q, want empty", got)
	}

	shape := mapField(payload, "shape")
	if shape == nil || shape["id"] != "s1" {
		t.Errorf("mapField(shape): got %v", shape)
	}
	if mapField(payload, "boardId") != nil {
		t.Error("mapField on a string key returned a map")
	}
}
