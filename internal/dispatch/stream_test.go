package dispatch

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func streamLines(lines ...string) *bytes.Reader {
	return bytes.NewReader([]byte(strings.Join(lines, "\n") + "\n"))
}

func TestParseStreamLine_TextDelta(t *testing.T) {
	ev, use, sessionID, ok := parseStreamLine([]byte(
		`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hello"}}}`))
	if !ok {
		t.Fatal("expected ok")
	}
	if ev == nil || ev.Kind != EventAssistantText || ev.Text != "Hello" {
		t.Fatalf("ev = %+v", ev)
	}
	if use != nil || sessionID != "" {
		t.Fatalf("use = %+v, sessionID = %q", use, sessionID)
	}
}

func TestParseStreamLine_ToolUse(t *testing.T) {
	ev, use, _, ok := parseStreamLine([]byte(
		`{"type":"stream_event","event":{"type":"content_block_start","content_block":{"type":"tool_use","name":"Read","tool_use_id":"t1","input":{"file_path":"main.go"}}}}`))
	if !ok {
		t.Fatal("expected ok")
	}
	if ev == nil || ev.Kind != EventToolStarted || ev.ToolName != "Read" || ev.ToolID != "t1" {
		t.Fatalf("ev = %+v", ev)
	}
	if use == nil || use.name != "Read" {
		t.Fatalf("use = %+v", use)
	}
}

func TestParseStreamLine_ResultSessionID(t *testing.T) {
	_, _, sessionID, ok := parseStreamLine([]byte(
		`{"type":"result","result":{"cost_usd":0.01,"session_id":"sess-123"}}`))
	if !ok || sessionID != "sess-123" {
		t.Fatalf("sessionID = %q, ok = %v", sessionID, ok)
	}
}

func TestParseStreamLine_MalformedAndUnknown(t *testing.T) {
	if _, _, _, ok := parseStreamLine([]byte(`not json`)); ok {
		t.Fatal("malformed line should not be ok")
	}
	if _, _, _, ok := parseStreamLine([]byte(`{"type":"system"}`)); ok {
		t.Fatal("unknown event type should not be ok")
	}
}

func TestDecodeProcessStream_AccumulatesTextAndToolUses(t *testing.T) {
	input := streamLines(
		`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hello"}}}`,
		`{"type":"stream_event","event":{"type":"content_block_start","content_block":{"type":"tool_use","name":"bash","tool_use_id":"t1","input":{}}}}`,
		`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":" world"}}}`,
		`{"type":"result","result":{"session_id":"s1"}}`,
	)

	var events []Event
	opts := Options{Callbacks: Callbacks{OnEvent: func(ev Event) { events = append(events, ev) }}}
	decoded := decodeProcessStream(context.Background(), input, opts)

	if decoded.text != "Hello world" {
		t.Fatalf("text = %q", decoded.text)
	}
	if decoded.sessionID != "s1" {
		t.Fatalf("sessionID = %q", decoded.sessionID)
	}
	if len(decoded.toolUses) != 1 || decoded.toolUses[0].name != "bash" {
		t.Fatalf("toolUses = %+v", decoded.toolUses)
	}
	// Events arrive in stream order: text, tool_started, text.
	if len(events) != 3 || events[0].Kind != EventAssistantText || events[1].Kind != EventToolStarted {
		t.Fatalf("events = %+v", events)
	}
}
