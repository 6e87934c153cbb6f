// stream.go decodes the stream-json wire format shared by several
// process-kind backends (Claude Code's `-p --output-format stream-json`
// among them), yielding Events for process.go's decodeProcessStream to
// forward through opts.Callbacks.OnEvent.
package dispatch

import "encoding/json"

// streamEvent is the top-level JSON structure from stream-json output.
type streamEvent struct {
	Type      string          `json:"type"`
	Event     json.RawMessage `json:"event"`
	SessionID string          `json:"session_id"`

	Result  json.RawMessage `json:"result"`
	CostUSD float64         `json:"cost_usd"`

	Content []contentBlock `json:"content"`
	IsError bool           `json:"is_error"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
}

type nestedEvent struct {
	Type         string        `json:"type"`
	ContentBlock *contentBlock `json:"content_block"`
	Delta        *deltaBlock   `json:"delta"`
}

type deltaBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type resultPayload struct {
	SessionID string `json:"session_id"`
}

// parseStreamLine decodes one stream-json line into at most one Event and
// at most one toolUse record. ok is false for lines that are empty,
// malformed, or carry nothing worth surfacing.
func parseStreamLine(line []byte) (ev *Event, use *toolUse, sessionID string, ok bool) {
	var top streamEvent
	if err := json.Unmarshal(line, &top); err != nil {
		return nil, nil, "", false
	}

	switch top.Type {
	case "stream_event":
		return parseNestedEvent(top.Event)

	case "result":
		if top.Result != nil {
			var payload resultPayload
			if err := json.Unmarshal(top.Result, &payload); err == nil && payload.SessionID != "" {
				sessionID = payload.SessionID
			}
		}
		if sessionID == "" {
			sessionID = top.SessionID
		}
		return nil, nil, sessionID, sessionID != ""

	default:
		return nil, nil, "", false
	}
}

func parseNestedEvent(raw json.RawMessage) (*Event, *toolUse, string, bool) {
	if raw == nil {
		return nil, nil, "", false
	}
	var nested nestedEvent
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, nil, "", false
	}

	switch nested.Type {
	case "content_block_delta":
		if nested.Delta != nil && nested.Delta.Type == "text_delta" && nested.Delta.Text != "" {
			return &Event{Kind: EventAssistantText, Text: nested.Delta.Text}, nil, "", true
		}

	case "content_block_start":
		if nested.ContentBlock != nil && nested.ContentBlock.Type == "tool_use" {
			inputStr := ""
			if nested.ContentBlock.Input != nil {
				inputStr = string(nested.ContentBlock.Input)
			}
			cb := nested.ContentBlock
			ev := &Event{
				Kind:     EventToolStarted,
				ToolID:   cb.ToolUseID,
				ToolName: cb.Name,
				ToolInput: inputStr,
			}
			return ev, &toolUse{id: cb.ToolUseID, name: cb.Name, input: inputStr}, "", true
		}
	}
	return nil, nil, "", false
}
