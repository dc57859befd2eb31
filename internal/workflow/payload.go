package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// stepPayload merges the run input with dependency results. An object input
// contributes its keys; any other input is nested under "input". Each
// dependency adds a key holding its result, overriding input keys of the same
// name.
func stepPayload(input json.RawMessage, step StepDefinition, results map[string]json.RawMessage) ([]byte, error) {
	merged := make(map[string]json.RawMessage)
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if trimmed[0] == '{' {
			if err := json.Unmarshal(trimmed, &merged); err != nil {
				return nil, fmt.Errorf("decode workflow input: %w", err)
			}
		} else {
			merged["input"] = json.RawMessage(trimmed)
		}
	}
	for _, dep := range step.DependsOn {
		merged[dep] = results[dep]
	}
	return json.Marshal(merged)
}

// resultJSON returns a handler result as JSON, quoting it as a string when it
// is not valid JSON already.
func resultJSON(result []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(result)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(trimmed) {
		return json.RawMessage(bytes.Clone(trimmed))
	}
	quoted, _ := json.Marshal(string(result))
	return json.RawMessage(quoted)
}
