package logs

import (
	"encoding/json"
	"strings"

	"scholarq/internal/logging"
)

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// Filter selects JSON log records. Zero fields match everything; lines that
// are not JSON objects only pass an empty filter.
type Filter struct {
	TaskID     string
	WorkflowID string
	Target     string
	MinLevel   string
}

func (f Filter) empty() bool {
	return f == Filter{}
}

// Matches reports whether line satisfies every non-empty field. Task and
// workflow ids match by prefix so the short ids printed by the CLI work.
func (f Filter) Matches(line string) bool {
	if f.empty() {
		return true
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return false
	}
	if !prefixField(record, logging.FieldTaskID, f.TaskID) {
		return false
	}
	if !prefixField(record, logging.FieldWorkflowID, f.WorkflowID) {
		return false
	}
	if f.Target != "" {
		if value, _ := record[logging.FieldTarget].(string); value != f.Target {
			return false
		}
	}
	if f.MinLevel != "" {
		want, ok := levelRank[strings.ToLower(f.MinLevel)]
		level, _ := record["level"].(string)
		have, known := levelRank[strings.ToLower(level)]
		if ok && (!known || have < want) {
			return false
		}
	}
	return true
}

func prefixField(record map[string]any, key, want string) bool {
	if want == "" {
		return true
	}
	value, _ := record[key].(string)
	return value != "" && strings.HasPrefix(value, want)
}
