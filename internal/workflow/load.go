package workflow

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"scholarq/internal/queue"
	"scholarq/internal/services"
)

type definitionFile struct {
	Workflow []fileDefinition `toml:"workflow"`
}

type fileDefinition struct {
	Name  string     `toml:"name"`
	Steps []fileStep `toml:"step"`
}

// fileStep leaves Priority nil when the key is absent so it can default to
// normal, matching `scholarq submit`.
type fileStep struct {
	Name      string          `toml:"name"`
	Target    string          `toml:"target"`
	Method    string          `toml:"method"`
	DependsOn []string        `toml:"depends_on"`
	Priority  *queue.Priority `toml:"priority"`
}

func (f fileDefinition) definition() Definition {
	def := Definition{Name: f.Name, Steps: make([]StepDefinition, len(f.Steps))}
	for i, step := range f.Steps {
		priority := queue.PriorityNormal
		if step.Priority != nil {
			priority = *step.Priority
		}
		def.Steps[i] = StepDefinition{
			Name:      step.Name,
			Target:    step.Target,
			Method:    step.Method,
			DependsOn: step.DependsOn,
			Priority:  priority,
		}
	}
	return def
}

// LoadDefinitions reads and validates every [[workflow]] table in a TOML file.
// A step without a priority key runs at normal priority.
//
//	[[workflow]]
//	name = "review"
//
//	[[workflow.step]]
//	name = "search"
//	target = "search"
//
//	[[workflow.step]]
//	name = "summarize"
//	target = "llm"
//	method = "summarize"
//	depends_on = ["search"]
//	priority = "high"
func LoadDefinitions(path string) ([]Definition, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open workflow definitions: %w", err)
	}
	defer file.Close()

	var parsed definitionFile
	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse workflow definitions %s: %w", path, err)
	}

	defs := make([]Definition, 0, len(parsed.Workflow))
	seen := make(map[string]struct{}, len(parsed.Workflow))
	for _, raw := range parsed.Workflow {
		def := raw.definition()
		if _, err := def.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if _, dup := seen[def.Name]; dup {
			return nil, services.Wrap(services.ErrValidation, "workflow", "load", fmt.Sprintf("%s: workflow %q defined twice", path, def.Name), nil)
		}
		seen[def.Name] = struct{}{}
		defs = append(defs, def)
	}
	return defs, nil
}
