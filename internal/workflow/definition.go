package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"scholarq/internal/queue"
	"scholarq/internal/services"
)

// ErrCycle reports a dependency cycle in a definition.
var ErrCycle = errors.New("workflow has a dependency cycle")

// StepDefinition describes one node of a workflow graph. The zero Priority is
// queue.PriorityLow; LoadDefinitions fills in normal for steps that omit it.
type StepDefinition struct {
	Name      string         `toml:"name" json:"name" validate:"required"`
	Target    string         `toml:"target" json:"target" validate:"required"`
	Method    string         `toml:"method" json:"method,omitempty"`
	DependsOn []string       `toml:"depends_on" json:"depends_on,omitempty" validate:"dive,required"`
	Priority  queue.Priority `toml:"priority" json:"priority" validate:"min=0,max=3"`
}

// Definition is a named workflow graph.
type Definition struct {
	Name  string           `toml:"name" json:"name" validate:"required"`
	Steps []StepDefinition `toml:"step" json:"steps" validate:"required,min=1,unique=Name,dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the definition and returns its steps in a dependency-respecting
// order. Steps without ordering constraints keep their declaration order.
func (d Definition) Validate() ([]StepDefinition, error) {
	if err := validate.Struct(d); err != nil {
		return nil, invalid(d.Name, describeValidation(err))
	}

	declared := make(map[string]int, len(d.Steps))
	for i, step := range d.Steps {
		declared[step.Name] = i
	}
	for _, step := range d.Steps {
		seen := make(map[string]struct{}, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			if dep == step.Name {
				return nil, invalid(d.Name, fmt.Sprintf("step %q depends on itself", step.Name))
			}
			if _, ok := declared[dep]; !ok {
				return nil, invalid(d.Name, fmt.Sprintf("step %q depends on undeclared step %q", step.Name, dep))
			}
			if _, dup := seen[dep]; dup {
				return nil, invalid(d.Name, fmt.Sprintf("step %q lists dependency %q twice", step.Name, dep))
			}
			seen[dep] = struct{}{}
		}
	}

	order, remaining := topologicalOrder(d.Steps, declared)
	if len(remaining) > 0 {
		return nil, services.Wrap(services.ErrValidation, "workflow", "validate "+d.Name,
			"steps "+strings.Join(remaining, ", "), ErrCycle)
	}
	return order, nil
}

// topologicalOrder applies Kahn's algorithm. Steps left over sit on a cycle
// or downstream of one.
func topologicalOrder(steps []StepDefinition, declared map[string]int) ([]StepDefinition, []string) {
	indegree := make([]int, len(steps))
	dependents := make([][]int, len(steps))
	for i, step := range steps {
		indegree[i] = len(step.DependsOn)
		for _, dep := range step.DependsOn {
			j := declared[dep]
			dependents[j] = append(dependents[j], i)
		}
	}

	var ready []int
	for i := range steps {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]StepDefinition, 0, len(steps))
	for len(ready) > 0 {
		sort.Ints(ready)
		i := ready[0]
		ready = ready[1:]
		order = append(order, steps[i])
		for _, j := range dependents[i] {
			indegree[j]--
			if indegree[j] == 0 {
				ready = append(ready, j)
			}
		}
	}

	var remaining []string
	for i, step := range steps {
		if indegree[i] > 0 {
			remaining = append(remaining, step.Name)
		}
	}
	return order, remaining
}

func invalid(name, message string) error {
	return services.Wrap(services.ErrValidation, "workflow", "validate "+name, message, nil)
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Definition.")
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "unique":
			parts = append(parts, field+" must have unique "+fe.Param()+" values")
		case "min", "max":
			parts = append(parts, fmt.Sprintf("%s fails %s=%s", field, fe.Tag(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s fails %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
