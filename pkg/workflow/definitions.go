package workflow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/elena-cav/stepflow/pkg/datapath"
	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/registry"
	"github.com/xeipuuv/gojsonschema"
)

var compiledDefinitionSchema = func() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(definitionSchema))
	if err != nil {
		panic(fmt.Sprintf("definition schema does not compile: %v", err))
	}

	return schema
}()

// ValidateDocument checks a decoded definition document against the structural schema.
func ValidateDocument(name string, document any) error {
	result, err := compiledDefinitionSchema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrInvalidDefinition, name, err)
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}

	return newDefinitionError(name, problems)
}

// Validate checks the transition graph and the state fields of wf. When reg is
// not nil every resource must be registered and its parameters must satisfy
// the resource's schema.
func Validate(wf *models.Workflow, reg *registry.Registry) error {
	var problems []string

	report := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if wf.Name == "" {
		report("name is required")
	}

	if _, ok := wf.States[wf.StartAt]; !ok {
		report("start_at %q does not name a state", wf.StartAt)
	}

	names := make([]string, 0, len(wf.States))
	for name := range wf.States {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		state := wf.States[name]
		if state == nil {
			report("state %q is empty", name)

			continue
		}

		for _, problem := range validateState(wf, name, state, reg) {
			report("state %q: %s", name, problem)
		}
	}

	if len(problems) == 0 {
		for _, name := range unreachable(wf) {
			report("state %q is unreachable from %q", name, wf.StartAt)
		}
	}

	if wf.InputSchema != nil {
		_, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(wf.InputSchema))
		if err != nil {
			report("input_schema: %v", err)
		}
	}

	if len(problems) > 0 {
		return newDefinitionError(wf.Name, problems)
	}

	return nil
}

func validateState(wf *models.Workflow, name string, state *models.State, reg *registry.Registry) []string {
	var problems []string

	report := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	target := func(field, next string) {
		if _, ok := wf.States[next]; !ok {
			report("%s %q does not name a state", field, next)
		}
	}

	for field, path := range map[string]string{
		"input_path":     state.InputPath,
		"seconds_path":   state.SecondsPath,
		"timestamp_path": state.TimestampPath,
		"error_path":     state.ErrorPath,
		"cause_path":     state.CausePath,
	} {
		if path != "" && datapath.Validate(path) != nil {
			report("%s %q is not a valid path", field, path)
		}
	}

	if state.ResultPath != "" {
		if state.ResultPath == datapath.Root {
			report("result_path may not replace the context root")
		} else if datapath.Validate(state.ResultPath) != nil {
			report("result_path %q is not a valid path", state.ResultPath)
		}
	}

	switch state.Type {
	case models.StateTypeSucceed, models.StateTypeFail:
		if state.Next != "" {
			report("terminal state may not declare next")
		}
	case models.StateTypeChoice:
		if state.Next != "" {
			report("choice state routes through choices and default, not next")
		}

		if len(state.Choices) == 0 {
			report("choice state needs at least one rule")
		}

		for i := range state.Choices {
			rule := &state.Choices[i]
			if rule.Next == "" {
				report("choice rule %d has no next", i)
			} else {
				target(fmt.Sprintf("choice rule %d next", i), rule.Next)
			}

			for _, problem := range validateRule(rule) {
				report("choice rule %d: %s", i, problem)
			}
		}

		if state.Default != "" {
			target("default", state.Default)
		}
	case models.StateTypePass, models.StateTypeWait, models.StateTypeInvoke, models.StateTypeInvokeWithCallback:
		if state.Next == "" {
			report("next is required")
		} else {
			target("next", state.Next)
		}
	default:
		report("unknown type %q", state.Type)
	}

	switch state.Type {
	case models.StateTypeWait:
		set := 0

		for _, present := range []bool{state.Seconds != nil, state.Timestamp != "", state.SecondsPath != "", state.TimestampPath != ""} {
			if present {
				set++
			}
		}

		if set != 1 {
			report("wait state needs exactly one of seconds, timestamp, seconds_path, timestamp_path")
		}

		if state.Timestamp != "" {
			if _, err := time.Parse(time.RFC3339, state.Timestamp); err != nil {
				report("timestamp %q is not RFC 3339", state.Timestamp)
			}
		}
	case models.StateTypeInvoke, models.StateTypeInvokeWithCallback:
		if state.Resource == "" {
			report("resource is required")

			break
		}

		if reg == nil {
			break
		}

		if !reg.HasAction(state.Resource) {
			report("resource %q is not registered", state.Resource)

			break
		}

		err := reg.ValidateParameters(state.Resource, state.Parameters)
		if err != nil {
			report("parameters: %v", err)
		}
	}

	return problems
}

func validateRule(rule *models.ChoiceRule) []string {
	var problems []string

	if rule.OperatorCount() != 1 {
		problems = append(problems, "a rule needs exactly one operator")
	}

	if rule.IsCombinator() {
		if rule.Variable != "" {
			problems = append(problems, "a combinator does not take a variable")
		}

		nested := slices.Concat(rule.And, rule.Or)
		if rule.Not != nil {
			nested = append(nested, *rule.Not)
		}

		for i := range nested {
			if nested[i].Next != "" {
				problems = append(problems, "nested rules may not declare next")
			}

			problems = append(problems, validateRule(&nested[i])...)
		}

		return problems
	}

	if rule.Variable == "" {
		problems = append(problems, "variable is required")
	} else if datapath.Validate(rule.Variable) != nil {
		problems = append(problems, fmt.Sprintf("variable %q is not a valid path", rule.Variable))
	}

	return problems
}

func unreachable(wf *models.Workflow) []string {
	seen := map[string]bool{wf.StartAt: true}
	queue := []string{wf.StartAt}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		for _, next := range wf.States[name].Targets() {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}

	var missing []string

	for name := range wf.States {
		if !seen[name] {
			missing = append(missing, name)
		}
	}

	sort.Strings(missing)

	return missing
}

type definition struct {
	workflow    *models.Workflow
	inputSchema *gojsonschema.Schema
}

// Definitions holds the validated workflows known to one process.
type Definitions struct {
	registry *registry.Registry
	logger   *slog.Logger
	mu       sync.RWMutex
	byName   map[string]definition
}

func NewDefinitions(reg *registry.Registry, logger *slog.Logger) *Definitions {
	return &Definitions{
		registry: reg,
		logger:   logger.With("module", "workflow_definitions"),
		byName:   make(map[string]definition),
	}
}

// Register validates wf and makes it available by name, replacing any
// earlier definition with the same name.
func (d *Definitions) Register(wf *models.Workflow) error {
	err := Validate(wf, d.registry)
	if err != nil {
		return err
	}

	def := definition{workflow: wf}

	if wf.InputSchema != nil {
		def.inputSchema, err = gojsonschema.NewSchema(gojsonschema.NewGoLoader(wf.InputSchema))
		if err != nil {
			return newDefinitionError(wf.Name, []string{fmt.Sprintf("input_schema: %v", err)})
		}
	}

	d.mu.Lock()
	d.byName[wf.Name] = def
	d.mu.Unlock()

	d.logger.Info("Registered workflow", "workflow", wf.Name, "states", len(wf.States), "triggers", len(wf.Triggers))

	return nil
}

func (d *Definitions) Get(name string) (*models.Workflow, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	def, ok := d.byName[name]

	return def.workflow, ok
}

// List returns every registered workflow ordered by name.
func (d *Definitions) List() []*models.Workflow {
	d.mu.RLock()
	defer d.mu.RUnlock()

	workflows := make([]*models.Workflow, 0, len(d.byName))
	for _, def := range d.byName {
		workflows = append(workflows, def.workflow)
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].Name < workflows[j].Name
	})

	return workflows
}

// Triggered returns the workflows with a trigger matching the notification.
func (d *Definitions) Triggered(detailType, source string) []*models.Workflow {
	var matched []*models.Workflow

	for _, wf := range d.List() {
		for _, trigger := range wf.Triggers {
			if trigger.Matches(detailType, source) {
				matched = append(matched, wf)

				break
			}
		}
	}

	return matched
}

// ValidateInput checks a start input against the workflow's input schema.
func (d *Definitions) ValidateInput(name string, input map[string]any) error {
	d.mu.RLock()
	def, ok := d.byName[name]
	d.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, name)
	}

	if def.inputSchema == nil {
		return nil
	}

	// Round trip so json.Number values are seen as numbers by the validator.
	data, err := json.Marshal(input)
	if err != nil {
		return newInputError(name, []string{err.Error()})
	}

	result, err := def.inputSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return newInputError(name, []string{err.Error()})
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}

	return newInputError(name, problems)
}
