package types

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ActionSpec is one action invocation inside an on_enter, on_exit, trigger or
// on_error list. Any key other than action and when is an argument:
//
//	on_enter:
//	  - action: inject_context
//	    when: "task_id"
//	    content: "Working on {{ task_id }}"
type ActionSpec struct {
	Action string         `json:"action"`
	When   string         `json:"when,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
}

// UnmarshalYAML accepts both the inline argument form and a bare action name.
func (a *ActionSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		a.Action = node.Value
		return nil
	}
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return a.fromMap(raw)
}

// MarshalYAML writes the inline argument form.
func (a ActionSpec) MarshalYAML() (any, error) {
	return a.toMap(), nil
}

func (a *ActionSpec) fromMap(raw map[string]any) error {
	name, _ := raw["action"].(string)
	if name == "" {
		return fmt.Errorf("action entry is missing the action key")
	}
	a.Action = name
	if when, ok := raw["when"]; ok {
		s, ok := when.(string)
		if !ok {
			return fmt.Errorf("action %s: when must be a string", name)
		}
		a.When = s
	}
	for k, v := range raw {
		if k == "action" || k == "when" {
			continue
		}
		if a.Args == nil {
			a.Args = make(map[string]any)
		}
		a.Args[k] = v
	}
	return nil
}

func (a ActionSpec) toMap() map[string]any {
	out := make(map[string]any, len(a.Args)+2)
	for k, v := range a.Args {
		out[k] = v
	}
	out["action"] = a.Action
	if a.When != "" {
		out["when"] = a.When
	}
	return out
}

// ActionSpecFrom builds an ActionSpec from a loosely typed value: a bare
// action name or a map in the inline argument form.
func ActionSpecFrom(v any) (ActionSpec, error) {
	switch val := v.(type) {
	case string:
		return ActionSpec{Action: val}, nil
	case map[string]any:
		var a ActionSpec
		err := a.fromMap(val)
		return a, err
	case ActionSpec:
		return val, nil
	}
	return ActionSpec{}, fmt.Errorf("cannot use %T as an action", v)
}

// ToolSelector is either the sentinel "all" or an explicit list of tool names.
// The zero value allows every tool.
type ToolSelector struct {
	Restricted bool
	Tools      []string
}

// AllTools returns a selector that allows every tool.
func AllTools() ToolSelector { return ToolSelector{} }

// OnlyTools returns a selector restricted to the given tools.
func OnlyTools(tools ...string) ToolSelector {
	return ToolSelector{Restricted: true, Tools: tools}
}

// Allows returns true if the tool passes the selector.
func (s ToolSelector) Allows(tool string) bool {
	if !s.Restricted {
		return true
	}
	for _, t := range s.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

// UnmarshalYAML accepts "all" or a sequence of names.
func (s *ToolSelector) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value != "all" {
			return fmt.Errorf("allowed_tools must be \"all\" or a list, got %q", node.Value)
		}
		*s = AllTools()
		return nil
	case yaml.SequenceNode:
		var tools []string
		if err := node.Decode(&tools); err != nil {
			return err
		}
		*s = OnlyTools(tools...)
		return nil
	}
	return fmt.Errorf("allowed_tools must be \"all\" or a list")
}

// MarshalYAML writes "all" or the tool list.
func (s ToolSelector) MarshalYAML() (any, error) {
	if !s.Restricted {
		return "all", nil
	}
	return s.Tools, nil
}

// MarshalJSON writes "all" or the tool list.
func (s ToolSelector) MarshalJSON() ([]byte, error) {
	if !s.Restricted {
		return json.Marshal("all")
	}
	if s.Tools == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Tools)
}

// UnmarshalJSON reads "all" or a tool list.
func (s *ToolSelector) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str != "all" {
			return fmt.Errorf("allowed_tools must be \"all\" or a list, got %q", str)
		}
		*s = AllTools()
		return nil
	}
	var tools []string
	if err := json.Unmarshal(data, &tools); err != nil {
		return err
	}
	*s = OnlyTools(tools...)
	return nil
}
