// Package definition parses workflow definition files (".dag" YAML documents)
// into api.WorkflowGraph values.
package definition

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/hexflow/pkg/api"
)

// Extension is the file suffix of workflow definitions.
const Extension = ".dag"

// ErrNoDefinition is returned by Load when the directory holds no definition.
var ErrNoDefinition = errors.New("no workflow definition found")

type rawGraph struct {
	Name        *string        `yaml:"name"`
	Description string         `yaml:"description"`
	Apps        []rawApp       `yaml:"apps"`
	Flow        []rawEdge      `yaml:"flow"`
	DataMapping []rawMapping   `yaml:"data_mapping"`
	Config      map[string]any `yaml:"config"`
}

type rawApp struct {
	Name       string `yaml:"name"`
	Port       int    `yaml:"port"`
	EntryPoint bool   `yaml:"entry_point"`
}

type rawEdge struct {
	From      string `yaml:"from"`
	To        string `yaml:"to"`
	Trigger   string `yaml:"trigger"`
	Condition string `yaml:"condition"`
}

type rawMapping struct {
	From   string    `yaml:"from"`
	To     string    `yaml:"to"`
	Fields yaml.Node `yaml:"fields"`
}

// Parse reads one YAML workflow definition from r.
func Parse(r io.Reader) (*api.WorkflowGraph, error) {
	return parse(r, "")
}

// ParseBytes parses a definition held in memory.
func ParseBytes(data []byte) (*api.WorkflowGraph, error) {
	return parse(bytes.NewReader(data), "")
}

// ParseFile parses the definition stored at path.
func ParseFile(path string) (*api.WorkflowGraph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &api.DefinitionError{Source: path, Reason: "cannot open file", Err: err}
	}
	defer f.Close()
	return parse(f, path)
}

func parse(r io.Reader, source string) (*api.WorkflowGraph, error) {
	invalid := func(format string, args ...any) error {
		return &api.DefinitionError{Source: source, Reason: fmt.Sprintf(format, args...)}
	}

	var raw rawGraph
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, invalid("document is empty")
		}
		return nil, &api.DefinitionError{Source: source, Reason: "malformed YAML", Err: err}
	}

	if raw.Name == nil || *raw.Name == "" {
		return nil, invalid("name is required")
	}
	if len(raw.Apps) == 0 {
		return nil, invalid("at least one app is required")
	}

	g := &api.WorkflowGraph{
		Name:        *raw.Name,
		Description: raw.Description,
		Apps:        make([]api.App, 0, len(raw.Apps)),
		Flow:        make([]api.Edge, 0, len(raw.Flow)),
		Config:      raw.Config,
	}

	names := make(map[string]bool, len(raw.Apps))
	ports := make(map[int]string, len(raw.Apps))
	entry := ""
	for i, a := range raw.Apps {
		switch {
		case a.Name == "":
			return nil, invalid("app #%d has no name", i+1)
		case a.Port <= 0 || a.Port > 65535:
			return nil, invalid("app %q needs a port between 1 and 65535", a.Name)
		case names[a.Name]:
			return nil, invalid("duplicate app name %q", a.Name)
		}
		if other, taken := ports[a.Port]; taken {
			return nil, invalid("apps %q and %q share port %d", other, a.Name, a.Port)
		}
		if a.EntryPoint {
			if entry != "" {
				return nil, invalid("apps %q and %q are both entry points", entry, a.Name)
			}
			entry = a.Name
		}
		names[a.Name] = true
		ports[a.Port] = a.Name
		g.Apps = append(g.Apps, api.App{Name: a.Name, Port: a.Port, EntryPoint: a.EntryPoint})
	}

	for i, e := range raw.Flow {
		if e.From == "" || e.To == "" {
			return nil, invalid("flow edge #%d needs both from and to", i+1)
		}
		g.Flow = append(g.Flow, api.Edge{From: e.From, To: e.To, Trigger: e.Trigger, Condition: e.Condition})
	}

	for i, m := range raw.DataMapping {
		if m.From == "" || m.To == "" {
			return nil, invalid("data mapping #%d needs both from and to", i+1)
		}
		fields, err := decodeSelector(&m.Fields)
		if err != nil {
			return nil, &api.DefinitionError{
				Source: source,
				Reason: fmt.Sprintf("data mapping %s -> %s", m.From, m.To),
				Err:    err,
			}
		}
		g.DataMappings = append(g.DataMappings, api.DataMapping{From: m.From, To: m.To, Fields: fields})
	}

	return g, nil
}

// decodeSelector accepts "*", ["*"], a single field name or a list of names.
// An absent fields key selects nothing.
func decodeSelector(n *yaml.Node) (api.FieldSelector, error) {
	switch n.Kind {
	case 0:
		return api.FieldSelector{}, nil
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return api.FieldSelector{}, nil
		}
		if n.Value == "*" {
			return api.Wildcard(), nil
		}
		return api.Fields(n.Value), nil
	case yaml.SequenceNode:
		var names []string
		if err := n.Decode(&names); err != nil {
			return api.FieldSelector{}, fmt.Errorf("fields must be a list of names: %w", err)
		}
		if len(names) == 1 && names[0] == "*" {
			return api.Wildcard(), nil
		}
		return api.Fields(names...), nil
	default:
		return api.FieldSelector{}, fmt.Errorf("fields must be \"*\" or a list of names (line %d)", n.Line)
	}
}

// FindDefinition locates the workflow definition in dir. It returns "" and a
// nil error when dir holds no definition file.
//
// With several candidates the first one (in directory order) that declares a
// name and at least one app wins; if none does, the first candidate is
// returned so that parsing reports why it is unusable.
func FindDefinition(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read workflow directory: %w", err)
	}

	var candidates []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != Extension {
			continue
		}
		candidates = append(candidates, filepath.Join(dir, e.Name()))
	}

	switch len(candidates) {
	case 0:
		return "", nil
	case 1:
		return candidates[0], nil
	}

	for _, path := range candidates {
		if looksValid(path) {
			return path, nil
		}
	}
	return candidates[0], nil
}

func looksValid(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil || doc == nil {
		return false
	}
	if _, ok := doc["name"]; !ok {
		return false
	}
	apps, _ := doc["apps"].([]any)
	return len(apps) > 0
}

// Load finds and parses the definition in dir, returning the graph and the
// file it came from.
func Load(dir string) (*api.WorkflowGraph, string, error) {
	path, err := FindDefinition(dir)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		return nil, "", fmt.Errorf("%w in %s", ErrNoDefinition, dir)
	}
	g, err := ParseFile(path)
	if err != nil {
		return nil, path, err
	}
	return g, path, nil
}
