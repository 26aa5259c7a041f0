package api

// App is one step application declared by a workflow graph.
type App struct {
	Name       string `json:"name"`
	Port       int    `json:"port"`
	EntryPoint bool   `json:"entry_point"`
}

// Edge is a directed transition between two step applications.
// Condition is reserved; routing never evaluates it.
type Edge struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Trigger   string `json:"trigger"`
	Condition string `json:"condition,omitempty"`
}

// FieldSelector chooses which captured fields flow across a transition.
// The zero value selects nothing.
type FieldSelector struct {
	// All forwards every accumulated field, flattened across steps.
	All bool
	// Names lists explicit field names in forwarding order. Ignored when All is set.
	Names []string
}

// Wildcard returns a selector that forwards all accumulated data.
func Wildcard() FieldSelector {
	return FieldSelector{All: true}
}

// Fields returns a selector forwarding only the given names, in order.
func Fields(names ...string) FieldSelector {
	return FieldSelector{Names: names}
}

// MarshalJSON renders the wildcard as "*" and explicit selectors as a list.
func (s FieldSelector) MarshalJSON() ([]byte, error) {
	if s.All {
		return []byte(`"*"`), nil
	}
	return marshalStrings(s.Names)
}

// DataMapping forwards captured fields from one step to the next.
type DataMapping struct {
	From   string        `json:"from"`
	To     string        `json:"to"`
	Fields FieldSelector `json:"fields"`
}

// WorkflowGraph is a parsed workflow definition. It is read-only once loaded
// and is shared by every request without locking.
type WorkflowGraph struct {
	Name         string
	Description  string
	Apps         []App
	Flow         []Edge
	DataMappings []DataMapping
	Config       map[string]any
}

// App returns the application with the given name.
func (g *WorkflowGraph) App(name string) (App, bool) {
	for _, app := range g.Apps {
		if app.Name == name {
			return app, true
		}
	}
	return App{}, false
}

// EntryPoint returns the application flagged as the workflow's entry point.
func (g *WorkflowGraph) EntryPoint() (App, bool) {
	for _, app := range g.Apps {
		if app.EntryPoint {
			return app, true
		}
	}
	return App{}, false
}

// AppPort returns the port registered for name, or false if the app is unknown
// or has no usable port.
func (g *WorkflowGraph) AppPort(name string) (int, bool) {
	app, ok := g.App(name)
	if !ok || app.Port <= 0 {
		return 0, false
	}
	return app.Port, true
}

// NextStep returns the target of the first edge leaving from, in declaration
// order. false means from is the end of the workflow.
func (g *WorkflowGraph) NextStep(from string) (string, bool) {
	for _, edge := range g.Flow {
		if edge.From == from {
			return edge.To, true
		}
	}
	return "", false
}

// Mapping returns the first data mapping declared for the from->to transition.
func (g *WorkflowGraph) Mapping(from, to string) (DataMapping, bool) {
	for _, m := range g.DataMappings {
		if m.From == from && m.To == to {
			return m, true
		}
	}
	return DataMapping{}, false
}

// GraphSummary is the introspection view served by the router.
type GraphSummary struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Apps        []App         `json:"apps"`
	Flow        []Edge        `json:"flow"`
	DataMapping []DataMapping `json:"data_mapping"`
}

// Summary returns a copy of the graph suitable for serialisation.
func (g *WorkflowGraph) Summary() GraphSummary {
	return GraphSummary{
		Name:        g.Name,
		Description: g.Description,
		Apps:        append([]App{}, g.Apps...),
		Flow:        append([]Edge{}, g.Flow...),
		DataMapping: append([]DataMapping{}, g.DataMappings...),
	}
}
