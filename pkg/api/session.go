package api

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bytedance/sonic"
)

// Status represents the lifecycle state of a workflow session.
type Status string

const (
	StatusInProgress Status = "in_progress"
	// StatusProcessing is reserved for step applications doing asynchronous work.
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusProcessing, StatusCompleted, StatusAbandoned:
		return true
	}
	return false
}

// FieldValue is a captured form value: either a single scalar or a list of
// values (multiple checkbox selections, for example).
type FieldValue struct {
	values []string
	list   bool
}

// Scalar returns a single-valued FieldValue.
func Scalar(v string) FieldValue {
	return FieldValue{values: []string{v}}
}

// List returns a multi-valued FieldValue. A list stays a list even when it
// carries a single element.
func List(vs ...string) FieldValue {
	return FieldValue{values: append([]string{}, vs...), list: true}
}

// FromValues builds a FieldValue from raw form values: one value becomes a
// scalar, more than one a list.
func FromValues(vs []string) FieldValue {
	if len(vs) == 1 {
		return Scalar(vs[0])
	}
	return List(vs...)
}

// IsList reports whether the value is multi-valued.
func (v FieldValue) IsList() bool { return v.list }

// String returns the scalar value, or the first list element.
func (v FieldValue) String() string {
	if len(v.values) == 0 {
		return ""
	}
	return v.values[0]
}

// Values returns a copy of every value.
func (v FieldValue) Values() []string {
	return append([]string{}, v.values...)
}

// Equal reports whether two values carry the same shape and contents.
func (v FieldValue) Equal(o FieldValue) bool {
	if v.list != o.list || len(v.values) != len(o.values) {
		return false
	}
	for i := range v.values {
		if v.values[i] != o.values[i] {
			return false
		}
	}
	return true
}

func (v FieldValue) MarshalJSON() ([]byte, error) {
	if v.list {
		return marshalStrings(v.values)
	}
	return sonic.Marshal(v.String())
}

func (v *FieldValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var raw []any
		if err := sonic.Unmarshal(data, &raw); err != nil {
			return err
		}
		vals := make([]string, 0, len(raw))
		for _, item := range raw {
			s, err := scalarString(item)
			if err != nil {
				return err
			}
			vals = append(vals, s)
		}
		*v = List(vals...)
		return nil
	}
	var raw any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	s, err := scalarString(raw)
	if err != nil {
		return err
	}
	*v = Scalar(s)
	return nil
}

func scalarString(raw any) (string, error) {
	switch t := raw.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool, float64:
		b, err := sonic.Marshal(t)
		return string(b), err
	default:
		return "", errors.New("field value must be a string or a list of strings")
	}
}

func marshalStrings(vs []string) ([]byte, error) {
	if vs == nil {
		vs = []string{}
	}
	return sonic.Marshal(vs)
}

// StepData maps a field name to its captured value for one step.
type StepData map[string]FieldValue

// Clone returns a shallow copy of d; FieldValue is immutable so that is enough.
func (d StepData) Clone() StepData {
	out := make(StepData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// SortedKeys returns the field names of d in lexical order.
func (d StepData) SortedKeys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Metadata is derived bookkeeping kept alongside a session.
type Metadata struct {
	// CompletedSteps lists visited steps in the order they were first recorded.
	CompletedSteps     []string          `json:"completed_steps"`
	TotalSteps         *int              `json:"total_steps"`
	ProgressPercentage float64           `json:"progress_percentage"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`
	Extra              map[string]string `json:"extra,omitempty"`
}

// SessionRecord is one in-flight (or finished) workflow instance.
type SessionRecord struct {
	SessionID     string
	WorkflowToken string
	WorkflowName  string
	CurrentStep   string
	Status        Status
	StepData      map[string]StepData
	Metadata      Metadata
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Version is bumped by every successful store Save. A Save carrying a
	// stale Version is rejected with ErrVersionConflict.
	Version int64
}

// NewSessionRecord returns an in-progress record with empty step data.
func NewSessionRecord(sessionID, token, workflowName string, now time.Time) *SessionRecord {
	return &SessionRecord{
		SessionID:     sessionID,
		WorkflowToken: token,
		WorkflowName:  workflowName,
		Status:        StatusInProgress,
		StepData:      make(map[string]StepData),
		Metadata:      Metadata{CompletedSteps: []string{}},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// SetStepData records data for step, replacing anything previously captured
// for it, and refreshes the derived progress metadata.
func (r *SessionRecord) SetStepData(step string, data StepData) {
	if r.StepData == nil {
		r.StepData = make(map[string]StepData)
	}
	if data == nil {
		data = StepData{}
	}
	r.StepData[step] = data.Clone()
	r.UpdatedAt = time.Now()

	if !r.HasCompletedStep(step) {
		r.Metadata.CompletedSteps = append(r.Metadata.CompletedSteps, step)
	}
	r.refreshProgress()
}

func (r *SessionRecord) refreshProgress() {
	total := r.Metadata.TotalSteps
	if total == nil || *total <= 0 {
		r.Metadata.ProgressPercentage = 0
		return
	}
	r.Metadata.ProgressPercentage = min(100, float64(len(r.Metadata.CompletedSteps))/float64(*total)*100)
}

// Step returns the data recorded for step.
func (r *SessionRecord) Step(step string) (StepData, bool) {
	d, ok := r.StepData[step]
	return d, ok
}

// HasCompletedStep reports whether step has recorded data.
func (r *SessionRecord) HasCompletedStep(step string) bool {
	for _, s := range r.Metadata.CompletedSteps {
		if s == step {
			return true
		}
	}
	return false
}

// SetTotalSteps records the number of steps in the workflow, enabling progress.
func (r *SessionRecord) SetTotalSteps(n int) {
	r.Metadata.TotalSteps = &n
}

// SetStatus moves the session to status. Completing a session stamps
// CompletedAt and pins progress to 100; any other status clears CompletedAt
// and derives progress from the recorded steps again.
func (r *SessionRecord) SetStatus(status Status) {
	now := time.Now()
	r.Status = status
	r.UpdatedAt = now
	if status == StatusCompleted {
		r.Metadata.CompletedAt = &now
		r.Metadata.ProgressPercentage = 100
		return
	}
	r.Metadata.CompletedAt = nil
	r.refreshProgress()
}

// AddMetadata attaches a free-form key to the session.
func (r *SessionRecord) AddMetadata(key, value string) {
	if r.Metadata.Extra == nil {
		r.Metadata.Extra = make(map[string]string)
	}
	r.Metadata.Extra[key] = value
	r.UpdatedAt = time.Now()
}

// Clone returns a deep copy of r. Stores hand out clones so callers never
// share mutable state with the backing storage.
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.StepData = make(map[string]StepData, len(r.StepData))
	for step, data := range r.StepData {
		out.StepData[step] = data.Clone()
	}
	out.Metadata.CompletedSteps = append([]string{}, r.Metadata.CompletedSteps...)
	if r.Metadata.TotalSteps != nil {
		total := *r.Metadata.TotalSteps
		out.Metadata.TotalSteps = &total
	}
	if r.Metadata.CompletedAt != nil {
		at := *r.Metadata.CompletedAt
		out.Metadata.CompletedAt = &at
	}
	if r.Metadata.Extra != nil {
		out.Metadata.Extra = make(map[string]string, len(r.Metadata.Extra))
		for k, v := range r.Metadata.Extra {
			out.Metadata.Extra[k] = v
		}
	}
	return &out
}

// Field is one named value forwarded to a step application.
type Field struct {
	Name  string
	Value FieldValue
}

// Flatten merges the data of every recorded step into one ordered field list.
//
// Steps are walked in the order they were first recorded and fields in
// lexical order within a step. The first value seen for a name keeps the bare
// key; a later, different value is stored as "<step>_<name>", or
// "<step>_<name>_2" and up when that key is already taken. Identical values
// collapse into the first entry, and no entry is ever overwritten.
func (r *SessionRecord) Flatten() []Field {
	var out []Field
	index := make(map[string]int)

	// put adds name unless it already holds an equal value. It never
	// overwrites, reporting false when name holds something else.
	put := func(name string, value FieldValue) bool {
		if i, ok := index[name]; ok {
			return out[i].Value.Equal(value)
		}
		index[name] = len(out)
		out = append(out, Field{Name: name, Value: value})
		return true
	}

	for _, step := range r.stepOrder() {
		data := r.StepData[step]
		for _, name := range data.SortedKeys() {
			value := data[name]
			if put(name, value) {
				continue
			}
			key := step + "_" + name
			for n := 2; !put(key, value); n++ {
				key = fmt.Sprintf("%s_%s_%d", step, name, n)
			}
		}
	}
	return out
}

// stepOrder returns recorded steps in first-recorded order. Steps present in
// StepData but missing from the metadata (hand-built records) follow in
// lexical order.
func (r *SessionRecord) stepOrder() []string {
	order := make([]string, 0, len(r.StepData))
	seen := make(map[string]bool, len(r.StepData))
	for _, step := range r.Metadata.CompletedSteps {
		if _, ok := r.StepData[step]; ok && !seen[step] {
			order = append(order, step)
			seen[step] = true
		}
	}
	var rest []string
	for step := range r.StepData {
		if !seen[step] {
			rest = append(rest, step)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

// SessionFilter selects sessions from a store. Empty fields mean "no filter".
type SessionFilter struct {
	WorkflowName string
	Status       Status
}

// SessionStats summarises the contents of a session store.
type SessionStats struct {
	TotalSessions  int            `json:"total_sessions"`
	StatusCounts   map[Status]int `json:"status_counts"`
	WorkflowCounts map[string]int `json:"workflow_counts"`
}
