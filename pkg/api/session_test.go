package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func TestFieldValueJSON(t *testing.T) {
	data, err := json.Marshal(StepData{"name": Scalar("Ann"), "tags": List("a"), "none": List()})
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"Ann","tags":["a"],"none":[]}`, string(data))

	var got StepData
	require.NoError(t, json.Unmarshal([]byte(`{"n":"x","l":["a","b"],"num":3,"flag":true,"nil":null}`), &got))
	require.True(t, got["n"].Equal(Scalar("x")))
	require.True(t, got["l"].Equal(List("a", "b")))
	require.True(t, got["num"].Equal(Scalar("3")))
	require.True(t, got["flag"].Equal(Scalar("true")))
	require.True(t, got["nil"].Equal(Scalar("")))

	require.Error(t, json.Unmarshal([]byte(`{"bad":{"nested":1}}`), &got))
}

func TestFromValues(t *testing.T) {
	require.False(t, FromValues([]string{"x"}).IsList())
	v := FromValues([]string{"x", "y"})
	require.True(t, v.IsList())
	require.Equal(t, "x", v.String())
	require.Equal(t, []string{"x", "y"}, v.Values())
}

func TestSetStepDataTracksProgress(t *testing.T) {
	rec := NewSessionRecord("s1", "WF-1", "wf", fixedTime)
	rec.SetTotalSteps(3)

	rec.SetStepData("A", StepData{"f": Scalar("1")})
	rec.SetStepData("A", StepData{"f": Scalar("2")})
	rec.SetStepData("B", nil)

	require.Equal(t, []string{"A", "B"}, rec.Metadata.CompletedSteps)
	require.InDelta(t, 66.67, rec.Metadata.ProgressPercentage, 0.01)
	require.True(t, rec.StepData["A"]["f"].Equal(Scalar("2")), "resubmission overwrites")
	require.NotNil(t, rec.StepData["B"])
	require.True(t, rec.HasCompletedStep("B"))
	require.False(t, rec.HasCompletedStep("C"))

	rec.SetStatus(StatusCompleted)
	require.Equal(t, 100.0, rec.Metadata.ProgressPercentage)
	require.NotNil(t, rec.Metadata.CompletedAt)
}

func TestProgressWithoutTotal(t *testing.T) {
	rec := NewSessionRecord("s1", "WF-1", "wf", fixedTime)
	rec.SetStepData("A", StepData{})
	require.Zero(t, rec.Metadata.ProgressPercentage)
}

func TestCloneIsDeep(t *testing.T) {
	rec := NewSessionRecord("s1", "WF-1", "wf", fixedTime)
	rec.SetTotalSteps(2)
	rec.SetStepData("A", StepData{"f": Scalar("1")})
	rec.AddMetadata("source", "kiosk")

	c := rec.Clone()
	c.StepData["A"]["f"] = Scalar("changed")
	c.Metadata.CompletedSteps[0] = "Z"
	*c.Metadata.TotalSteps = 9
	c.Metadata.Extra["source"] = "web"

	require.True(t, rec.StepData["A"]["f"].Equal(Scalar("1")))
	require.Equal(t, "A", rec.Metadata.CompletedSteps[0])
	require.Equal(t, 2, *rec.Metadata.TotalSteps)
	require.Equal(t, "kiosk", rec.Metadata.Extra["source"])

	var nilRec *SessionRecord
	require.Nil(t, nilRec.Clone())
}

func TestFlattenConflictRule(t *testing.T) {
	rec := NewSessionRecord("s1", "WF-1", "wf", fixedTime)
	rec.SetStepData("A", StepData{"name": Scalar("Alice"), "email": Scalar("a@x")})
	rec.SetStepData("B", StepData{"name": Scalar("Bob"), "email": Scalar("a@x"), "age": Scalar("30")})

	require.Equal(t, []Field{
		{Name: "email", Value: Scalar("a@x")},
		{Name: "name", Value: Scalar("Alice")},
		{Name: "age", Value: Scalar("30")},
		{Name: "B_name", Value: Scalar("Bob")},
	}, rec.Flatten())
}

func TestFlattenNeverOverwritesRecordedField(t *testing.T) {
	rec := NewSessionRecord("s1", "WF-1", "wf", fixedTime)
	rec.SetStepData("A", StepData{"B_name": Scalar("X"), "name": Scalar("Alice")})
	rec.SetStepData("B", StepData{"name": Scalar("Bob")})
	rec.SetStepData("C", StepData{"B_name": Scalar("Y")})

	require.Equal(t, []Field{
		{Name: "B_name", Value: Scalar("X")},
		{Name: "name", Value: Scalar("Alice")},
		{Name: "B_name_2", Value: Scalar("Bob")},
		{Name: "C_B_name", Value: Scalar("Y")},
	}, rec.Flatten())
}

func TestSetStatusReopensCompletedSession(t *testing.T) {
	rec := NewSessionRecord("s1", "WF-1", "wf", fixedTime)
	rec.SetTotalSteps(4)
	rec.SetStepData("A", StepData{})
	rec.SetStatus(StatusCompleted)
	require.NotNil(t, rec.Metadata.CompletedAt)

	rec.SetStatus(StatusInProgress)
	require.Nil(t, rec.Metadata.CompletedAt)
	require.Equal(t, 25.0, rec.Metadata.ProgressPercentage)
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusInProgress, StatusProcessing, StatusCompleted, StatusAbandoned} {
		require.True(t, s.Valid(), s)
	}
	require.False(t, Status("paused").Valid())
}

func TestGraphLookups(t *testing.T) {
	g := &WorkflowGraph{
		Name: "wf",
		Apps: []App{{Name: "A", Port: 5001, EntryPoint: true}, {Name: "B", Port: 5002}, {Name: "X"}},
		Flow: []Edge{{From: "A", To: "B"}, {From: "A", To: "X"}},
		DataMappings: []DataMapping{
			{From: "A", To: "B", Fields: Fields("first")},
			{From: "A", To: "B", Fields: Wildcard()},
		},
	}

	entry, ok := g.EntryPoint()
	require.True(t, ok)
	require.Equal(t, "A", entry.Name)

	next, ok := g.NextStep("A")
	require.True(t, ok)
	require.Equal(t, "B", next, "first edge in declaration order wins")
	_, ok = g.NextStep("B")
	require.False(t, ok)

	port, ok := g.AppPort("B")
	require.True(t, ok)
	require.Equal(t, 5002, port)
	_, ok = g.AppPort("X")
	require.False(t, ok, "apps without a port are not routable")
	_, ok = g.AppPort("ghost")
	require.False(t, ok)

	m, ok := g.Mapping("A", "B")
	require.True(t, ok)
	require.Equal(t, []string{"first"}, m.Fields.Names)

	summary := g.Summary()
	summary.Apps[0].Name = "mutated"
	require.Equal(t, "A", g.Apps[0].Name)
}

func TestErrorsMatchSentinels(t *testing.T) {
	unknown := fmt.Errorf("advance: %w", &UnknownAppError{App: "ghost"})
	require.ErrorIs(t, unknown, ErrUnknownApp)
	require.Contains(t, unknown.Error(), "ghost")

	storage := fmt.Errorf("wrapped: %w", &StorageError{Op: "save", Err: errors.New("boom")})
	require.True(t, IsStorageError(storage))
	require.False(t, IsStorageError(ErrSessionNotFound))

	def := &DefinitionError{Source: "a.dag", Reason: "name is required"}
	require.Equal(t, "invalid workflow definition a.dag: name is required", def.Error())
}
