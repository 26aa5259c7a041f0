package persistence

import (
	"time"

	"github.com/bytedance/sonic"

	"github.com/petrijr/hexflow/pkg/api"
)

// sessionRow is the flattened, storage-ready form of a SessionRecord shared by
// the SQL and document backends. Step data and metadata travel as JSON;
// timestamps as Unix nanoseconds so they sort and compare as integers.
type sessionRow struct {
	SessionID     string
	WorkflowName  string
	WorkflowToken string
	CurrentStep   string
	Status        string
	StepData      []byte
	Metadata      []byte
	CreatedAt     int64
	UpdatedAt     int64
	Version       int64
}

func encodeRow(rec *api.SessionRecord) (sessionRow, error) {
	stepData := rec.StepData
	if stepData == nil {
		stepData = map[string]api.StepData{}
	}
	data, err := sonic.Marshal(stepData)
	if err != nil {
		return sessionRow{}, err
	}
	meta, err := sonic.Marshal(rec.Metadata)
	if err != nil {
		return sessionRow{}, err
	}
	return sessionRow{
		SessionID:     rec.SessionID,
		WorkflowName:  rec.WorkflowName,
		WorkflowToken: rec.WorkflowToken,
		CurrentStep:   rec.CurrentStep,
		Status:        string(rec.Status),
		StepData:      data,
		Metadata:      meta,
		CreatedAt:     toNanos(rec.CreatedAt),
		UpdatedAt:     toNanos(rec.UpdatedAt),
		Version:       rec.Version,
	}, nil
}

func decodeRow(row sessionRow) (*api.SessionRecord, error) {
	rec := &api.SessionRecord{
		SessionID:     row.SessionID,
		WorkflowName:  row.WorkflowName,
		WorkflowToken: row.WorkflowToken,
		CurrentStep:   row.CurrentStep,
		Status:        api.Status(row.Status),
		StepData:      map[string]api.StepData{},
		CreatedAt:     fromNanos(row.CreatedAt),
		UpdatedAt:     fromNanos(row.UpdatedAt),
		Version:       row.Version,
	}
	if len(row.StepData) > 0 {
		if err := sonic.Unmarshal(row.StepData, &rec.StepData); err != nil {
			return nil, err
		}
	}
	if len(row.Metadata) > 0 {
		if err := sonic.Unmarshal(row.Metadata, &rec.Metadata); err != nil {
			return nil, err
		}
	}
	if rec.Metadata.CompletedSteps == nil {
		rec.Metadata.CompletedSteps = []string{}
	}
	return rec, nil
}

// sessionPayload is the self-contained JSON document stored by key-value
// backends.
type sessionPayload struct {
	SessionID     string                  `json:"session_id"`
	WorkflowName  string                  `json:"workflow_name"`
	WorkflowToken string                  `json:"workflow_token"`
	CurrentStep   string                  `json:"current_step"`
	Status        string                  `json:"status"`
	StepData      map[string]api.StepData `json:"step_data"`
	Metadata      api.Metadata            `json:"metadata"`
	CreatedAt     int64                   `json:"created_at"`
	UpdatedAt     int64                   `json:"updated_at"`
	Version       int64                   `json:"version"`
}

func encodePayload(rec *api.SessionRecord) ([]byte, error) {
	return sonic.Marshal(sessionPayload{
		SessionID:     rec.SessionID,
		WorkflowName:  rec.WorkflowName,
		WorkflowToken: rec.WorkflowToken,
		CurrentStep:   rec.CurrentStep,
		Status:        string(rec.Status),
		StepData:      rec.StepData,
		Metadata:      rec.Metadata,
		CreatedAt:     toNanos(rec.CreatedAt),
		UpdatedAt:     toNanos(rec.UpdatedAt),
		Version:       rec.Version,
	})
}

func decodePayload(data []byte) (*api.SessionRecord, error) {
	if len(data) == 0 {
		return nil, api.ErrSessionNotFound
	}
	var p sessionPayload
	if err := sonic.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	rec := &api.SessionRecord{
		SessionID:     p.SessionID,
		WorkflowName:  p.WorkflowName,
		WorkflowToken: p.WorkflowToken,
		CurrentStep:   p.CurrentStep,
		Status:        api.Status(p.Status),
		StepData:      p.StepData,
		Metadata:      p.Metadata,
		CreatedAt:     fromNanos(p.CreatedAt),
		UpdatedAt:     fromNanos(p.UpdatedAt),
		Version:       p.Version,
	}
	if rec.StepData == nil {
		rec.StepData = map[string]api.StepData{}
	}
	if rec.Metadata.CompletedSteps == nil {
		rec.Metadata.CompletedSteps = []string{}
	}
	return rec, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
