package httpapi

import (
	"time"

	"github.com/petrijr/hexflow/pkg/api"
)

// sessionView is the public JSON form of a session. The internal session id
// is deliberately absent.
type sessionView struct {
	WorkflowToken string                  `json:"workflow_token"`
	WorkflowName  string                  `json:"workflow_name"`
	CurrentStep   string                  `json:"current_step"`
	Status        api.Status              `json:"status"`
	StepData      map[string]api.StepData `json:"step_data"`
	Metadata      api.Metadata            `json:"metadata"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

func newSessionView(rec *api.SessionRecord) sessionView {
	return sessionView{
		WorkflowToken: rec.WorkflowToken,
		WorkflowName:  rec.WorkflowName,
		CurrentStep:   rec.CurrentStep,
		Status:        rec.Status,
		StepData:      rec.StepData,
		Metadata:      rec.Metadata,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}
