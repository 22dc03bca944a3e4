package lifecycle

import (
	"errors"

	"unitforge/internal/validate"
)

// Action names a lifecycle operation.
type Action string

const (
	ActionInstall Action = "install"
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionEnable  Action = "enable"
	ActionDisable Action = "disable"
	ActionDelete  Action = "delete"
	ActionStatus  Action = "status"
	ActionImport  Action = "import"
)

// StepStatus is the outcome of one step of a multi-step operation.
type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepSkipped StepStatus = "skipped"
	StepFailed  StepStatus = "failed"
)

// Step is one sub-step of install or delete.
type Step struct {
	Name    string     `json:"name"`
	Status  StepStatus `json:"status"`
	Message string     `json:"message,omitempty"`
	Err     error      `json:"-"`
}

// OperationResult reports the definitive outcome of an operation. On failure
// Status and Logs carry the latest manager output for the unit.
type OperationResult struct {
	// ID correlates the operation's log lines with its audit entry.
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Action  Action         `json:"action"`
	Success bool           `json:"success"`
	NoOp    bool           `json:"noop,omitempty"`
	State   validate.State `json:"state,omitempty"`
	Enabled *bool          `json:"enabled,omitempty"`
	Message string         `json:"message"`

	Status string `json:"status,omitempty"`
	Logs   string `json:"logs,omitempty"`

	UnitPath   string `json:"unit_path,omitempty"`
	RecordPath string `json:"record_path,omitempty"`

	Steps      []Step           `json:"steps,omitempty"`
	Validation *validate.Result `json:"validation,omitempty"`

	Err error `json:"-"`
}

// ErrorText is the string form of Err.
func (r OperationResult) ErrorText() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func (r *OperationResult) addStep(name string, status StepStatus, msg string, err error) {
	r.Steps = append(r.Steps, Step{Name: name, Status: status, Message: msg, Err: err})
}

// stepErrors joins the errors of failed steps.
func (r *OperationResult) stepErrors() error {
	var errs []error
	for _, s := range r.Steps {
		if s.Status == StepFailed && s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	return errors.Join(errs...)
}
