// Package lifecycle installs, controls and removes services, keeping the
// installed unit file and the persisted record in step.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"unitforge/internal/metrics"
	"unitforge/internal/model"
	"unitforge/internal/storage"
	"unitforge/internal/store"
	"unitforge/internal/unitfile"
	"unitforge/internal/validate"
	logx "unitforge/pkg/logx"
	"unitforge/pkg/systemdmanager"
)

// ErrUnitFailed is reported when the manager accepted a start or restart but
// the unit ended up failed.
var ErrUnitFailed = errors.New("unit entered failed state")

// Options wires an Orchestrator. Manager, Store and Validator are required.
type Options struct {
	Manager   systemdmanager.Manager
	Store     *store.Store
	Validator *validate.Validator
	// Audit is optional; nil disables the audit log.
	Audit storage.Store
	Log   logx.Logger

	UnitDir string
	// LogLines bounds the journal window attached to failures.
	LogLines int
	// Actor is recorded in audit entries; defaults to the OS user.
	Actor string
	// Now is used for audit timestamps and durations.
	Now func() time.Time
}

// Orchestrator runs lifecycle operations. Operations are synchronous; one
// writer at a time is assumed.
type Orchestrator struct {
	mgr      systemdmanager.Manager
	store    *store.Store
	val      *validate.Validator
	audit    storage.Store
	log      logx.Logger
	unitDir  string
	logLines int
	actor    string
	now      func() time.Time
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Manager == nil {
		return nil, errors.New("lifecycle: manager is required")
	}
	if opts.Store == nil {
		return nil, errors.New("lifecycle: store is required")
	}
	if opts.Validator == nil {
		return nil, errors.New("lifecycle: validator is required")
	}
	o := &Orchestrator{
		mgr:      opts.Manager,
		store:    opts.Store,
		val:      opts.Validator,
		audit:    opts.Audit,
		log:      opts.Log,
		unitDir:  opts.UnitDir,
		logLines: opts.LogLines,
		actor:    opts.Actor,
		now:      opts.Now,
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	if o.unitDir == "" {
		o.unitDir = validate.DefaultUnitDir
	}
	if o.logLines <= 0 {
		o.logLines = validate.DefaultLogLines
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.actor == "" {
		if u, err := user.Current(); err == nil {
			o.actor = u.Username
		}
	}
	return o, nil
}

// UnitPath returns where the unit file for name is installed.
func (o *Orchestrator) UnitPath(name string) string {
	return filepath.Join(o.unitDir, model.UnitName(name))
}

// InstallOptions tunes Install.
type InstallOptions struct {
	// Enable hooks the unit into its WantedBy/RequiredBy targets.
	Enable bool
}

// Install validates cfg, writes its unit file, persists the record, reloads
// the manager and optionally enables the unit. An invalid configuration is
// rejected with a *model.ValidationError before anything is written.
func (o *Orchestrator) Install(ctx context.Context, cfg *model.ServiceConfiguration, opts InstallOptions) OperationResult {
	start := o.now()
	res := OperationResult{Action: ActionInstall}
	if cfg != nil {
		res.Name = cfg.Name
	}
	defer func() { o.finish(ctx, &res, start) }()

	vr := o.val.Static(cfg)
	res.Validation = &vr
	if !vr.Valid {
		res.Err = vr.Err()
		res.Message = fmt.Sprintf("install %s: configuration is invalid", res.Name)
		return res
	}
	for _, w := range vr.Warnings {
		o.log.Warn("install warning", logx.String("service", cfg.Name), logx.String("warning", w))
	}

	res.UnitPath = o.UnitPath(cfg.Name)
	if err := store.WriteFileAtomic(res.UnitPath, []byte(unitfile.Compile(cfg)), 0o644); err != nil {
		res.addStep("write-unit", StepFailed, err.Error(), err)
		res.Err = err
		res.Message = fmt.Sprintf("install %s: cannot write unit file", cfg.Name)
		o.attachDiagnostics(ctx, &res)
		return res
	}
	res.addStep("write-unit", StepOK, res.UnitPath, nil)

	if err := o.store.Put(cfg); err != nil {
		res.addStep("save-record", StepFailed, err.Error(), err)
		res.Err = err
		res.Message = fmt.Sprintf("install %s: cannot save record", cfg.Name)
		o.attachDiagnostics(ctx, &res)
		return res
	}
	res.RecordPath = o.store.Path(cfg.Name)
	res.addStep("save-record", StepOK, res.RecordPath, nil)

	if err := o.mgr.Reload(ctx); err != nil {
		err = managerErr(err)
		res.addStep("reload", StepFailed, err.Error(), err)
		res.Err = err
		res.Message = fmt.Sprintf("install %s: manager reload failed", cfg.Name)
		o.attachDiagnostics(ctx, &res)
		return res
	}
	res.addStep("reload", StepOK, "", nil)

	switch {
	case !opts.Enable:
	case !cfg.ActivationTargets():
		res.addStep("enable", StepSkipped, "no activation targets", nil)
	default:
		if err := o.mgr.Enable(ctx, cfg.Name); err != nil {
			err = managerErr(err)
			res.addStep("enable", StepFailed, err.Error(), err)
			res.Err = err
			res.Message = fmt.Sprintf("install %s: enable failed", cfg.Name)
			o.attachDiagnostics(ctx, &res)
			return res
		}
		res.addStep("enable", StepOK, "", nil)
	}

	res.Success = true
	res.Message = systemdmanager.FormatActionResult(cfg.Name, string(ActionInstall), nil)
	return res
}

// Start starts name unless it is already active.
func (o *Orchestrator) Start(ctx context.Context, name string) OperationResult {
	return o.control(ctx, ActionStart, name, o.mgr.Start)
}

// Stop stops name unless it is already inactive.
func (o *Orchestrator) Stop(ctx context.Context, name string) OperationResult {
	return o.control(ctx, ActionStop, name, o.mgr.Stop)
}

// Restart restarts name.
func (o *Orchestrator) Restart(ctx context.Context, name string) OperationResult {
	return o.control(ctx, ActionRestart, name, o.mgr.Restart)
}

func (o *Orchestrator) control(ctx context.Context, action Action, name string, call func(context.Context, string) error) OperationResult {
	start := o.now()
	res := OperationResult{Name: name, Action: action}
	defer func() { o.finish(ctx, &res, start) }()

	if err := validate.ValidateServiceName(name); err != nil {
		res.Err = &model.ValidationError{Errors: []string{err.Error()}}
		res.Message = fmt.Sprintf("%s %s: %v", action, name, err)
		return res
	}

	// Best-effort pre-check; a failed status query does not block the call.
	if text, err := o.mgr.Status(ctx, name); err == nil {
		if unitMissing(text) {
			res.Status = text
			res.State = validate.StateUnknown
			res.Err = model.NotFound("unit", model.UnitName(name))
			res.Message = fmt.Sprintf("%s %s: unit is not installed", action, name)
			return res
		}
		res.State = validate.ClassifyStatus(text)
		if noop := noOpState(action); noop != "" && res.State == noop {
			res.Success = true
			res.NoOp = true
			res.Status = text
			res.Message = fmt.Sprintf("%s is already %s", name, res.State)
			return res
		}
	} else {
		o.log.Debug("status pre-check failed", logx.String("service", name), logx.Err(err))
	}

	if err := call(ctx, name); err != nil {
		res.Err = managerErr(err)
		res.Message = systemdmanager.FormatActionResult(name, string(action), res.Err)
		o.attachDiagnostics(ctx, &res)
		return res
	}

	res.State = validate.StateUnknown
	if text, err := o.mgr.Status(ctx, name); err == nil {
		res.Status = text
		res.State = validate.ClassifyStatus(text)
	}
	if res.State == validate.StateFailed && action != ActionStop {
		res.Err = fmt.Errorf("%s %s: %w", action, name, ErrUnitFailed)
		res.Message = fmt.Sprintf("%s %s: unit failed after %s", action, name, action)
		o.attachDiagnostics(ctx, &res)
		return res
	}
	res.Success = true
	res.Message = systemdmanager.FormatActionResult(name, string(action), nil)
	return res
}

func noOpState(action Action) validate.State {
	switch action {
	case ActionStart:
		return validate.StateActive
	case ActionStop:
		return validate.StateInactive
	}
	return ""
}

// Enable hooks name into its activation targets.
func (o *Orchestrator) Enable(ctx context.Context, name string) OperationResult {
	return o.toggle(ctx, ActionEnable, name, true, o.mgr.Enable)
}

// Disable unhooks name from its activation targets.
func (o *Orchestrator) Disable(ctx context.Context, name string) OperationResult {
	return o.toggle(ctx, ActionDisable, name, false, o.mgr.Disable)
}

func (o *Orchestrator) toggle(ctx context.Context, action Action, name string, want bool, call func(context.Context, string) error) OperationResult {
	start := o.now()
	res := OperationResult{Name: name, Action: action}
	defer func() { o.finish(ctx, &res, start) }()

	if err := validate.ValidateServiceName(name); err != nil {
		res.Err = &model.ValidationError{Errors: []string{err.Error()}}
		res.Message = fmt.Sprintf("%s %s: %v", action, name, err)
		return res
	}
	if ec, ok := o.mgr.(systemdmanager.EnabledChecker); ok {
		if enabled, err := ec.IsEnabled(ctx, name); err == nil && enabled == want {
			res.Success = true
			res.NoOp = true
			res.Enabled = &enabled
			res.Message = fmt.Sprintf("%s is already %sd", name, action)
			return res
		}
	}
	if err := call(ctx, name); err != nil {
		res.Err = managerErr(err)
		res.Message = systemdmanager.FormatActionResult(name, string(action), res.Err)
		o.attachDiagnostics(ctx, &res)
		return res
	}
	res.Success = true
	res.Enabled = &want
	res.Message = systemdmanager.FormatActionResult(name, string(action), nil)
	return res
}

// Status reports the classified state, enabled state, status text, recent
// logs and record location for name. It is read-only and not audited.
func (o *Orchestrator) Status(ctx context.Context, name string) OperationResult {
	res := OperationResult{Name: name, Action: ActionStatus, State: validate.StateUnknown}
	if err := validate.ValidateServiceName(name); err != nil {
		res.Err = &model.ValidationError{Errors: []string{err.Error()}}
		res.Message = fmt.Sprintf("status %s: %v", name, err)
		return res
	}
	if o.store.Exists(name) {
		res.RecordPath = o.store.Path(name)
	}
	if _, err := os.Stat(o.UnitPath(name)); err == nil {
		res.UnitPath = o.UnitPath(name)
	}

	text, err := o.mgr.Status(ctx, name)
	if err != nil {
		res.Err = managerErr(err)
		res.Message = fmt.Sprintf("status %s: %v", name, res.Err)
		return res
	}
	res.Status = text
	res.State = validate.ClassifyStatus(text)
	if ec, ok := o.mgr.(systemdmanager.EnabledChecker); ok {
		if enabled, err := ec.IsEnabled(ctx, name); err == nil {
			res.Enabled = &enabled
		}
	}
	if logs, err := o.mgr.Logs(ctx, name, o.logLines); err == nil {
		res.Logs = logs
	} else {
		o.log.Debug("log window unavailable", logx.String("service", name), logx.Err(err))
	}
	res.Success = true
	res.Message = fmt.Sprintf("%s is %s", name, res.State)
	return res
}

// Delete stops and disables name, removes its unit file and record, then
// reloads the manager. Every step is attempted; failures are collected in
// Steps and never stop later steps.
func (o *Orchestrator) Delete(ctx context.Context, name string) OperationResult {
	start := o.now()
	res := OperationResult{Name: name, Action: ActionDelete}
	defer func() { o.finish(ctx, &res, start) }()

	if err := validate.ValidateServiceName(name); err != nil {
		res.Err = &model.ValidationError{Errors: []string{err.Error()}}
		res.Message = fmt.Sprintf("delete %s: %v", name, err)
		return res
	}

	// The manager may still hold a unit whose file is already gone, so its
	// view decides whether stop and disable run.
	if text, err := o.mgr.Status(ctx, name); err == nil && unitMissing(text) {
		res.addStep("stop", StepSkipped, "unit not loaded", nil)
		res.addStep("disable", StepSkipped, "unit not loaded", nil)
	} else {
		o.managerStep(ctx, &res, "stop", name, o.mgr.Stop)
		o.managerStep(ctx, &res, "disable", name, o.mgr.Disable)
	}

	unitPath := o.UnitPath(name)

	removed := false
	switch err := os.Remove(unitPath); {
	case err == nil:
		removed = true
		res.addStep("remove-unit", StepOK, unitPath, nil)
	case errors.Is(err, fs.ErrNotExist):
		res.addStep("remove-unit", StepSkipped, "no unit file", nil)
	default:
		if errors.Is(err, fs.ErrPermission) {
			err = fmt.Errorf("remove %s: %w", unitPath, model.ErrPermissionDenied)
		}
		res.addStep("remove-unit", StepFailed, err.Error(), err)
	}

	recordPath := o.store.Path(name)
	switch ok, err := o.store.Remove(name); {
	case err != nil:
		res.addStep("remove-record", StepFailed, err.Error(), err)
	case ok:
		removed = true
		res.addStep("remove-record", StepOK, recordPath, nil)
	default:
		res.addStep("remove-record", StepSkipped, "no record", nil)
	}

	if removed {
		if err := o.mgr.Reload(ctx); err != nil {
			err = managerErr(err)
			res.addStep("reload", StepFailed, err.Error(), err)
		} else {
			res.addStep("reload", StepOK, "", nil)
		}
	} else {
		res.addStep("reload", StepSkipped, "nothing removed", nil)
	}

	metrics.ForgetService(name)
	res.Err = res.stepErrors()
	res.Success = res.Err == nil
	if res.Success {
		res.Message = systemdmanager.FormatActionResult(name, string(ActionDelete), nil)
	} else {
		res.Message = fmt.Sprintf("delete %s: completed with failures", name)
		o.attachDiagnostics(ctx, &res)
	}
	return res
}

func (o *Orchestrator) managerStep(ctx context.Context, res *OperationResult, step, name string, call func(context.Context, string) error) {
	if err := call(ctx, name); err != nil {
		err = managerErr(err)
		res.addStep(step, StepFailed, err.Error(), err)
		return
	}
	res.addStep(step, StepOK, "", nil)
}

// Import reads the installed unit file for name back into a configuration
// and persists it as the record.
func (o *Orchestrator) Import(ctx context.Context, name string) (*model.ServiceConfiguration, OperationResult) {
	start := o.now()
	res := OperationResult{Name: name, Action: ActionImport}
	defer func() { o.finish(ctx, &res, start) }()

	if err := validate.ValidateServiceName(name); err != nil {
		res.Err = &model.ValidationError{Errors: []string{err.Error()}}
		res.Message = fmt.Sprintf("import %s: %v", name, err)
		return nil, res
	}
	res.UnitPath = o.UnitPath(name)
	f, err := os.Open(res.UnitPath)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			err = model.NotFound("unit", model.UnitName(name))
		case errors.Is(err, fs.ErrPermission):
			err = fmt.Errorf("open %s: %w", res.UnitPath, model.ErrPermissionDenied)
		}
		res.Err = err
		res.Message = fmt.Sprintf("import %s: %v", name, err)
		return nil, res
	}
	defer f.Close()

	cfg, err := unitfile.Parse(name, f)
	if err != nil {
		res.Err = err
		res.Message = fmt.Sprintf("import %s: %v", name, err)
		return nil, res
	}
	if err := o.store.Put(cfg); err != nil {
		res.Err = err
		res.Message = fmt.Sprintf("import %s: %v", name, err)
		return nil, res
	}
	res.RecordPath = o.store.Path(name)
	res.Success = true
	res.Message = systemdmanager.FormatActionResult(name, string(ActionImport), nil)
	return cfg, res
}

// attachDiagnostics fills Status, State and Logs from the manager.
func (o *Orchestrator) attachDiagnostics(ctx context.Context, res *OperationResult) {
	if res.Name == "" {
		return
	}
	if res.Status == "" {
		if text, err := o.mgr.Status(ctx, res.Name); err == nil {
			res.Status = text
			res.State = validate.ClassifyStatus(text)
		}
	}
	if logs, err := o.mgr.Logs(ctx, res.Name, o.logLines); err == nil {
		res.Logs = logs
	} else {
		o.log.Debug("log window unavailable", logx.String("service", res.Name), logx.Err(err))
	}
}

// finish logs, audits and counts a completed operation.
func (o *Orchestrator) finish(ctx context.Context, res *OperationResult, start time.Time) {
	took := o.now().Sub(start)
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	fields := []logx.Field{
		logx.String("op_id", res.ID),
		logx.String("service", res.Name),
		logx.String("action", string(res.Action)),
		logx.Bool("ok", res.Success),
		logx.Duration("took", took),
	}
	if res.NoOp {
		fields = append(fields, logx.Bool("noop", true))
	}
	if res.Err != nil {
		o.log.Warn("operation failed", append(fields, logx.Err(res.Err))...)
	} else {
		o.log.Info("operation completed", fields...)
	}

	metrics.ObserveOperation(string(res.Action), res.Success, took)
	o.appendAudit(ctx, res, took)
}

func (o *Orchestrator) appendAudit(ctx context.Context, res *OperationResult, took time.Duration) {
	if o.audit == nil {
		return
	}
	e := storage.AuditEntry{
		ID:     res.ID,
		At:     o.now(),
		Actor:  o.actor,
		Action: string(res.Action),
		Target: res.Name,
		OK:     res.Success,
		NoOp:   res.NoOp,
		State:  string(res.State),
		Error:  res.ErrorText(),
		TookMS: took.Milliseconds(),
	}
	if len(res.Steps) > 0 {
		if b, err := json.Marshal(map[string]any{"steps": res.Steps}); err == nil {
			e.MetaJSON = string(b)
		}
	}

	auditCtx := context.WithoutCancel(ctx)
	cctx, cancel := context.WithTimeout(auditCtx, 1*time.Second)
	defer cancel()
	if err := o.audit.AppendAudit(cctx, e); err != nil {
		o.log.Debug("audit append failed", logx.Err(err))
	}
}

// unitMissing reports whether status text says the unit does not exist.
func unitMissing(text string) bool {
	l := strings.ToLower(text)
	return strings.Contains(l, "could not be found") || strings.Contains(l, "loaded: not-found")
}

// managerErr marks manager failures caused by missing privileges with
// model.ErrPermissionDenied.
func managerErr(err error) error {
	if err == nil || errors.Is(err, model.ErrPermissionDenied) {
		return err
	}
	var ce *systemdmanager.CommandError
	if errors.As(err, &ce) {
		out := strings.ToLower(ce.Output)
		if strings.Contains(out, "access denied") ||
			strings.Contains(out, "authentication is required") ||
			strings.Contains(out, "permission denied") {
			return fmt.Errorf("%w: %w", model.ErrPermissionDenied, err)
		}
	}
	return err
}
